package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"facemark/internal/faceindex"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Check the face index loads and ask running servers to rebuild",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		local := faceindex.New(a.repo, a.logger)
		if err := local.Rebuild(ctx); err != nil {
			return err
		}
		snap := local.Current()
		fmt.Fprintf(cmd.OutOrStdout(), "index has %d encodings\n", snap.Len())

		if mustGetBool(cmd, "local") {
			return nil
		}
		notifier, err := a.notifier()
		if err != nil {
			return err
		}
		if _, ok := notifier.(localRebuilder); ok {
			fmt.Fprintln(cmd.OutOrStdout(), staleServerWarning)
			return nil
		}
		if err := notifier.Rebuild(ctx); err != nil {
			return fmt.Errorf("announce rebuild: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rebuild announced on %s queue\n", a.cfg.QueueBackend)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
	rebuildCmd.Flags().Bool("local", false, "Only check the index, do not notify servers")
}
