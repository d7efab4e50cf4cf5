package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrollees with their face counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.repo.ListEnrollees(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tEXTERNAL ID\tNAME\tFACES\tCREATED")
		for _, e := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", e.ID, e.ExternalID, e.Name, e.FaceCount, e.CreatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete an enrollee with their faces, attendance and photos",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		extID := mustGetString(cmd, "external-id")
		if (len(args) == 0) == (extID == "") {
			return errors.New("give either an id or --external-id")
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		id := ""
		if len(args) == 1 {
			id = args[0]
		} else {
			e, err := a.repo.GetEnrolleeByExternalID(ctx, extID)
			if err != nil {
				return err
			}
			if e == nil {
				return fmt.Errorf("no enrollee with external id %q", extID)
			}
			id = e.ID
		}

		roster, err := a.roster(ctx)
		if err != nil {
			return err
		}
		res, err := roster.Delete(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%s)\n", res.Enrollee.Name, res.Enrollee.ExternalID)
		if res.CacheErr != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "  warning: index refresh failed: %v\n", res.CacheErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd, deleteCmd)
	deleteCmd.Flags().String("external-id", "", "Delete by external identifier")
}
