package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"facemark/internal/attendance"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll [image...]",
	Short: "Enroll one person from images, or a whole directory of people",
	Long: `Enroll one person from the given images, or everyone under --dir.

With --dir, each subdirectory is one person named <external_id>_<name>;
underscores in the name become spaces. Every png/jpg file inside is used.

Examples:
  facemarkctl enroll --external-id S001 --name "Ada Lovelace" ada1.jpg ada2.jpg
  facemarkctl enroll --dir ./roster`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.Flags().String("external-id", "", "External identifier (student or employee number)")
	enrollCmd.Flags().String("name", "", "Display name")
	enrollCmd.Flags().String("email", "", "Optional email")
	enrollCmd.Flags().String("dir", "", "Directory with one subdirectory per person")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := mustGetString(cmd, "dir")

	var reqs []attendance.EnrollRequest
	if dir != "" {
		var err error
		if reqs, err = scanRosterDir(dir); err != nil {
			return err
		}
	} else {
		if len(args) == 0 {
			return errors.New("at least one image is required")
		}
		images, err := readUploads(args)
		if err != nil {
			return err
		}
		reqs = append(reqs, attendance.EnrollRequest{
			ExternalID: mustGetString(cmd, "external-id"),
			Name:       mustGetString(cmd, "name"),
			Email:      mustGetString(cmd, "email"),
			Images:     images,
		})
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	roster, err := a.roster(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(reqs) == 1 {
		return enrollOne(ctx, out, roster, reqs[0])
	}

	bar := progressbar.NewOptions(len(reqs),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)
	var failed []string
	for _, req := range reqs {
		if _, err := roster.Enroll(ctx, req); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", req.ExternalID, err))
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	fmt.Fprintf(out, "\nenrolled %d of %d\n", len(reqs)-len(failed), len(reqs))
	for _, f := range failed {
		fmt.Fprintf(out, "  failed %s\n", f)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d enrollments failed", len(failed))
	}
	return nil
}

func enrollOne(ctx context.Context, out io.Writer, roster *attendance.Roster, req attendance.EnrollRequest) error {
	res, err := roster.Enroll(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "enrolled %s (%s) id=%s faces=%d\n", res.Enrollee.Name, res.Enrollee.ExternalID, res.Enrollee.ID, res.FacesAdded)
	for _, r := range res.Rejected {
		fmt.Fprintf(out, "  rejected %s\n", r)
	}
	if res.CacheErr != nil {
		fmt.Fprintf(out, "  warning: index refresh failed: %v\n", res.CacheErr)
	}
	return nil
}

func readUploads(paths []string) ([]attendance.Upload, error) {
	uploads := make([]attendance.Upload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, attendance.Upload{Filename: filepath.Base(p), Data: data})
	}
	return uploads, nil
}

// scanRosterDir builds one request per <external_id>_<name> subdirectory.
func scanRosterDir(dir string) ([]attendance.EnrollRequest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var reqs []attendance.EnrollRequest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		extID, name, ok := strings.Cut(e.Name(), "_")
		if !ok || extID == "" || name == "" {
			return nil, fmt.Errorf("directory %q is not <external_id>_<name>", e.Name())
		}
		files, err := os.ReadDir(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var paths []string
		for _, f := range files {
			if !f.IsDir() {
				paths = append(paths, filepath.Join(dir, e.Name(), f.Name()))
			}
		}
		sort.Strings(paths)
		images, err := readUploads(paths)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, attendance.EnrollRequest{
			ExternalID: extID,
			Name:       strings.ReplaceAll(name, "_", " "),
			Images:     images,
		})
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("no person directories under %s", dir)
	}
	return reqs, nil
}
