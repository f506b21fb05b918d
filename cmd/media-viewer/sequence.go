package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"media-viewer/internal/jsonfile"
	"media-viewer/internal/models"
)

func newSequenceCommand() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Print the resolved playback sequence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			entry, err := a.sequences.Sequence(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !check {
				data, err := jsonfile.Marshal(entry.Items)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			available, err := a.files.Files()
			if err != nil {
				return err
			}
			missing := missingRefs(entry.Items, available)
			fmt.Fprintf(out, "Items:   %d\n", len(entry.Items))
			fmt.Fprintf(out, "Files:   %d\n", len(available))
			if len(missing) == 0 {
				fmt.Fprintln(out, "Missing: none")
				return nil
			}
			fmt.Fprintf(out, "Missing: %d\n", len(missing))
			for _, ref := range missing {
				fmt.Fprintf(out, "  %s\n", ref)
			}
			return fmt.Errorf("%d media references point at missing files", len(missing))
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Report media referenced by structural nodes that is missing on disk")
	return cmd
}

// missingRefs lists node media references that are not among the available files.
func missingRefs(items []models.PlaybackItem, available []string) []string {
	present := make(map[string]struct{}, len(available))
	for _, path := range available {
		present[path] = struct{}{}
	}

	var missing []string
	seen := make(map[string]struct{})
	for _, item := range items {
		if !item.IsNode() {
			continue
		}
		for _, ref := range item.Node.MediaRefs() {
			if _, ok := present[ref]; ok {
				continue
			}
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			missing = append(missing, ref)
		}
	}
	return missing
}
