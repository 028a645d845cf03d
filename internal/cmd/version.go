package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/offlinefirst/worktrack/internal/buildinfo"
)

func (rc *RootCommand) newVersionCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintln(out, versionString()); err != nil {
				return err
			}
			if !verbose {
				return nil
			}
			info := buildinfo.Read()
			fmt.Fprintf(out, "commit: %s\n", info.Commit)
			if info.Modified {
				fmt.Fprintln(out, "modified: true")
			}
			if info.BuiltAt != "" {
				fmt.Fprintf(out, "built: %s\n", info.BuiltAt)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Include VCS details embedded by the Go toolchain")
	return cmd
}
