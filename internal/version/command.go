package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AttachCobraVersionCommand wires `--version` on root and adds a `version` subcommand
// that prints build metadata, or only the version with --short.
func AttachCobraVersionCommand(root *cobra.Command) {
	root.Version = Short()
	root.SetVersionTemplate("xlm {{.Version}}\n")

	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: "Print the xlm version, the commit it was built from and the build timestamp. " +
			"Development builds report \"dev\" and never update themselves.",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			if short {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), Short())

				return
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), Full())

			if !IsRelease() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "self-update: disabled for development builds")
			}
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "print only the version")
	root.AddCommand(cmd)
}
