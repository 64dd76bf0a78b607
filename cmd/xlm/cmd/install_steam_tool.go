package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/xlm/internal/service/launch"
	"github.com/oshokin/xlm/internal/service/steamtool"
)

var (
	steamToolOpts steamtool.Options

	// installSteamToolCmd installs xlm as a Steam compatibility tool.
	installSteamToolCmd = &cobra.Command{
		Use:   "install-steam-tool",
		Short: "Install xlm as a Steam compatibility tool",
		Long: `Install xlm as a Steam compatibility tool.

Steam's compatibilitytools.d directory usually lives in:
  native or Steam Deck: ~/.steam/root/compatibilitytools.d
  Flatpak: ~/.var/app/com.valvesoftware.Steam/.steam/root/compatibilitytools.d
  Snap: ~/snap/steam/common/.steam/root/compatibilitytools.d`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if err := steamtool.Run(ctx, &steamToolOpts); err != nil {
				return &ExitError{Code: launch.ExitCodeInternal, Err: err}
			}

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := installSteamToolCmd.Flags()

	flags.StringVar(&steamToolOpts.CompatPath, "steam-compat-path", "", "path to Steam's compatibilitytools.d directory")
	flags.StringVar(&steamToolOpts.ExtraLaunchArgs, "extra-launch-args", "",
		"extra flags the tool passes to \"xlm launch\", split like shell words")
	flags.StringVar(&steamToolOpts.ExtraEnvVars, "extra-env-vars", "",
		"KEY=VALUE pairs the tool passes as --extra-env-var, split like shell words")

	_ = installSteamToolCmd.MarkFlagRequired("steam-compat-path")
}
