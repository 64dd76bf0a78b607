package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/oshokin/xlm/internal/config"
	"github.com/oshokin/xlm/internal/domain/xlcore"
	"github.com/oshokin/xlm/internal/service/launch"
)

// launchFlags mirrors the launch configuration; a flag only wins over the settings file when set.
type launchFlags struct {
	installDirectory   string
	repoOwner          string
	repoName           string
	releaseAsset       string
	customRelease      string
	ariaDownloadURL    string
	fallbackSecrets    bool
	skipUpdate         bool
	extraEnvAssignment []string
}

var (
	launchOpts launchFlags

	// launchCmd installs or updates the runtime when needed and runs it.
	launchCmd = &cobra.Command{
		Use:   "launch [flags] [-- runtime args...]",
		Short: "Update XIVLauncher.Core if needed and launch it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := launchConfig(cmd, args)
			if err != nil {
				return &ExitError{Code: launch.ExitCodeInternal, Err: err}
			}

			// No signal.NotifyContext here: the launcher relays SIGINT and SIGTERM to the runtime.
			status, err := launch.Run(context.Background(), &launch.Options{Config: cfg})
			if err != nil {
				return &ExitError{Code: status, Err: err}
			}

			if status != 0 {
				return &ExitError{Code: status}
			}

			return nil
		},
	}
)

// launchConfig layers the flags that were set over the settings file.
func launchConfig(cmd *cobra.Command, args []string) (*config.Launch, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()

	overrides := []struct {
		flag  string
		field *string
		value string
	}{
		{"install-directory", &cfg.InstallDirectory, launchOpts.installDirectory},
		{"xlcore-repo-owner", &cfg.RepoOwner, launchOpts.repoOwner},
		{"xlcore-repo-name", &cfg.RepoName, launchOpts.repoName},
		{"xlcore-release-asset", &cfg.ReleaseAsset, launchOpts.releaseAsset},
		{"custom-xlcore-release", &cfg.CustomReleaseURL, launchOpts.customRelease},
		{"aria-download-url", &cfg.AriaDownloadURL, launchOpts.ariaDownloadURL},
		{"xlm-updater-repo-owner", &cfg.SelfUpdate.RepoOwner, selfUpdateRepoOwner},
		{"xlm-updater-repo-name", &cfg.SelfUpdate.RepoName, selfUpdateRepoName},
	}

	for _, override := range overrides {
		if flags.Changed(override.flag) {
			*override.field = override.value
		}
	}

	if flags.Changed("use-fallback-secret-provider") && launchOpts.fallbackSecrets {
		cfg.SecretsProvider = xlcore.SecretsProviderFile
	}

	if flags.Changed("skip-update") {
		cfg.SkipUpdate = launchOpts.skipUpdate
	}

	if flags.Changed("xlm-updater-disable") && selfUpdateDisabled {
		cfg.SelfUpdate.Enabled = false
	}

	for _, assignment := range launchOpts.extraEnvAssignment {
		key, value, err := config.ParseEnvAssignment(assignment)
		if err != nil {
			return nil, err
		}

		if cfg.ExtraEnvVars == nil {
			cfg.ExtraEnvVars = make(map[string]string)
		}

		cfg.ExtraEnvVars[key] = value
	}

	cfg.ExtraLaunchArgs = append(cfg.ExtraLaunchArgs, args...)

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := launchCmd.Flags()

	flags.StringVar(&launchOpts.installDirectory, "install-directory", config.DefaultInstallDirectory(),
		"directory holding the runtime, its install record, hooks and lock")
	flags.StringVar(&launchOpts.repoOwner, "xlcore-repo-owner", config.DefaultRepoOwner,
		"owner of the GitHub repository runtime releases come from")
	flags.StringVar(&launchOpts.repoName, "xlcore-repo-name", config.DefaultRepoName,
		"name of the GitHub repository runtime releases come from")
	flags.StringVar(&launchOpts.releaseAsset, "xlcore-release-asset", config.DefaultReleaseAsset,
		"release asset holding the runtime archive")
	flags.StringVar(&launchOpts.customRelease, "custom-xlcore-release", "",
		"base URL serving a \"version\" file and the release asset, replaces GitHub")
	flags.StringVar(&launchOpts.ariaDownloadURL, "aria-download-url", config.DefaultAriaDownloadURL,
		"archive extracted into every runtime install, empty disables it")
	flags.BoolVar(&launchOpts.fallbackSecrets, "use-fallback-secret-provider", false,
		"store runtime secrets in a file instead of the system keyring")
	flags.BoolVar(&launchOpts.skipUpdate, "skip-update", false,
		"launch the installed runtime without checking for a new release")
	flags.StringArrayVar(&launchOpts.extraEnvAssignment, "extra-env-var", nil,
		"KEY=VALUE added to the runtime environment, repeatable")
}
