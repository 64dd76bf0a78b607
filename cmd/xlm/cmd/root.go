package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/xlm/internal/config"
	"github.com/oshokin/xlm/internal/logger"
	"github.com/oshokin/xlm/internal/service/launch"
	"github.com/oshokin/xlm/internal/version"
)

var (
	// configPath to the optional settings YAML file.
	configPath string
	// logLevel is the minimum level printed to the terminal.
	logLevel string

	// selfUpdateRepoOwner, selfUpdateRepoName and selfUpdateDisabled configure the self-updater.
	selfUpdateRepoOwner string
	selfUpdateRepoName  string
	selfUpdateDisabled  bool

	// closeLogFile flushes the debug log file, set once the file sink is attached.
	closeLogFile func() error

	errInvalidLogLevel = errors.New("invalid log level")

	// rootCmd is the base command; every piece of work happens in subcommands.
	rootCmd = &cobra.Command{
		Use:           "xlm",
		Short:         "Launch and keep XIVLauncher.Core up to date",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogging()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			teardownLogging()
		},
	}
)

// Execute runs the xlm CLI and exits with the code of the command.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	err := rootCmd.Execute()
	if err == nil {
		return
	}

	code := launch.ExitCodeInternal

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}

	if exitErr == nil || exitErr.Err != nil {
		logger.Error(context.Background(), err)
	}

	teardownLogging()
	os.Exit(code)
}

// setupLogging applies --log-level and tees debug output into the log file.
// A log file that cannot be created only costs the debug log.
func setupLogging() error {
	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return &ExitError{Code: launch.ExitCodeInternal, Err: fmt.Errorf("%w: %q", errInvalidLogLevel, logLevel)}
	}

	logger.SetLevel(level)

	option, closeFile, err := logger.WithFileSink(logger.DefaultLogPath())
	if err != nil {
		logger.WarnKV(context.Background(), "Debug log file is unavailable", "error", err)

		return nil
	}

	logger.SetLogger(logger.New(logger.ConsoleLevel(), option))
	closeLogFile = closeFile

	logger.DebugKV(context.Background(), "Starting xlm", "version", version.Full(), "log_file", logger.DefaultLogPath())

	return nil
}

func teardownLogging() {
	logger.Sync()

	if closeLogFile != nil {
		_ = closeLogFile()
		closeLogFile = nil
	}
}

// loadConfig returns the settings file contents or the defaults when no file is given.
func loadConfig() (*config.Launch, error) {
	if configPath == "" {
		return config.Default(), nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load settings %s: %w", configPath, err)
	}

	return cfg, nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVarP(&configPath, "config", "c", "", "path to an optional settings file, flags override it")
	flags.StringVar(&logLevel, "log-level", "info", "console log level: debug, info, warn or error")
	flags.StringVar(&selfUpdateRepoOwner, "xlm-updater-repo-owner", config.DefaultSelfUpdateRepoOwner,
		"owner of the GitHub repository xlm updates itself from")
	flags.StringVar(&selfUpdateRepoName, "xlm-updater-repo-name", config.DefaultSelfUpdateRepoName,
		"name of the GitHub repository xlm updates itself from")
	flags.BoolVar(&selfUpdateDisabled, "xlm-updater-disable", false, "do not update xlm itself")

	rootCmd.AddCommand(launchCmd, installSteamToolCmd)
}
