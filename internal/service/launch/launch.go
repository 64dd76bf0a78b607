package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/oshokin/xlm/internal/config"
	"github.com/oshokin/xlm/internal/domain/xlcore"
	"github.com/oshokin/xlm/internal/logger"
	"github.com/oshokin/xlm/internal/repository/record"
	"github.com/oshokin/xlm/internal/service/common"
	"github.com/oshokin/xlm/internal/service/guard"
	"github.com/oshokin/xlm/internal/service/hooks"
	"github.com/oshokin/xlm/internal/service/installer"
	"github.com/oshokin/xlm/internal/service/launcher"
	"github.com/oshokin/xlm/internal/service/resolver"
	"github.com/oshokin/xlm/internal/service/updater"
)

// ExitCodeInternal is the exit code of xlm when the pipeline itself fails.
const ExitCodeInternal = 70

// EnvGitHubToken names the variable holding an optional GitHub API token.
const EnvGitHubToken = "GITHUB_TOKEN"

// ErrNoRuntime is returned when nothing is installed and no runtime could be installed.
var ErrNoRuntime = errors.New("no runtime is installed")

// Options contains inputs for the launch entry point.
type Options struct {
	// Config is the launch configuration, validated by Run.
	Config *config.Launch
	// Environ is the inherited environment, os.Environ when nil.
	Environ []string

	// Stdin, Stdout and Stderr are handed to the runtime, the streams of xlm when nil.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// ClientOptions are appended to the release client defaults.
	ClientOptions []common.Option
	// GuardOptions are appended to the guard defaults.
	GuardOptions []guard.Option
	// UpdaterOptions are appended to the self-updater defaults.
	UpdaterOptions []updater.Option
	// InstallerOptions are appended to the installer defaults.
	InstallerOptions []installer.Option
}

// pipeline holds the collaborators of one invocation.
type pipeline struct {
	opts    *Options
	cfg     *config.Launch
	client  *common.Client
	records *record.FileRepository
}

// Run executes the launch pipeline and returns the runtime exit status.
// A non-nil error means the pipeline failed before the runtime could run;
// callers exit with ExitCodeInternal in that case.
func Run(ctx context.Context, opts *Options) (int, error) {
	invocationID := uuid.NewString()
	ctx = logger.WithKV(logger.WithName(ctx, "launch"), "invocation", invocationID)

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	if err := config.Validate(cfg); err != nil {
		return ExitCodeInternal, fmt.Errorf("invalid configuration: %w", err)
	}

	guardOptions := append([]guard.Option{guard.WithInvocationID(invocationID)}, opts.GuardOptions...)

	handle, err := guard.New(guardOptions...).Admit(ctx, cfg.InstallDirectory)
	if err != nil {
		return ExitCodeInternal, err
	}

	defer func() {
		if releaseErr := handle.Release(); releaseErr != nil {
			logger.WarnKV(ctx, "Unable to release the launch lock", "path", handle.Path(), "error", releaseErr)
		}
	}()

	clientOptions := append([]common.Option{
		common.WithCallTimeout(cfg.Timeout),
		common.WithToken(os.Getenv(EnvGitHubToken)),
	}, opts.ClientOptions...)

	p := &pipeline{
		opts:    opts,
		cfg:     cfg,
		client:  common.NewClient(clientOptions...),
		records: record.NewFileRepository(cfg.InstallDirectory),
	}

	return p.run(ctx)
}

func (p *pipeline) run(ctx context.Context) (int, error) {
	p.selfUpdate(ctx)

	installed, err := p.ensureRuntime(ctx, p.loadInstalled(ctx))
	if err != nil {
		return ExitCodeInternal, err
	}

	logger.InfoKV(ctx, "Using runtime", "version", installed.InstalledVersion, "path", installed.InstallPath)

	environ := p.opts.Environ
	if environ == nil {
		environ = os.Environ()
	}

	env := launcher.ComposeEnv(&launcher.EnvOptions{
		Base:            environ,
		RuntimeDir:      installed.InstallPath,
		SecretsProvider: p.cfg.SecretsProvider,
		Extra:           p.cfg.ExtraEnvVars,
	})

	hooks.Run(ctx, p.cfg.InstallDirectory, hooks.PhasePreLaunch, env)

	status, err := launcher.Launch(ctx, &launcher.Spec{
		InstallPath: installed.InstallPath,
		Args:        launcher.ComposeArgs(p.cfg.ExtraLaunchArgs),
		Env:         env,
		Stdin:       p.opts.Stdin,
		Stdout:      p.opts.Stdout,
		Stderr:      p.opts.Stderr,
	})
	if err != nil {
		return ExitCodeInternal, err
	}

	hooks.Run(ctx, p.cfg.InstallDirectory, hooks.PhasePostLaunch, env)

	return status, nil
}

// selfUpdate never fails the pipeline: the updater logs its own outcome.
func (p *pipeline) selfUpdate(ctx context.Context) {
	updaterOptions := append([]updater.Option{
		updater.WithRepo(p.cfg.SelfUpdate.RepoOwner, p.cfg.SelfUpdate.RepoName),
	}, p.opts.UpdaterOptions...)

	updater.New(p.client, updaterOptions...).MaybeSelfUpdate(ctx, p.cfg.SelfUpdate.Enabled)
}

// loadInstalled returns the usable install record or nil.
// Unreadable records and records pointing at a missing runtime count as nothing installed.
func (p *pipeline) loadInstalled(ctx context.Context) *xlcore.Record {
	if err := installer.Recover(ctx, p.cfg.InstallDirectory); err != nil {
		logger.WarnKV(ctx, "Unable to clean up after an interrupted install", "error", err)
	}

	installed, err := p.records.Load(ctx)

	switch {
	case errors.Is(err, record.ErrNotFound):
		logger.Info(ctx, "No runtime is installed yet")

		return nil
	case err != nil:
		logger.WarnKV(ctx, "Ignoring unusable install record", "path", p.records.Path(), "error", err)

		return nil
	}

	executable := xlcore.Executable(installed.InstallPath)
	if _, err = os.Stat(executable); err != nil {
		logger.WarnKV(ctx, "Install record points at a missing runtime",
			"version", installed.InstalledVersion, "executable", executable, "error", err)

		return nil
	}

	return installed
}

// ensureRuntime brings the runtime up to date when possible and returns the record to launch.
// Failures are only fatal when nothing usable is installed.
func (p *pipeline) ensureRuntime(ctx context.Context, installed *xlcore.Record) (*xlcore.Record, error) {
	if installed != nil && p.cfg.SkipUpdate {
		logger.InfoKV(ctx, "Skipping runtime update check", "version", installed.InstalledVersion)

		return installed, nil
	}

	// The resolver gets its own copy so the record launched on fallback stays as loaded.
	resolution := resolver.New(common.NewReleaseSource(p.cfg, p.client)).Resolve(ctx, installed.Clone())

	switch resolution.Status {
	case resolver.StatusUpToDate:
		return installed, nil
	case resolver.StatusUnknown:
		if installed != nil {
			return installed, nil
		}

		return nil, fmt.Errorf("%w: %w", ErrNoRuntime, resolution.Err)
	case resolver.StatusUpdateAvailable:
	}

	installerOptions := append([]installer.Option{
		installer.WithSupplements(p.cfg.AriaDownloadURL),
	}, p.opts.InstallerOptions...)

	updated, err := installer.New(p.client, p.records, installerOptions...).
		Install(ctx, resolution.Release, p.cfg.InstallDirectory)

	switch {
	case err == nil:
		return updated, nil
	case updated != nil:
		// The new runtime is live even though its record was not written.
		logger.WarnKV(ctx, "Runtime updated without a record, it will be reinstalled next time", "error", err)

		return updated, nil
	case installed != nil:
		logger.WarnKV(ctx, "Runtime update failed, launching the installed version",
			"version", installed.InstalledVersion, "error", err)

		return installed, nil
	default:
		return nil, fmt.Errorf("%w: %w", ErrNoRuntime, err)
	}
}
