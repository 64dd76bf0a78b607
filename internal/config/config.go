package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/xlm/internal/domain/xlcore"
)

// Launch holds everything the launch pipeline needs for one invocation.
// It is built from the optional settings file and CLI flags, validated once
// and not modified afterwards.
type Launch struct {
	// InstallDirectory is where the runtime, its record, hooks and lock live.
	InstallDirectory string `yaml:"install_directory"`
	// RepoOwner is the GitHub owner of the runtime repository.
	RepoOwner string `yaml:"xlcore_repo_owner"`
	// RepoName is the GitHub name of the runtime repository.
	RepoName string `yaml:"xlcore_repo_name"`
	// ReleaseAsset is the archive name attached to every runtime release.
	ReleaseAsset string `yaml:"xlcore_release_asset"`
	// CustomReleaseURL replaces GitHub with a plain HTTP release location.
	CustomReleaseURL string `yaml:"custom_xlcore_release"`
	// AriaDownloadURL is an extra archive extracted into every install, empty disables it.
	AriaDownloadURL string `yaml:"aria_download_url"`
	// ExtraLaunchArgs are passed verbatim after the required runtime arguments.
	ExtraLaunchArgs []string `yaml:"extra_launch_args"`
	// ExtraEnvVars overlay the composed runtime environment.
	ExtraEnvVars map[string]string `yaml:"extra_env_vars"`
	// SecretsProvider selects the runtime secrets backend.
	SecretsProvider xlcore.SecretsProvider `yaml:"secrets_provider"`
	// SkipUpdate disables release resolution when a runtime is already installed.
	SkipUpdate bool `yaml:"skip_update"`
	// SelfUpdate configures replacement of the xlm executable itself.
	SelfUpdate SelfUpdate `yaml:"self_update"`
	// Timeout bounds every release metadata request.
	Timeout time.Duration `yaml:"timeout"`
}

// SelfUpdate configures the self-updater.
type SelfUpdate struct {
	// Enabled turns self-updates on.
	Enabled bool `yaml:"enabled"`
	// RepoOwner is the GitHub owner of the xlm repository.
	RepoOwner string `yaml:"repo_owner"`
	// RepoName is the GitHub name of the xlm repository.
	RepoName string `yaml:"repo_name"`
}

const (
	// DefaultRepoOwner is the owner of the upstream runtime repository.
	DefaultRepoOwner = "goatcorp"
	// DefaultRepoName is the upstream runtime repository.
	DefaultRepoName = "XIVLauncher.Core"
	// DefaultReleaseAsset is the archive published with every runtime release.
	DefaultReleaseAsset = "XIVLauncher.Core.tar.gz"
	// DefaultAriaDownloadURL points at a static aria2c build the runtime uses for downloads.
	DefaultAriaDownloadURL = "https://github.com/rankynbass/aria2-static-build/releases/download/v1.37.0-2/aria2-static.tar.gz"
	// DefaultSelfUpdateRepoOwner is the owner of the xlm repository.
	DefaultSelfUpdateRepoOwner = "Blooym"
	// DefaultSelfUpdateRepoName is the xlm repository.
	DefaultSelfUpdateRepoName = "xlm"
	// DefaultInstallDirname is appended to the user data directory.
	DefaultInstallDirname = "xlcore"

	// DefaultTimeout is the default duration for release metadata requests.
	DefaultTimeout = 30 * time.Second

	// DefaultFilePermissions is applied to the lock and record files xlm writes.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errSettingsPathRequired is returned when Load or Save get an empty path.
	errSettingsPathRequired = errors.New("settings path must be provided")
	// ErrInvalidEnvVar is returned for extra environment variables with a bad key.
	ErrInvalidEnvVar = errors.New("invalid environment variable")
)

// Default returns the configuration used when neither a settings file nor flags say otherwise.
func Default() *Launch {
	return &Launch{
		InstallDirectory: DefaultInstallDirectory(),
		RepoOwner:        DefaultRepoOwner,
		RepoName:         DefaultRepoName,
		ReleaseAsset:     DefaultReleaseAsset,
		AriaDownloadURL:  DefaultAriaDownloadURL,
		SecretsProvider:  xlcore.SecretsProviderSystem,
		SelfUpdate: SelfUpdate{
			Enabled:   true,
			RepoOwner: DefaultSelfUpdateRepoOwner,
			RepoName:  DefaultSelfUpdateRepoName,
		},
		Timeout: DefaultTimeout,
	}
}

// DefaultInstallDirectory returns $XDG_DATA_HOME/xlcore, falling back to ~/.local/share/xlcore.
func DefaultInstallDirectory() string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); filepath.IsAbs(dataHome) {
		return filepath.Join(dataHome, DefaultInstallDirname)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultInstallDirname
	}

	return filepath.Join(home, ".local", "share", DefaultInstallDirname)
}

// Load reads settings from the provided path on top of Default and validates them.
func Load(path string) (*Launch, error) {
	if path == "" {
		return nil, errSettingsPathRequired
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate fills defaults for empty fields and rejects malformed values.
func Validate(cfg *Launch) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.InstallDirectory == "" {
		cfg.InstallDirectory = DefaultInstallDirectory()
	}

	installDirectory, err := filepath.Abs(cfg.InstallDirectory)
	if err != nil {
		return fmt.Errorf("resolve install directory: %w", err)
	}

	cfg.InstallDirectory = installDirectory

	setDefault(&cfg.RepoOwner, DefaultRepoOwner)
	setDefault(&cfg.RepoName, DefaultRepoName)
	setDefault(&cfg.ReleaseAsset, DefaultReleaseAsset)
	setDefault(&cfg.SelfUpdate.RepoOwner, DefaultSelfUpdateRepoOwner)
	setDefault(&cfg.SelfUpdate.RepoName, DefaultSelfUpdateRepoName)

	if strings.ContainsAny(cfg.ReleaseAsset, `/\`) {
		return fmt.Errorf("invalid release asset name %q", cfg.ReleaseAsset)
	}

	// Set default timeout if not specified
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	provider, err := xlcore.ParseSecretsProvider(string(cfg.SecretsProvider))
	if err != nil {
		return err
	}

	cfg.SecretsProvider = provider

	if err := validateURL("custom release URL", cfg.CustomReleaseURL); err != nil {
		return err
	}

	if err := validateURL("aria download URL", cfg.AriaDownloadURL); err != nil {
		return err
	}

	for key := range cfg.ExtraEnvVars {
		if err := ValidateEnvKey(key); err != nil {
			return err
		}
	}

	return nil
}

// ValidateEnvKey rejects keys the process environment cannot carry.
func ValidateEnvKey(key string) error {
	if key == "" || strings.ContainsAny(key, "=\x00") {
		return fmt.Errorf("%w: key %q", ErrInvalidEnvVar, key)
	}

	return nil
}

// ParseEnvAssignment splits a KEY=VALUE string.
func ParseEnvAssignment(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not KEY=VALUE", ErrInvalidEnvVar, s)
	}

	if err := ValidateEnvKey(key); err != nil {
		return "", "", err
	}

	return key, value, nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return nil
	}

	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid %s: unsupported scheme %q", name, parsed.Scheme)
	}

	return nil
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}
