package launcher

import (
	"os"
	"slices"
	"strings"

	"github.com/oshokin/xlm/internal/domain/xlcore"
)

// Environment variables the runtime relies on.
const (
	EnvCompatTool      = "XL_SCT"
	EnvPreload         = "XL_PRELOAD"
	EnvSecretsProvider = "XL_SECRET_PROVIDER"
	EnvLDPreload       = "LD_PRELOAD"
	EnvPath            = "PATH"

	secretsProviderFile = "FILE"
)

// EnvOptions are the inputs of ComposeEnv.
type EnvOptions struct {
	// Base is the inherited environment in os.Environ form.
	Base []string
	// RuntimeDir is appended to PATH so bundled helpers such as aria2c are found.
	RuntimeDir string
	// SecretsProvider selects the runtime secrets backend.
	SecretsProvider xlcore.SecretsProvider
	// Extra is applied last and overrides everything else.
	Extra map[string]string
}

// ComposeArgs returns the runtime arguments. The runtime needs no arguments of
// its own, so the caller's extra arguments are passed through verbatim.
func ComposeArgs(extra []string) []string {
	return slices.Clone(extra)
}

// ComposeEnv layers the inherited environment, the variables the runtime needs
// in compatibility tool mode and the caller overrides, later layers winning.
// The result is sorted by key.
func ComposeEnv(opts *EnvOptions) []string {
	env := make(map[string]string, len(opts.Base)+len(opts.Extra)+4)

	for _, kv := range opts.Base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}

		env[key] = value
	}

	// The Steam overlay preload breaks the launcher UI; the runtime hands it to the game itself.
	env[EnvPreload] = env[EnvLDPreload]
	delete(env, EnvLDPreload)

	env[EnvCompatTool] = "1"

	if opts.RuntimeDir != "" {
		if path := env[EnvPath]; path != "" {
			env[EnvPath] = path + string(os.PathListSeparator) + opts.RuntimeDir
		} else {
			env[EnvPath] = opts.RuntimeDir
		}
	}

	if opts.SecretsProvider == xlcore.SecretsProviderFile {
		env[EnvSecretsProvider] = secretsProviderFile
	}

	for key, value := range opts.Extra {
		env[key] = value
	}

	result := make([]string, 0, len(env))
	for key, value := range env {
		result = append(result, key+"="+value)
	}

	slices.Sort(result)

	return result
}

// Lookup returns the value of key in an environment produced by ComposeEnv.
func Lookup(env []string, key string) (string, bool) {
	prefix := key + "="

	for _, kv := range env {
		if value, ok := strings.CutPrefix(kv, prefix); ok {
			return value, true
		}
	}

	return "", false
}
