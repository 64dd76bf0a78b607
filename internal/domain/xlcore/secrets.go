package xlcore

import (
	"errors"
	"fmt"
	"strings"
)

// SecretsProvider selects where the runtime keeps credentials.
type SecretsProvider string

const (
	// SecretsProviderSystem uses the desktop keyring.
	SecretsProviderSystem SecretsProvider = "system"
	// SecretsProviderFile makes the runtime store secrets in a plain file.
	SecretsProviderFile SecretsProvider = "file"
)

// ErrUnknownSecretsProvider is returned for provider names other than system and file.
var ErrUnknownSecretsProvider = errors.New("unknown secrets provider")

// ParseSecretsProvider converts user input into a SecretsProvider.
// Empty input means SecretsProviderSystem.
func ParseSecretsProvider(s string) (SecretsProvider, error) {
	provider := SecretsProvider(strings.ToLower(strings.TrimSpace(s)))
	if provider == "" {
		return SecretsProviderSystem, nil
	}

	if !provider.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSecretsProvider, s)
	}

	return provider, nil
}

// IsValid reports whether p is a known provider.
func (p SecretsProvider) IsValid() bool {
	switch p {
	case SecretsProviderSystem, SecretsProviderFile:
		return true
	default:
		return false
	}
}
