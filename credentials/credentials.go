// Package credentials resolves provider secrets from the environment and the
// OS keychain.
package credentials

import (
	"os"

	"github.com/m4xw311/aida/errors"
	"github.com/zalando/go-keyring"
)

const serviceName = "aida"

// Well-known secret names. They double as environment variable names and as
// keychain account names.
const (
	GoogleAPIKey    = "GOOGLE_API_KEY"
	OpenAIAPIKey    = "OPENAI_API_KEY"
	AnthropicAPIKey = "ANTHROPIC_API_KEY"
)

// ForProvider maps a provider kind to the secret it needs. Providers without
// an API key (ollama, bedrock) map to "".
func ForProvider(kind string) string {
	switch kind {
	case "gemini":
		return GoogleAPIKey
	case "openai":
		return OpenAIAPIKey
	case "anthropic":
		return AnthropicAPIKey
	}
	return ""
}

// Lookup returns the secret stored under name. The environment wins over the
// keychain. Absence is reported as errors.ErrMissingCredential.
func Lookup(name string) (string, error) {
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	if os.Getenv("AIDA_KEYRING_DISABLED") != "1" {
		if v, err := keyring.Get(serviceName, name); err == nil && v != "" {
			return v, nil
		}
	}
	return "", errors.Wrapf(errors.ErrMissingCredential, "%s is not set in the environment or the keychain", name)
}

// Store saves a secret in the OS keychain.
func Store(name, value string) error {
	if value == "" {
		return errors.New("refusing to store an empty %s", name)
	}
	if err := keyring.Set(serviceName, name, value); err != nil {
		return errors.Wrapf(err, "keychain set %s", name)
	}
	return nil
}

// Forget removes a secret from the OS keychain.
func Forget(name string) error {
	if err := keyring.Delete(serviceName, name); err != nil {
		return errors.Wrapf(err, "keychain delete %s", name)
	}
	return nil
}
