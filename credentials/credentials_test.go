package credentials

import (
	"testing"

	"github.com/m4xw311/aida/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestLookupPrefersEnvironment(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, Store(GoogleAPIKey, "from-keychain"))
	t.Setenv(GoogleAPIKey, "from-env")

	got, err := Lookup(GoogleAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)
}

func TestLookupFallsBackToKeychain(t *testing.T) {
	keyring.MockInit()
	t.Setenv(OpenAIAPIKey, "")
	require.NoError(t, Store(OpenAIAPIKey, "sk-test"))

	got, err := Lookup(OpenAIAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", got)

	require.NoError(t, Forget(OpenAIAPIKey))
	_, err = Lookup(OpenAIAPIKey)
	assert.True(t, errors.Is(err, errors.ErrMissingCredential))
}

func TestLookupMissing(t *testing.T) {
	keyring.MockInit()
	t.Setenv(AnthropicAPIKey, "")
	_, err := Lookup(AnthropicAPIKey)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingCredential))
}

func TestStoreRejectsEmpty(t *testing.T) {
	keyring.MockInit()
	assert.Error(t, Store(GoogleAPIKey, ""))
}

func TestForProvider(t *testing.T) {
	assert.Equal(t, GoogleAPIKey, ForProvider("gemini"))
	assert.Equal(t, OpenAIAPIKey, ForProvider("openai"))
	assert.Equal(t, AnthropicAPIKey, ForProvider("anthropic"))
	assert.Empty(t, ForProvider("ollama"))
	assert.Empty(t, ForProvider("bedrock"))
}
