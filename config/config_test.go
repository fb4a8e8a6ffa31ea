package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m4xw311/aida/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the working directory at empty temp dirs so that
// no real config file leaks into a test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{EnvConfigPath, EnvCoreProvider, EnvCoreModel, EnvPreprocessorProvider, EnvPreprocessorModel, EnvProvider} {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefaultConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.CoreProvider)
	assert.Equal(t, "llama3.2:3b", cfg.CoreModel)
	assert.Equal(t, "gemini", cfg.PreprocessorProvider)
	assert.Equal(t, "gemini-1.5-flash", cfg.PreprocessorModel)
	assert.False(t, cfg.Debug)
	assert.Equal(t, 6, cfg.MaxIterations)
	assert.Equal(t, 5, cfg.HistoryWindow)
	assert.NoError(t, cfg.Validate())
}

func TestLoadExplicitFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "aida.yaml")
	writeFile(t, path, `
core_provider: test-provider
core_model: test-model
preprocessor_provider: test-prep-provider
preprocessor_model: test-prep-model
debug: true
command_timeout: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-provider", cfg.CoreProvider)
	assert.Equal(t, "test-model", cfg.CoreModel)
	assert.Equal(t, "test-prep-provider", cfg.PreprocessorProvider)
	assert.Equal(t, "test-prep-model", cfg.PreprocessorModel)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 30*time.Second, cfg.CommandTimeout)
	// Untouched fields keep their defaults.
	assert.Equal(t, 6, cfg.MaxIterations)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestLoadExplicitMalformedFileFails(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "core_provider: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestLoadPathFromEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "env.yaml")
	writeFile(t, path, "core_provider: env-path-provider\ncore_model: env-path-model\n")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-path-provider", cfg.CoreProvider)
	assert.Equal(t, "env-path-model", cfg.CoreModel)
}

func TestLoadDefaultLocation(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, ".config", "aida", "config.yaml"),
		"core_provider: default-path-provider\ncore_model: default-path-model\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "default-path-provider", cfg.CoreProvider)
	assert.Equal(t, "default-path-model", cfg.CoreModel)
}

func TestLoadMalformedDefaultFallsBack(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, ".aida.yaml"), "core_provider: [oops")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().CoreProvider, cfg.CoreProvider)
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv(EnvCoreProvider, "env-provider")
	t.Setenv(EnvCoreModel, "env-model")
	t.Setenv(EnvPreprocessorProvider, "env-prep-provider")
	t.Setenv(EnvPreprocessorModel, "env-prep-model")

	cfg := Default()
	cfg.ApplyEnv(Overrides{})
	assert.Equal(t, "env-provider", cfg.CoreProvider)
	assert.Equal(t, "env-model", cfg.CoreModel)
	assert.Equal(t, "env-prep-provider", cfg.PreprocessorProvider)
	assert.Equal(t, "env-prep-model", cfg.PreprocessorModel)
}

func TestEnvOverrideIdempotent(t *testing.T) {
	isolate(t)
	t.Setenv(EnvCoreModel, "env-model")
	t.Setenv(EnvProvider, "gemini")

	once := Default()
	once.ApplyEnv(Overrides{})
	twice := Default()
	twice.ApplyEnv(Overrides{})
	twice.ApplyEnv(Overrides{})
	assert.Equal(t, once, twice)
}

func TestProviderPrecedence(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		overrides Overrides
		wantCore  string
		wantPrep  string
	}{
		{
			name:     "AIDA_PROVIDER sets both roles",
			env:      map[string]string{EnvProvider: "openai"},
			wantCore: "openai",
			wantPrep: "openai",
		},
		{
			name:     "AIDA_PROVIDER wins over per-role variables",
			env:      map[string]string{EnvProvider: "openai", EnvCoreProvider: "anthropic"},
			wantCore: "openai",
			wantPrep: "openai",
		},
		{
			name:      "CLI provider beats environment",
			env:       map[string]string{EnvProvider: "openai", EnvCoreProvider: "anthropic"},
			overrides: Overrides{Provider: "bedrock"},
			wantCore:  "bedrock",
			wantPrep:  "bedrock",
		},
		{
			name:     "per-role variables without AIDA_PROVIDER",
			env:      map[string]string{EnvPreprocessorProvider: "ollama"},
			wantCore: "ollama",
			wantPrep: "ollama",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, err := Resolve("", tc.overrides)
			require.NoError(t, err)
			assert.Equal(t, tc.wantCore, cfg.CoreProvider)
			assert.Equal(t, tc.wantPrep, cfg.PreprocessorProvider)
		})
	}
}

func TestArgsOverride(t *testing.T) {
	isolate(t)
	t.Setenv(EnvCoreModel, "env-model")

	cfg, err := Resolve("", Overrides{
		Provider:          "args-provider",
		CoreModel:         "args-model",
		PreprocessorModel: "args-prep-model",
		Debug:             true,
	})
	require.NoError(t, err)
	assert.Equal(t, "args-provider", cfg.CoreProvider)
	assert.Equal(t, "args-model", cfg.CoreModel)
	assert.Equal(t, "args-provider", cfg.PreprocessorProvider)
	assert.Equal(t, "args-prep-model", cfg.PreprocessorModel)
	assert.True(t, cfg.Debug)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.MaxIterations = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}
