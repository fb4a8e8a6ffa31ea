package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/aida/config"
	"github.com/m4xw311/aida/history"
	"github.com/m4xw311/aida/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	os.Exit(m.Run())
}

// writeConfig writes a config that keeps every artifact inside the test's
// temporary directory and disables the code agent.
func writeConfig(t *testing.T) (path, auditDB string) {
	t.Helper()
	dir := t.TempDir()
	auditDB = filepath.Join(dir, "audit.db")
	path = filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("coder_provider: \"\"\nsession_dir: %s\naudit_db: %s\n", filepath.Join(dir, "sessions"), auditDB)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, auditDB
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{config.EnvConfigPath, config.EnvProvider, config.EnvCoreProvider, config.EnvCoreModel,
		config.EnvPreprocessorProvider, config.EnvPreprocessorModel} {
		t.Setenv(k, "")
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestREPLWithMockProvider(t *testing.T) {
	path, _ := writeConfig(t)

	out, err := execute(t, "How many users are logged in?\nconfig\nexit\n", "--config", path, "--provider", "mock")
	require.NoError(t, err)

	assert.Contains(t, out, "AIDA is ready!")
	assert.Contains(t, out, "AIDA: I am a mock model and cannot run commands.")
	assert.Contains(t, out, "Core model: mock/llama3.2:3b")
	assert.Contains(t, out, "Goodbye!")
}

func TestREPLInitialPrompt(t *testing.T) {
	path, _ := writeConfig(t)

	out, err := execute(t, "", "--config", path, "--provider", "mock", "show", "disk", "usage")
	require.NoError(t, err)
	assert.Contains(t, out, "AIDA: I am a mock model")
}

func TestUnknownProviderFails(t *testing.T) {
	path, _ := writeConfig(t)

	_, err := execute(t, "exit\n", "--config", path, "--provider", "carrier-pigeon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestMissingExplicitConfigFails(t *testing.T) {
	_, err := execute(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "providers")
	require.Error(t, err)
}

func TestProvidersCommand(t *testing.T) {
	path, _ := writeConfig(t)
	t.Setenv("GOOGLE_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("AIDA_KEYRING_DISABLED", "1")

	out, err := execute(t, "", "--config", path, "providers")
	require.NoError(t, err)

	for _, kind := range llm.NewRegistry().Kinds() {
		assert.Contains(t, out, kind)
	}
	assert.Contains(t, out, "GOOGLE_API_KEY (set)")
	assert.Contains(t, out, "OPENAI_API_KEY (missing)")
	assert.Contains(t, out, "core: ollama/llama3.2:3b")
}

func TestLoginStoresKey(t *testing.T) {
	out, err := execute(t, "sk-test\n", "login", "--provider", "openai")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored OPENAI_API_KEY in the keychain")

	stored, err := keyring.Get("aida", "OPENAI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", stored)

	_, err = execute(t, "", "login", "--provider", "openai", "--forget")
	require.NoError(t, err)
	_, err = keyring.Get("aida", "OPENAI_API_KEY")
	assert.Error(t, err)
}

func TestLoginRejectsKeylessProvider(t *testing.T) {
	_, err := execute(t, "x\n", "login", "--provider", "ollama")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not use an API key")
}

func TestHistoryCommand(t *testing.T) {
	path, auditDB := writeConfig(t)

	store, err := history.Open(auditDB)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, history.Record{SessionID: "s", Proposed: "who", Executed: "who", Approved: true}))
	require.NoError(t, store.Add(ctx, history.Record{SessionID: "s", Proposed: "rm -rf /", Feedback: "absolutely not"}))
	require.NoError(t, store.Close())

	out, err := execute(t, "", "--config", path, "history")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "rejected")
	assert.Contains(t, lines[1], "absolutely not")
	assert.Contains(t, lines[2], "approved")
}

func TestHistoryDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audit_db: \"\"\n"), 0o644))

	out, err := execute(t, "", "--config", path, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "The audit log is disabled")
}
