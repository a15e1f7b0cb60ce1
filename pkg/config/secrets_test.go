package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretsEncryptDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := NewSecrets()
	s.Set("ANTHROPIC_API_KEY", "sk-ant-test")
	s.Set("OPENAI_API_KEY", "sk-test")
	require.NoError(t, s.SaveToFile(dir, "hunter2"))

	assert.True(t, SecretsFileExists(dir))

	info, err := os.Stat(filepath.Join(dir, secretsFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded := NewSecrets()
	require.NoError(t, loaded.LoadFromFile(dir, "hunter2"))

	got, err := loaded.Get("ANTHROPIC_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", got)
	assert.ElementsMatch(t, []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY"}, loaded.Names())
}

func TestSecretsWrongPassword(t *testing.T) {
	dir := t.TempDir()

	s := NewSecrets()
	s.Set("KEY", "value")
	require.NoError(t, s.SaveToFile(dir, "right"))

	err := NewSecrets().LoadFromFile(dir, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
}

func TestSecretsEnvFallback(t *testing.T) {
	t.Setenv("ENSEMBLE_TEST_SECRET", "from-env")

	s := NewSecrets()
	got, err := s.Get("ENSEMBLE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	// In-memory values take precedence over the environment.
	s.Set("ENSEMBLE_TEST_SECRET", "from-file")
	got, err = s.Get("ENSEMBLE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	_, err = s.Get("ENSEMBLE_MISSING_SECRET")
	assert.Error(t, err)
}

func TestSecretsCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, secretsFileName), []byte("tiny"), 0o600))

	err := NewSecrets().LoadFromFile(dir, "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupted")
}
