package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupEnvFileLoadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PAYWALL_ENV_TEST_KEY=from-file\n"), 0o600))
	t.Chdir(dir)
	t.Cleanup(func() { _ = os.Unsetenv("PAYWALL_ENV_TEST_KEY") })

	used, err := SetupEnvFile()
	require.NoError(t, err)
	assert.Equal(t, ".env", used)
	assert.Equal(t, "from-file", GetEnv("PAYWALL_ENV_TEST_KEY", "default"))
}

func TestSetupEnvFileKeepsExportedValues(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PAYWALL_ENV_TEST_KEEP=from-file\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("PAYWALL_ENV_TEST_KEEP", "exported")

	_, err := SetupEnvFile()
	require.NoError(t, err)
	assert.Equal(t, "exported", GetEnv("PAYWALL_ENV_TEST_KEEP", ""))
}

func TestSetupEnvFileWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	used, err := SetupEnvFile()
	require.NoError(t, err)
	assert.Equal(t, "", used)
}

func TestGetEnvDefault(t *testing.T) {
	assert.Equal(t, "fallback", GetEnv("PAYWALL_ENV_TEST_UNSET", "fallback"))
}
