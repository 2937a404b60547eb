package credstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/tokenward/internal/credstore"
)

func TestEnvSource(t *testing.T) {
	t.Setenv("TOKENWARD_TEST_CRED", "  secret-value\n")

	src, err := credstore.NewEnvSource("TOKENWARD_TEST_CRED")
	require.NoError(t, err)

	got, err := src.Read(t.Context())
	require.NoError(t, err)
	// Env values are passed through as-is; trimming is a file concern.
	assert.Equal(t, "  secret-value\n", got)

	_, err = credstore.NewEnvSource("TOKENWARD_TEST_CRED_UNSET")
	assert.Error(t, err)

	_, err = credstore.NewEnvSource("")
	assert.Error(t, err)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cred")
	require.NoError(t, os.WriteFile(path, []byte("file-secret\n"), 0600))

	src, err := credstore.NewFileSource(path)
	require.NoError(t, err)

	got, err := src.Read(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "file-secret", got)
}

func TestFileSourceRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cred")
	require.NoError(t, os.WriteFile(path, []byte("file-secret"), 0644))

	src, err := credstore.NewFileSource(path)
	require.NoError(t, err)

	_, err = src.Read(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure permissions")
}

func TestFileSourceMissingOrEmpty(t *testing.T) {
	dir := t.TempDir()

	src, err := credstore.NewFileSource(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	_, err = src.Read(t.Context())
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0600))
	src, err = credstore.NewFileSource(empty)
	require.NoError(t, err)
	_, err = src.Read(t.Context())
	assert.Error(t, err)
}
