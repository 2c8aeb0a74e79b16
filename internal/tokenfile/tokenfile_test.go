package tokenfile

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestLoad_FileNotFound(t *testing.T) {
	tf, err := Load(filepath.Join(t.TempDir(), "missing.token.json"))
	assert.Nil(t, tf)
	assert.NoError(t, err)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "onedrive.token.json")

	expiry := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	original := &File{
		Token: &oauth2.Token{
			AccessToken:  "access-123",
			RefreshToken: "refresh-456",
			TokenType:    "Bearer",
			Expiry:       expiry,
		},
		Host: "https://graph.microsoft.com/v1.0",
		Meta: map[string]string{"display_name": "Alice"},
	}

	require.NoError(t, Save(path, original))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "access-123", loaded.Token.AccessToken)
	assert.Equal(t, "refresh-456", loaded.Token.RefreshToken)
	assert.True(t, loaded.Token.Expiry.Equal(expiry))
	assert.Equal(t, original.Host, loaded.Host)
	assert.Equal(t, "Alice", loaded.Meta["display_name"])
}

func TestLoad_MissingTokenField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"bare"}`), 0o600))

	tf, err := Load(path)
	assert.Nil(t, tf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no token")
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestSave_CreatesDirectoryWithOwnerOnlyPerms(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permissions")
	}

	path := filepath.Join(t.TempDir(), "nested", "tokens", "a.token.json")

	require.NoError(t, Save(path, &File{Token: &oauth2.Token{AccessToken: "a"}}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DirPerms), dirInfo.Mode().Perm())
}

func TestSave_OverwritesAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.token.json")

	require.NoError(t, Save(path, &File{Token: &oauth2.Token{AccessToken: "first"}}))
	require.NoError(t, Save(path, &File{Token: &oauth2.Token{AccessToken: "second"}}))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "second", loaded.Token.AccessToken)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSave_NilToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.token.json")

	assert.Error(t, Save(path, nil))
	assert.Error(t, Save(path, &File{Host: "h"}))
	assert.NoFileExists(t, path)
}

func TestSave_UnwritableDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Getuid() == 0 {
		t.Skip("needs a non-root POSIX user")
	}

	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { os.Chmod(dir, 0o700) })

	err := Save(filepath.Join(dir, "a.token.json"), &File{Token: &oauth2.Token{AccessToken: "a"}})
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.token.json")
	require.NoError(t, Save(path, &File{Token: &oauth2.Token{AccessToken: "a"}}))

	require.NoError(t, Remove(path))
	assert.NoFileExists(t, path)

	assert.NoError(t, Remove(path), "removing a missing file is not an error")
}
