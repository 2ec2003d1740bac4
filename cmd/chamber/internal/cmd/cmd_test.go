package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	RootCmd.SetIn(strings.NewReader(""))
	RootCmd.SetArgs(append([]string{"--data-dir", dir, "--env-file", filepath.Join(dir, ".env")}, args...))
	err := RootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

var publicIDPattern = regexp.MustCompile(`[0-9a-f]{64}`)

func TestClientOfflineWorkflow(t *testing.T) {
	t.Setenv("CHAMBER_DATA_DIR", "")
	t.Setenv("CHAMBER_STORE_BACKEND", "")
	dir := t.TempDir()
	peer := strings.Repeat("ab", 32)

	out, err := run(t, dir, "whoami")
	require.Error(t, err)

	out, err = run(t, dir, "init")
	require.NoError(t, err)
	self := publicIDPattern.FindString(out)
	require.NotEmpty(t, self)
	assert.Contains(t, out, "12. ")
	assert.FileExists(t, filepath.Join(dir, "chamber.toml"))

	out, err = run(t, dir, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = run(t, dir, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, self)

	_, err = run(t, dir, "contacts", "add", peer, "Bob")
	require.NoError(t, err)
	out, err = run(t, dir, "contacts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Bob")
	assert.Contains(t, out, peer)

	out, err = run(t, dir, "send", "--offline", peer, "hello", "there")
	require.NoError(t, err)
	assert.Contains(t, out, "queued")

	out, err = run(t, dir, "pending", peer)
	require.NoError(t, err)
	assert.Contains(t, out, "1 queued")

	out, err = run(t, dir, "history", peer)
	require.NoError(t, err)
	assert.Contains(t, out, "me")
	assert.Contains(t, out, "hello there")

	backup := filepath.Join(dir, "backup.bin")
	_, err = run(t, dir, "export", "--passphrase", "secret", "--out", backup)
	require.NoError(t, err)
	sealed, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), self)

	_, err = run(t, dir, "wipe")
	require.Error(t, err)
	_, err = run(t, dir, "wipe", "--yes")
	require.NoError(t, err)
	_, err = run(t, dir, "whoami")
	require.Error(t, err)

	out, err = run(t, dir, "import", "--yes", "--passphrase", "secret", backup)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 contacts, 1 messages")

	out, err = run(t, dir, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, self)
}

func TestKindForPath(t *testing.T) {
	assert.Equal(t, "image", string(kindForPath("cat.PNG")))
	assert.Equal(t, "audio", string(kindForPath("memo.ogg")))
	assert.Equal(t, "file", string(kindForPath("notes.txt")))
}
