package privilege

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/clustertls/internal/testutil"
)

func envOf(vars map[string]string) LookupEnv {
	return func(key string) string { return vars[key] }
}

func TestIsRoot(t *testing.T) {
	assert.Equal(t, os.Geteuid() == 0, IsRoot())
}

func TestDetectInvoker(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantOK  bool
		wantErr bool
	}{
		{
			name: "not running under sudo",
			env:  map[string]string{},
		},
		{
			name:   "valid sudo environment",
			env:    map[string]string{"SUDO_USER": "alice", "SUDO_UID": "1000", "SUDO_GID": "1001"},
			wantOK: true,
		},
		{
			name:    "sudo user without UID",
			env:     map[string]string{"SUDO_USER": "alice", "SUDO_GID": "1000"},
			wantErr: true,
		},
		{
			name:    "sudo user without GID",
			env:     map[string]string{"SUDO_USER": "alice", "SUDO_UID": "1000"},
			wantErr: true,
		},
		{
			name:    "invalid UID format",
			env:     map[string]string{"SUDO_USER": "alice", "SUDO_UID": "x", "SUDO_GID": "1000"},
			wantErr: true,
		},
		{
			name:    "invalid GID format",
			env:     map[string]string{"SUDO_USER": "alice", "SUDO_UID": "1000", "SUDO_GID": "x"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, ok, err := DetectInvoker(envOf(tt.env))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, Owner{Username: "alice", UID: 1000, GID: 1001}, *owner)
			}
		})
	}
}

// recordChown replaces the chown hook and returns the paths it was asked
// to change, relative to root.
func recordChown(t *testing.T, root string) *[]string {
	seen := &[]string{}
	orig := chown
	t.Cleanup(func() { chown = orig })
	chown = func(path string, uid, gid int) error {
		assert.Equal(t, 1000, uid)
		assert.Equal(t, 1001, gid)
		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)
		*seen = append(*seen, filepath.ToSlash(rel))
		return nil
	}
	return seen
}

func TestChown(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "10.0.0.1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "10.0.0.1", "10.0.0.1.jks"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "generic-server-truststore.jks"), []byte("x"), 0o600))
	seen := recordChown(t, root)

	changed, err := Chown(Plan{
		Trees: []string{
			filepath.Join(root, "generic-server-truststore.jks"),
			filepath.Join(root, "generic-server-truststore.jks.lock"),
			filepath.Join(root, "10.0.0.1"),
		},
		Entries: []string{root},
	}, Owner{UID: 1000, GID: 1001})
	require.NoError(t, err)
	assert.Equal(t, 4, changed)
	assert.ElementsMatch(t, []string{".", "generic-server-truststore.jks", "10.0.0.1", "10.0.0.1/10.0.0.1.jks"}, *seen)
}

func TestChownLeavesUnlistedFilesAlone(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "passwd"), []byte("root:x:0:0"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "tool"), []byte("x"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "client"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "client", "client.key"), []byte("x"), 0o600))
	seen := recordChown(t, root)

	_, err := Chown(Plan{Trees: []string{filepath.Join(root, "client")}}, Owner{UID: 1000, GID: 1001})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"client", "client/client.key"}, *seen)
	assert.NotContains(t, *seen, ".")
	assert.NotContains(t, *seen, "passwd")
	assert.NotContains(t, *seen, "bin/tool")
}

func TestHandBackWithoutRoot(t *testing.T) {
	if IsRoot() {
		t.Skip("runs as root")
	}
	t.Setenv("SUDO_USER", "alice")
	assert.NoError(t, HandBack(Plan{Trees: []string{t.TempDir()}}, testutil.NewTestLogger(t)))
}
