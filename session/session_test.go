package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lanshare/auth"
	"github.com/opd-ai/lanshare/sharing"
	"github.com/opd-ai/lanshare/wire"
)

// newDocsRegistry builds a registry with one "docs" sharing containing
// a.txt (12 bytes) and sub/b.txt (5 bytes).
func newDocsRegistry(t *testing.T, readOnly bool) (*sharing.Registry, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world!"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("bytes"), 0o644))

	reg := sharing.NewRegistry()
	sh, err := sharing.New("docs", root, readOnly)
	require.NoError(t, err)
	require.NoError(t, reg.Add(sh))
	return reg, root
}

func TestConnectLifecycle(t *testing.T) {
	reg, _ := newDocsRegistry(t, false)
	s := New("10.0.0.1:50000")

	assert.Equal(t, StateUnset, s.State())

	require.NoError(t, s.Connect(reg, auth.None{}, "docs", ""))
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, "", s.RemoteCwd())

	// Idempotent: a second connect succeeds without re-checking anything.
	require.NoError(t, s.Connect(reg, auth.NewPlain("never-presented"), "docs", ""))
	assert.Equal(t, StateConnected, s.State())

	s.Disconnect()
	assert.Equal(t, StateDisconnected, s.State())
	s.Disconnect() // idempotent, warns only
	assert.Equal(t, StateDisconnected, s.State())
}

func TestConnectUnknownSharing(t *testing.T) {
	reg, _ := newDocsRegistry(t, false)
	s := New("ep")

	err := s.Connect(reg, auth.None{}, "nope", "")
	assert.ErrorIs(t, err, sharing.ErrNotFound)
	assert.Equal(t, StateUnset, s.State())
}

func TestConnectBadCredential(t *testing.T) {
	reg, _ := newDocsRegistry(t, false)
	s := New("ep")

	err := s.Connect(reg, auth.NewPlain("right"), "docs", "wrong")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, StateUnset, s.State())

	require.NoError(t, s.Connect(reg, auth.NewPlain("right"), "docs", "right"))
	assert.Equal(t, StateConnected, s.State())
}

func TestOperationsRequireConnected(t *testing.T) {
	s := New("ep")

	assert.ErrorIs(t, s.Rcd("sub"), ErrNotConnected)
	assert.ErrorIs(t, s.Rmkdir("x"), ErrNotConnected)
	_, err := s.Rls()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestRlsRoot(t *testing.T) {
	reg, _ := newDocsRegistry(t, false)
	s := New("ep")
	require.NoError(t, s.Connect(reg, auth.None{}, "docs", ""))

	entries, err := s.Rls()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, wire.FileInfo{Name: "a.txt", Type: wire.FileTypeFile, Size: 12}, entries[0])
	assert.Equal(t, wire.FileInfo{Name: "sub", Type: wire.FileTypeDir, Size: 0}, entries[1])
}

func TestRcdNavigation(t *testing.T) {
	reg, _ := newDocsRegistry(t, false)
	s := New("ep")
	require.NoError(t, s.Connect(reg, auth.None{}, "docs", ""))

	require.NoError(t, s.Rcd("sub"))
	assert.Equal(t, "sub", s.RemoteCwd())

	entries, err := s.Rls()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.txt", entries[0].Name)

	// Escape attempt: cwd stays put.
	err = s.Rcd("../../etc")
	assert.ErrorIs(t, err, sharing.ErrPathEscape)
	assert.Equal(t, "sub", s.RemoteCwd())

	// Back to root.
	require.NoError(t, s.Rcd(".."))
	assert.Equal(t, "", s.RemoteCwd())

	// Absolute remote path.
	require.NoError(t, s.Rcd("/sub"))
	assert.Equal(t, "sub", s.RemoteCwd())
}

func TestRcdRejectsFiles(t *testing.T) {
	reg, _ := newDocsRegistry(t, false)
	s := New("ep")
	require.NoError(t, s.Connect(reg, auth.None{}, "docs", ""))

	err := s.Rcd("a.txt")
	assert.ErrorIs(t, err, ErrNotADirectory)
	assert.Equal(t, "", s.RemoteCwd())
}

func TestRmkdir(t *testing.T) {
	reg, root := newDocsRegistry(t, false)
	s := New("ep")
	require.NoError(t, s.Connect(reg, auth.None{}, "docs", ""))

	require.NoError(t, s.Rmkdir("new/nested"))
	info, err := os.Stat(filepath.Join(root, "new", "nested"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	err = s.Rmkdir("../outside")
	assert.ErrorIs(t, err, sharing.ErrPathEscape)
}

func TestRmkdirReadOnlySharing(t *testing.T) {
	reg, root := newDocsRegistry(t, true)
	s := New("ep")
	require.NoError(t, s.Connect(reg, auth.None{}, "docs", ""))

	err := s.Rmkdir("blocked")
	assert.ErrorIs(t, err, ErrReadOnlySharing)
	_, statErr := os.Stat(filepath.Join(root, "blocked"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestManager(t *testing.T) {
	m := NewManager()
	s := m.Open("1.2.3.4:9")

	got, ok := m.Get("1.2.3.4:9")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, m.Count())

	m.Close("1.2.3.4:9")
	_, ok = m.Get("1.2.3.4:9")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())
}
