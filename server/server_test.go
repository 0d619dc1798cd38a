package server

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lanshare/client"
	"github.com/opd-ai/lanshare/config"
	"github.com/opd-ai/lanshare/wire"
)

// newDocsRoot builds the fixture tree used throughout:
//
//	a.txt      12 bytes
//	sub/b.txt   5 bytes
func newDocsRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world!"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("bytes"), 0o644))
	return root
}

// startServer boots a server on an ephemeral port and tears it down with
// the test. mutate tweaks the configuration before New.
func startServer(t *testing.T, mutate func(cfg *config.Config)) *Server {
	t.Helper()
	cfg := &config.Config{
		Name:    "testsrv",
		Address: "127.0.0.1",
		Port:    0,
		Sharings: []config.SharingConfig{
			{Name: "docs", Path: newDocsRoot(t)},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func dialClient(t *testing.T, srv *Server) *client.Client {
	t.Helper()
	c, err := client.Dial(fmt.Sprintf("127.0.0.1:%d", srv.Port()), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPingAndInfo(t *testing.T) {
	srv := startServer(t, nil)
	c := dialClient(t, srv)

	require.NoError(t, c.Ping())

	info, err := c.Info()
	require.NoError(t, err)
	assert.Equal(t, "testsrv", info.Name)
	assert.Equal(t, "127.0.0.1", info.IP)
	assert.False(t, info.AuthRequired)
	assert.False(t, info.SSLEnabled)
	require.Len(t, info.Sharings, 1)
	assert.Equal(t, "docs", info.Sharings[0].Name)

	sharings, err := c.List()
	require.NoError(t, err)
	require.Len(t, sharings, 1)
	assert.Equal(t, wire.FileTypeDir, sharings[0].Type)
}

func TestConnectGating(t *testing.T) {
	srv := startServer(t, nil)
	c := dialClient(t, srv)

	_, err := c.Rls()
	assert.True(t, client.IsCode(err, wire.ErrNotConnected))

	err = c.Connect("nope", "")
	assert.True(t, client.IsCode(err, wire.ErrSharingNotFound))

	require.NoError(t, c.Connect("docs", ""))

	entries, err := c.Rls()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, uint64(12), entries[0].Size)
	assert.Equal(t, "sub", entries[1].Name)
	assert.Equal(t, wire.FileTypeDir, entries[1].Type)

	// Disconnect drops back to the gated state but keeps the stream alive.
	require.NoError(t, c.Disconnect())
	_, err = c.Rls()
	assert.True(t, client.IsCode(err, wire.ErrNotConnected))
	require.NoError(t, c.Ping())
}

func TestConnectAuthentication(t *testing.T) {
	srv := startServer(t, func(cfg *config.Config) {
		cfg.Secret = "letmein"
	})
	c := dialClient(t, srv)

	info, err := c.Info()
	require.NoError(t, err)
	assert.True(t, info.AuthRequired)

	err = c.Connect("docs", "wrong")
	assert.True(t, client.IsCode(err, wire.ErrAuthenticationFailed))

	require.NoError(t, c.Connect("docs", "letmein"))
}

func TestUnknownAPIAndBrokenFrames(t *testing.T) {
	srv := startServer(t, nil)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	defer conn.Close()

	// Unknown api names are answered, not dropped, and they count.
	require.NoError(t, wire.WriteRequest(conn, &wire.Request{API: "frobnicate"}))
	resp, err := wire.ReadResponse(conn)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, wire.ErrUnknownAPI, resp.Error)
	counter := srv.metrics.RequestsTotal.WithLabelValues("frobnicate", "UNKNOWN_API")
	assert.Equal(t, 1.0, testutil.ToFloat64(counter))

	// A malformed envelope gets an in-band error and the stream survives.
	require.NoError(t, wire.WriteFrame(conn, []byte(`"not an object"`)))
	resp, err = wire.ReadResponse(conn)
	require.NoError(t, err)
	assert.Equal(t, wire.ErrInvalidRequest, resp.Error)

	require.NoError(t, wire.WriteRequest(conn, &wire.Request{API: wire.APIPing}))
	resp, err = wire.ReadResponse(conn)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	srv := startServer(t, nil)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	defer conn.Close()

	// A header declaring more than the frame limit. The body it promises
	// cannot be trusted, so the server must not keep reading the stream.
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 5*1024*1024)
	_, err = conn.Write(hdr[:])
	require.NoError(t, err)

	resp, err := wire.ReadResponse(conn)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, wire.ErrInvalidRequest, resp.Error)

	// The connection is dead: a follow-up request gets no answer instead
	// of a misparsed one.
	_ = wire.WriteRequest(conn, &wire.Request{API: wire.APIPing})
	_, err = wire.ReadResponse(conn)
	assert.Error(t, err)
}

func TestConnectionDeathSettlesTransactionGauge(t *testing.T) {
	srv := startServer(t, nil)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteRequest(conn, &wire.Request{API: wire.APIConnect, Params: map[string]any{"sharing": "docs"}}))
	resp, err := wire.ReadResponse(conn)
	require.NoError(t, err)
	require.True(t, resp.Success)

	require.NoError(t, wire.WriteRequest(conn, &wire.Request{API: wire.APIGet}))
	resp, err = wire.ReadResponse(conn)
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.ActiveTransactions))

	// Dropping the control connection aborts the owned transaction and
	// the gauge follows.
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(srv.metrics.ActiveTransactions) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRcdNavigation(t *testing.T) {
	srv := startServer(t, nil)
	c := dialClient(t, srv)
	require.NoError(t, c.Connect("docs", ""))

	cwd, err := c.Rcd("sub")
	require.NoError(t, err)
	assert.Equal(t, "sub", cwd)

	entries, err := c.Rls()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.txt", entries[0].Name)

	_, err = c.Rcd("../../etc")
	assert.True(t, client.IsCode(err, wire.ErrInvalidPath))

	// The failed rcd must not have moved the cwd.
	entries, err = c.Rls()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestGetEndToEnd(t *testing.T) {
	srv := startServer(t, nil)
	c := dialClient(t, srv)
	require.NoError(t, c.Connect("docs", ""))

	dest := t.TempDir()
	summary, err := c.Get(nil, dest)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.OK)
	assert.Equal(t, 0, summary.Errors)

	data, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world!", string(data))

	data, err = os.ReadFile(filepath.Join(dest, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(data))
}

func TestGetSinglePathFromSubdir(t *testing.T) {
	srv := startServer(t, nil)
	c := dialClient(t, srv)
	require.NoError(t, c.Connect("docs", ""))

	_, err := c.Rcd("sub")
	require.NoError(t, err)

	dest := t.TempDir()
	summary, err := c.Get([]string{"b.txt"}, dest)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OK)

	data, err := os.ReadFile(filepath.Join(dest, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(data))
}

func TestPutEndToEnd(t *testing.T) {
	srv := startServer(t, nil)
	c := dialClient(t, srv)
	require.NoError(t, c.Connect("docs", ""))

	local := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(local, "up.txt"), []byte("uploaded"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(local, "nested", "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "nested", "deep", "d.txt"), []byte("dd"), 0o644))

	summary, err := c.Put([]string{
		filepath.Join(local, "up.txt"),
		filepath.Join(local, "nested"),
	}, "", nil)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.OK)

	root := srv.registry.All()[0].Root
	data, err := os.ReadFile(filepath.Join(root, "up.txt"))
	require.NoError(t, err)
	assert.Equal(t, "uploaded", string(data))

	data, err = os.ReadFile(filepath.Join(root, "nested", "deep", "d.txt"))
	require.NoError(t, err)
	assert.Equal(t, "dd", string(data))
}

func TestPutOverwritePolicies(t *testing.T) {
	srv := startServer(t, nil)
	c := dialClient(t, srv)
	require.NoError(t, c.Connect("docs", ""))

	local := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(local, "a.txt"), []byte("replaced"), 0o644))

	// never: the existing a.txt stays untouched.
	summary, err := c.Put([]string{filepath.Join(local, "a.txt")}, "never", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)

	root := srv.registry.All()[0].Root
	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world!", string(data))

	// prompt, answered with overwrite.
	summary, err = c.Put([]string{filepath.Join(local, "a.txt")}, "prompt", func(name string) string {
		assert.Equal(t, "a.txt", name)
		return wire.DecisionOverwrite
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OK)

	data, err = os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))
}

func TestPutReadOnlySharing(t *testing.T) {
	srv := startServer(t, func(cfg *config.Config) {
		cfg.Sharings[0].ReadOnly = true
	})
	c := dialClient(t, srv)
	require.NoError(t, c.Connect("docs", ""))

	local := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(local, "x.txt"), []byte("x"), 0o644))

	_, err := c.Put([]string{filepath.Join(local, "x.txt")}, "", nil)
	assert.True(t, client.IsCode(err, wire.ErrCommandExecutionFailed))

	err = c.Rmkdir("newdir")
	assert.True(t, client.IsCode(err, wire.ErrCommandExecutionFailed))
}

func TestRmkdirThenUpload(t *testing.T) {
	srv := startServer(t, nil)
	c := dialClient(t, srv)
	require.NoError(t, c.Connect("docs", ""))

	require.NoError(t, c.Rmkdir("incoming"))
	cwd, err := c.Rcd("incoming")
	require.NoError(t, err)
	assert.Equal(t, "incoming", cwd)

	local := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(local, "in.txt"), []byte("in"), 0o644))
	summary, err := c.Put([]string{filepath.Join(local, "in.txt")}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OK)

	root := srv.registry.All()[0].Root
	_, err = os.Stat(filepath.Join(root, "incoming", "in.txt"))
	require.NoError(t, err)
}

func TestTransactionOwnership(t *testing.T) {
	srv := startServer(t, nil)
	c1 := dialClient(t, srv)
	require.NoError(t, c1.Connect("docs", ""))

	// Start a transfer on c1 by hand so its transaction id is visible.
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, wire.WriteRequest(conn, &wire.Request{API: wire.APIConnect, Params: map[string]any{"sharing": "docs"}}))
	_, err = wire.ReadResponse(conn)
	require.NoError(t, err)
	require.NoError(t, wire.WriteRequest(conn, &wire.Request{API: wire.APIGet}))
	resp, err := wire.ReadResponse(conn)
	require.NoError(t, err)
	require.True(t, resp.Success)
	var start wire.TransferStart
	require.NoError(t, resp.DecodeData(&start))

	// Another endpoint must not be able to drive it.
	other := dialClient(t, srv)
	require.NoError(t, other.Connect("docs", ""))
	otherConn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	defer otherConn.Close()
	require.NoError(t, wire.WriteRequest(otherConn, &wire.Request{API: wire.APIConnect, Params: map[string]any{"sharing": "docs"}}))
	_, err = wire.ReadResponse(otherConn)
	require.NoError(t, err)
	require.NoError(t, wire.WriteRequest(otherConn, &wire.Request{
		API:    wire.APIGetNext,
		Params: map[string]any{"transaction": start.Transaction},
	}))
	resp, err = wire.ReadResponse(otherConn)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, wire.ErrInvalidTransaction, resp.Error)

	// The owner can still abort it.
	require.NoError(t, wire.WriteRequest(conn, &wire.Request{
		API:    wire.APIGetNext,
		Params: map[string]any{"transaction": start.Transaction, "abort": true},
	}))
	resp, err = wire.ReadResponse(conn)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestRexec(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("rexec is unix-only")
	}

	srv := startServer(t, nil)
	c := dialClient(t, srv)
	require.NoError(t, c.Connect("docs", ""))

	_, err := c.Rexec("echo hi")
	assert.True(t, client.IsCode(err, wire.ErrRexecDisabled))

	srvEnabled := startServer(t, func(cfg *config.Config) {
		cfg.RexecEnabled = true
	})
	c2 := dialClient(t, srvEnabled)
	require.NoError(t, c2.Connect("docs", ""))

	result, err := c2.Rexec("echo hi")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hi", strings.TrimSpace(result.Output))

	result, err = c2.Rexec("exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

// TestSessionRoundTrip walks the whole happy path: connect, browse,
// download, upload, disconnect, reconnect.
func TestSessionRoundTrip(t *testing.T) {
	srv := startServer(t, nil)
	c := dialClient(t, srv)

	require.NoError(t, c.Connect("docs", ""))
	// Connect is idempotent.
	require.NoError(t, c.Connect("docs", ""))

	cwd, err := c.Rcd("sub")
	require.NoError(t, err)
	assert.Equal(t, "sub", cwd)

	dest := t.TempDir()
	summary, err := c.Get([]string{"b.txt"}, dest)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OK)

	cwd, err = c.Rcd("..")
	require.NoError(t, err)
	assert.Equal(t, "", cwd)

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())

	require.NoError(t, c.Connect("docs", ""))
	entries, err := c.Rls()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
