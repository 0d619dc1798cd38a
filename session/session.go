// Package session tracks per-connection state on the server.
//
// A session is born unset, becomes connected after a successful connect
// (credential verified, sharing bound), and ends disconnected. Navigation
// and listing go through the sharing's path sandbox; the current remote
// directory is meaningless until connect succeeds.
//
// A session is only ever touched by the goroutine serving its connection,
// so it carries no lock of its own; only the manager's session map is
// shared.
package session

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lanshare/auth"
	"github.com/opd-ai/lanshare/sharing"
	"github.com/opd-ai/lanshare/wire"
)

// State is the session lifecycle state.
type State uint8

const (
	// StateUnset means no connect has succeeded yet.
	StateUnset State = iota
	// StateConnected means the session is authenticated and bound to a
	// sharing.
	StateConnected
	// StateDisconnected means the session ended. A later connect
	// re-authenticates from scratch.
	StateDisconnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnset:
		return "unset"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// ErrNotConnected indicates an operation that requires a connected session.
var ErrNotConnected = errors.New("session not connected")

// ErrAuthenticationFailed indicates a rejected credential.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrReadOnlySharing indicates a write on a read-only sharing.
var ErrReadOnlySharing = errors.New("sharing is read-only")

// ErrNotADirectory indicates an rcd target that exists but is not a
// directory, or does not exist at all.
var ErrNotADirectory = errors.New("not a directory")

// Session is the per-connection state machine.
type Session struct {
	endpoint string
	state    State
	sharing  *sharing.Sharing
	// remoteCwd is relative to the sharing root; "" is the root itself.
	remoteCwd string
}

// New creates an unset session for the given remote endpoint.
func New(endpoint string) *Session {
	logrus.WithFields(logrus.Fields{
		"function": "New",
		"endpoint": endpoint,
	}).Debug("Session created")
	return &Session{endpoint: endpoint, state: StateUnset}
}

// Endpoint returns the remote endpoint this session belongs to.
func (s *Session) Endpoint() string { return s.endpoint }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Sharing returns the bound sharing, or nil before connect.
func (s *Session) Sharing() *sharing.Sharing { return s.sharing }

// RemoteCwd returns the current remote directory relative to the sharing
// root ("" means the root). Undefined before connect.
func (s *Session) RemoteCwd() string { return s.remoteCwd }

// Connect authenticates and binds the session to a sharing. Idempotent
// when already connected: it succeeds without re-checking the credential.
// On auth failure the session stays unset.
func (s *Session) Connect(reg *sharing.Registry, a auth.Authenticator, sharingName, credential string) error {
	if s.state == StateConnected {
		logrus.WithFields(logrus.Fields{
			"function": "Connect",
			"endpoint": s.endpoint,
			"sharing":  s.sharing.Name,
		}).Debug("Connect on already-connected session, ignoring")
		return nil
	}

	sh, err := reg.Get(sharingName)
	if err != nil {
		return err
	}
	if !a.Authenticate(credential) {
		logrus.WithFields(logrus.Fields{
			"function": "Connect",
			"endpoint": s.endpoint,
			"sharing":  sharingName,
		}).Warn("Authentication failed")
		return ErrAuthenticationFailed
	}

	s.sharing = sh
	s.remoteCwd = ""
	s.state = StateConnected

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"endpoint": s.endpoint,
		"sharing":  sh.Name,
	}).Info("Session connected")
	return nil
}

// Disconnect moves the session to its terminal state. Idempotent: a second
// disconnect only warns.
func (s *Session) Disconnect() {
	if s.state == StateDisconnected {
		logrus.WithFields(logrus.Fields{
			"function": "Disconnect",
			"endpoint": s.endpoint,
		}).Warn("Session already disconnected")
		return
	}
	s.state = StateDisconnected
	logrus.WithFields(logrus.Fields{
		"function": "Disconnect",
		"endpoint": s.endpoint,
	}).Info("Session disconnected")
}

// requireConnected gates operations that need an established session.
func (s *Session) requireConnected() error {
	if s.state != StateConnected {
		return ErrNotConnected
	}
	return nil
}

// Rcd changes the remote working directory. The cwd only moves when the
// target resolves inside the sharing and is an existing directory.
func (s *Session) Rcd(path string) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	abs, err := s.sharing.Resolve(s.remoteCwd, path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %q", ErrNotADirectory, path)
	}
	rel, err := s.sharing.Rel(abs)
	if err != nil {
		return err
	}
	if rel == "." {
		rel = ""
	}
	s.remoteCwd = rel

	logrus.WithFields(logrus.Fields{
		"function":   "Rcd",
		"endpoint":   s.endpoint,
		"remote_cwd": s.remoteCwd,
	}).Debug("Remote cwd changed")
	return nil
}

// Rls lists the current remote directory, sorted by name.
func (s *Session) Rls() ([]wire.FileInfo, error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	abs, err := s.sharing.Resolve(s.remoteCwd, ".")
	if err != nil {
		return nil, err
	}
	return ListDir(abs)
}

// Rmkdir creates a directory (parents included) inside the sharing.
func (s *Session) Rmkdir(path string) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if s.sharing.ReadOnly {
		return ErrReadOnlySharing
	}
	abs, err := s.sharing.Resolve(s.remoteCwd, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Rmkdir",
		"endpoint": s.endpoint,
		"path":     path,
	}).Debug("Remote directory created")
	return nil
}

// ListDir produces FileInfo entries for one directory, sorted by name.
// Entries that cannot be stat'd are skipped.
func ListDir(abs string) ([]wire.FileInfo, error) {
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	out := make([]wire.FileInfo, 0, len(entries))
	for _, e := range entries {
		fi := wire.FileInfo{Name: e.Name()}
		if e.IsDir() {
			fi.Type = wire.FileTypeDir
		} else {
			fi.Type = wire.FileTypeFile
			info, err := e.Info()
			if err != nil {
				continue
			}
			fi.Size = uint64(info.Size())
		}
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
