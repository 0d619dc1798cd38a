// Package transfer orchestrates GET and PUT transactions: lazy enumeration
// of the files to move, a dedicated side-channel socket for the bulk
// bytes, overwrite policy, and cooperative abort.
//
// The control-channel goroutine drives a transaction one file per pull
// (get_next / put_next); the side-channel I/O runs on a goroutine owned by
// the transaction, fed through a blocking worklist queue. Bytes never
// appear on the side channel before the corresponding metadata has been
// handed to the control channel.
package transfer

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lanshare/sharing"
	"github.com/opd-ai/lanshare/wire"
)

// ChunkSize is the side-channel write/read buffer size. Tunable; not part
// of the wire contract, since files are streamed back-to-back with no
// in-band framing.
const ChunkSize = 64 * 1024

// acceptTimeout bounds how long a side-channel listener waits for the peer
// to connect before the transaction gives up.
const acceptTimeout = 30 * time.Second

// Direction tells a GET (server streams out) from a PUT (server receives).
type Direction uint8

const (
	DirectionGet Direction = iota
	DirectionPut
)

// String returns the direction name.
func (d Direction) String() string {
	if d == DirectionPut {
		return "put"
	}
	return "get"
}

// Policy governs what a PUT does when the destination file already exists.
type Policy uint8

const (
	// PolicyPrompt defers each collision to the peer.
	PolicyPrompt Policy = iota
	// PolicyAlways silently replaces existing files.
	PolicyAlways
	// PolicyNever skips colliding files, reporting them as skipped.
	PolicyNever
)

// ParsePolicy maps the wire representation to a Policy. Empty means prompt.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "prompt":
		return PolicyPrompt, nil
	case "always":
		return PolicyAlways, nil
	case "never":
		return PolicyNever, nil
	}
	return PolicyPrompt, errors.New("unknown overwrite policy: " + s)
}

// ErrCompleted indicates a pull on a transaction that already finished.
var ErrCompleted = errors.New("transaction already completed")

// ErrDecisionExpected indicates a put_next that neither resolves the
// pending overwrite prompt nor aborts.
var ErrDecisionExpected = errors.New("overwrite decision expected")

// ErrReadOnlySharing indicates a PUT against a read-only sharing.
var ErrReadOnlySharing = errors.New("sharing is read-only")

// walkEntry is one pending node of a GET's depth-first walk.
type walkEntry struct {
	abs string
	rel string
}

// summary aggregates per-file outcomes. Touched by both the control and
// the side-channel goroutine.
type summary struct {
	mu      sync.Mutex
	ok      int
	skipped int
	errors  int
}

func (s *summary) addOK() {
	s.mu.Lock()
	s.ok++
	s.mu.Unlock()
}

func (s *summary) addSkipped() {
	s.mu.Lock()
	s.skipped++
	s.mu.Unlock()
}

func (s *summary) addError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// okToError reclassifies one file that was counted at handoff but failed
// to stream.
func (s *summary) okToError() {
	s.mu.Lock()
	s.ok--
	s.errors++
	s.mu.Unlock()
}

func (s *summary) snapshot() *wire.TransferSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &wire.TransferSummary{OK: s.ok, Skipped: s.skipped, Errors: s.errors}
}

// Transaction is one GET or PUT spanning multiple files. Created by the
// Manager, driven by the owning connection's goroutine, serviced by its
// own side-channel goroutine until the worklist is exhausted or aborted.
type Transaction struct {
	id        string
	direction Direction
	owner     string
	sh        *sharing.Sharing
	cwd       string
	policy    Policy

	// pending is the GET walk frontier. Control-goroutine only.
	pending []walkEntry
	// ask is the PUT file awaiting an overwrite decision. Control-goroutine
	// only.
	ask *fileJob
	// completed marks the control side done. Control-goroutine only.
	completed bool

	jobs     *worklist
	listener net.Listener
	summary  summary
	// onBytes, when set, is called with every successfully moved file's
	// byte count. Side-channel goroutine only.
	onBytes func(n uint64)

	wg        sync.WaitGroup
	closeOnce sync.Once
	// conn is set by the side-channel goroutine once the peer connects;
	// guarded by connMu so abort can close it from another goroutine.
	conn   net.Conn
	connMu sync.Mutex
}

// ID returns the opaque transaction id.
func (t *Transaction) ID() string { return t.id }

// Direction returns the transfer direction.
func (t *Transaction) Direction() Direction { return t.direction }

// Owner returns the endpoint of the session that started the transaction.
func (t *Transaction) Owner() string { return t.owner }

// Port returns the side-channel port the peer must connect to.
func (t *Transaction) Port() int {
	return t.listener.Addr().(*net.TCPAddr).Port
}

// Summary returns the current per-file outcome totals.
func (t *Transaction) Summary() *wire.TransferSummary {
	return t.summary.snapshot()
}

// Abort cancels the transaction from either side: pending work is cleared,
// the side-channel goroutine is woken, and both sockets close.
func (t *Transaction) Abort() {
	logrus.WithFields(logrus.Fields{
		"function":    "Abort",
		"transaction": t.id,
		"direction":   t.direction.String(),
	}).Info("Transaction aborted")

	t.pendingClear()
	t.completed = true
	t.jobs.abort()
	t.closeChannels()
}

// pendingClear drops the GET walk frontier. Safe to call for PUT too.
func (t *Transaction) pendingClear() {
	t.pending = nil
}

// setConn records the accepted side-channel connection.
func (t *Transaction) setConn(c net.Conn) {
	t.connMu.Lock()
	t.conn = c
	t.connMu.Unlock()
}

// closeChannels shuts the listener and any accepted connection. Idempotent.
func (t *Transaction) closeChannels() {
	t.closeOnce.Do(func() {
		_ = t.listener.Close()
		t.connMu.Lock()
		if t.conn != nil {
			_ = t.conn.Close()
		}
		t.connMu.Unlock()
	})
}

// wait blocks until the side-channel goroutine has exited.
func (t *Transaction) wait() {
	t.wg.Wait()
}
