package transfer

import (
	"fmt"
	"net"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lanshare/sharing"
)

// ListenFunc opens a side-channel listening socket on an ephemeral port.
// The default is a plain TCP listener; the server swaps in a TLS one when
// the control channel is TLS-wrapped.
type ListenFunc func() (net.Listener, error)

func defaultListen() (net.Listener, error) {
	return net.Listen("tcp", ":0")
}

// ErrUnknownTransaction indicates a transaction id that is not active or
// belongs to another session.
var ErrUnknownTransaction = fmt.Errorf("unknown transaction")

// Manager owns the active transactions, keyed by id. The map is shared
// across connection goroutines; each transaction's state is only driven by
// its owner.
type Manager struct {
	listen       ListenFunc
	transactions map[string]*Transaction
	mu           sync.RWMutex

	// OnBytesOut and OnBytesIn, when set before the first transaction, are
	// called with the byte count of every successfully moved file.
	// Instrumentation hooks; never required.
	OnBytesOut func(n uint64)
	OnBytesIn  func(n uint64)
}

// NewManager creates a transaction manager. listen may be nil for the
// default TCP listener.
func NewManager(listen ListenFunc) *Manager {
	if listen == nil {
		listen = defaultListen
	}
	return &Manager{
		listen:       listen,
		transactions: make(map[string]*Transaction),
	}
}

// NewGet starts a GET transaction for the given session view. Requested
// paths are resolved against the sharing sandbox; empty paths means the
// current remote directory. Entries that fail to resolve are skipped with
// a warning, mirroring the mid-walk rule.
func (m *Manager) NewGet(owner string, sh *sharing.Sharing, cwd string, paths []string) (*Transaction, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}

	t := &Transaction{
		id:        uuid.NewString(),
		direction: DirectionGet,
		owner:     owner,
		sh:        sh,
		cwd:       cwd,
		jobs:      newWorklist(),
		onBytes:   m.OnBytesOut,
	}

	for _, p := range paths {
		abs, err := sh.Resolve(cwd, p)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "NewGet",
				"transaction": t.id,
				"path":        p,
				"error":       err.Error(),
			}).Warn("Skipping unresolvable path")
			t.summary.addError()
			continue
		}
		t.pending = append(t.pending, walkEntry{abs: abs, rel: originName(p)})
	}

	if err := m.start(t); err != nil {
		return nil, err
	}
	t.wg.Add(1)
	go t.runSender()
	return t, nil
}

// NewPut starts a PUT transaction targeting the session's current remote
// directory.
func (m *Manager) NewPut(owner string, sh *sharing.Sharing, cwd string, policy Policy) (*Transaction, error) {
	if sh.ReadOnly {
		return nil, ErrReadOnlySharing
	}

	t := &Transaction{
		id:        uuid.NewString(),
		direction: DirectionPut,
		owner:     owner,
		sh:        sh,
		cwd:       cwd,
		policy:    policy,
		jobs:      newWorklist(),
		onBytes:   m.OnBytesIn,
	}

	if err := m.start(t); err != nil {
		return nil, err
	}
	t.wg.Add(1)
	go t.runReceiver()
	return t, nil
}

// start opens the side channel and registers the transaction.
func (m *Manager) start(t *Transaction) error {
	ln, err := m.listen()
	if err != nil {
		return fmt.Errorf("open side channel: %w", err)
	}
	t.listener = ln

	m.mu.Lock()
	m.transactions[t.id] = t
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "start",
		"transaction": t.id,
		"direction":   t.direction.String(),
		"owner":       t.owner,
		"port":        t.Port(),
	}).Info("Transaction started")
	return nil
}

// Lookup finds an active transaction, checking that the caller owns it.
func (m *Manager) Lookup(id, owner string) (*Transaction, error) {
	m.mu.RLock()
	t, ok := m.transactions[id]
	m.mu.RUnlock()
	if !ok || t.owner != owner {
		return nil, ErrUnknownTransaction
	}
	return t, nil
}

// Remove drops a transaction from the active set.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.transactions, id)
	m.mu.Unlock()
}

// AbortOwned aborts and removes every transaction of one endpoint,
// returning how many it killed. Called when its control connection dies.
func (m *Manager) AbortOwned(owner string) int {
	m.mu.Lock()
	var owned []*Transaction
	for id, t := range m.transactions {
		if t.owner == owner {
			owned = append(owned, t)
			delete(m.transactions, id)
		}
	}
	m.mu.Unlock()

	for _, t := range owned {
		t.Abort()
	}
	return len(owned)
}

// Count returns the number of active transactions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transactions)
}

// originName derives the peer-visible name of a walk origin: the base name
// of the requested path, or empty when the origin is the current directory
// itself (whose children then land directly in the peer's destination).
func originName(requested string) string {
	base := path.Base(requested)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
