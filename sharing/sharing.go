// Package sharing manages the directories a server exposes and confines
// every remote path to its sharing's root.
//
// A sharing binds a unique, charset-restricted name to an absolute root
// directory plus a read-only flag. Sharings are created once at server
// startup and never mutated afterwards, so the registry needs no locking
// on the read path.
package sharing

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sirupsen/logrus"
)

// ErrInvalidName indicates a sharing name outside the allowed charset.
var ErrInvalidName = errors.New("invalid sharing name")

// ErrDuplicateName indicates a second sharing with an already-used name.
var ErrDuplicateName = errors.New("duplicate sharing name")

// ErrInvalidRoot indicates a sharing root that is not an existing directory.
var ErrInvalidRoot = errors.New("sharing root is not a directory")

// ErrNotFound indicates a lookup for an unregistered sharing name.
var ErrNotFound = errors.New("sharing not found")

// nameRe restricts sharing names to a safe charset. Names travel inside
// protocol envelopes and discovery payloads, never as filesystem paths.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Sharing is one exposed directory tree. Immutable after creation.
type Sharing struct {
	Name     string
	Root     string
	ReadOnly bool
}

// New validates and creates a sharing. Root must be an existing directory;
// it is cleaned to an absolute path.
func New(name, root string, readOnly bool) (*Sharing, error) {
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoot, root)
	}
	return &Sharing{Name: name, Root: abs, ReadOnly: readOnly}, nil
}

// Registry maps sharing names to sharings. Populated at startup, read-only
// for the rest of the process lifetime.
type Registry struct {
	byName map[string]*Sharing
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Sharing)}
}

// Add registers a sharing. Names must be unique.
func (r *Registry) Add(s *Sharing) error {
	if _, exists := r.byName[s.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, s.Name)
	}
	r.byName[s.Name] = s
	r.order = append(r.order, s.Name)

	logrus.WithFields(logrus.Fields{
		"function":  "Add",
		"sharing":   s.Name,
		"root":      s.Root,
		"read_only": s.ReadOnly,
	}).Info("Sharing registered")
	return nil
}

// Get looks up a sharing by name.
func (r *Registry) Get(name string) (*Sharing, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return s, nil
}

// All returns every sharing in registration order.
func (r *Registry) All() []*Sharing {
	out := make([]*Sharing, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
