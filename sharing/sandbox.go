package sharing

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrPathEscape indicates a resolved path outside the sharing root.
var ErrPathEscape = errors.New("path escapes sharing root")

// Resolve maps a client-supplied path to an absolute server-side path
// inside the sharing.
//
// A requested path beginning with the separator is taken relative to the
// sharing root (the client's "/" is the sharing root, never the server's);
// anything else is taken relative to cwd, which is itself relative to the
// root. The result is cleaned and must still be contained in the root
// under path-component comparison.
func (s *Sharing) Resolve(cwd, requested string) (string, error) {
	var abs string
	if strings.HasPrefix(requested, "/") {
		abs = filepath.Join(s.Root, requested)
	} else {
		abs = filepath.Join(s.Root, cwd, requested)
	}
	abs = filepath.Clean(abs)

	if !contains(s.Root, abs) {
		return "", ErrPathEscape
	}
	return abs, nil
}

// Rel converts a resolved absolute path back to its sharing-relative form.
// The path must already have passed Resolve.
func (s *Sharing) Rel(abs string) (string, error) {
	if !contains(s.Root, abs) {
		return "", ErrPathEscape
	}
	rel, err := filepath.Rel(s.Root, abs)
	if err != nil {
		return "", ErrPathEscape
	}
	return rel, nil
}

// contains reports whether path is root or lies under it, comparing whole
// path components so "/share-evil" never matches root "/share".
func contains(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
