//go:build !unix

package server

import (
	"errors"

	"github.com/opd-ai/lanshare/wire"
)

// runCommand is unreachable here: the dispatcher's platform gate answers
// SUPPORTED_ONLY_FOR_UNIX before the handler runs. It exists so the
// package compiles everywhere.
func runCommand(string) (*wire.RexecResult, error) {
	return nil, errors.New("rexec is unix-only")
}
