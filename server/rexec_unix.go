//go:build unix

package server

import (
	"errors"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lanshare/wire"
)

// runCommand executes a shell command and captures its combined output.
// Only the request/response contract is provided; no PTY, no streaming.
func runCommand(command string) (*wire.RexecResult, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	output, err := cmd.CombinedOutput()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// The command never ran at all.
			return nil, err
		}
		exitCode = exitErr.ExitCode()
	}

	logrus.WithFields(logrus.Fields{
		"function":  "runCommand",
		"exit_code": exitCode,
	}).Debug("Remote command executed")
	return &wire.RexecResult{ExitCode: exitCode, Output: string(output)}, nil
}
