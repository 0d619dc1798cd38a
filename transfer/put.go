package transfer

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lanshare/wire"
)

// Announce handles one put_next: the peer names the next incoming file and
// its exact length. The returned outcome tells the peer what to do:
//
//   - accepted: write the bytes to the side channel now
//   - skipped:  do not write anything, the file stays as it is
//   - ask:      a collision under the prompt policy; repeat the announce
//     with a decision before any bytes flow
//
// The side channel is never read speculatively: a receive job is only
// queued once the outcome is accepted, so the byte stream can not
// desynchronize from file boundaries.
func (t *Transaction) Announce(name string, size uint64, decision string) (string, error) {
	if t.completed {
		return "", ErrCompleted
	}

	abs, err := t.sh.Resolve(t.cwd, name)
	if err != nil {
		return "", err
	}

	if t.ask != nil {
		return t.resolveAsk(abs, name, size, decision)
	}
	if decision != "" {
		// A decision with nothing pending is a confused peer.
		return "", ErrDecisionExpected
	}

	if _, statErr := os.Stat(abs); statErr == nil {
		switch t.policy {
		case PolicyNever:
			logrus.WithFields(logrus.Fields{
				"function":    "Announce",
				"transaction": t.id,
				"file":        name,
			}).Info("Destination exists, skipping")
			t.summary.addSkipped()
			return wire.OutcomeSkipped, nil
		case PolicyPrompt:
			t.ask = &fileJob{abs: abs, rel: name, size: size}
			return wire.OutcomeAsk, nil
		}
		// PolicyAlways falls through and replaces the file.
	}

	t.accept(fileJob{abs: abs, rel: name, size: size})
	return wire.OutcomeAccepted, nil
}

// resolveAsk applies the peer's decision for the collision left pending by
// the previous announce.
func (t *Transaction) resolveAsk(abs, name string, size uint64, decision string) (string, error) {
	pending := *t.ask
	if abs != pending.abs || size != pending.size {
		// The follow-up must name the same file; anything else is a
		// protocol violation.
		return "", ErrDecisionExpected
	}
	t.ask = nil

	switch decision {
	case wire.DecisionOverwrite:
		t.accept(pending)
		return wire.OutcomeAccepted, nil
	case wire.DecisionSkip:
		t.summary.addSkipped()
		return wire.OutcomeSkipped, nil
	}
	t.ask = &pending
	return "", ErrDecisionExpected
}

// accept queues a receive job for the side-channel goroutine.
func (t *Transaction) accept(job fileJob) {
	t.jobs.push(job)
	logrus.WithFields(logrus.Fields{
		"function":    "accept",
		"transaction": t.id,
		"file":        job.rel,
		"size":        job.size,
	}).Debug("Incoming file accepted")
}

// Finish ends a PUT transaction: no more files will be announced. It waits
// for the side-channel goroutine to drain the queued receives, then
// returns the transaction summary.
func (t *Transaction) Finish() *wire.TransferSummary {
	if !t.completed {
		t.completed = true
		t.jobs.finish()
		// Unblock the receiver if the peer never opened the side channel.
		_ = t.listener.Close()
		t.wait()
	}
	sum := t.summary.snapshot()

	logrus.WithFields(logrus.Fields{
		"function":    "Finish",
		"transaction": t.id,
		"ok":          sum.OK,
		"skipped":     sum.Skipped,
		"errors":      sum.Errors,
	}).Info("PUT transaction finished")
	return sum
}

// runReceiver is the PUT side-channel goroutine: it accepts exactly one
// peer connection, then for each queued job reads exactly the announced
// number of bytes into the destination path.
func (t *Transaction) runReceiver() {
	defer t.wg.Done()
	defer t.closeChannels()

	timer := time.AfterFunc(acceptTimeout, func() { _ = t.listener.Close() })
	conn, err := t.listener.Accept()
	timer.Stop()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "runReceiver",
			"transaction": t.id,
			"error":       err.Error(),
		}).Warn("Side channel never connected")
		t.jobs.abort()
		return
	}
	t.setConn(conn)
	// One side-channel connection per transaction.
	_ = t.listener.Close()

	for {
		job, ok := t.jobs.pop()
		if !ok {
			return
		}
		fatal, err := t.receiveFile(conn, job)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "runReceiver",
				"transaction": t.id,
				"file":        job.rel,
				"error":       err.Error(),
			}).Error("File receive failed")
			t.summary.addError()
			if fatal {
				// The byte stream is out of sync or dead; nothing more
				// can be read safely.
				t.jobs.abort()
				return
			}
			continue
		}
		t.summary.addOK()
		if t.onBytes != nil {
			t.onBytes(job.size)
		}
	}
}

// receiveFile reads exactly job.size bytes from the side channel into the
// destination path. A socket read failure is fatal to the transaction; a
// local write failure only loses this file, but the announced bytes are
// still drained to keep the stream aligned.
func (t *Transaction) receiveFile(conn io.Reader, job fileJob) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(job.abs), 0o755); err != nil {
		_, drainErr := io.CopyN(io.Discard, conn, int64(job.size))
		return drainErr != nil, err
	}
	f, err := os.Create(job.abs)
	if err != nil {
		_, drainErr := io.CopyN(io.Discard, conn, int64(job.size))
		return drainErr != nil, err
	}

	_, copyErr := io.CopyN(f, conn, int64(job.size))
	closeErr := f.Close()
	if copyErr != nil {
		return true, copyErr
	}
	if closeErr != nil {
		return false, closeErr
	}

	logrus.WithFields(logrus.Fields{
		"function":    "receiveFile",
		"transaction": t.id,
		"file":        job.rel,
		"bytes":       job.size,
	}).Debug("File received")
	return false, nil
}
