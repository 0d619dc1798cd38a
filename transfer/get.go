package transfer

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lanshare/session"
	"github.com/opd-ai/lanshare/wire"
)

// Next performs one pull of a GET transaction's depth-first walk.
//
// One pull yields exactly one metadata event: a directory (reported so the
// peer can recreate it; its children are pushed in front, parent before
// contents) or a file (its bytes are handed to the side-channel goroutine).
// Entries that vanished or cannot be read are skipped with a warning and
// the walk moves on within the same pull. An exhausted worklist yields the
// terminal finished event with the transaction summary.
func (t *Transaction) Next() (*wire.NextInfo, error) {
	if t.completed {
		return nil, ErrCompleted
	}

	for len(t.pending) > 0 {
		entry := t.pending[0]
		t.pending = t.pending[1:]

		info, err := os.Stat(entry.abs)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "Next",
				"transaction": t.id,
				"path":        entry.abs,
				"error":       err.Error(),
			}).Warn("Skipping unreadable entry")
			t.summary.addError()
			continue
		}

		if info.IsDir() {
			t.expandDir(entry)
			if entry.rel == "" {
				// The walk origin itself: nothing to report, the peer is
				// already sitting in its destination directory.
				continue
			}
			return &wire.NextInfo{Name: entry.rel, Type: wire.FileTypeDir}, nil
		}

		size := uint64(info.Size())
		t.jobs.push(fileJob{abs: entry.abs, rel: entry.rel, size: size})
		// Counted at handoff, so the terminal summary is complete even
		// while the peer is still draining the side channel. The sender
		// reclassifies any file that then fails to stream.
		t.summary.addOK()
		return &wire.NextInfo{Name: entry.rel, Type: wire.FileTypeFile, Size: size}, nil
	}

	t.completed = true
	t.jobs.finish()

	logrus.WithFields(logrus.Fields{
		"function":    "Next",
		"transaction": t.id,
	}).Info("GET worklist exhausted")
	return &wire.NextInfo{Finished: true, Summary: t.summary.snapshot()}, nil
}

// expandDir pushes a directory's immediate children onto the front of the
// walk frontier, sorted by name, keeping depth-first order.
func (t *Transaction) expandDir(entry walkEntry) {
	infos, err := session.ListDir(entry.abs)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "expandDir",
			"transaction": t.id,
			"path":        entry.abs,
			"error":       err.Error(),
		}).Warn("Skipping unlistable directory")
		t.summary.addError()
		return
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	children := make([]walkEntry, 0, len(infos))
	for _, fi := range infos {
		rel := fi.Name
		if entry.rel != "" {
			rel = path.Join(entry.rel, fi.Name)
		}
		children = append(children, walkEntry{
			abs: filepath.Join(entry.abs, fi.Name),
			rel: rel,
		})
	}
	t.pending = append(children, t.pending...)
}

// runSender is the GET side-channel goroutine: it accepts the single peer
// connection, then streams each queued file back-to-back in ChunkSize
// writes, each file followed by its 4-byte big-endian CRC32 trailer.
func (t *Transaction) runSender() {
	defer t.wg.Done()
	defer t.closeChannels()

	timer := time.AfterFunc(acceptTimeout, func() { _ = t.listener.Close() })
	conn, err := t.listener.Accept()
	timer.Stop()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "runSender",
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
		fatal, err := t.streamFile(conn, job)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "runSender",
				"transaction": t.id,
				"file":        job.rel,
				"error":       err.Error(),
			}).Error("File stream failed")
			t.summary.okToError()
			// A dead socket ends the transaction; a local read error
			// only loses this file.
			if fatal {
				t.jobs.abort()
				return
			}
			continue
		}
		if t.onBytes != nil {
			t.onBytes(job.size)
		}
	}
}

// streamFile writes one file's bytes plus CRC32 trailer to the side
// channel. The first return reports whether the error was a socket write,
// which kills the whole transaction rather than just this file.
func (t *Transaction) streamFile(conn io.Writer, job fileJob) (bool, error) {
	f, err := os.Open(job.abs)
	if err != nil {
		return false, err
	}
	defer f.Close()

	crc := crc32.NewIEEE()
	buf := make([]byte, ChunkSize)
	var sent uint64
	for sent < job.size {
		want := uint64(len(buf))
		if rest := job.size - sent; rest < want {
			want = rest
		}
		n, err := io.ReadFull(f, buf[:want])
		if err != nil {
			return false, err
		}
		crc.Write(buf[:n])
		if _, err := conn.Write(buf[:n]); err != nil {
			return true, err
		}
		sent += uint64(n)
	}

	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], crc.Sum32())
	if _, err := conn.Write(trailer[:]); err != nil {
		return true, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "streamFile",
		"transaction": t.id,
		"file":        job.rel,
		"bytes":       sent,
	}).Debug("File streamed")
	return false, nil
}
