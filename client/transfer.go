package client

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lanshare/wire"
)

// ErrChecksumMismatch reports a downloaded file whose trailer checksum did
// not match the received bytes.
var ErrChecksumMismatch = fmt.Errorf("checksum mismatch")

// DecideFunc resolves an overwrite collision during an upload. It receives
// the remote-relative name and returns wire.DecisionOverwrite or
// wire.DecisionSkip.
type DecideFunc func(name string) string

// Get downloads the given remote paths into destDir. An empty paths slice
// downloads the whole current remote directory. Directory entries arrive as
// metadata only and are recreated locally; file bytes stream over the side
// channel with a per-file checksum trailer.
func (c *Client) Get(paths []string, destDir string) (*wire.TransferSummary, error) {
	params := map[string]any{}
	if len(paths) > 0 {
		params["paths"] = paths
	}
	resp, err := c.call(wire.APIGet, params)
	if err != nil {
		return nil, err
	}
	var start wire.TransferStart
	if err := resp.DecodeData(&start); err != nil {
		return nil, err
	}

	side, err := c.dialSide(start.Port)
	if err != nil {
		c.abortTransfer(wire.APIGetNext, start.Transaction)
		return nil, fmt.Errorf("dial side channel: %w", err)
	}
	defer side.Close()

	for {
		resp, err := c.call(wire.APIGetNext, map[string]any{"transaction": start.Transaction})
		if err != nil {
			return nil, err
		}
		var info wire.NextInfo
		if err := resp.DecodeData(&info); err != nil {
			return nil, err
		}
		if info.Finished {
			return info.Summary, nil
		}

		if err := c.receiveEntry(side, destDir, &info); err != nil {
			c.abortTransfer(wire.APIGetNext, start.Transaction)
			return nil, err
		}
	}
}

// receiveEntry materializes one pulled entry under destDir.
func (c *Client) receiveEntry(side net.Conn, destDir string, info *wire.NextInfo) error {
	local := filepath.Join(destDir, filepath.FromSlash(info.Name))

	if info.Type == wire.FileTypeDir {
		return os.MkdirAll(local, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}

	f, err := os.Create(local)
	if err != nil {
		return err
	}
	defer f.Close()

	sum := crc32.NewIEEE()
	if _, err := io.CopyN(io.MultiWriter(f, sum), side, int64(info.Size)); err != nil {
		return fmt.Errorf("receive %s: %w", info.Name, err)
	}

	var trailer [4]byte
	if _, err := io.ReadFull(side, trailer[:]); err != nil {
		return fmt.Errorf("receive %s checksum: %w", info.Name, err)
	}
	if binary.BigEndian.Uint32(trailer[:]) != sum.Sum32() {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, info.Name)
	}

	logrus.WithFields(logrus.Fields{
		"function": "receiveEntry",
		"name":     info.Name,
		"size":     info.Size,
	}).Debug("File downloaded")
	return nil
}

// Put uploads the given local files and directories into the current remote
// directory. Directories are walked recursively; every file is announced
// over the control channel and streamed over the side channel only after
// the server accepts it. decide resolves overwrite prompts; nil skips.
func (c *Client) Put(localPaths []string, policy string, decide DecideFunc) (*wire.TransferSummary, error) {
	uploads, err := collectUploads(localPaths)
	if err != nil {
		return nil, err
	}

	params := map[string]any{}
	if policy != "" {
		params["overwrite"] = policy
	}
	resp, err := c.call(wire.APIPut, params)
	if err != nil {
		return nil, err
	}
	var start wire.TransferStart
	if err := resp.DecodeData(&start); err != nil {
		return nil, err
	}

	side, err := c.dialSide(start.Port)
	if err != nil {
		c.abortTransfer(wire.APIPutNext, start.Transaction)
		return nil, fmt.Errorf("dial side channel: %w", err)
	}
	defer side.Close()

	for _, up := range uploads {
		if err := c.sendOne(side, start.Transaction, up, decide); err != nil {
			c.abortTransfer(wire.APIPutNext, start.Transaction)
			return nil, err
		}
	}

	resp, err = c.call(wire.APIPutNext, map[string]any{"transaction": start.Transaction})
	if err != nil {
		return nil, err
	}
	var info wire.NextInfo
	if err := resp.DecodeData(&info); err != nil {
		return nil, err
	}
	return info.Summary, nil
}

// upload is one local file staged for sending.
type upload struct {
	local string
	name  string
	size  uint64
}

// collectUploads expands the requested paths into the flat file list to
// announce. Directories contribute their files under slash-joined relative
// names rooted at the directory's basename.
func collectUploads(localPaths []string) ([]upload, error) {
	var uploads []upload
	for _, p := range localPaths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			uploads = append(uploads, upload{local: p, name: filepath.Base(p), size: uint64(fi.Size())})
			continue
		}

		base := filepath.Base(filepath.Clean(p))
		err = filepath.WalkDir(p, func(fp string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(p, fp)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			uploads = append(uploads, upload{
				local: fp,
				name:  path.Join(base, filepath.ToSlash(rel)),
				size:  uint64(info.Size()),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return uploads, nil
}

// sendOne announces a single file and streams it when accepted. A pending
// overwrite prompt is resolved through decide and re-announced.
func (c *Client) sendOne(side net.Conn, transaction string, up upload, decide DecideFunc) error {
	announce := map[string]any{
		"transaction": transaction,
		"name":        up.name,
		"size":        up.size,
	}
	outcome, err := c.announce(announce)
	if err != nil {
		return err
	}

	if outcome == wire.OutcomeAsk {
		decision := wire.DecisionSkip
		if decide != nil {
			decision = decide(up.name)
		}
		announce["decision"] = decision
		if outcome, err = c.announce(announce); err != nil {
			return err
		}
	}
	if outcome != wire.OutcomeAccepted {
		logrus.WithFields(logrus.Fields{
			"function": "sendOne",
			"name":     up.name,
			"outcome":  outcome,
		}).Debug("File not sent")
		return nil
	}

	f, err := os.Open(up.local)
	if err != nil {
		// The server expects exactly the announced bytes now; there is no
		// way to retract the announcement, so the stream is dead.
		return err
	}
	defer f.Close()

	if _, err := io.CopyN(side, f, int64(up.size)); err != nil {
		return fmt.Errorf("send %s: %w", up.name, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "sendOne",
		"name":     up.name,
		"size":     up.size,
	}).Debug("File uploaded")
	return nil
}

// announce performs one put_next call and returns the per-file outcome.
func (c *Client) announce(params map[string]any) (string, error) {
	resp, err := c.call(wire.APIPutNext, params)
	if err != nil {
		return "", err
	}
	var result wire.PutResult
	if err := resp.DecodeData(&result); err != nil {
		return "", err
	}
	return result.Outcome, nil
}

// abortTransfer is the best-effort cancellation after a local failure.
func (c *Client) abortTransfer(api, transaction string) {
	if _, err := c.call(api, map[string]any{"transaction": transaction, "abort": true}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "abortTransfer",
			"transaction": transaction,
			"error":       err,
		}).Warn("Abort request failed")
	}
}
