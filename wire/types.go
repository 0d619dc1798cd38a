package wire

// FileType distinguishes files from directories in listings and transfer
// metadata.
type FileType string

const (
	FileTypeFile FileType = "file"
	FileTypeDir  FileType = "dir"
)

// FileInfo describes one directory entry. Size is zero for directories.
type FileInfo struct {
	Name string   `json:"name"`
	Type FileType `json:"type"`
	Size uint64   `json:"size"`
}

// SharingInfo is the discovery/list view of a sharing.
type SharingInfo struct {
	Name     string   `json:"name"`
	Type     FileType `json:"type"`
	ReadOnly bool     `json:"read_only"`
}

// ServerInfo is the payload a server advertises in discovery responses and
// returns from the info api. It is regenerated per request, never stored.
type ServerInfo struct {
	Name         string        `json:"name"`
	IP           string        `json:"ip"`
	Port         int           `json:"port"`
	AuthRequired bool          `json:"auth_required"`
	SSLEnabled   bool          `json:"ssl_enabled"`
	Sharings     []SharingInfo `json:"sharings"`
}

// ConnectParams carries the connect api parameters.
type ConnectParams struct {
	Sharing  string `json:"sharing"`
	Password string `json:"password,omitempty"`
}

// PathParams carries a single remote path (rcd, rmkdir).
type PathParams struct {
	Path string `json:"path"`
}

// GetParams carries the get api parameters. Empty Paths means the current
// remote directory.
type GetParams struct {
	Paths []string `json:"paths,omitempty"`
}

// PutParams carries the put api parameters. Overwrite selects the policy
// for destination collisions; empty means prompt.
type PutParams struct {
	Overwrite string `json:"overwrite,omitempty"`
}

// TransferStart is the response payload of get/put: the transaction id and
// the side-channel port the peer must connect to.
type TransferStart struct {
	Transaction string `json:"transaction"`
	Port        int    `json:"port"`
}

// NextParams drives one get_next pull or announces one put_next file.
// Abort cancels the transaction. For put_next, Decision resolves a pending
// overwrite prompt ("overwrite" or "skip").
type NextParams struct {
	Transaction string `json:"transaction"`
	Abort       bool   `json:"abort,omitempty"`
	Name        string `json:"name,omitempty"`
	Size        uint64 `json:"size,omitempty"`
	Decision    string `json:"decision,omitempty"`
}

// Overwrite decisions for put_next.
const (
	DecisionOverwrite = "overwrite"
	DecisionSkip      = "skip"
)

// NextInfo is the response payload of one get_next pull: either one entry's
// metadata or the terminal finished marker (carrying the transaction
// summary), never both.
type NextInfo struct {
	Finished bool             `json:"finished,omitempty"`
	Name     string           `json:"name,omitempty"`
	Type     FileType         `json:"type,omitempty"`
	Size     uint64           `json:"size,omitempty"`
	Summary  *TransferSummary `json:"summary,omitempty"`
}

// Per-file transfer outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
	// OutcomeAccepted tells a put_next caller to go ahead and write the
	// announced bytes to the side channel.
	OutcomeAccepted = "accepted"
	// OutcomeAsk defers an overwrite collision to the peer; the side
	// channel is not touched until the follow-up decision arrives.
	OutcomeAsk = "ask"
)

// PutResult is the response payload of one put_next announcement.
type PutResult struct {
	Outcome string `json:"outcome"`
}

// TransferSummary aggregates a finished transaction.
type TransferSummary struct {
	OK      int `json:"ok"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// RexecParams carries the rexec api parameters.
type RexecParams struct {
	Command string `json:"command"`
}

// RexecResult is the rexec response payload.
type RexecResult struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}
