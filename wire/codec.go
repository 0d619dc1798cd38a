package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single control frame. Frames only carry envelopes
// and listings, never file bytes, so anything larger is a broken peer.
const MaxFrameSize = 4 * 1024 * 1024

// ErrFrameTooLarge indicates a frame whose declared length exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ErrEmptyFrame indicates a frame with a zero-length body.
var ErrEmptyFrame = errors.New("frame has empty body")

// WriteFrame writes one length-prefixed frame: a 4-byte big-endian body
// length followed by the body.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return ErrEmptyFrame
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed frame body. Stream-level errors
// (EOF, broken pipe) come back unwrapped so callers can tell a dead peer
// from a malformed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteRequest encodes and writes one request frame.
func WriteRequest(w io.Writer, req *Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return WriteFrame(w, body)
}

// ReadRequest reads and decodes one request frame. A frame that is not a
// request envelope yields ErrInvalidEnvelope; the stream itself is still
// usable afterwards.
func ReadRequest(r io.Reader) (*Request, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if req.API == "" {
		return nil, fmt.Errorf("%w: missing api", ErrInvalidEnvelope)
	}
	return &req, nil
}

// ErrInvalidEnvelope indicates a frame that decoded but is not a valid
// request envelope.
var ErrInvalidEnvelope = errors.New("invalid request envelope")

// WriteResponse encodes and writes one response frame.
func WriteResponse(w io.Writer, resp *Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return WriteFrame(w, body)
}

// ReadResponse reads and decodes one response frame.
func ReadResponse(r io.Reader) (*Response, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
