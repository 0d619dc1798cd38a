// Package wire defines the control-channel protocol for lanshare.
//
// Every request is a self-delimited JSON message carrying an api name and a
// parameter map; every response carries a success flag plus either a data
// payload or a stable integer error code. Frames are length-prefixed so the
// stream can be read without any in-band sniffing.
//
// Example:
//
//	req := &wire.Request{API: wire.APIPing}
//	if err := wire.WriteRequest(conn, req); err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := wire.ReadResponse(conn)
package wire

import (
	"errors"

	"github.com/mitchellh/mapstructure"
)

// ErrCode is a stable, server-assigned protocol error code.
type ErrCode int

const (
	// ErrNotConnected is returned when an operation requires an
	// authenticated session and none is established.
	ErrNotConnected ErrCode = 201
	// ErrInvalidCommandSyntax is returned when a request's params do not
	// decode into the shape the api expects.
	ErrInvalidCommandSyntax ErrCode = 202
	// ErrSharingNotFound is returned when the requested sharing name is
	// not registered on the server.
	ErrSharingNotFound ErrCode = 203
	// ErrInvalidPath is returned when a remote path escapes its sharing
	// root or does not exist.
	ErrInvalidPath ErrCode = 204
	// ErrCommandExecutionFailed is returned when a handler fails for a
	// reason that is not the client's fault.
	ErrCommandExecutionFailed ErrCode = 205
	// ErrInvalidTransaction is returned when a get_next/put_next names an
	// unknown or foreign transaction id.
	ErrInvalidTransaction ErrCode = 206
	// ErrAuthenticationFailed is returned when the presented credential
	// does not match the server secret.
	ErrAuthenticationFailed ErrCode = 207
	// ErrUnknownAPI is returned for an api name the server does not route.
	ErrUnknownAPI ErrCode = 208
	// ErrInvalidRequest is returned for a frame that is not a structurally
	// valid request envelope.
	ErrInvalidRequest ErrCode = 209
	// ErrSupportedOnlyForUnix is returned for unix-only apis on other
	// platforms.
	ErrSupportedOnlyForUnix ErrCode = 210
	// ErrRexecDisabled is returned when remote execution is switched off
	// in the server configuration.
	ErrRexecDisabled ErrCode = 211
)

// String returns the symbolic name of the error code.
func (c ErrCode) String() string {
	switch c {
	case ErrNotConnected:
		return "NOT_CONNECTED"
	case ErrInvalidCommandSyntax:
		return "INVALID_COMMAND_SYNTAX"
	case ErrSharingNotFound:
		return "SHARING_NOT_FOUND"
	case ErrInvalidPath:
		return "INVALID_PATH"
	case ErrCommandExecutionFailed:
		return "COMMAND_EXECUTION_FAILED"
	case ErrInvalidTransaction:
		return "INVALID_TRANSACTION"
	case ErrAuthenticationFailed:
		return "AUTHENTICATION_FAILED"
	case ErrUnknownAPI:
		return "UNKNOWN_API"
	case ErrInvalidRequest:
		return "INVALID_REQUEST"
	case ErrSupportedOnlyForUnix:
		return "SUPPORTED_ONLY_FOR_UNIX"
	case ErrRexecDisabled:
		return "REXEC_DISABLED"
	}
	return "UNKNOWN_ERROR"
}

// Recognized api names.
const (
	APIConnect    = "connect"
	APIDisconnect = "disconnect"
	APIList       = "list"
	APIInfo       = "info"
	APIPing       = "ping"
	APIRcd        = "rcd"
	APIRls        = "rls"
	APIRmkdir     = "rmkdir"
	APIGet        = "get"
	APIGetNext    = "get_next"
	APIPut        = "put"
	APIPutNext    = "put_next"
	APIRexec      = "rexec"
)

// Request is the control-channel request envelope.
type Request struct {
	API    string         `json:"api"`
	Params map[string]any `json:"params,omitempty"`
}

// Response is the control-channel response envelope. Every response is
// either a definite success (optionally carrying Data) or a definite
// failure carrying one error code; there is no third shape.
type Response struct {
	Success bool    `json:"success"`
	Data    any     `json:"data,omitempty"`
	Error   ErrCode `json:"error,omitempty"`
}

// OK builds a success response with no payload.
func OK() *Response {
	return &Response{Success: true}
}

// OKData builds a success response carrying data.
func OKData(data any) *Response {
	return &Response{Success: true, Data: data}
}

// Fail builds a failure response with the given code.
func Fail(code ErrCode) *Response {
	return &Response{Success: false, Error: code}
}

// ErrMissingParams indicates that a request carried no parameter map at all.
var ErrMissingParams = errors.New("request has no params")

// DecodeParams decodes a request's parameter map into a typed params
// struct. JSON numbers arrive as float64, so decoding is weakly typed to
// land them in integer fields.
func (r *Request) DecodeParams(out any) error {
	if r.Params == nil {
		return ErrMissingParams
	}
	cfg := &mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	}
	dec, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return err
	}
	return dec.Decode(r.Params)
}

// DecodeData decodes a response's data payload into a typed struct. Data
// travels as JSON objects, so after a decode round-trip it is a
// map[string]any; mapstructure maps it back onto the caller's type.
func (r *Response) DecodeData(out any) error {
	if r.Data == nil {
		return errors.New("response has no data")
	}
	cfg := &mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	}
	dec, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return err
	}
	return dec.Decode(r.Data)
}
