// Package client is the programmatic control-channel client: discovery,
// browsing and transfers against a lanshare server. The interactive shell
// sits on top of it; the end-to-end tests drive it directly.
package client

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lanshare/wire"
)

// ProtocolError is a definite failure response from the server.
type ProtocolError struct {
	Code wire.ErrCode
}

// Error implements error.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("server error: %s", e.Code.String())
}

// IsCode reports whether err is a ProtocolError with the given code.
func IsCode(err error, code wire.ErrCode) bool {
	pe, ok := err.(*ProtocolError)
	return ok && pe.Code == code
}

// Client is one control-channel connection.
type Client struct {
	conn      net.Conn
	host      string
	tlsConfig *tls.Config
}

// Dial opens a control connection. tlsConfig may be nil for a plaintext
// channel; when set it is reused for transfer side channels.
func Dial(addr string, tlsConfig *tls.Config) (*Client, error) {
	var conn net.Conn
	var err error
	if tlsConfig != nil {
		conn, err = tls.Dial("tcp", addr, tlsConfig)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial control channel: %w", err)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"addr":     addr,
		"tls":      tlsConfig != nil,
	}).Debug("Control channel open")
	return &Client{conn: conn, host: host, tlsConfig: tlsConfig}, nil
}

// Close shuts the control connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs one request/response round-trip. A failure response comes
// back as a ProtocolError; the connection stays usable.
func (c *Client) call(api string, params map[string]any) (*wire.Response, error) {
	req := &wire.Request{API: api, Params: params}
	if err := wire.WriteRequest(c.conn, req); err != nil {
		return nil, err
	}
	resp, err := wire.ReadResponse(c.conn)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &ProtocolError{Code: resp.Error}
	}
	return resp, nil
}

// Connect authenticates against a sharing.
func (c *Client) Connect(sharingName, password string) error {
	params := map[string]any{"sharing": sharingName}
	if password != "" {
		params["password"] = password
	}
	_, err := c.call(wire.APIConnect, params)
	return err
}

// Disconnect ends the session. The connection itself stays open.
func (c *Client) Disconnect() error {
	_, err := c.call(wire.APIDisconnect, nil)
	return err
}

// Ping checks server liveness.
func (c *Client) Ping() error {
	_, err := c.call(wire.APIPing, nil)
	return err
}

// List fetches the sharing list. Works before Connect.
func (c *Client) List() ([]wire.SharingInfo, error) {
	resp, err := c.call(wire.APIList, nil)
	if err != nil {
		return nil, err
	}
	var sharings []wire.SharingInfo
	if err := resp.DecodeData(&sharings); err != nil {
		return nil, err
	}
	return sharings, nil
}

// Info fetches the server identity. Works before Connect.
func (c *Client) Info() (*wire.ServerInfo, error) {
	resp, err := c.call(wire.APIInfo, nil)
	if err != nil {
		return nil, err
	}
	var info wire.ServerInfo
	if err := resp.DecodeData(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Rcd changes the remote working directory and returns the new one.
func (c *Client) Rcd(path string) (string, error) {
	resp, err := c.call(wire.APIRcd, map[string]any{"path": path})
	if err != nil {
		return "", err
	}
	var data struct {
		Rpwd string `json:"rpwd"`
	}
	if err := resp.DecodeData(&data); err != nil {
		return "", err
	}
	return data.Rpwd, nil
}

// Rls lists the current remote directory.
func (c *Client) Rls() ([]wire.FileInfo, error) {
	resp, err := c.call(wire.APIRls, nil)
	if err != nil {
		return nil, err
	}
	var entries []wire.FileInfo
	if err := resp.DecodeData(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Rmkdir creates a remote directory.
func (c *Client) Rmkdir(path string) error {
	_, err := c.call(wire.APIRmkdir, map[string]any{"path": path})
	return err
}

// Rexec runs a shell command on the server, if the server allows it.
func (c *Client) Rexec(command string) (*wire.RexecResult, error) {
	resp, err := c.call(wire.APIRexec, map[string]any{"command": command})
	if err != nil {
		return nil, err
	}
	var result wire.RexecResult
	if err := resp.DecodeData(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// dialSide opens a transfer side channel to the given port.
func (c *Client) dialSide(port int) (net.Conn, error) {
	addr := net.JoinHostPort(c.host, fmt.Sprint(port))
	if c.tlsConfig != nil {
		return tls.Dial("tcp", addr, c.tlsConfig)
	}
	return net.Dial("tcp", addr)
}
