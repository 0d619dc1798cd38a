package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lanshare/wire"
)

// InfoProvider regenerates the discovery payload for each probe, so the
// response always reflects the live sharing list.
type InfoProvider func() *wire.ServerInfo

// Responder answers discovery probes on a UDP socket. It runs on its own
// goroutine; malformed probes are logged and dropped, never fatal.
type Responder struct {
	conn   net.PacketConn
	info   InfoProvider
	ctx    context.Context
	cancel context.CancelFunc
}

// NewResponder binds the discovery socket and starts answering probes.
func NewResponder(port int, info InfoProvider) (*Responder, error) {
	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind discovery port: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Responder{conn: conn, info: info, ctx: ctx, cancel: cancel}
	go r.serve()

	logrus.WithFields(logrus.Fields{
		"function": "NewResponder",
		"addr":     conn.LocalAddr().String(),
	}).Info("Discovery responder listening")
	return r, nil
}

// Port returns the UDP port the responder is bound to.
func (r *Responder) Port() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close shuts the responder down.
func (r *Responder) Close() error {
	r.cancel()
	return r.conn.Close()
}

// serve is the responder loop.
func (r *Responder) serve() {
	buf := make([]byte, 64)
	for {
		n, sender, err := r.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-r.ctx.Done():
				return
			default:
			}
			logrus.WithFields(logrus.Fields{
				"function": "serve",
				"error":    err.Error(),
			}).Warn("Discovery read failed")
			continue
		}
		r.answer(buf[:n], sender)
	}
}

// answer handles one probe datagram.
func (r *Responder) answer(data []byte, sender net.Addr) {
	port, err := decodeProbe(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "answer",
			"sender":   sender.String(),
			"error":    err.Error(),
		}).Warn("Dropping malformed probe")
		return
	}
	dest, err := replyAddr(sender, port)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "answer",
			"sender":   sender.String(),
			"error":    err.Error(),
		}).Warn("Dropping probe with unusable sender address")
		return
	}

	payload, err := json.Marshal(wire.OKData(r.info()))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "answer",
			"error":    err.Error(),
		}).Error("Failed to encode discovery response")
		return
	}

	if _, err := r.conn.WriteTo(payload, dest); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "answer",
			"dest":     dest.String(),
			"error":    err.Error(),
		}).Warn("Failed to send discovery response")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "answer",
		"dest":     dest.String(),
	}).Debug("Discovery response sent")
}
