// Package server runs the lanshare control-channel listener: one goroutine
// per accepted connection, a request dispatcher with an explicit middleware
// chain, and the wiring between sessions, sharings, transfers, discovery
// and metrics.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lanshare/auth"
	"github.com/opd-ai/lanshare/config"
	"github.com/opd-ai/lanshare/discovery"
	"github.com/opd-ai/lanshare/metrics"
	"github.com/opd-ai/lanshare/session"
	"github.com/opd-ai/lanshare/sharing"
	"github.com/opd-ai/lanshare/transfer"
	"github.com/opd-ai/lanshare/wire"
)

// Server owns the process-wide state: the registry, the authenticator, the
// session and transaction managers, and the sockets. It replaces any
// implicit global; everything a handler needs hangs off it.
type Server struct {
	cfg           *config.Config
	registry      *sharing.Registry
	authenticator auth.Authenticator
	sessions      *session.Manager
	transfers     *transfer.Manager
	metrics       *metrics.Metrics

	tlsConfig   *tls.Config
	listener    net.Listener
	responder   *discovery.Responder
	handlers    map[string]handlerFunc
	advertiseIP string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a server from its configuration. Nothing is listening yet;
// Start opens the sockets.
func New(cfg *config.Config) (*Server, error) {
	registry, err := cfg.BuildRegistry()
	if err != nil {
		return nil, err
	}
	authenticator, err := auth.Parse(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("parse secret: %w", err)
	}

	var tlsConfig *tls.Config
	if cfg.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("load tls keypair: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:           cfg,
		registry:      registry,
		authenticator: authenticator,
		sessions:      session.NewManager(),
		metrics:       metrics.New(),
		tlsConfig:     tlsConfig,
		advertiseIP:   advertiseAddr(cfg.Address),
		ctx:           ctx,
		cancel:        cancel,
	}
	s.transfers = transfer.NewManager(s.sideChannelListen)
	s.transfers.OnBytesOut = func(n uint64) { s.metrics.BytesSent.Add(float64(n)) }
	s.transfers.OnBytesIn = func(n uint64) { s.metrics.BytesReceived.Add(float64(n)) }
	s.handlers = s.buildHandlerTable()
	return s, nil
}

// sideChannelListen opens a transfer side channel, TLS-wrapped when the
// control channel is.
func (s *Server) sideChannelListen() (net.Listener, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, err
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	return ln, nil
}

// Start opens the control listener, the discovery responder and, when
// configured, the metrics endpoint, then begins accepting connections.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind control port: %w", err)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.listener = ln

	if s.cfg.DiscoveryPort > 0 {
		s.responder, err = discovery.NewResponder(s.cfg.DiscoveryPort, s.Info)
		if err != nil {
			_ = ln.Close()
			return err
		}
	}
	if s.cfg.MetricsAddress != "" {
		go s.metrics.Serve(s.cfg.MetricsAddress)
	}

	s.wg.Add(1)
	go s.acceptLoop()

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"name":     s.cfg.Name,
		"addr":     ln.Addr().String(),
		"tls":      s.tlsConfig != nil,
	}).Info("Server listening")
	return nil
}

// Port returns the control channel's actual TCP port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close stops accepting, shuts the discovery responder, and waits for the
// connection goroutines to drain.
func (s *Server) Close() error {
	s.cancel()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	if s.responder != nil {
		_ = s.responder.Close()
	}
	s.wg.Wait()
	return err
}

// Info regenerates the discovery/info payload from the live configuration.
func (s *Server) Info() *wire.ServerInfo {
	all := s.registry.All()
	sharings := make([]wire.SharingInfo, 0, len(all))
	for _, sh := range all {
		sharings = append(sharings, wire.SharingInfo{
			Name:     sh.Name,
			Type:     wire.FileTypeDir,
			ReadOnly: sh.ReadOnly,
		})
	}
	return &wire.ServerInfo{
		Name:         s.cfg.Name,
		IP:           s.advertiseIP,
		Port:         s.cfg.Port,
		AuthRequired: s.authenticator.Required(),
		SSLEnabled:   s.tlsConfig != nil,
		Sharings:     sharings,
	}
}

// advertiseAddr picks the IP to publish in discovery and info payloads:
// the bind address when it names a concrete one, otherwise the host's
// first non-loopback IPv4. Probers fall back to the datagram's sender
// address when this comes up empty.
func advertiseAddr(bind string) string {
	if ip := net.ParseIP(bind); ip != nil && !ip.IsUnspecified() {
		return bind
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
			continue
		}
		return ipnet.IP.String()
	}
	return ""
}

// acceptLoop hands each accepted connection to its own goroutine.
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			logrus.WithFields(logrus.Fields{
				"function": "acceptLoop",
				"error":    err.Error(),
			}).Warn("Accept failed")
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn serves one control connection until the stream dies. Protocol
// and handler errors are reported in-band and keep the connection open;
// only stream-level failures end it. On exit the session entry and any
// in-flight transactions of this endpoint are torn down.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	endpoint := conn.RemoteAddr().String()
	sess := s.sessions.Open(endpoint)
	s.metrics.ActiveSessions.Inc()

	logrus.WithFields(logrus.Fields{
		"function": "handleConn",
		"endpoint": endpoint,
	}).Info("Connection accepted")

	defer func() {
		if aborted := s.transfers.AbortOwned(endpoint); aborted > 0 {
			s.metrics.ActiveTransactions.Sub(float64(aborted))
		}
		s.sessions.Close(endpoint)
		s.metrics.ActiveSessions.Dec()
		logrus.WithFields(logrus.Fields{
			"function": "handleConn",
			"endpoint": endpoint,
		}).Info("Connection closed")
	}()

	c := &connState{srv: s, sess: sess}
	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			if isRecoverable(err) {
				// The frame was broken but the stream is intact.
				if werr := wire.WriteResponse(conn, wire.Fail(wire.ErrInvalidRequest)); werr != nil {
					return
				}
				continue
			}
			if errors.Is(err, wire.ErrFrameTooLarge) {
				// The declared length cannot be trusted, so the stream
				// cannot be resynchronized. Report and close.
				_ = wire.WriteResponse(conn, wire.Fail(wire.ErrInvalidRequest))
			}
			return
		}

		resp := s.dispatch(c, req)
		if err := wire.WriteResponse(conn, resp); err != nil {
			return
		}
	}
}

// isRecoverable tells a malformed frame (report and carry on) from a dead
// stream (close the connection). Only errors whose frame body has been
// fully consumed qualify: an invalid envelope was read to its end and an
// empty frame has no body, but an oversized frame leaves its declared
// bytes on the wire and would desynchronize every later read.
func isRecoverable(err error) bool {
	return errors.Is(err, wire.ErrInvalidEnvelope) ||
		errors.Is(err, wire.ErrEmptyFrame)
}
