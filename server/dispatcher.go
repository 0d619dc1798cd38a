package server

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lanshare/session"
	"github.com/opd-ai/lanshare/sharing"
	"github.com/opd-ai/lanshare/transfer"
	"github.com/opd-ai/lanshare/wire"
)

// connState is the per-connection view handlers operate on.
type connState struct {
	srv  *Server
	sess *session.Session
}

// handlerFunc processes one decoded request into a response.
type handlerFunc func(c *connState, req *wire.Request) *wire.Response

// buildHandlerTable wires every api to its handler, wrapped in the
// middleware chain. The chain is explicit and ordered: trace outermost,
// then panic conversion, then the platform gate, then the
// connection-state gate.
func (s *Server) buildHandlerTable() map[string]handlerFunc {
	entries := []struct {
		api            string
		fn             handlerFunc
		needsConnected bool
		unixOnly       bool
	}{
		{wire.APIConnect, handleConnect, false, false},
		{wire.APIDisconnect, handleDisconnect, false, false},
		{wire.APIList, handleList, false, false},
		{wire.APIInfo, handleInfo, false, false},
		{wire.APIPing, handlePing, false, false},
		{wire.APIRcd, handleRcd, true, false},
		{wire.APIRls, handleRls, true, false},
		{wire.APIRmkdir, handleRmkdir, true, false},
		{wire.APIGet, handleGet, true, false},
		{wire.APIGetNext, handleGetNext, true, false},
		{wire.APIPut, handlePut, true, false},
		{wire.APIPutNext, handlePutNext, true, false},
		{wire.APIRexec, handleRexec, true, true},
	}

	table := make(map[string]handlerFunc, len(entries))
	for _, e := range entries {
		h := e.fn
		if e.needsConnected {
			h = requireConnected(h)
		}
		if e.unixOnly {
			h = requireUnix(h)
		}
		h = catchPanics(h)
		h = trace(s.metrics, h)
		table[e.api] = h
	}
	return table
}

// dispatch routes one request. Unknown apis never reach a handler, so they
// are counted here instead of in the trace middleware.
func (s *Server) dispatch(c *connState, req *wire.Request) *wire.Response {
	h, ok := s.handlers[req.API]
	if !ok {
		s.metrics.RequestsTotal.WithLabelValues(req.API, wire.ErrUnknownAPI.String()).Inc()
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"api":      req.API,
			"endpoint": c.sess.Endpoint(),
		}).Warn("Unknown api")
		return wire.Fail(wire.ErrUnknownAPI)
	}
	return h(c, req)
}

// handleConnect authenticates and binds the session to a sharing.
func handleConnect(c *connState, req *wire.Request) *wire.Response {
	var params wire.ConnectParams
	if err := req.DecodeParams(&params); err != nil || params.Sharing == "" {
		return wire.Fail(wire.ErrInvalidCommandSyntax)
	}

	err := c.sess.Connect(c.srv.registry, c.srv.authenticator, params.Sharing, params.Password)
	switch {
	case errors.Is(err, sharing.ErrNotFound):
		return wire.Fail(wire.ErrSharingNotFound)
	case errors.Is(err, session.ErrAuthenticationFailed):
		return wire.Fail(wire.ErrAuthenticationFailed)
	case err != nil:
		return wire.Fail(wire.ErrCommandExecutionFailed)
	}
	return wire.OK()
}

// handleDisconnect ends the session. In-flight transactions are left
// alone; they belong to the connection, not the session state.
func handleDisconnect(c *connState, _ *wire.Request) *wire.Response {
	c.sess.Disconnect()
	return wire.OK()
}

// handleList returns the sharing list. Intentionally unauthenticated so
// clients can browse before connecting.
func handleList(c *connState, _ *wire.Request) *wire.Response {
	return wire.OKData(c.srv.Info().Sharings)
}

// handleInfo returns the server identity. Unauthenticated by design.
func handleInfo(c *connState, _ *wire.Request) *wire.Response {
	return wire.OKData(c.srv.Info())
}

// handlePing answers a liveness probe. Unauthenticated by design.
func handlePing(_ *connState, _ *wire.Request) *wire.Response {
	return wire.OKData("pong")
}

func handleRcd(c *connState, req *wire.Request) *wire.Response {
	var params wire.PathParams
	if err := req.DecodeParams(&params); err != nil || params.Path == "" {
		return wire.Fail(wire.ErrInvalidCommandSyntax)
	}
	if err := c.sess.Rcd(params.Path); err != nil {
		return failFromPathError(err)
	}
	return wire.OKData(map[string]string{"rpwd": c.sess.RemoteCwd()})
}

func handleRls(c *connState, _ *wire.Request) *wire.Response {
	entries, err := c.sess.Rls()
	if err != nil {
		return failFromPathError(err)
	}
	return wire.OKData(entries)
}

func handleRmkdir(c *connState, req *wire.Request) *wire.Response {
	var params wire.PathParams
	if err := req.DecodeParams(&params); err != nil || params.Path == "" {
		return wire.Fail(wire.ErrInvalidCommandSyntax)
	}
	if err := c.sess.Rmkdir(params.Path); err != nil {
		return failFromPathError(err)
	}
	return wire.OK()
}

func handleGet(c *connState, req *wire.Request) *wire.Response {
	var params wire.GetParams
	if req.Params != nil {
		if err := req.DecodeParams(&params); err != nil {
			return wire.Fail(wire.ErrInvalidCommandSyntax)
		}
	}

	tx, err := c.srv.transfers.NewGet(c.sess.Endpoint(), c.sess.Sharing(), c.sess.RemoteCwd(), params.Paths)
	if err != nil {
		return wire.Fail(wire.ErrCommandExecutionFailed)
	}
	c.srv.metrics.ActiveTransactions.Inc()
	return wire.OKData(wire.TransferStart{Transaction: tx.ID(), Port: tx.Port()})
}

func handleGetNext(c *connState, req *wire.Request) *wire.Response {
	var params wire.NextParams
	if err := req.DecodeParams(&params); err != nil || params.Transaction == "" {
		return wire.Fail(wire.ErrInvalidCommandSyntax)
	}

	tx, err := c.srv.transfers.Lookup(params.Transaction, c.sess.Endpoint())
	if err != nil || tx.Direction() != transfer.DirectionGet {
		return wire.Fail(wire.ErrInvalidTransaction)
	}

	if params.Abort {
		c.srv.finishTransaction(tx)
		tx.Abort()
		return wire.OKData(wire.NextInfo{Finished: true, Summary: tx.Summary()})
	}

	info, err := tx.Next()
	if err != nil {
		return wire.Fail(wire.ErrInvalidTransaction)
	}
	if info.Finished {
		c.srv.finishTransaction(tx)
	}
	return wire.OKData(info)
}

func handlePut(c *connState, req *wire.Request) *wire.Response {
	var params wire.PutParams
	if req.Params != nil {
		if err := req.DecodeParams(&params); err != nil {
			return wire.Fail(wire.ErrInvalidCommandSyntax)
		}
	}
	policy, err := transfer.ParsePolicy(params.Overwrite)
	if err != nil {
		return wire.Fail(wire.ErrInvalidCommandSyntax)
	}

	tx, err := c.srv.transfers.NewPut(c.sess.Endpoint(), c.sess.Sharing(), c.sess.RemoteCwd(), policy)
	if err != nil {
		// Covers the read-only sharing refusal as well as socket failures.
		return wire.Fail(wire.ErrCommandExecutionFailed)
	}
	c.srv.metrics.ActiveTransactions.Inc()
	return wire.OKData(wire.TransferStart{Transaction: tx.ID(), Port: tx.Port()})
}

func handlePutNext(c *connState, req *wire.Request) *wire.Response {
	var params wire.NextParams
	if err := req.DecodeParams(&params); err != nil || params.Transaction == "" {
		return wire.Fail(wire.ErrInvalidCommandSyntax)
	}

	tx, err := c.srv.transfers.Lookup(params.Transaction, c.sess.Endpoint())
	if err != nil || tx.Direction() != transfer.DirectionPut {
		return wire.Fail(wire.ErrInvalidTransaction)
	}

	if params.Abort {
		c.srv.finishTransaction(tx)
		tx.Abort()
		return wire.OKData(wire.NextInfo{Finished: true, Summary: tx.Summary()})
	}
	if params.Name == "" {
		// No more files: drain and report the summary.
		summary := tx.Finish()
		c.srv.finishTransaction(tx)
		return wire.OKData(wire.NextInfo{Finished: true, Summary: summary})
	}

	outcome, err := tx.Announce(params.Name, params.Size, params.Decision)
	switch {
	case errors.Is(err, sharing.ErrPathEscape):
		return wire.Fail(wire.ErrInvalidPath)
	case errors.Is(err, transfer.ErrDecisionExpected):
		return wire.Fail(wire.ErrInvalidCommandSyntax)
	case errors.Is(err, transfer.ErrCompleted):
		return wire.Fail(wire.ErrInvalidTransaction)
	case err != nil:
		return wire.Fail(wire.ErrCommandExecutionFailed)
	}
	return wire.OKData(wire.PutResult{Outcome: outcome})
}

// handleRexec executes a shell command on the server. Only reachable with
// the feature enabled, on unix, from a connected session.
func handleRexec(c *connState, req *wire.Request) *wire.Response {
	if !c.srv.cfg.RexecEnabled {
		return wire.Fail(wire.ErrRexecDisabled)
	}
	var params wire.RexecParams
	if err := req.DecodeParams(&params); err != nil || params.Command == "" {
		return wire.Fail(wire.ErrInvalidCommandSyntax)
	}

	result, err := runCommand(params.Command)
	if err != nil {
		return wire.Fail(wire.ErrCommandExecutionFailed)
	}
	return wire.OKData(result)
}

// finishTransaction removes a transaction from the active set and updates
// the gauge.
func (s *Server) finishTransaction(tx *transfer.Transaction) {
	s.transfers.Remove(tx.ID())
	s.metrics.ActiveTransactions.Dec()
}

// failFromPathError maps session/sandbox errors onto wire codes.
func failFromPathError(err error) *wire.Response {
	switch {
	case errors.Is(err, session.ErrNotConnected):
		return wire.Fail(wire.ErrNotConnected)
	case errors.Is(err, sharing.ErrPathEscape), errors.Is(err, session.ErrNotADirectory):
		return wire.Fail(wire.ErrInvalidPath)
	case errors.Is(err, session.ErrReadOnlySharing):
		return wire.Fail(wire.ErrCommandExecutionFailed)
	}
	return wire.Fail(wire.ErrCommandExecutionFailed)
}
