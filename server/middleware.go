package server

import (
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lanshare/metrics"
	"github.com/opd-ai/lanshare/session"
	"github.com/opd-ai/lanshare/wire"
)

// The cross-cutting request decorators, applied as an explicit ordered
// chain in buildHandlerTable rather than implicitly wrapping handlers.

// trace logs every request with its result and feeds the request counter.
func trace(m *metrics.Metrics, next handlerFunc) handlerFunc {
	return func(c *connState, req *wire.Request) *wire.Response {
		resp := next(c, req)

		result := "success"
		if !resp.Success {
			result = resp.Error.String()
		}
		m.RequestsTotal.WithLabelValues(req.API, result).Inc()

		logrus.WithFields(logrus.Fields{
			"function": "trace",
			"api":      req.API,
			"endpoint": c.sess.Endpoint(),
			"result":   result,
		}).Debug("Request handled")
		return resp
	}
}

// catchPanics converts a panicking handler into a definite failure
// response, keeping the connection alive. Stream-level errors are not
// panics and still close the connection at the read/write loop.
func catchPanics(next handlerFunc) handlerFunc {
	return func(c *connState, req *wire.Request) (resp *wire.Response) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithFields(logrus.Fields{
					"function": "catchPanics",
					"api":      req.API,
					"endpoint": c.sess.Endpoint(),
					"panic":    r,
				}).Error("Handler panicked")
				resp = wire.Fail(wire.ErrCommandExecutionFailed)
			}
		}()
		return next(c, req)
	}
}

// requireConnected rejects operations on sessions that have not completed
// a successful connect.
func requireConnected(next handlerFunc) handlerFunc {
	return func(c *connState, req *wire.Request) *wire.Response {
		if c.sess.State() != session.StateConnected {
			return wire.Fail(wire.ErrNotConnected)
		}
		return next(c, req)
	}
}

// requireUnix rejects unix-only operations on other platforms.
func requireUnix(next handlerFunc) handlerFunc {
	return func(c *connState, req *wire.Request) *wire.Response {
		if runtime.GOOS == "windows" {
			return wire.Fail(wire.ErrSupportedOnlyForUnix)
		}
		return next(c, req)
	}
}
