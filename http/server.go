// Package http provides the JSON API over the settlement engine: one route
// per entry point, a relay route for signed envelopes, balance and health
// queries, and capability-gated admin routes. The server serializes
// settlement submissions; it is the execution context that gives concurrent
// submissions their total order.
package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
	"github.com/aaurelions/commerce-onchain-payment-protocol/engine"
	"github.com/aaurelions/commerce-onchain-payment-protocol/forwarder"
	"github.com/aaurelions/commerce-onchain-payment-protocol/metrics"
)

// Server exposes the settlement engine over HTTP.
type Server struct {
	engine    *engine.Engine
	forwarder *forwarder.Forwarder
	log       *logrus.Logger
	metrics   *metrics.Metrics

	// submitMu orders settlement submissions; each call still runs in its
	// own atomic ledger transaction.
	submitMu sync.Mutex
}

// NewServer builds a Server over the engine and forwarder.
func NewServer(eng *engine.Engine, fwd *forwarder.Forwarder, log *logrus.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{engine: eng, forwarder: fwd, log: log, metrics: m}
}

// Router assembles the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if s.metrics != nil {
		r.Use(s.metrics.GinMiddleware())
		r.GET("/metrics", s.metrics.Handler())
	}

	r.GET("/healthz", s.handleHealth)

	v1 := r.Group("/v1")
	{
		transfers := v1.Group("/transfers")
		transfers.POST("/native", s.handleTransfer(protocol.MethodNative))
		transfers.POST("/token", s.handleTransfer(protocol.MethodToken))
		transfers.POST("/token-pre-approved", s.handleTransfer(protocol.MethodTokenPreApproved))
		transfers.POST("/wrap", s.handleTransfer(protocol.MethodWrap))
		transfers.POST("/unwrap", s.handleTransfer(protocol.MethodUnwrap))
		transfers.POST("/unwrap-pre-approved", s.handleTransfer(protocol.MethodUnwrapPreApproved))
		transfers.POST("/swap/native", s.handleTransfer(protocol.MethodSwapNative))
		transfers.POST("/swap/token", s.handleTransfer(protocol.MethodSwapToken))
		transfers.POST("/swap/token-pre-approved", s.handleTransfer(protocol.MethodSwapTokenPreApproved))

		v1.POST("/relay", s.handleRelay)
		v1.GET("/accounts/:address/balances/:asset", s.handleBalance)

		admin := v1.Group("/admin")
		admin.POST("/pause", s.handlePause)
		admin.POST("/unpause", s.handleUnpause)
		admin.POST("/sweep", s.handleSweep)
	}
	return r
}

// Run serves the API until the listener fails.
func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.WithField("addr", addr).Info("settlement API listening")
	return srv.ListenAndServe()
}
