package http

import (
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
	"github.com/aaurelions/commerce-onchain-payment-protocol/engine"
	"github.com/aaurelions/commerce-onchain-payment-protocol/forwarder"
	"github.com/aaurelions/commerce-onchain-payment-protocol/permit"
	"github.com/aaurelions/commerce-onchain-payment-protocol/swap"
)

// transferRequest is the body of every settlement route. The method comes
// from the route, everything else from the caller.
type transferRequest struct {
	Caller          common.Address          `json:"caller"`
	Intent          protocol.TransferIntent `json:"intent"`
	Value           *big.Int                `json:"value,omitempty"`
	Permit          *permit.Authorization   `json:"permit,omitempty"`
	InputAsset      common.Address          `json:"inputAsset,omitempty"`
	MaxWillingToPay *big.Int                `json:"maxWillingToPay,omitempty"`
	Route           *swap.Route             `json:"route,omitempty"`
}

type errorBody struct {
	Code    protocol.ErrorCode `json:"code"`
	Message string             `json:"message"`
}

type transferResponse struct {
	Success bool       `json:"success"`
	Error   *errorBody `json:"error,omitempty"`
}

// statusOf maps the settlement error taxonomy to HTTP statuses.
func statusOf(err error) int {
	switch protocol.CodeOf(err) {
	case protocol.ErrCodeInvalidIntent:
		return http.StatusBadRequest
	case protocol.ErrCodeSignatureInvalid, protocol.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case protocol.ErrCodeInsufficientFunds:
		return http.StatusPaymentRequired
	case protocol.ErrCodeAuthorizationInvalid:
		return http.StatusForbidden
	case protocol.ErrCodeIntentAlreadyUsed, protocol.ErrCodeNonceInvalid, protocol.ErrCodeReentrantCall:
		return http.StatusConflict
	case protocol.ErrCodeIntentExpired:
		return http.StatusGone
	case protocol.ErrCodeSlippageExceeded, protocol.ErrCodeSwapFailed:
		return http.StatusUnprocessableEntity
	case protocol.ErrCodePaused:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) abort(c *gin.Context, err error) {
	var serr *protocol.SettlementError
	body := errorBody{Code: protocol.CodeOf(err), Message: err.Error()}
	if errors.As(err, &serr) {
		body.Message = serr.Message
	}
	c.JSON(statusOf(err), transferResponse{Success: false, Error: &body})
}

func (s *Server) handleTransfer(method protocol.PaymentMethod) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, transferResponse{Success: false, Error: &errorBody{
				Code:    protocol.ErrCodeInvalidIntent,
				Message: "malformed request body",
			}})
			return
		}
		call := engine.Call{
			Method:          method,
			Intent:          req.Intent,
			Value:           req.Value,
			Permit:          req.Permit,
			InputAsset:      req.InputAsset,
			MaxWillingToPay: req.MaxWillingToPay,
		}
		if req.Route != nil {
			call.FeeTier = req.Route.FeeTier
		}

		start := time.Now()
		s.submitMu.Lock()
		err := s.engine.Execute(c.Request.Context(), req.Caller, call)
		s.submitMu.Unlock()
		if s.metrics != nil {
			s.metrics.ObserveSettlement(string(method), string(protocol.CodeOf(err)), time.Since(start))
		}
		if err != nil {
			s.abort(c, err)
			return
		}
		c.JSON(http.StatusOK, transferResponse{Success: true})
	}
}

func (s *Server) handleRelay(c *gin.Context) {
	var env forwarder.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, transferResponse{Success: false, Error: &errorBody{
			Code:    protocol.ErrCodeInvalidIntent,
			Message: "malformed envelope",
		}})
		return
	}

	s.submitMu.Lock()
	err := s.forwarder.Execute(c.Request.Context(), env)
	s.submitMu.Unlock()
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, transferResponse{Success: true})
}

func (s *Server) handleBalance(c *gin.Context) {
	if !common.IsHexAddress(c.Param("address")) || !common.IsHexAddress(c.Param("asset")) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	account := common.HexToAddress(c.Param("address"))
	asset := common.HexToAddress(c.Param("asset"))
	balance := s.engine.Book().Balance(asset, account)
	c.JSON(http.StatusOK, gin.H{
		"account": account.Hex(),
		"asset":   asset.Hex(),
		"balance": balance.String(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "paused": s.engine.Paused()})
}

// adminRequest identifies the capability holder making an admin call.
type adminRequest struct {
	Caller common.Address `json:"caller"`
	Asset  common.Address `json:"asset,omitempty"`
	To     common.Address `json:"to,omitempty"`
	Amount *big.Int       `json:"amount,omitempty"`
}

func (s *Server) handlePause(c *gin.Context) {
	var req adminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	if err := s.engine.Pause(req.Caller); err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) handleUnpause(c *gin.Context) {
	var req adminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	if err := s.engine.Unpause(req.Caller); err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) handleSweep(c *gin.Context) {
	var req adminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	s.submitMu.Lock()
	err := s.engine.Sweep(req.Caller, req.Asset, req.To, req.Amount)
	s.submitMu.Unlock()
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swept": true})
}
