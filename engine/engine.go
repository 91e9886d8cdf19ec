// Package engine orchestrates settlement calls. Each call walks one path:
// access check, intent validation, fund collection, optional conversion, and
// distribution, inside a single ledger transaction that either commits as a
// whole or leaves no trace, replay marks included. The engine is the sole
// writer of the replay registry and the sole mover of funds.
package engine

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
	"github.com/aaurelions/commerce-onchain-payment-protocol/distributor"
	"github.com/aaurelions/commerce-onchain-payment-protocol/ledger"
	"github.com/aaurelions/commerce-onchain-payment-protocol/permit"
	"github.com/aaurelions/commerce-onchain-payment-protocol/registry"
	"github.com/aaurelions/commerce-onchain-payment-protocol/sigver"
	"github.com/aaurelions/commerce-onchain-payment-protocol/swap"
)

// Config wires an Engine.
type Config struct {
	// ChainID and Address pin the signature domain: intents signed for a
	// different chain or engine do not verify.
	ChainID *big.Int
	Address common.Address

	// WrappedNative is the wrapped form of the native asset, used by the
	// wrap/unwrap entry points and as the venue-side stand-in for native
	// currency in swaps.
	WrappedNative common.Address

	// Pauser may suspend and resume payment-initiating calls.
	Pauser common.Address

	// Sweeper may recover assets stranded at the engine's holding address.
	Sweeper common.Address

	// Logger receives structured settlement logs. Defaults to the standard
	// logrus logger.
	Logger *logrus.Logger

	// OnEvent, if set, receives success events after commit.
	OnEvent protocol.EventCallback

	// Now overrides the clock, for deadline tests. Defaults to time.Now.
	Now func() time.Time
}

// Engine is the settlement orchestrator.
type Engine struct {
	book    *ledger.Book
	domain  sigver.Domain
	permits permit.Verifier
	reg     *registry.Registry
	adapter *swap.Adapter
	dist    *distributor.Distributor

	address common.Address
	wrapped common.Address
	pauser  common.Address
	sweeper common.Address

	paused  atomic.Bool
	entered atomic.Bool

	log     *logrus.Logger
	onEvent protocol.EventCallback
	now     func() time.Time
}

// New builds an Engine over the ledger and the exchange venue.
func New(book *ledger.Book, venue swap.Venue, cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		book:    book,
		domain:  sigver.Domain{ChainID: cfg.ChainID, Contract: cfg.Address},
		permits: permit.Verifier{ChainID: cfg.ChainID},
		reg:     registry.New(),
		adapter: swap.NewAdapter(venue),
		dist:    distributor.New(),
		address: cfg.Address,
		wrapped: cfg.WrappedNative,
		pauser:  cfg.Pauser,
		sweeper: cfg.Sweeper,
		log:     log,
		onEvent: cfg.OnEvent,
		now:     now,
	}
}

// Address returns the engine's holding address.
func (e *Engine) Address() common.Address { return e.address }

// Domain returns the signature domain intents must be signed under.
func (e *Engine) Domain() sigver.Domain { return e.domain }

// Permits returns the pull-authorization verifier for the engine's chain.
func (e *Engine) Permits() permit.Verifier { return e.permits }

// Book returns the underlying ledger.
func (e *Engine) Book() *ledger.Book { return e.book }

// Call describes one settlement invocation: the intent plus the
// method-specific payer inputs.
type Call struct {
	// Method selects the entry point semantics.
	Method protocol.PaymentMethod `json:"method"`

	// Intent is the operator-signed payment terms.
	Intent protocol.TransferIntent `json:"intent"`

	// Value is the native currency attached to the call, for the native,
	// wrap, and swap-native methods.
	Value *big.Int `json:"value,omitempty"`

	// Permit is the gasless pull authorization, for the token, unwrap, and
	// swap-token methods.
	Permit *permit.Authorization `json:"permit,omitempty"`

	// InputAsset is the asset the payer supplies to a token swap.
	InputAsset common.Address `json:"inputAsset,omitempty"`

	// MaxWillingToPay is the ceiling on swap input cost. For swap-native it
	// is implied by Value.
	MaxWillingToPay *big.Int `json:"maxWillingToPay,omitempty"`

	// FeeTier selects the venue liquidity pool for swap methods.
	FeeTier uint32 `json:"feeTier,omitempty"`
}

type callOptions struct {
	preflight func(tx *ledger.Tx) error
}

// CallOption customizes one Execute invocation.
type CallOption func(*callOptions)

// WithPreflight runs fn inside the call's transaction before validation.
// The meta-transaction forwarder uses it to consume the signer's nonce as
// part of the same all-or-nothing unit as the forwarded call.
func WithPreflight(fn func(tx *ledger.Tx) error) CallOption {
	return func(o *callOptions) { o.preflight = fn }
}

func invalidIntent(message string) error {
	return protocol.NewSettlementError(protocol.ErrCodeInvalidIntent, message, protocol.ErrInvalidIntent)
}

// Execute runs one settlement call on behalf of caller. The caller is the
// effective payer identity for every downstream check; the forwarder passes
// the envelope signer here, never the relayer.
func (e *Engine) Execute(ctx context.Context, caller common.Address, call Call, opts ...CallOption) error {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	// A nested call from the venue lands here before the outer call
	// resolved; the guard is independent of the nonce mechanism.
	if !e.entered.CompareAndSwap(false, true) {
		return protocol.NewSettlementError(protocol.ErrCodeReentrantCall,
			"settlement entry point re-entered", protocol.ErrReentrantCall)
	}
	defer e.entered.Store(false)

	start := e.now()
	err := e.execute(ctx, caller, call, o, start)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"method":   call.Method,
			"operator": call.Intent.Operator.Hex(),
			"intentId": call.Intent.ID.String(),
			"payer":    caller.Hex(),
			"code":     protocol.CodeOf(err),
		}).WithError(err).Warn("settlement aborted")
	}
	return err
}

func (e *Engine) execute(ctx context.Context, caller common.Address, call Call, o callOptions, start time.Time) error {
	if e.paused.Load() {
		return protocol.NewSettlementError(protocol.ErrCodePaused,
			"payment-initiating calls are paused", protocol.ErrPaused)
	}
	if !call.Method.Valid() {
		return invalidIntent("unknown payment method")
	}

	tx := e.book.Begin()

	if o.preflight != nil {
		if err := o.preflight(tx); err != nil {
			return err
		}
	}

	intent := &call.Intent
	if err := intent.Validate(); err != nil {
		return err
	}
	if err := e.checkCurrency(call.Method, intent, call.InputAsset); err != nil {
		return err
	}
	now := e.now()
	if intent.Expired(now) {
		return protocol.NewSettlementError(protocol.ErrCodeIntentExpired,
			"intent deadline has passed", protocol.ErrIntentExpired)
	}
	if _, err := e.domain.RecoverIntentSigner(intent); err != nil {
		return err
	}
	// Consume the id before any external call can observe fund movement, so
	// a reentrant attempt sees it as already used.
	if err := e.reg.ConsumeIntent(tx, intent.Operator, intent.ID); err != nil {
		return err
	}

	collected, inputAsset, err := e.collect(tx, caller, call, now)
	if err != nil {
		return err
	}

	currency := intent.RecipientCurrency
	contribution := collected
	spent := new(big.Int).Set(collected)
	refunded := new(big.Int)
	refundTo := intent.RefundTo(caller)

	if call.Method.Converts() {
		contribution, refunded, err = e.convert(ctx, tx, call, intent, collected, inputAsset, refundTo)
		if err != nil {
			return err
		}
	} else {
		// Wrap and unwrap settle in a different form of the collected asset.
		switch call.Method {
		case protocol.MethodWrap:
			if err := tx.Wrap(e.wrapped, e.address, collected); err != nil {
				return err
			}
		case protocol.MethodUnwrap, protocol.MethodUnwrapPreApproved:
			if err := tx.Unwrap(e.wrapped, e.address, collected); err != nil {
				return err
			}
		}
	}

	surplus, err := e.dist.Distribute(tx, e.address, currency, contribution,
		intent.Recipient, intent.RecipientAmount, intent.Operator, intent.FeeAmount, refundTo)
	if err != nil {
		return err
	}
	if !call.Method.Converts() {
		refunded = surplus
	}

	tx.Commit()

	e.log.WithFields(logrus.Fields{
		"method":          call.Method,
		"operator":        intent.Operator.Hex(),
		"intentId":        intent.ID.String(),
		"payer":           caller.Hex(),
		"recipient":       intent.Recipient.Hex(),
		"recipientAmount": intent.RecipientAmount.String(),
		"refunded":        refunded.String(),
	}).Info("settlement completed")

	if e.onEvent != nil {
		fee := intent.FeeAmount
		if fee == nil {
			fee = new(big.Int)
		}
		e.onEvent(protocol.Event{
			Type:              protocol.EventPaymentCompleted,
			Timestamp:         e.now(),
			Method:            call.Method,
			Operator:          intent.Operator,
			ID:                intent.ID,
			Payer:             caller,
			Recipient:         intent.Recipient,
			RecipientCurrency: intent.RecipientCurrency,
			RecipientAmount:   new(big.Int).Set(intent.RecipientAmount),
			FeeAmount:         fee,
			SpentCurrency:     inputAsset,
			SpentAmount:       spent,
			Refunded:          refunded,
			Duration:          e.now().Sub(start),
		})
	}
	return nil
}

// checkCurrency rejects intents whose currency cannot be settled by the
// chosen method before any state is touched.
func (e *Engine) checkCurrency(method protocol.PaymentMethod, intent *protocol.TransferIntent, inputAsset common.Address) error {
	switch method {
	case protocol.MethodNative, protocol.MethodUnwrap, protocol.MethodUnwrapPreApproved:
		if intent.RecipientCurrency != protocol.NativeCurrency {
			return invalidIntent("method settles native currency but intent names a token")
		}
	case protocol.MethodWrap:
		if intent.RecipientCurrency != e.wrapped {
			return invalidIntent("wrap method requires the wrapped-native recipient currency")
		}
	case protocol.MethodToken, protocol.MethodTokenPreApproved:
		if intent.RecipientCurrency == protocol.NativeCurrency {
			return invalidIntent("token method cannot settle the native currency")
		}
	case protocol.MethodSwapToken, protocol.MethodSwapTokenPreApproved:
		if inputAsset == intent.RecipientCurrency {
			return invalidIntent("swap input asset equals the recipient currency")
		}
	case protocol.MethodSwapNative:
		if intent.RecipientCurrency == e.wrapped {
			return invalidIntent("swap-native input already is the wrapped recipient currency")
		}
	}
	return nil
}

// collect pulls the payer's funds to the engine's holding address and
// returns the collected amount and the asset it arrived in.
func (e *Engine) collect(tx *ledger.Tx, caller common.Address, call Call, now time.Time) (*big.Int, common.Address, error) {
	intent := &call.Intent
	switch call.Method {
	case protocol.MethodNative, protocol.MethodWrap:
		value := call.Value
		if value == nil {
			value = new(big.Int)
		}
		if err := tx.Transfer(protocol.NativeCurrency, caller, e.address, value); err != nil {
			return nil, common.Address{}, err
		}
		return new(big.Int).Set(value), protocol.NativeCurrency, nil

	case protocol.MethodSwapNative:
		value := call.Value
		if value == nil || value.Sign() <= 0 {
			return nil, common.Address{}, protocol.NewSettlementError(protocol.ErrCodeInsufficientFunds,
				"swap-native call carries no value", protocol.ErrInsufficientFunds)
		}
		if err := tx.Transfer(protocol.NativeCurrency, caller, e.address, value); err != nil {
			return nil, common.Address{}, err
		}
		// The venue trades tokens; wrap the attached value first.
		if err := tx.Wrap(e.wrapped, e.address, value); err != nil {
			return nil, common.Address{}, err
		}
		return new(big.Int).Set(value), e.wrapped, nil

	case protocol.MethodToken, protocol.MethodUnwrap, protocol.MethodSwapToken:
		asset := e.permitAsset(call)
		auth := call.Permit
		if auth == nil {
			return nil, common.Address{}, protocol.NewSettlementError(protocol.ErrCodeAuthorizationInvalid,
				"method requires a pull authorization", protocol.ErrAuthorizationInvalid)
		}
		if auth.From != caller {
			return nil, common.Address{}, protocol.NewSettlementError(protocol.ErrCodeAuthorizationInvalid,
				"authorization owner is not the caller", protocol.ErrAuthorizationInvalid)
		}
		if err := e.permits.Apply(tx, asset, auth, e.address, now); err != nil {
			return nil, common.Address{}, err
		}
		return new(big.Int).Set(auth.Value), asset, nil

	case protocol.MethodTokenPreApproved, protocol.MethodUnwrapPreApproved:
		asset := e.permitAsset(call)
		amount := intent.Total()
		if err := tx.SpendAllowance(asset, caller, e.address, amount); err != nil {
			return nil, common.Address{}, err
		}
		return amount, asset, nil

	case protocol.MethodSwapTokenPreApproved:
		// The declared ceiling is collected up front; the unconsumed
		// remainder comes back with the refund.
		if call.MaxWillingToPay == nil || call.MaxWillingToPay.Sign() <= 0 {
			return nil, common.Address{}, protocol.NewSettlementError(protocol.ErrCodeInsufficientFunds,
				"swap call declares no input ceiling", protocol.ErrInsufficientFunds)
		}
		if err := tx.SpendAllowance(call.InputAsset, caller, e.address, call.MaxWillingToPay); err != nil {
			return nil, common.Address{}, err
		}
		return new(big.Int).Set(call.MaxWillingToPay), call.InputAsset, nil
	}
	return nil, common.Address{}, invalidIntent("unknown payment method")
}

// permitAsset resolves which asset the payer's authorization covers.
func (e *Engine) permitAsset(call Call) common.Address {
	switch call.Method {
	case protocol.MethodUnwrap, protocol.MethodUnwrapPreApproved:
		return e.wrapped
	case protocol.MethodSwapToken, protocol.MethodSwapTokenPreApproved:
		return call.InputAsset
	}
	return call.Intent.RecipientCurrency
}

// convert runs the venue conversion under the payer's ceiling and reconciles
// the unconsumed input. It returns the realized contribution in the intent's
// currency and the input-side refund already paid out.
func (e *Engine) convert(ctx context.Context, tx *ledger.Tx, call Call, intent *protocol.TransferIntent,
	collected *big.Int, inputAsset, refundTo common.Address) (*big.Int, *big.Int, error) {

	ceiling := call.MaxWillingToPay
	if call.Method == protocol.MethodSwapNative {
		ceiling = call.Value
	}
	outputAsset := intent.RecipientCurrency
	if outputAsset == protocol.NativeCurrency {
		outputAsset = e.wrapped
	}

	consumed, output, err := e.adapter.Convert(ctx, tx, e.address, swap.Request{
		InputAsset:      inputAsset,
		InputAmount:     collected,
		MaxWillingToPay: ceiling,
		Route:           swap.Route{FeeTier: call.FeeTier},
		OutputAsset:     outputAsset,
		MinOutput:       intent.Total(),
	})
	if err != nil {
		return nil, nil, err
	}

	// Return the unconsumed input as part of the same unit. Swap-native
	// input went in wrapped; it comes back native.
	leftover := new(big.Int).Sub(collected, consumed)
	if leftover.Sign() > 0 {
		refundAsset := inputAsset
		if call.Method == protocol.MethodSwapNative {
			if err := tx.Unwrap(e.wrapped, e.address, leftover); err != nil {
				return nil, nil, err
			}
			refundAsset = protocol.NativeCurrency
		}
		if err := e.dist.Refund(tx, refundAsset, e.address, refundTo, leftover); err != nil {
			return nil, nil, err
		}
	}

	// A native-currency intent settles in native; unwrap the venue output.
	if intent.RecipientCurrency == protocol.NativeCurrency {
		if err := tx.Unwrap(e.wrapped, e.address, output); err != nil {
			return nil, nil, err
		}
	}
	return output, leftover, nil
}
