// Package protocol implements a signed-intent payment settlement protocol.
//
// An operator pre-authorizes exact payment terms off-line by signing a
// TransferIntent. A payer later fulfills those terms on-line through one of
// the settlement engine's entry points, optionally converting from an
// arbitrary input currency through an external exchange venue. Each call
// either completes exactly as the intent specifies or has no effect at all.
//
// This package holds the shared data model, error taxonomy, and event types.
// The moving parts live in subpackages: sigver (signature recovery), ledger
// (the transactional state store), registry (replay protection), permit
// (gasless pull authorizations), swap (venue adapter), distributor (exact
// fund movement), engine (the orchestrator), and forwarder (meta-transaction
// relaying).
package protocol

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// NativeCurrency is the sentinel asset identity for the chain's native asset.
var NativeCurrency = common.Address{}

// PaymentMethod identifies how the payer funds a settlement call. Each entry
// point of the engine corresponds to exactly one method.
type PaymentMethod string

const (
	// MethodNative settles with native currency attached to the call.
	MethodNative PaymentMethod = "native"

	// MethodToken settles with tokens pulled via a gasless authorization.
	MethodToken PaymentMethod = "token"

	// MethodTokenPreApproved settles with tokens pulled via a standing allowance.
	MethodTokenPreApproved PaymentMethod = "token_pre_approved"

	// MethodWrap wraps attached native currency and settles in the wrapped asset.
	MethodWrap PaymentMethod = "wrap"

	// MethodUnwrap pulls wrapped-native tokens via a gasless authorization,
	// unwraps them, and settles in native currency.
	MethodUnwrap PaymentMethod = "unwrap"

	// MethodUnwrapPreApproved is MethodUnwrap with a standing allowance.
	MethodUnwrapPreApproved PaymentMethod = "unwrap_pre_approved"

	// MethodSwapNative converts attached native currency through the exchange
	// venue into the intent's currency before settling.
	MethodSwapNative PaymentMethod = "swap_native"

	// MethodSwapToken converts tokens pulled via a gasless authorization.
	MethodSwapToken PaymentMethod = "swap_token"

	// MethodSwapTokenPreApproved converts tokens pulled via a standing allowance.
	MethodSwapTokenPreApproved PaymentMethod = "swap_token_pre_approved"
)

// Valid reports whether m is a member of the closed method set.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodNative, MethodToken, MethodTokenPreApproved,
		MethodWrap, MethodUnwrap, MethodUnwrapPreApproved,
		MethodSwapNative, MethodSwapToken, MethodSwapTokenPreApproved:
		return true
	}
	return false
}

// Converts reports whether the method runs a currency conversion step.
func (m PaymentMethod) Converts() bool {
	switch m {
	case MethodSwapNative, MethodSwapToken, MethodSwapTokenPreApproved:
		return true
	}
	return false
}

// TransferIntent is the signed, immutable statement of payment terms authored
// by an operator. The signature covers every field except Signature and
// Prefix itself; any bit-level change to a covered field invalidates it.
type TransferIntent struct {
	// RecipientAmount is the exact quantity of RecipientCurrency owed to the
	// recipient. Must be positive.
	RecipientAmount *big.Int `json:"recipientAmount"`

	// Deadline is the latest execution time, inclusive, in unix seconds.
	Deadline int64 `json:"deadline"`

	// Recipient is the destination identity for the settlement.
	Recipient common.Address `json:"recipient"`

	// RecipientCurrency is the asset the recipient must receive.
	// NativeCurrency denotes the chain's native asset.
	RecipientCurrency common.Address `json:"recipientCurrency"`

	// RefundDestination receives any surplus. The zero address means the
	// surplus goes back to the payer.
	RefundDestination common.Address `json:"refundDestination"`

	// FeeAmount is the quantity of RecipientCurrency owed to the operator.
	// May be zero. RecipientAmount + FeeAmount is the total the engine must
	// source.
	FeeAmount *big.Int `json:"feeAmount"`

	// ID scopes replay protection. Uniqueness is enforced per operator, not
	// globally: the same ID under a different operator is an independent,
	// valid intent.
	ID uuid.UUID `json:"id"`

	// Operator is the identity of the facilitating operator and must match
	// the intent's signer.
	Operator common.Address `json:"operator"`

	// Signature is the operator's 65-byte hex-encoded signature.
	Signature string `json:"signature"`

	// Prefix selects an alternate message-hashing convention for
	// compatibility with signing clients that wrap digests EIP-191 style.
	// Empty means the typed-data digest is signed directly.
	Prefix string `json:"prefix,omitempty"`
}

// Total returns RecipientAmount + FeeAmount, the quantity of
// RecipientCurrency the engine must source for the intent. A nil FeeAmount
// counts as zero.
func (ti *TransferIntent) Total() *big.Int {
	total := new(big.Int)
	if ti.RecipientAmount != nil {
		total.Set(ti.RecipientAmount)
	}
	if ti.FeeAmount != nil {
		total.Add(total, ti.FeeAmount)
	}
	return total
}

// RefundTo resolves the surplus destination, defaulting to the payer when no
// explicit refund destination is set.
func (ti *TransferIntent) RefundTo(payer common.Address) common.Address {
	if ti.RefundDestination == (common.Address{}) {
		return payer
	}
	return ti.RefundDestination
}

// Expired reports whether the intent's deadline has passed at the given time.
// The deadline is inclusive: an intent executing exactly at its deadline is
// still valid.
func (ti *TransferIntent) Expired(now time.Time) bool {
	return now.Unix() > ti.Deadline
}

// Validate performs structural validation of the intent's covered fields.
// Signature validity is the sigver package's concern; this only rejects
// intents that could never settle.
func (ti *TransferIntent) Validate() error {
	if ti.Recipient == (common.Address{}) {
		return NewSettlementError(ErrCodeInvalidIntent, "intent recipient cannot be the zero address", ErrInvalidIntent)
	}
	if ti.Operator == (common.Address{}) {
		return NewSettlementError(ErrCodeInvalidIntent, "intent operator cannot be the zero address", ErrInvalidIntent)
	}
	if ti.RecipientAmount == nil || ti.RecipientAmount.Sign() <= 0 {
		return NewSettlementError(ErrCodeInvalidIntent, "intent recipient amount must be positive", ErrInvalidIntent)
	}
	if ti.FeeAmount != nil && ti.FeeAmount.Sign() < 0 {
		return NewSettlementError(ErrCodeInvalidIntent, "intent fee amount cannot be negative", ErrInvalidIntent)
	}
	return nil
}
