// Package registry is the sole source of replay protection: it tracks which
// intent ids and which relayed-call nonces have been consumed. Both records
// are monotonic (marked consumed or incremented, never unmarked) and live
// forever; that permanence is the cost of replay safety.
//
// All writes go through a ledger transaction, so a consumed mark made inside
// an aborted call vanishes with the abort: a retried call with the same id
// still sees "not yet used".
package registry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
)

// State is the slice of ledger transaction the registry is allowed to touch.
// Nothing else writes these records.
type State interface {
	IntentUsed(operator common.Address, id uuid.UUID) bool
	MarkIntentUsed(operator common.Address, id uuid.UUID)
	RelayNonce(signer common.Address) uint64
	SetRelayNonce(signer common.Address, n uint64)
}

// Registry implements intent-id and relayed-nonce consumption over a ledger
// transaction.
type Registry struct{}

// New returns a Registry.
func New() *Registry {
	return &Registry{}
}

// ConsumeIntent atomically checks and marks the (operator, id) pair.
// Uniqueness is scoped per operator: the same id under a different operator
// is an independent intent. A reentrant call inside the same transaction
// observes the pending mark and fails.
func (r *Registry) ConsumeIntent(st State, operator common.Address, id uuid.UUID) error {
	if st.IntentUsed(operator, id) {
		return protocol.NewSettlementError(protocol.ErrCodeIntentAlreadyUsed,
			fmt.Sprintf("intent %s already used by operator %s", id, operator.Hex()),
			protocol.ErrIntentAlreadyUsed)
	}
	st.MarkIntentUsed(operator, id)
	return nil
}

// ConsumeNonce requires the provided nonce to equal the signer's next
// expected nonce and increments it by exactly one. Out-of-order or repeated
// nonces are rejected, never queued.
func (r *Registry) ConsumeNonce(st State, signer common.Address, provided uint64) error {
	expected := st.RelayNonce(signer)
	if provided != expected {
		return protocol.NewSettlementError(protocol.ErrCodeNonceInvalid,
			fmt.Sprintf("nonce %d does not match expected %d for signer %s", provided, expected, signer.Hex()),
			protocol.ErrNonceInvalid)
	}
	st.SetRelayNonce(signer, expected+1)
	return nil
}
