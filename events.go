package protocol

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventType represents the type of settlement event.
type EventType string

const (
	// EventPaymentCompleted indicates a settlement reached its terminal
	// Completed state. Effects are durable only once this event is emitted.
	EventPaymentCompleted EventType = "payment_completed"

	// EventNonceUsed indicates a relayed call consumed a signer nonce.
	EventNonceUsed EventType = "nonce_used"
)

// Event is the success record emitted by the engine and the forwarder.
// No events are emitted on abort.
type Event struct {
	// Type is the event type.
	Type EventType

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// Method is the payment method of the completed settlement.
	Method PaymentMethod

	// Operator is the intent's operator.
	Operator common.Address

	// ID is the intent id, scoped to the operator.
	ID uuid.UUID

	// Payer is the effective caller that funded the settlement.
	Payer common.Address

	// Recipient received exactly RecipientAmount of the recipient currency.
	Recipient common.Address

	// RecipientCurrency is the asset paid to the recipient and operator.
	RecipientCurrency common.Address

	// RecipientAmount is the exact amount paid to the recipient.
	RecipientAmount *big.Int

	// FeeAmount is the exact amount paid to the operator.
	FeeAmount *big.Int

	// SpentCurrency is the asset the payer supplied. Equal to
	// RecipientCurrency for non-swap methods.
	SpentCurrency common.Address

	// SpentAmount is what the payer supplied before refunds.
	SpentAmount *big.Int

	// Refunded is the surplus returned to the refund destination, in
	// SpentCurrency units for swaps and RecipientCurrency otherwise.
	Refunded *big.Int

	// Signer is the envelope signer for nonce_used events.
	Signer common.Address

	// Nonce is the consumed nonce for nonce_used events.
	Nonce uint64

	// Duration is the time taken by the settlement call.
	Duration time.Duration
}

// EventCallback is a function that handles settlement events. Callbacks are
// invoked synchronously inside the settlement call, after the call's effects
// have committed, so they should be fast to avoid blocking the flow.
type EventCallback func(Event)
