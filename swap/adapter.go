// Package swap is a facade over an external exchange venue. The Adapter
// quotes the input cost of reaching a target output, enforces the payer's
// ceiling, requests the conversion, and maps every venue failure mode
// (error return, panic, short or malformed output) uniformly to
// ErrSwapFailed. The adapter never retries and never retains funds; the
// caller reconciles unspent input within the same atomic unit.
package swap

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
	"github.com/aaurelions/commerce-onchain-payment-protocol/ledger"
)

// Route is the venue-specific route descriptor: a fee tier selecting a
// liquidity pool, in hundredths of a basis point (500, 3000, 10000).
// Multi-hop path encoding is a later protocol version.
type Route struct {
	FeeTier uint32 `json:"feeTier"`
}

// Request describes one conversion. MinOutput is derived from the intent
// (recipient amount plus fee); MaxWillingToPay is the payer-supplied ceiling
// on input cost.
type Request struct {
	InputAsset      common.Address
	InputAmount     *big.Int
	MaxWillingToPay *big.Int
	Route           Route
	OutputAsset     common.Address
	MinOutput       *big.Int
}

// Venue is the external exchange router. Quote returns the input required to
// realize targetOutput; SwapExactInput performs the conversion, debiting the
// counterparty's input and crediting its output inside the transaction.
// Either may fail, and a hostile venue may attempt to re-enter the engine.
type Venue interface {
	Quote(ctx context.Context, tx *ledger.Tx, route Route, input, output common.Address, targetOutput *big.Int) (*big.Int, error)
	SwapExactInput(ctx context.Context, tx *ledger.Tx, counterparty common.Address, route Route, input common.Address, amountIn *big.Int, output common.Address, minOutput *big.Int) (*big.Int, error)
}

// Adapter wraps a Venue for the settlement engine.
type Adapter struct {
	venue Venue
}

// NewAdapter returns an Adapter over the venue.
func NewAdapter(venue Venue) *Adapter {
	return &Adapter{venue: venue}
}

func swapFailed(message string) error {
	return protocol.NewSettlementError(protocol.ErrCodeSwapFailed, message, protocol.ErrSwapFailed)
}

// Convert realizes at least req.MinOutput of the output asset for the
// holder, spending at most req.MaxWillingToPay (and never more than the
// collected req.InputAmount) of the input asset. It returns the input
// consumed and the output realized; the unconsumed input remainder stays
// with the holder for the caller to refund.
func (a *Adapter) Convert(ctx context.Context, tx *ledger.Tx, holder common.Address, req Request) (consumed, output *big.Int, err error) {
	// A reverting venue surfaces as a panic in this execution model; treat
	// it like every other venue failure.
	defer func() {
		if r := recover(); r != nil {
			consumed, output = nil, nil
			err = swapFailed("venue call reverted")
		}
	}()

	required, err := a.venue.Quote(ctx, tx, req.Route, req.InputAsset, req.OutputAsset, req.MinOutput)
	if err != nil || required == nil || required.Sign() <= 0 {
		return nil, nil, swapFailed("venue could not quote the conversion")
	}
	ceiling := req.MaxWillingToPay
	if ceiling == nil || required.Cmp(ceiling) > 0 || required.Cmp(req.InputAmount) > 0 {
		return nil, nil, protocol.NewSettlementError(protocol.ErrCodeSlippageExceeded,
			"required input exceeds the payer's ceiling", protocol.ErrSlippageExceeded).
			WithDetails("required", required.String())
	}

	out, err := a.venue.SwapExactInput(ctx, tx, holder, req.Route, req.InputAsset, required, req.OutputAsset, req.MinOutput)
	if err != nil {
		return nil, nil, swapFailed("venue swap failed")
	}
	if out == nil || out.Cmp(req.MinOutput) < 0 {
		return nil, nil, swapFailed("venue returned less than the minimum output")
	}
	return required, out, nil
}
