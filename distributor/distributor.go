// Package distributor moves exact amounts between settlement parties. The
// recipient receives exactly the recipient amount and the operator exactly
// the fee, never more and never less. A contribution that cannot cover both is
// an error, not a partial payment.
package distributor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
	"github.com/aaurelions/commerce-onchain-payment-protocol/ledger"
)

// Distributor pays out a collected contribution from the engine's holding
// address.
type Distributor struct{}

// New returns a Distributor.
func New() *Distributor {
	return &Distributor{}
}

// Distribute pays recipientAmount to the recipient and feeAmount to the
// operator out of the contribution held at from, and returns the surplus
// sent to refundTo. A shortfall fails with ErrInsufficientFunds before any
// movement. A zero surplus attempts no refund transfer.
func (d *Distributor) Distribute(tx *ledger.Tx, from common.Address, currency common.Address,
	contribution *big.Int, recipient common.Address, recipientAmount *big.Int,
	operator common.Address, feeAmount *big.Int, refundTo common.Address) (*big.Int, error) {

	if feeAmount == nil {
		feeAmount = new(big.Int)
	}
	owed := new(big.Int).Add(recipientAmount, feeAmount)
	if contribution == nil || contribution.Cmp(owed) < 0 {
		return nil, protocol.NewSettlementError(protocol.ErrCodeInsufficientFunds,
			fmt.Sprintf("contribution %s below owed %s", contribution, owed),
			protocol.ErrInsufficientFunds)
	}
	if err := tx.Transfer(currency, from, recipient, recipientAmount); err != nil {
		return nil, err
	}
	if feeAmount.Sign() > 0 {
		if err := tx.Transfer(currency, from, operator, feeAmount); err != nil {
			return nil, err
		}
	}
	refunded := new(big.Int).Sub(contribution, owed)
	if refunded.Sign() > 0 {
		if err := tx.Transfer(currency, from, refundTo, refunded); err != nil {
			return nil, err
		}
	}
	return refunded, nil
}

// Refund returns amount of asset from the engine's holding address to the
// refund destination. The engine uses it for unconsumed swap input, which is
// a different currency than the payout. Zero amounts attempt no transfer.
func (d *Distributor) Refund(tx *ledger.Tx, asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	return tx.Transfer(asset, from, to, amount)
}
