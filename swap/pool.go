package swap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/aaurelions/commerce-onchain-payment-protocol/ledger"
)

// feeDenominator is the Uniswap V3 fee unit: tiers are expressed in
// hundredths of a basis point, so 3000 means 0.3%.
const feeDenominator = 1_000_000

type poolKey struct {
	a, b common.Address
	fee  uint32
}

func orderedKey(x, y common.Address, fee uint32) poolKey {
	if x.Cmp(y) > 0 {
		x, y = y, x
	}
	return poolKey{a: x, b: y, fee: fee}
}

// PoolVenue is a constant-product exchange venue with one pool per asset
// pair and fee tier. Reserves are held on the ledger under a per-pool
// account, so swaps participate in the caller's transaction and roll back
// with it.
type PoolVenue struct {
	book  *ledger.Book
	pools map[poolKey]common.Address
}

// NewPoolVenue returns an empty venue over the book.
func NewPoolVenue(book *ledger.Book) *PoolVenue {
	return &PoolVenue{book: book, pools: make(map[poolKey]common.Address)}
}

// AddLiquidity creates (or tops up) the pool for the pair and fee tier,
// minting the reserves to the pool's account.
func (p *PoolVenue) AddLiquidity(assetA, assetB common.Address, fee uint32, reserveA, reserveB *big.Int) {
	k := orderedKey(assetA, assetB, fee)
	acct, ok := p.pools[k]
	if !ok {
		acct = poolAccount(k)
		p.pools[k] = acct
	}
	p.book.Mint(assetA, acct, reserveA)
	p.book.Mint(assetB, acct, reserveB)
}

// poolAccount derives a stable holding address for a pool.
func poolAccount(k poolKey) common.Address {
	seed := append(append(k.a.Bytes(), k.b.Bytes()...), byte(k.fee>>16), byte(k.fee>>8), byte(k.fee))
	return common.BytesToAddress(crypto.Keccak256(seed)[12:])
}

func (p *PoolVenue) reserves(tx *ledger.Tx, route Route, input, output common.Address) (acct common.Address, reserveIn, reserveOut *big.Int, err error) {
	acct, ok := p.pools[orderedKey(input, output, route.FeeTier)]
	if !ok {
		return common.Address{}, nil, nil, fmt.Errorf("swap: no pool for pair at fee tier %d", route.FeeTier)
	}
	reserveIn = tx.Balance(input, acct)
	reserveOut = tx.Balance(output, acct)
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return common.Address{}, nil, nil, fmt.Errorf("swap: pool has no liquidity")
	}
	return acct, reserveIn, reserveOut, nil
}

// Quote returns the input amount required to realize targetOutput:
// reserveIn * targetOutput * 1e6 / ((reserveOut - targetOutput) * (1e6 - fee)),
// rounded up.
func (p *PoolVenue) Quote(ctx context.Context, tx *ledger.Tx, route Route, input, output common.Address, targetOutput *big.Int) (*big.Int, error) {
	_, reserveIn, reserveOut, err := p.reserves(tx, route, input, output)
	if err != nil {
		return nil, err
	}
	if targetOutput == nil || targetOutput.Sign() <= 0 || targetOutput.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("swap: target output exceeds pool liquidity")
	}
	num := new(big.Int).Mul(reserveIn, targetOutput)
	num.Mul(num, big.NewInt(feeDenominator))
	den := new(big.Int).Sub(reserveOut, targetOutput)
	den.Mul(den, big.NewInt(feeDenominator-int64(route.FeeTier)))
	required := num.Div(num, den)
	return required.Add(required, big.NewInt(1)), nil
}

// SwapExactInput converts amountIn of input into output for the
// counterparty: out = inWithFee * reserveOut / (reserveIn * 1e6 + inWithFee)
// with inWithFee = amountIn * (1e6 - fee). The input moves to the pool and
// the output to the counterparty inside the transaction.
func (p *PoolVenue) SwapExactInput(ctx context.Context, tx *ledger.Tx, counterparty common.Address, route Route, input common.Address, amountIn *big.Int, output common.Address, minOutput *big.Int) (*big.Int, error) {
	acct, reserveIn, reserveOut, err := p.reserves(tx, route, input, output)
	if err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("swap: non-positive input amount")
	}
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(feeDenominator-int64(route.FeeTier)))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(feeDenominator))
	den.Add(den, inWithFee)
	out := num.Div(num, den)
	if minOutput != nil && out.Cmp(minOutput) < 0 {
		return nil, fmt.Errorf("swap: realized output %s below minimum %s", out, minOutput)
	}
	if err := tx.Transfer(input, counterparty, acct, amountIn); err != nil {
		return nil, err
	}
	if err := tx.Transfer(output, acct, counterparty, out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ Venue = (*PoolVenue)(nil)
