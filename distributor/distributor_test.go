package distributor

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
	"github.com/aaurelions/commerce-onchain-payment-protocol/ledger"
)

var (
	usdc     = common.HexToAddress("0x01")
	holding  = common.HexToAddress("0xdd")
	merchant = common.HexToAddress("0xc0")
	operator = common.HexToAddress("0x0b")
	payer    = common.HexToAddress("0xa1")
)

func TestDistribute(t *testing.T) {
	tests := []struct {
		name            string
		contribution    int64
		recipientAmount int64
		feeAmount       int64
		wantErr         error
		wantRefund      int64
	}{
		{name: "exact", contribution: 102, recipientAmount: 100, feeAmount: 2},
		{name: "surplus refunded", contribution: 110, recipientAmount: 100, feeAmount: 2, wantRefund: 8},
		{name: "zero fee", contribution: 100, recipientAmount: 100},
		{name: "shortfall", contribution: 101, recipientAmount: 100, feeAmount: 2, wantErr: protocol.ErrInsufficientFunds},
		{name: "fee only shortfall", contribution: 1, recipientAmount: 0, feeAmount: 2, wantErr: protocol.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := ledger.NewBook()
			book.Mint(usdc, holding, big.NewInt(tt.contribution))
			tx := book.Begin()

			refunded, err := New().Distribute(tx, holding, usdc,
				big.NewInt(tt.contribution), merchant, big.NewInt(tt.recipientAmount),
				operator, big.NewInt(tt.feeAmount), payer)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Distribute() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				// No movement on failure.
				if got := tx.Balance(usdc, merchant).Sign(); got != 0 {
					t.Errorf("recipient received funds on failed distribution")
				}
				return
			}

			if got := refunded.Int64(); got != tt.wantRefund {
				t.Errorf("refunded = %d, want %d", got, tt.wantRefund)
			}
			if got := tx.Balance(usdc, merchant).Int64(); got != tt.recipientAmount {
				t.Errorf("recipient balance = %d, want %d", got, tt.recipientAmount)
			}
			if got := tx.Balance(usdc, operator).Int64(); got != tt.feeAmount {
				t.Errorf("operator balance = %d, want %d", got, tt.feeAmount)
			}
			if got := tx.Balance(usdc, payer).Int64(); got != tt.wantRefund {
				t.Errorf("payer refund = %d, want %d", got, tt.wantRefund)
			}
			if got := tx.Balance(usdc, holding).Sign(); got != 0 {
				t.Errorf("holding address retained funds after distribution")
			}
		})
	}
}

func TestRefund(t *testing.T) {
	book := ledger.NewBook()
	book.Mint(usdc, holding, big.NewInt(5))
	tx := book.Begin()
	d := New()

	if err := d.Refund(tx, usdc, holding, payer, nil); err != nil {
		t.Fatalf("nil refund error = %v", err)
	}
	if err := d.Refund(tx, usdc, holding, payer, big.NewInt(0)); err != nil {
		t.Fatalf("zero refund error = %v", err)
	}
	if err := d.Refund(tx, usdc, holding, payer, big.NewInt(5)); err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if got := tx.Balance(usdc, payer).Int64(); got != 5 {
		t.Errorf("payer balance = %d, want 5", got)
	}
}
