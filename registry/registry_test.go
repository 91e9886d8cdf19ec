package registry

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
	"github.com/aaurelions/commerce-onchain-payment-protocol/ledger"
)

func TestConsumeIntent(t *testing.T) {
	opA := common.HexToAddress("0x0a")
	opB := common.HexToAddress("0x0b")
	id := uuid.New()

	reg := New()
	book := ledger.NewBook()
	tx := book.Begin()

	if err := reg.ConsumeIntent(tx, opA, id); err != nil {
		t.Fatalf("first ConsumeIntent() error = %v", err)
	}
	if err := reg.ConsumeIntent(tx, opA, id); !errors.Is(err, protocol.ErrIntentAlreadyUsed) {
		t.Fatalf("replay error = %v, want %v", err, protocol.ErrIntentAlreadyUsed)
	}
	// The same id under a different operator is a distinct intent.
	if err := reg.ConsumeIntent(tx, opB, id); err != nil {
		t.Fatalf("other-operator ConsumeIntent() error = %v", err)
	}
	tx.Commit()

	tx2 := book.Begin()
	if err := reg.ConsumeIntent(tx2, opA, id); !errors.Is(err, protocol.ErrIntentAlreadyUsed) {
		t.Errorf("replay across transactions error = %v, want %v", err, protocol.ErrIntentAlreadyUsed)
	}
}

func TestConsumeNonce(t *testing.T) {
	signer := common.HexToAddress("0xa1")

	tests := []struct {
		name     string
		current  uint64
		provided uint64
		wantErr  error
		wantNext uint64
	}{
		{name: "matches", current: 0, provided: 0, wantNext: 1},
		{name: "matches later", current: 5, provided: 5, wantNext: 6},
		{name: "stale", current: 5, provided: 4, wantErr: protocol.ErrNonceInvalid, wantNext: 5},
		{name: "ahead", current: 5, provided: 6, wantErr: protocol.ErrNonceInvalid, wantNext: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New()
			book := ledger.NewBook()
			tx := book.Begin()
			tx.SetRelayNonce(signer, tt.current)

			err := reg.ConsumeNonce(tx, signer, tt.provided)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ConsumeNonce() error = %v, want %v", err, tt.wantErr)
			}
			if got := tx.RelayNonce(signer); got != tt.wantNext {
				t.Errorf("nonce after = %d, want %d", got, tt.wantNext)
			}
		})
	}
}
