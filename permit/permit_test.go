package permit

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
	"github.com/aaurelions/commerce-onchain-payment-protocol/ledger"
)

var (
	usdc      = common.HexToAddress("0x01")
	engineAdr = common.HexToAddress("0xdd")
)

func TestApply(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	v := Verifier{ChainID: big.NewInt(8453)}
	now := time.Now()

	newAuth := func(t *testing.T) *Authorization {
		t.Helper()
		auth, err := New(owner, engineAdr, big.NewInt(40), time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		if err := v.Sign(usdc, auth, key); err != nil {
			t.Fatal(err)
		}
		return auth
	}

	t.Run("valid pull moves funds and burns the nonce", func(t *testing.T) {
		book := ledger.NewBook()
		book.Mint(usdc, owner, big.NewInt(100))
		tx := book.Begin()
		auth := newAuth(t)

		if err := v.Apply(tx, usdc, auth, engineAdr, now); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if got := tx.Balance(usdc, engineAdr).Int64(); got != 40 {
			t.Errorf("engine balance = %d, want 40", got)
		}
		if err := v.Apply(tx, usdc, auth, engineAdr, now); !errors.Is(err, protocol.ErrAuthorizationInvalid) {
			t.Errorf("nonce reuse error = %v, want %v", err, protocol.ErrAuthorizationInvalid)
		}
	})

	t.Run("insufficient owner balance", func(t *testing.T) {
		book := ledger.NewBook()
		book.Mint(usdc, owner, big.NewInt(39))
		tx := book.Begin()

		if err := v.Apply(tx, usdc, newAuth(t), engineAdr, now); !errors.Is(err, protocol.ErrInsufficientFunds) {
			t.Errorf("Apply() error = %v, want %v", err, protocol.ErrInsufficientFunds)
		}
	})

	invalid := []struct {
		name   string
		mutate func(t *testing.T, auth *Authorization)
		at     time.Time
	}{
		{
			name: "wrong destination",
			mutate: func(t *testing.T, auth *Authorization) {
				auth.To = common.HexToAddress("0xbad")
			},
			at: now,
		},
		{
			name: "not yet valid",
			mutate: func(t *testing.T, auth *Authorization) {
				auth.ValidAfter = big.NewInt(now.Add(time.Minute).Unix())
				if err := v.Sign(usdc, auth, key); err != nil {
					t.Fatal(err)
				}
			},
			at: now,
		},
		{
			name:   "expired window",
			mutate: func(t *testing.T, auth *Authorization) {},
			at:     now.Add(2 * time.Hour),
		},
		{
			name: "tampered value",
			mutate: func(t *testing.T, auth *Authorization) {
				auth.Value = big.NewInt(41)
			},
			at: now,
		},
		{
			name: "signed for another asset",
			mutate: func(t *testing.T, auth *Authorization) {
				if err := v.Sign(common.HexToAddress("0x02"), auth, key); err != nil {
					t.Fatal(err)
				}
			},
			at: now,
		},
		{
			name: "signed by non-owner",
			mutate: func(t *testing.T, auth *Authorization) {
				stranger, err := crypto.GenerateKey()
				if err != nil {
					t.Fatal(err)
				}
				if err := v.Sign(usdc, auth, stranger); err != nil {
					t.Fatal(err)
				}
			},
			at: now,
		},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			book := ledger.NewBook()
			book.Mint(usdc, owner, big.NewInt(100))
			tx := book.Begin()
			auth := newAuth(t)
			tt.mutate(t, auth)

			if err := v.Apply(tx, usdc, auth, engineAdr, tt.at); !errors.Is(err, protocol.ErrAuthorizationInvalid) {
				t.Errorf("Apply() error = %v, want %v", err, protocol.ErrAuthorizationInvalid)
			}
			if got := tx.Balance(usdc, engineAdr).Sign(); got != 0 {
				t.Errorf("engine received funds from a rejected authorization")
			}
		})
	}

	t.Run("nil authorization", func(t *testing.T) {
		tx := ledger.NewBook().Begin()
		if err := v.Apply(tx, usdc, nil, engineAdr, now); !errors.Is(err, protocol.ErrAuthorizationInvalid) {
			t.Errorf("Apply() error = %v, want %v", err, protocol.ErrAuthorizationInvalid)
		}
	})
}
