package sigver

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
)

func testIntent(operator common.Address) *protocol.TransferIntent {
	return &protocol.TransferIntent{
		RecipientAmount:   big.NewInt(100),
		FeeAmount:         big.NewInt(2),
		Deadline:          time.Now().Add(time.Hour).Unix(),
		ID:                uuid.New(),
		Operator:          operator,
		Recipient:         common.HexToAddress("0xc0"),
		RecipientCurrency: common.HexToAddress("0x01"),
		RefundDestination: common.Address{},
	}
}

func TestSignAndRecoverIntent(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	operator := crypto.PubkeyToAddress(key.PublicKey)
	domain := Domain{ChainID: big.NewInt(8453), Contract: common.HexToAddress("0xdd")}

	tests := []struct {
		name   string
		prefix string
	}{
		{name: "raw typed data"},
		{name: "personal sign", prefix: PersonalSignPrefix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ti := testIntent(operator)
			ti.Prefix = tt.prefix

			digest, err := domain.IntentDigest(ti)
			if err != nil {
				t.Fatalf("IntentDigest() error = %v", err)
			}
			ti.Signature, err = Sign(digest, key, tt.prefix)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}

			signer, err := domain.RecoverIntentSigner(ti)
			if err != nil {
				t.Fatalf("RecoverIntentSigner() error = %v", err)
			}
			if signer != operator {
				t.Errorf("recovered %s, want %s", signer.Hex(), operator.Hex())
			}
		})
	}
}

func TestRecoverIntentSignerRejects(t *testing.T) {
	operatorKey, _ := crypto.GenerateKey()
	strangerKey, _ := crypto.GenerateKey()
	operator := crypto.PubkeyToAddress(operatorKey.PublicKey)
	domain := Domain{ChainID: big.NewInt(8453), Contract: common.HexToAddress("0xdd")}

	tests := []struct {
		name   string
		mutate func(ti *protocol.TransferIntent)
	}{
		{
			name: "signed by non-operator",
			mutate: func(ti *protocol.TransferIntent) {
				if err := domain.SignIntent(ti, strangerKey); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "field altered after signing",
			mutate: func(ti *protocol.TransferIntent) {
				if err := domain.SignIntent(ti, operatorKey); err != nil {
					t.Fatal(err)
				}
				ti.RecipientAmount = big.NewInt(999)
			},
		},
		{
			name: "wrong chain domain",
			mutate: func(ti *protocol.TransferIntent) {
				other := Domain{ChainID: big.NewInt(1), Contract: domain.Contract}
				if err := other.SignIntent(ti, operatorKey); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "wrong contract domain",
			mutate: func(ti *protocol.TransferIntent) {
				other := Domain{ChainID: domain.ChainID, Contract: common.HexToAddress("0xee")}
				if err := other.SignIntent(ti, operatorKey); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "prefix flipped after signing",
			mutate: func(ti *protocol.TransferIntent) {
				if err := domain.SignIntent(ti, operatorKey); err != nil {
					t.Fatal(err)
				}
				ti.Prefix = PersonalSignPrefix
			},
		},
		{
			name: "garbage signature",
			mutate: func(ti *protocol.TransferIntent) {
				ti.Signature = "0xdeadbeef"
			},
		},
		{
			name: "empty signature",
			mutate: func(ti *protocol.TransferIntent) {
				ti.Signature = ""
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ti := testIntent(operator)
			tt.mutate(ti)
			if _, err := domain.RecoverIntentSigner(ti); !errors.Is(err, protocol.ErrSignatureInvalid) {
				t.Errorf("RecoverIntentSigner() error = %v, want %v", err, protocol.ErrSignatureInvalid)
			}
		})
	}
}

func TestRecoverRejectsHighS(t *testing.T) {
	key, _ := crypto.GenerateKey()
	domain := Domain{ChainID: big.NewInt(8453), Contract: common.HexToAddress("0xdd")}
	ti := testIntent(crypto.PubkeyToAddress(key.PublicKey))
	if err := domain.SignIntent(ti, key); err != nil {
		t.Fatal(err)
	}

	// Flip s to its high-half complement and adjust v. The mauled signature
	// still recovers the same key under lax rules, so rejection here proves
	// the canonical-s check.
	raw := common.FromHex(ti.Signature)
	s := new(big.Int).SetBytes(raw[32:64])
	s.Sub(crypto.S256().Params().N, s)
	copy(raw[32:64], common.LeftPadBytes(s.Bytes(), 32))
	if raw[64] == 27 {
		raw[64] = 28
	} else {
		raw[64] = 27
	}
	ti.Signature = "0x" + common.Bytes2Hex(raw)

	if _, err := domain.RecoverIntentSigner(ti); !errors.Is(err, protocol.ErrSignatureInvalid) {
		t.Errorf("high-s signature error = %v, want %v", err, protocol.ErrSignatureInvalid)
	}
}
