package forwarder

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
	"github.com/aaurelions/commerce-onchain-payment-protocol/engine"
	"github.com/aaurelions/commerce-onchain-payment-protocol/ledger"
)

var (
	engineAddr = common.HexToAddress("0xdd")
	merchant   = common.HexToAddress("0xc0")
)

type fixture struct {
	book     *ledger.Book
	eng      *engine.Engine
	fwd      *Forwarder
	opKey    *ecdsa.PrivateKey
	operator common.Address
	payerKey *ecdsa.PrivateKey
	payer    common.Address
	events   []protocol.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	opKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	payerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{
		book:     ledger.NewBook(),
		opKey:    opKey,
		operator: crypto.PubkeyToAddress(opKey.PublicKey),
		payerKey: payerKey,
		payer:    crypto.PubkeyToAddress(payerKey.PublicKey),
	}
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	f.eng = engine.New(f.book, nil, engine.Config{
		ChainID:       big.NewInt(8453),
		Address:       engineAddr,
		WrappedNative: common.HexToAddress("0x02"),
		Pauser:        common.HexToAddress("0x10"),
		Sweeper:       common.HexToAddress("0x11"),
		Logger:        log,
	})
	f.fwd = New(f.eng, Config{
		Logger:  log,
		OnEvent: func(ev protocol.Event) { f.events = append(f.events, ev) },
	})
	return f
}

func (f *fixture) intent(t *testing.T, amount, fee int64) protocol.TransferIntent {
	t.Helper()
	ti := protocol.TransferIntent{
		RecipientAmount:   big.NewInt(amount),
		FeeAmount:         big.NewInt(fee),
		Deadline:          time.Now().Add(time.Hour).Unix(),
		Recipient:         merchant,
		RecipientCurrency: protocol.NativeCurrency,
		ID:                uuid.New(),
		Operator:          f.operator,
	}
	require.NoError(t, f.eng.Domain().SignIntent(&ti, f.opKey))
	return ti
}

func (f *fixture) envelope(t *testing.T, nonce uint64, call engine.Call) Envelope {
	t.Helper()
	payload, err := json.Marshal(call)
	require.NoError(t, err)
	env := Envelope{
		From:     f.payer,
		Nonce:    nonce,
		Deadline: time.Now().Add(time.Hour).Unix(),
		Call:     payload,
	}
	require.NoError(t, Sign(f.eng.Domain(), &env, f.payerKey))
	return env
}

func TestRelayedCallSettlesAsTheSigner(t *testing.T) {
	f := newFixture(t)
	f.book.Mint(protocol.NativeCurrency, f.payer, big.NewInt(110))
	ti := f.intent(t, 100, 2)
	env := f.envelope(t, 0, engine.Call{Method: protocol.MethodNative, Intent: ti, Value: big.NewInt(110)})

	require.NoError(t, f.fwd.Execute(context.Background(), env))

	// Settlement debits the signer and the surplus comes back to the
	// signer, exactly as if the signer had called directly.
	require.EqualValues(t, 100, f.book.Balance(protocol.NativeCurrency, merchant).Int64())
	require.EqualValues(t, 2, f.book.Balance(protocol.NativeCurrency, f.operator).Int64())
	require.EqualValues(t, 8, f.book.Balance(protocol.NativeCurrency, f.payer).Int64())
	require.EqualValues(t, 1, f.book.RelayNonce(f.payer))

	require.Len(t, f.events, 1)
	require.Equal(t, protocol.EventNonceUsed, f.events[0].Type)
	require.Equal(t, f.payer, f.events[0].Signer)
	require.EqualValues(t, 0, f.events[0].Nonce)
}

func TestDuplicateEnvelopeRejected(t *testing.T) {
	f := newFixture(t)
	f.book.Mint(protocol.NativeCurrency, f.payer, big.NewInt(300))
	ti := f.intent(t, 100, 2)
	env := f.envelope(t, 0, engine.Call{Method: protocol.MethodNative, Intent: ti, Value: big.NewInt(102)})

	require.NoError(t, f.fwd.Execute(context.Background(), env))
	require.ErrorIs(t, f.fwd.Execute(context.Background(), env), protocol.ErrNonceInvalid)
	require.EqualValues(t, 1, f.book.RelayNonce(f.payer))
}

func TestNonceUntouchedOnAbortedCall(t *testing.T) {
	f := newFixture(t)
	// No funding: the relayed settlement fails inside the engine.
	ti := f.intent(t, 100, 2)
	env := f.envelope(t, 0, engine.Call{Method: protocol.MethodNative, Intent: ti, Value: big.NewInt(102)})

	require.ErrorIs(t, f.fwd.Execute(context.Background(), env), protocol.ErrInsufficientFunds)
	require.EqualValues(t, 0, f.book.RelayNonce(f.payer))
	require.False(t, f.book.IntentUsed(f.operator, ti.ID))

	// The identical envelope is still valid once the signer is funded.
	f.book.Mint(protocol.NativeCurrency, f.payer, big.NewInt(102))
	require.NoError(t, f.fwd.Execute(context.Background(), env))
	require.EqualValues(t, 1, f.book.RelayNonce(f.payer))
}

func TestStaleAndFutureNonces(t *testing.T) {
	f := newFixture(t)
	f.book.Mint(protocol.NativeCurrency, f.payer, big.NewInt(500))

	env := f.envelope(t, 3, engine.Call{Method: protocol.MethodNative, Intent: f.intent(t, 100, 2), Value: big.NewInt(102)})
	require.ErrorIs(t, f.fwd.Execute(context.Background(), env), protocol.ErrNonceInvalid)
	require.EqualValues(t, 0, f.book.RelayNonce(f.payer))
}

func TestExpiredEnvelope(t *testing.T) {
	f := newFixture(t)
	ti := f.intent(t, 100, 2)
	payload, err := json.Marshal(engine.Call{Method: protocol.MethodNative, Intent: ti, Value: big.NewInt(102)})
	require.NoError(t, err)
	env := Envelope{
		From:     f.payer,
		Nonce:    0,
		Deadline: time.Now().Add(-time.Minute).Unix(),
		Call:     payload,
	}
	require.NoError(t, Sign(f.eng.Domain(), &env, f.payerKey))

	require.ErrorIs(t, f.fwd.Execute(context.Background(), env), protocol.ErrIntentExpired)
}

func TestTamperedEnvelopeRejected(t *testing.T) {
	f := newFixture(t)
	f.book.Mint(protocol.NativeCurrency, f.payer, big.NewInt(300))
	ti := f.intent(t, 100, 2)

	t.Run("signed by someone else", func(t *testing.T) {
		payload, err := json.Marshal(engine.Call{Method: protocol.MethodNative, Intent: ti, Value: big.NewInt(102)})
		require.NoError(t, err)
		stranger, err := crypto.GenerateKey()
		require.NoError(t, err)
		env := Envelope{From: f.payer, Nonce: 0, Deadline: time.Now().Add(time.Hour).Unix(), Call: payload}
		require.NoError(t, Sign(f.eng.Domain(), &env, stranger))

		require.ErrorIs(t, f.fwd.Execute(context.Background(), env), protocol.ErrUnauthorized)
	})

	t.Run("payload swapped after signing", func(t *testing.T) {
		env := f.envelope(t, 0, engine.Call{Method: protocol.MethodNative, Intent: ti, Value: big.NewInt(102)})
		other, err := json.Marshal(engine.Call{Method: protocol.MethodNative, Intent: ti, Value: big.NewInt(300)})
		require.NoError(t, err)
		env.Call = other

		require.ErrorIs(t, f.fwd.Execute(context.Background(), env), protocol.ErrUnauthorized)
	})

	t.Run("undecodable payload", func(t *testing.T) {
		env := Envelope{From: f.payer, Nonce: 0, Deadline: time.Now().Add(time.Hour).Unix(), Call: json.RawMessage(`"not a call"`)}
		require.NoError(t, Sign(f.eng.Domain(), &env, f.payerKey))

		require.ErrorIs(t, f.fwd.Execute(context.Background(), env), protocol.ErrUnauthorized)
	})

	// Nothing above advanced the nonce or touched balances.
	require.EqualValues(t, 0, f.book.RelayNonce(f.payer))
	require.EqualValues(t, 300, f.book.Balance(protocol.NativeCurrency, f.payer).Int64())
}
