// Package forwarder lets any settlement entry point be invoked on behalf of
// a signer without the signer submitting the call itself. A relayer submits
// a signed envelope; the forwarder verifies the signature, consumes the
// signer's nonce, and re-enters the engine with the caller identity
// overridden to the signer for the duration of that nested call. Every
// downstream check observes the signer, never the relayer.
//
// The forwarder imposes no opinion on relayer compensation; that is an
// out-of-band arrangement between signer and relayer.
package forwarder

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sirupsen/logrus"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
	"github.com/aaurelions/commerce-onchain-payment-protocol/engine"
	"github.com/aaurelions/commerce-onchain-payment-protocol/ledger"
	"github.com/aaurelions/commerce-onchain-payment-protocol/registry"
	"github.com/aaurelions/commerce-onchain-payment-protocol/sigver"
)

// Envelope is a relayed call: the signer, the signer-scoped nonce, the
// opaque call payload, a deadline, and a signature over all of the above.
// It is not persisted beyond the nonce's consumption record.
type Envelope struct {
	From      common.Address  `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Deadline  int64           `json:"deadline"`
	Call      json.RawMessage `json:"call"`
	Signature string          `json:"signature"`
}

// Config wires a Forwarder.
type Config struct {
	Logger  *logrus.Logger
	OnEvent protocol.EventCallback
	Now     func() time.Time
}

// Forwarder verifies envelopes and dispatches them into the engine.
type Forwarder struct {
	eng     *engine.Engine
	reg     *registry.Registry
	log     *logrus.Logger
	onEvent protocol.EventCallback
	now     func() time.Time
}

// New builds a Forwarder in front of the engine.
func New(eng *engine.Engine, cfg Config) *Forwarder {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Forwarder{
		eng:     eng,
		reg:     registry.New(),
		log:     log,
		onEvent: cfg.OnEvent,
		now:     now,
	}
}

var envelopeTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"ForwardRequest": []apitypes.Type{
		{Name: "from", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "data", Type: "bytes"},
	},
}

// Digest computes the EIP-712 digest of the envelope under the engine's
// signature domain, covering every field but the signature.
func Digest(domain sigver.Domain, env *Envelope) ([]byte, error) {
	td := apitypes.TypedData{
		Types:       envelopeTypes,
		PrimaryType: "ForwardRequest",
		Domain: apitypes.TypedDataDomain{
			Name:              "MetaTxForwarder",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.Contract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":     env.From.Hex(),
			"nonce":    (*math.HexOrDecimal256)(new(big.Int).SetUint64(env.Nonce)),
			"deadline": (*math.HexOrDecimal256)(big.NewInt(env.Deadline)),
			"data":     "0x" + hex.EncodeToString(env.Call),
		},
	}
	return sigver.TypedDataDigest(td)
}

// Sign signs the envelope in place. Relayer tooling and tests produce
// envelopes; the forwarder only verifies them.
func Sign(domain sigver.Domain, env *Envelope, key *ecdsa.PrivateKey) error {
	digest, err := Digest(domain, env)
	if err != nil {
		return err
	}
	sig, err := sigver.Sign(digest, key, "")
	if err != nil {
		return err
	}
	env.Signature = sig
	return nil
}

// Execute verifies the envelope and invokes the wrapped entry point with the
// effective caller overridden to the envelope's signer. The signer's nonce
// is consumed inside the nested call's transaction, so it advances by
// exactly one on success and not at all on abort.
func (f *Forwarder) Execute(ctx context.Context, env Envelope) error {
	if f.now().Unix() > env.Deadline {
		return protocol.NewSettlementError(protocol.ErrCodeIntentExpired,
			"relayed-call deadline has passed", protocol.ErrIntentExpired)
	}

	digest, err := Digest(f.eng.Domain(), &env)
	if err != nil {
		return protocol.NewSettlementError(protocol.ErrCodeUnauthorized,
			"failed to compute envelope digest", protocol.ErrUnauthorized)
	}
	signer, err := sigver.Recover(digest, env.Signature, "")
	if err != nil || signer != env.From {
		return protocol.NewSettlementError(protocol.ErrCodeUnauthorized,
			"envelope signature does not recover to the signer", protocol.ErrUnauthorized)
	}

	var call engine.Call
	if err := json.Unmarshal(env.Call, &call); err != nil {
		return protocol.NewSettlementError(protocol.ErrCodeUnauthorized,
			"envelope carries an undecodable call payload", protocol.ErrUnauthorized)
	}

	err = f.eng.Execute(ctx, env.From, call, engine.WithPreflight(func(tx *ledger.Tx) error {
		return f.reg.ConsumeNonce(tx, env.From, env.Nonce)
	}))
	if err != nil {
		return err
	}

	f.log.WithFields(logrus.Fields{
		"signer": env.From.Hex(),
		"nonce":  env.Nonce,
		"method": call.Method,
	}).Info("relayed call executed")

	if f.onEvent != nil {
		f.onEvent(protocol.Event{
			Type:      protocol.EventNonceUsed,
			Timestamp: f.now(),
			Method:    call.Method,
			Signer:    env.From,
			Nonce:     env.Nonce,
		})
	}
	return nil
}
