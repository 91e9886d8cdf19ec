// Package permit consumes gasless pull authorizations: off-line signed
// messages authorizing a one-time transfer of tokens from an owner, in the
// shape of EIP-3009 transferWithAuthorization. The settlement engine only
// consumes the verification outcome, an authorized transfer of some amount
// from an owner, and every failure mode surfaces as ErrAuthorizationInvalid.
package permit

import (
	"crypto/ecdsa"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
	"github.com/aaurelions/commerce-onchain-payment-protocol/sigver"
)

// Authorization is a one-time signed pull of Value tokens from From to To,
// valid in the (ValidAfter, ValidBefore) window. The Nonce is random,
// 32 bytes, single-use per owner.
type Authorization struct {
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Value       *big.Int       `json:"value"`
	ValidAfter  *big.Int       `json:"validAfter"`
	ValidBefore *big.Int       `json:"validBefore"`
	Nonce       [32]byte       `json:"nonce"`
	Signature   string         `json:"signature"`
}

// State is the slice of ledger transaction the verifier needs: single-use
// nonce tracking and the authorized fund movement.
type State interface {
	AuthUsed(owner common.Address, nonce [32]byte) bool
	MarkAuthUsed(owner common.Address, nonce [32]byte)
	Transfer(asset, from, to common.Address, amount *big.Int) error
}

// Verifier validates and applies pull authorizations for one chain.
type Verifier struct {
	ChainID *big.Int
}

var authTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": []apitypes.Type{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// Digest computes the EIP-712 digest of the authorization for the given
// asset. The asset is the verifying contract, so an authorization for one
// token cannot be replayed against another.
func (v Verifier) Digest(asset common.Address, auth *Authorization) ([]byte, error) {
	td := apitypes.TypedData{
		Types:       authTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              "Token",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(v.ChainID),
			VerifyingContract: asset.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.Value),
			"validAfter":  (*math.HexOrDecimal256)(auth.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.ValidBefore),
			"nonce":       common.BytesToHash(auth.Nonce[:]).Hex(),
		},
	}
	return sigver.TypedDataDigest(td)
}

func invalid(message string) error {
	return protocol.NewSettlementError(protocol.ErrCodeAuthorizationInvalid, message, protocol.ErrAuthorizationInvalid)
}

// Apply verifies the authorization and executes the pull inside the
// transaction: signature must recover to the owner, the validity window must
// contain now, the nonce must be unused, and the destination must be the
// engine's holding address. On success the owner's funds move to the engine
// and the nonce is consumed as part of the same atomic unit.
func (v Verifier) Apply(st State, asset common.Address, auth *Authorization, engine common.Address, now time.Time) error {
	if auth == nil {
		return invalid("missing authorization")
	}
	if auth.Value == nil || auth.Value.Sign() <= 0 {
		return invalid("authorization value must be positive")
	}
	if auth.To != engine {
		return invalid("authorization destination is not the settlement engine")
	}
	unix := big.NewInt(now.Unix())
	if auth.ValidAfter == nil || auth.ValidBefore == nil ||
		unix.Cmp(auth.ValidAfter) <= 0 || unix.Cmp(auth.ValidBefore) >= 0 {
		return invalid("authorization is outside its validity window")
	}
	if st.AuthUsed(auth.From, auth.Nonce) {
		return invalid("authorization nonce already used")
	}
	digest, err := v.Digest(asset, auth)
	if err != nil {
		return invalid("failed to compute authorization digest")
	}
	signer, err := sigver.Recover(digest, auth.Signature, "")
	if err != nil {
		return invalid("authorization signature is malformed")
	}
	if signer != auth.From {
		return invalid("authorization signer does not match owner")
	}
	st.MarkAuthUsed(auth.From, auth.Nonce)
	return st.Transfer(asset, auth.From, auth.To, auth.Value)
}

// New builds an unsigned authorization valid from ten seconds ago until
// now + timeout, with a fresh random nonce.
func New(from, to common.Address, value *big.Int, timeout time.Duration) (*Authorization, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	return &Authorization{
		From:        from,
		To:          to,
		Value:       new(big.Int).Set(value),
		ValidAfter:  big.NewInt(now - 10),
		ValidBefore: big.NewInt(now + int64(timeout/time.Second)),
		Nonce:       nonce,
	}, nil
}

// Sign signs the authorization in place for the given asset.
func (v Verifier) Sign(asset common.Address, auth *Authorization, key *ecdsa.PrivateKey) error {
	digest, err := v.Digest(asset, auth)
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return err
	}
	sig[64] += 27
	auth.Signature = "0x" + common.Bytes2Hex(sig)
	return nil
}
