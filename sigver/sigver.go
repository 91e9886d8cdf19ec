// Package sigver recovers signer addresses from structured message hashes.
// It is pure and stateless: a digest, a signature, and a hashing-convention
// prefix go in; a signer address or ErrSignatureInvalid comes out. It also
// computes the EIP-712 digest of a TransferIntent, covering every field
// except the signature and the prefix itself.
package sigver

import (
	"crypto/ecdsa"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
)

// PersonalSignPrefix is the EIP-191 convention applied by signing clients
// that wrap 32-byte digests before signing.
const PersonalSignPrefix = "\x19Ethereum Signed Message:\n32"

// Domain pins intent signatures to one engine deployment. Intents signed for
// a different chain or engine instance do not verify.
type Domain struct {
	ChainID  *big.Int
	Contract common.Address
}

var intentTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferIntent": []apitypes.Type{
		{Name: "recipientAmount", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "recipient", Type: "address"},
		{Name: "recipientCurrency", Type: "address"},
		{Name: "refundDestination", Type: "address"},
		{Name: "feeAmount", Type: "uint256"},
		{Name: "id", Type: "bytes16"},
		{Name: "operator", Type: "address"},
	},
}

// IntentDigest returns the EIP-712 digest of the intent's covered fields
// under the domain. Changing any covered field changes the digest.
func (d Domain) IntentDigest(ti *protocol.TransferIntent) ([]byte, error) {
	fee := ti.FeeAmount
	if fee == nil {
		fee = new(big.Int)
	}
	amount := ti.RecipientAmount
	if amount == nil {
		amount = new(big.Int)
	}
	td := apitypes.TypedData{
		Types:       intentTypes,
		PrimaryType: "TransferIntent",
		Domain: apitypes.TypedDataDomain{
			Name:              "Transfers",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.Contract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"recipientAmount":   (*math.HexOrDecimal256)(amount),
			"deadline":          (*math.HexOrDecimal256)(big.NewInt(ti.Deadline)),
			"recipient":         ti.Recipient.Hex(),
			"recipientCurrency": ti.RecipientCurrency.Hex(),
			"refundDestination": ti.RefundDestination.Hex(),
			"feeAmount":         (*math.HexOrDecimal256)(fee),
			"id":                "0x" + hex.EncodeToString(ti.ID[:]),
			"operator":          ti.Operator.Hex(),
		},
	}
	return TypedDataDigest(td)
}

// TypedDataDigest assembles the final EIP-712 digest
// keccak256(0x1901 || domainSeparator || hashStruct(message)).
func TypedDataDigest(td apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, protocol.NewSettlementError(protocol.ErrCodeSignatureInvalid,
			"failed to hash typed-data domain", protocol.ErrSignatureInvalid)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, protocol.NewSettlementError(protocol.ErrCodeSignatureInvalid,
			"failed to hash typed-data message", protocol.ErrSignatureInvalid)
	}
	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// Recover returns the address that produced signature over digest, applying
// the hashing convention selected by prefix first: an empty prefix means the
// digest was signed directly; a non-empty prefix means the client signed
// keccak256(prefix || digest). Malformed or non-canonical signatures yield
// ErrSignatureInvalid, never a best-effort address.
func Recover(digest []byte, signature, prefix string) (common.Address, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	if prefix != "" {
		digest = crypto.Keccak256(append([]byte(prefix), digest...))
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, protocol.NewSettlementError(protocol.ErrCodeSignatureInvalid,
			"signature does not recover to a public key", protocol.ErrSignatureInvalid)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RecoverIntentSigner recovers the signer of an intent under the domain and
// checks it against the intent's operator.
func (d Domain) RecoverIntentSigner(ti *protocol.TransferIntent) (common.Address, error) {
	digest, err := d.IntentDigest(ti)
	if err != nil {
		return common.Address{}, err
	}
	signer, err := Recover(digest, ti.Signature, ti.Prefix)
	if err != nil {
		return common.Address{}, err
	}
	if signer != ti.Operator {
		return common.Address{}, protocol.NewSettlementError(protocol.ErrCodeSignatureInvalid,
			"intent signer does not match operator", protocol.ErrSignatureInvalid).
			WithDetails("signer", signer.Hex()).
			WithDetails("operator", ti.Operator.Hex())
	}
	return signer, nil
}

// Sign produces a hex signature over digest with the given hashing
// convention. The counterpart of Recover; operators and test fixtures sign
// with it, the engine only ever verifies.
func Sign(digest []byte, key *ecdsa.PrivateKey, prefix string) (string, error) {
	if prefix != "" {
		digest = crypto.Keccak256(append([]byte(prefix), digest...))
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// SignIntent signs the intent in place under the domain.
func (d Domain) SignIntent(ti *protocol.TransferIntent, key *ecdsa.PrivateKey) error {
	digest, err := d.IntentDigest(ti)
	if err != nil {
		return err
	}
	sig, err := Sign(digest, key, ti.Prefix)
	if err != nil {
		return err
	}
	ti.Signature = sig
	return nil
}

// decodeSignature parses a hex signature into the 65-byte [R || S || V]
// form crypto.SigToPub expects, rejecting wrong lengths, high-s values, and
// recovery ids outside {0, 1, 27, 28}.
func decodeSignature(signature string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(raw) != crypto.SignatureLength {
		return nil, protocol.NewSettlementError(protocol.ErrCodeSignatureInvalid,
			"signature must be 65 hex-encoded bytes", protocol.ErrSignatureInvalid)
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if sig[64] > 1 || !crypto.ValidateSignatureValues(sig[64], r, s, true) {
		return nil, protocol.NewSettlementError(protocol.ErrCodeSignatureInvalid,
			"signature is not canonical", protocol.ErrSignatureInvalid)
	}
	return sig, nil
}
