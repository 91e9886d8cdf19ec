package permit

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// authorizationJSON is the wire form of an Authorization: the nonce travels
// as a 32-byte hex string, amounts as decimal numbers.
type authorizationJSON struct {
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Value       *big.Int       `json:"value"`
	ValidAfter  *big.Int       `json:"validAfter"`
	ValidBefore *big.Int       `json:"validBefore"`
	Nonce       common.Hash    `json:"nonce"`
	Signature   string         `json:"signature"`
}

// MarshalJSON implements json.Marshaler.
func (a Authorization) MarshalJSON() ([]byte, error) {
	return json.Marshal(authorizationJSON{
		From:        a.From,
		To:          a.To,
		Value:       a.Value,
		ValidAfter:  a.ValidAfter,
		ValidBefore: a.ValidBefore,
		Nonce:       common.BytesToHash(a.Nonce[:]),
		Signature:   a.Signature,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Authorization) UnmarshalJSON(data []byte) error {
	var aux authorizationJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.From = aux.From
	a.To = aux.To
	a.Value = aux.Value
	a.ValidAfter = aux.ValidAfter
	a.ValidBefore = aux.ValidBefore
	a.Nonce = aux.Nonce
	a.Signature = aux.Signature
	return nil
}
