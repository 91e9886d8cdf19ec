// Package ledger provides the transactional state store backing the
// settlement engine: asset balances, standing allowances toward the engine,
// and the replay-protection records (consumed intent ids, consumed pull
// authorizations, relayed-call nonces).
//
// A Book is the durable store. Book.Begin yields a Tx, a copy-on-write
// overlay; reads fall through to the Book, writes stay in the overlay until
// Commit. Dropping a Tx without committing is the atomic abort: no
// intermediate state survives, including replay marks made inside it. This
// models a single-writer serializable transaction log.
package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
)

type balanceKey struct {
	account common.Address
	asset   common.Address
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
	asset   common.Address
}

type intentKey struct {
	operator common.Address
	id       uuid.UUID
}

type authKey struct {
	owner common.Address
	nonce [32]byte
}

// Book is the durable ledger state. All mutation goes through a Tx; the
// only direct Book mutator is Mint, used to seed genesis balances.
type Book struct {
	mu          sync.RWMutex
	balances    map[balanceKey]*big.Int
	allowances  map[allowanceKey]*big.Int
	usedIntents map[intentKey]struct{}
	usedAuths   map[authKey]struct{}
	relayNonces map[common.Address]uint64
}

// NewBook creates an empty ledger.
func NewBook() *Book {
	return &Book{
		balances:    make(map[balanceKey]*big.Int),
		allowances:  make(map[allowanceKey]*big.Int),
		usedIntents: make(map[intentKey]struct{}),
		usedAuths:   make(map[authKey]struct{}),
		relayNonces: make(map[common.Address]uint64),
	}
}

// Mint credits an account directly on the Book. Genesis and venue pool
// seeding only; settlement flows never mint.
func (b *Book) Mint(asset, account common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	k := balanceKey{account: account, asset: asset}
	cur := b.balances[k]
	if cur == nil {
		cur = new(big.Int)
	}
	b.balances[k] = new(big.Int).Add(cur, amount)
}

// Balance returns the committed balance of an account for an asset.
func (b *Book) Balance(asset, account common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v := b.balances[balanceKey{account: account, asset: asset}]; v != nil {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// RelayNonce returns the committed next expected nonce for a signer.
func (b *Book) RelayNonce(signer common.Address) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.relayNonces[signer]
}

// IntentUsed reports whether the (operator, id) pair has been consumed by a
// committed settlement.
func (b *Book) IntentUsed(operator common.Address, id uuid.UUID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.usedIntents[intentKey{operator: operator, id: id}]
	return ok
}

// Begin opens a transaction overlay on the Book.
func (b *Book) Begin() *Tx {
	return &Tx{
		book:        b,
		balances:    make(map[balanceKey]*big.Int),
		allowances:  make(map[allowanceKey]*big.Int),
		usedIntents: make(map[intentKey]struct{}),
		usedAuths:   make(map[authKey]struct{}),
		relayNonces: make(map[common.Address]uint64),
	}
}

// Tx is a copy-on-write overlay over a Book. It is not safe for concurrent
// use; the execution model is one settlement call at a time.
type Tx struct {
	book        *Book
	committed   bool
	balances    map[balanceKey]*big.Int
	allowances  map[allowanceKey]*big.Int
	usedIntents map[intentKey]struct{}
	usedAuths   map[authKey]struct{}
	relayNonces map[common.Address]uint64
}

func (tx *Tx) balance(k balanceKey) *big.Int {
	if v, ok := tx.balances[k]; ok {
		return new(big.Int).Set(v)
	}
	tx.book.mu.RLock()
	defer tx.book.mu.RUnlock()
	if v := tx.book.balances[k]; v != nil {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Balance returns the in-transaction balance of an account for an asset.
func (tx *Tx) Balance(asset, account common.Address) *big.Int {
	return tx.balance(balanceKey{account: account, asset: asset})
}

// Transfer moves amount of asset from one account to another inside the
// transaction. It fails with ErrInsufficientFunds when the sender's balance
// cannot cover the amount. Zero transfers are no-ops.
func (tx *Tx) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative or nil transfer amount")
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromKey := balanceKey{account: from, asset: asset}
	bal := tx.balance(fromKey)
	if bal.Cmp(amount) < 0 {
		return protocol.NewSettlementError(protocol.ErrCodeInsufficientFunds,
			fmt.Sprintf("ledger: balance %s below transfer amount %s", bal, amount),
			protocol.ErrInsufficientFunds)
	}
	toKey := balanceKey{account: to, asset: asset}
	toBal := tx.balance(toKey)
	tx.balances[fromKey] = bal.Sub(bal, amount)
	tx.balances[toKey] = toBal.Add(toBal, amount)
	return nil
}

// Allowance returns the in-transaction standing authorization from owner to
// spender for an asset.
func (tx *Tx) Allowance(asset, owner, spender common.Address) *big.Int {
	k := allowanceKey{owner: owner, spender: spender, asset: asset}
	if v, ok := tx.allowances[k]; ok {
		return new(big.Int).Set(v)
	}
	tx.book.mu.RLock()
	defer tx.book.mu.RUnlock()
	if v := tx.book.allowances[k]; v != nil {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Approve sets a standing authorization from owner to spender.
func (tx *Tx) Approve(asset, owner, spender common.Address, amount *big.Int) {
	k := allowanceKey{owner: owner, spender: spender, asset: asset}
	tx.allowances[k] = new(big.Int).Set(amount)
}

// SpendAllowance decrements owner's standing authorization toward spender and
// moves the funds to the spender. A shortfall in the allowance surfaces as
// ErrAuthorizationInvalid; a shortfall in the owner's balance as
// ErrInsufficientFunds.
func (tx *Tx) SpendAllowance(asset, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("ledger: non-positive allowance spend")
	}
	allowed := tx.Allowance(asset, owner, spender)
	if allowed.Cmp(amount) < 0 {
		return protocol.NewSettlementError(protocol.ErrCodeAuthorizationInvalid,
			fmt.Sprintf("ledger: allowance %s below requested amount %s", allowed, amount),
			protocol.ErrAuthorizationInvalid)
	}
	if err := tx.Transfer(asset, owner, spender, amount); err != nil {
		return err
	}
	k := allowanceKey{owner: owner, spender: spender, asset: asset}
	tx.allowances[k] = allowed.Sub(allowed, amount)
	return nil
}

// Wrap converts amount of the account's native balance into the wrapped
// asset, 1:1.
func (tx *Tx) Wrap(wrapped, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative or nil wrap amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	nativeKey := balanceKey{account: account, asset: protocol.NativeCurrency}
	bal := tx.balance(nativeKey)
	if bal.Cmp(amount) < 0 {
		return protocol.NewSettlementError(protocol.ErrCodeInsufficientFunds,
			fmt.Sprintf("ledger: native balance %s below wrap amount %s", bal, amount),
			protocol.ErrInsufficientFunds)
	}
	wrappedKey := balanceKey{account: account, asset: wrapped}
	wbal := tx.balance(wrappedKey)
	tx.balances[nativeKey] = bal.Sub(bal, amount)
	tx.balances[wrappedKey] = wbal.Add(wbal, amount)
	return nil
}

// Unwrap converts amount of the account's wrapped balance back to native, 1:1.
func (tx *Tx) Unwrap(wrapped, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative or nil unwrap amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	wrappedKey := balanceKey{account: account, asset: wrapped}
	wbal := tx.balance(wrappedKey)
	if wbal.Cmp(amount) < 0 {
		return protocol.NewSettlementError(protocol.ErrCodeInsufficientFunds,
			fmt.Sprintf("ledger: wrapped balance %s below unwrap amount %s", wbal, amount),
			protocol.ErrInsufficientFunds)
	}
	nativeKey := balanceKey{account: account, asset: protocol.NativeCurrency}
	bal := tx.balance(nativeKey)
	tx.balances[wrappedKey] = wbal.Sub(wbal, amount)
	tx.balances[nativeKey] = bal.Add(bal, amount)
	return nil
}

// IntentUsed reports whether the (operator, id) pair is consumed, observing
// in-transaction marks so a reentrant check sees the pending mark.
func (tx *Tx) IntentUsed(operator common.Address, id uuid.UUID) bool {
	k := intentKey{operator: operator, id: id}
	if _, ok := tx.usedIntents[k]; ok {
		return true
	}
	tx.book.mu.RLock()
	defer tx.book.mu.RUnlock()
	_, ok := tx.book.usedIntents[k]
	return ok
}

// MarkIntentUsed records the (operator, id) pair as consumed.
func (tx *Tx) MarkIntentUsed(operator common.Address, id uuid.UUID) {
	tx.usedIntents[intentKey{operator: operator, id: id}] = struct{}{}
}

// AuthUsed reports whether a pull-authorization nonce has been consumed for
// the owner.
func (tx *Tx) AuthUsed(owner common.Address, nonce [32]byte) bool {
	k := authKey{owner: owner, nonce: nonce}
	if _, ok := tx.usedAuths[k]; ok {
		return true
	}
	tx.book.mu.RLock()
	defer tx.book.mu.RUnlock()
	_, ok := tx.book.usedAuths[k]
	return ok
}

// MarkAuthUsed records a pull-authorization nonce as consumed for the owner.
func (tx *Tx) MarkAuthUsed(owner common.Address, nonce [32]byte) {
	tx.usedAuths[authKey{owner: owner, nonce: nonce}] = struct{}{}
}

// RelayNonce returns the next expected nonce for a signer, observing
// in-transaction increments.
func (tx *Tx) RelayNonce(signer common.Address) uint64 {
	if n, ok := tx.relayNonces[signer]; ok {
		return n
	}
	tx.book.mu.RLock()
	defer tx.book.mu.RUnlock()
	return tx.book.relayNonces[signer]
}

// SetRelayNonce sets the next expected nonce for a signer.
func (tx *Tx) SetRelayNonce(signer common.Address, n uint64) {
	tx.relayNonces[signer] = n
}

// Commit applies the overlay to the Book. A Tx commits at most once;
// committing twice is a programming error.
func (tx *Tx) Commit() {
	if tx.committed {
		panic("ledger: transaction committed twice")
	}
	tx.committed = true
	tx.book.mu.Lock()
	defer tx.book.mu.Unlock()
	for k, v := range tx.balances {
		tx.book.balances[k] = v
	}
	for k, v := range tx.allowances {
		tx.book.allowances[k] = v
	}
	for k := range tx.usedIntents {
		tx.book.usedIntents[k] = struct{}{}
	}
	for k := range tx.usedAuths {
		tx.book.usedAuths[k] = struct{}{}
	}
	for k, v := range tx.relayNonces {
		tx.book.relayNonces[k] = v
	}
}
