package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
)

// Access control is two independent capability checks composed into the
// entry path, not inherited behavior: pause suspends payment-initiating
// calls, sweep recovers assets resting at the engine's holding address.
// Pause does not block administrative recovery.

func unauthorized(message string) error {
	return protocol.NewSettlementError(protocol.ErrCodeUnauthorized, message, protocol.ErrUnauthorized)
}

// Paused reports whether payment-initiating calls are suspended.
func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// Pause suspends payment-initiating calls. Only the pauser capability may
// call it.
func (e *Engine) Pause(caller common.Address) error {
	if caller != e.pauser {
		return unauthorized("caller lacks the pauser capability")
	}
	e.paused.Store(true)
	e.log.WithField("pauser", caller.Hex()).Info("settlement paused")
	return nil
}

// Unpause resumes payment-initiating calls. Only the pauser capability may
// call it.
func (e *Engine) Unpause(caller common.Address) error {
	if caller != e.pauser {
		return unauthorized("caller lacks the pauser capability")
	}
	e.paused.Store(false)
	e.log.WithField("pauser", caller.Hex()).Info("settlement unpaused")
	return nil
}

// Sweep recovers amount of asset stranded at the engine's holding address,
// sending it to the destination. A nil amount sweeps the full balance. The
// reentrancy guard keeps it off in-flight funds: no settlement call is mid
// air while a sweep runs.
func (e *Engine) Sweep(caller, asset, to common.Address, amount *big.Int) error {
	if caller != e.sweeper {
		return unauthorized("caller lacks the sweeper capability")
	}
	if !e.entered.CompareAndSwap(false, true) {
		return protocol.NewSettlementError(protocol.ErrCodeReentrantCall,
			"sweep attempted during a settlement call", protocol.ErrReentrantCall)
	}
	defer e.entered.Store(false)

	tx := e.book.Begin()
	if amount == nil {
		amount = tx.Balance(asset, e.address)
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := tx.Transfer(asset, e.address, to, amount); err != nil {
		return err
	}
	tx.Commit()
	e.log.WithFields(logrus.Fields{
		"sweeper": caller.Hex(),
		"asset":   asset.Hex(),
		"to":      to.Hex(),
		"amount":  amount.String(),
	}).Info("stranded funds swept")
	return nil
}
