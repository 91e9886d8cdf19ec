package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
	"github.com/aaurelions/commerce-onchain-payment-protocol/permit"
)

// TransferNative settles a native-currency intent with value attached by the
// caller.
func (e *Engine) TransferNative(ctx context.Context, caller common.Address, intent protocol.TransferIntent, value *big.Int) error {
	return e.Execute(ctx, caller, Call{Method: protocol.MethodNative, Intent: intent, Value: value})
}

// TransferToken settles a token intent, pulling the payer's tokens through a
// gasless authorization.
func (e *Engine) TransferToken(ctx context.Context, caller common.Address, intent protocol.TransferIntent, auth *permit.Authorization) error {
	return e.Execute(ctx, caller, Call{Method: protocol.MethodToken, Intent: intent, Permit: auth})
}

// TransferTokenPreApproved settles a token intent through the payer's
// standing allowance toward the engine.
func (e *Engine) TransferTokenPreApproved(ctx context.Context, caller common.Address, intent protocol.TransferIntent) error {
	return e.Execute(ctx, caller, Call{Method: protocol.MethodTokenPreApproved, Intent: intent})
}

// WrapAndTransfer wraps the attached native value and settles an intent
// denominated in the wrapped asset.
func (e *Engine) WrapAndTransfer(ctx context.Context, caller common.Address, intent protocol.TransferIntent, value *big.Int) error {
	return e.Execute(ctx, caller, Call{Method: protocol.MethodWrap, Intent: intent, Value: value})
}

// UnwrapAndTransfer pulls wrapped-native tokens through a gasless
// authorization, unwraps them, and settles a native-currency intent.
func (e *Engine) UnwrapAndTransfer(ctx context.Context, caller common.Address, intent protocol.TransferIntent, auth *permit.Authorization) error {
	return e.Execute(ctx, caller, Call{Method: protocol.MethodUnwrap, Intent: intent, Permit: auth})
}

// UnwrapAndTransferPreApproved is UnwrapAndTransfer over a standing
// allowance.
func (e *Engine) UnwrapAndTransferPreApproved(ctx context.Context, caller common.Address, intent protocol.TransferIntent) error {
	return e.Execute(ctx, caller, Call{Method: protocol.MethodUnwrapPreApproved, Intent: intent})
}

// SwapAndTransferUniswapV3Native converts the attached native value through
// the venue pool at the given fee tier. The attached value is both the swap
// input and the ceiling on input cost.
func (e *Engine) SwapAndTransferUniswapV3Native(ctx context.Context, caller common.Address, intent protocol.TransferIntent, value *big.Int, feeTier uint32) error {
	return e.Execute(ctx, caller, Call{Method: protocol.MethodSwapNative, Intent: intent, Value: value, FeeTier: feeTier})
}

// SwapAndTransferUniswapV3Token converts tokens pulled through a gasless
// authorization, spending at most maxWillingToPay of the input asset.
func (e *Engine) SwapAndTransferUniswapV3Token(ctx context.Context, caller common.Address, intent protocol.TransferIntent, inputAsset common.Address, auth *permit.Authorization, maxWillingToPay *big.Int, feeTier uint32) error {
	return e.Execute(ctx, caller, Call{
		Method:          protocol.MethodSwapToken,
		Intent:          intent,
		InputAsset:      inputAsset,
		Permit:          auth,
		MaxWillingToPay: maxWillingToPay,
		FeeTier:         feeTier,
	})
}

// SwapAndTransferUniswapV3TokenPreApproved converts tokens collected through
// the payer's standing allowance, spending at most maxWillingToPay of the
// input asset.
func (e *Engine) SwapAndTransferUniswapV3TokenPreApproved(ctx context.Context, caller common.Address, intent protocol.TransferIntent, inputAsset common.Address, maxWillingToPay *big.Int, feeTier uint32) error {
	return e.Execute(ctx, caller, Call{
		Method:          protocol.MethodSwapTokenPreApproved,
		Intent:          intent,
		InputAsset:      inputAsset,
		MaxWillingToPay: maxWillingToPay,
		FeeTier:         feeTier,
	})
}
