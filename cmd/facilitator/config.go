package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"

	protocol "github.com/aaurelions/commerce-onchain-payment-protocol"
)

type config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8402"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"text"`

	ChainID       int64  `envconfig:"CHAIN_ID" default:"8453"`
	EngineAddress string `envconfig:"ENGINE_ADDRESS" required:"true"`
	WrappedNative string `envconfig:"WRAPPED_NATIVE" required:"true"`
	Pauser        string `envconfig:"PAUSER" required:"true"`
	Sweeper       string `envconfig:"SWEEPER" required:"true"`

	// Genesis entries fund accounts at startup: "address:asset:amount",
	// with "native" accepted as the asset keyword.
	Genesis []string `envconfig:"GENESIS"`

	// Pools seed venue liquidity: "assetA:assetB:feeTier:reserveA:reserveB".
	Pools []string `envconfig:"POOLS"`
}

func newConfig() (config, error) {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		return config{}, fmt.Errorf("failed to process env var: %w", err)
	}
	return cfg, nil
}

func parseAsset(s string) (common.Address, error) {
	if strings.EqualFold(s, "native") {
		return protocol.NativeCurrency, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid asset address %q", s)
	}
	return common.HexToAddress(s), nil
}

type genesisEntry struct {
	Account common.Address
	Asset   common.Address
	Amount  *big.Int
}

func parseGenesis(entries []string) ([]genesisEntry, error) {
	out := make([]genesisEntry, 0, len(entries))
	for _, raw := range entries {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("genesis entry %q is not address:asset:amount", raw)
		}
		if !common.IsHexAddress(parts[0]) {
			return nil, fmt.Errorf("genesis entry %q has an invalid account", raw)
		}
		asset, err := parseAsset(parts[1])
		if err != nil {
			return nil, err
		}
		amount, ok := new(big.Int).SetString(parts[2], 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("genesis entry %q has an invalid amount", raw)
		}
		out = append(out, genesisEntry{
			Account: common.HexToAddress(parts[0]),
			Asset:   asset,
			Amount:  amount,
		})
	}
	return out, nil
}

type poolEntry struct {
	AssetA, AssetB     common.Address
	FeeTier            uint32
	ReserveA, ReserveB *big.Int
}

func parsePools(entries []string) ([]poolEntry, error) {
	out := make([]poolEntry, 0, len(entries))
	for _, raw := range entries {
		parts := strings.Split(raw, ":")
		if len(parts) != 5 {
			return nil, fmt.Errorf("pool entry %q is not assetA:assetB:feeTier:reserveA:reserveB", raw)
		}
		assetA, err := parseAsset(parts[0])
		if err != nil {
			return nil, err
		}
		assetB, err := parseAsset(parts[1])
		if err != nil {
			return nil, err
		}
		fee, ok := new(big.Int).SetString(parts[2], 10)
		if !ok || !fee.IsUint64() || fee.Uint64() > 1_000_000 {
			return nil, fmt.Errorf("pool entry %q has an invalid fee tier", raw)
		}
		reserveA, ok := new(big.Int).SetString(parts[3], 10)
		if !ok || reserveA.Sign() <= 0 {
			return nil, fmt.Errorf("pool entry %q has an invalid reserve", raw)
		}
		reserveB, ok := new(big.Int).SetString(parts[4], 10)
		if !ok || reserveB.Sign() <= 0 {
			return nil, fmt.Errorf("pool entry %q has an invalid reserve", raw)
		}
		out = append(out, poolEntry{
			AssetA:   assetA,
			AssetB:   assetB,
			FeeTier:  uint32(fee.Uint64()),
			ReserveA: reserveA,
			ReserveB: reserveB,
		})
	}
	return out, nil
}
