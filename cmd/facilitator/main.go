package main

import (
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/aaurelions/commerce-onchain-payment-protocol/engine"
	"github.com/aaurelions/commerce-onchain-payment-protocol/forwarder"
	httpserver "github.com/aaurelions/commerce-onchain-payment-protocol/http"
	"github.com/aaurelions/commerce-onchain-payment-protocol/ledger"
	"github.com/aaurelions/commerce-onchain-payment-protocol/metrics"
	"github.com/aaurelions/commerce-onchain-payment-protocol/swap"
)

func main() {
	cfg, err := newConfig()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}

	log := newLogger(cfg.LogFormat)

	for _, name := range []struct {
		label, value string
	}{
		{"engine address", cfg.EngineAddress},
		{"wrapped native", cfg.WrappedNative},
		{"pauser", cfg.Pauser},
		{"sweeper", cfg.Sweeper},
	} {
		if !common.IsHexAddress(name.value) {
			log.WithField(name.label, name.value).Fatal("invalid address in config")
		}
	}

	book := ledger.NewBook()
	genesis, err := parseGenesis(cfg.Genesis)
	if err != nil {
		log.WithError(err).Fatal("invalid genesis config")
	}
	for _, g := range genesis {
		book.Mint(g.Asset, g.Account, g.Amount)
	}

	venue := swap.NewPoolVenue(book)
	pools, err := parsePools(cfg.Pools)
	if err != nil {
		log.WithError(err).Fatal("invalid pool config")
	}
	for _, p := range pools {
		venue.AddLiquidity(p.AssetA, p.AssetB, p.FeeTier, p.ReserveA, p.ReserveB)
	}

	eng := engine.New(book, venue, engine.Config{
		ChainID:       big.NewInt(cfg.ChainID),
		Address:       common.HexToAddress(cfg.EngineAddress),
		WrappedNative: common.HexToAddress(cfg.WrappedNative),
		Pauser:        common.HexToAddress(cfg.Pauser),
		Sweeper:       common.HexToAddress(cfg.Sweeper),
		Logger:        log,
	})
	fwd := forwarder.New(eng, forwarder.Config{Logger: log})

	srv := httpserver.NewServer(eng, fwd, log, metrics.New())
	log.WithFields(logrus.Fields{
		"listen_addr": cfg.ListenAddr,
		"chain_id":    cfg.ChainID,
		"pools":       len(pools),
	}).Info("starting facilitator")
	if err := srv.Run(cfg.ListenAddr); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func newLogger(format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
