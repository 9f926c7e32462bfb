package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudx-io/bidchain/attest"
	"github.com/cloudx-io/bidchain/config"
	"github.com/cloudx-io/bidchain/core"
	"github.com/cloudx-io/bidchain/engine"
	"github.com/cloudx-io/bidchain/httpapi"
	"github.com/cloudx-io/bidchain/ledger"
	"github.com/cloudx-io/bidchain/settlement"
	"github.com/cloudx-io/bidchain/store"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		st = pg
		logger.Info().Msg("using postgres store")
	} else {
		st = store.NewMemory()
		logger.Warn().Msg("no DATABASE_URL set, using in-memory store")
	}

	led := ledger.New(nil)
	bids, err := st.AllBids(ctx)
	if err != nil {
		return err
	}
	led.Load(bids)
	logger.Info().Int("bids", len(bids)).Msg("ledger rehydrated")

	converter, err := core.NewConverter(cfg.ExchangeRate, cfg.RateVersion)
	if err != nil {
		return err
	}
	logger.Info().Int64("rate", converter.Rate()).Str("version", converter.Version()).Msg("conversion rate loaded")

	domain := attest.Domain{
		Name:              cfg.DomainName,
		Version:           cfg.DomainVersion,
		ChainID:           uint64(cfg.ChainID),
		VerifyingContract: cfg.VerifyingContract,
	}
	verifier := attest.NewVerifier(st, led, converter, domain, cfg.ClockSkew, nil)

	var settle settlement.Service
	if cfg.SettlementURL != "" {
		settle = settlement.NewClient(cfg.SettlementURL, 30*time.Second)
		logger.Info().Str("url", cfg.SettlementURL).Msg("using settlement service")
	} else {
		settle = settlement.NewFake(nil)
		logger.Warn().Msg("no SETTLEMENT_URL set, using in-process settlement fake")
	}

	eng := engine.New(st, led, verifier, converter, settle, logger, nil)
	eng.StartEndTimeSweeper(ctx, cfg.SweepInterval)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewServer(eng, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()

	logger.Info().Str("port", cfg.Port).Msg("server listening")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
