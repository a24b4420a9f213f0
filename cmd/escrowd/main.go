package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/crowdforge/escrow-engine/pkg/config"
	"github.com/crowdforge/escrow-engine/pkg/coordinator"
	"github.com/crowdforge/escrow-engine/pkg/escrow"
	"github.com/crowdforge/escrow-engine/pkg/gateway"
	"github.com/crowdforge/escrow-engine/pkg/logging"
	"github.com/crowdforge/escrow-engine/pkg/payout"
	"github.com/crowdforge/escrow-engine/pkg/storage"
	"github.com/crowdforge/escrow-engine/pkg/token"

	"github.com/ethereum/go-ethereum/common"
)

func main() {
	configPath := flag.String("config", "", "Path to config YAML file (overrides defaults)")
	listenAddr := flag.String("listen", "", "Gateway listen address (overrides config)")
	storePath := flag.String("store", "", "SQLite store path (overrides config)")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.Gateway.ListenAddr = *listenAddr
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}

	logger, err := logging.NewConfiguredLogger(logging.ComponentGeneral,
		cfg.Logging.Level, cfg.Logging.Colors, cfg.Logging.OutputFile)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			logger.Error("Invalid configuration", zap.Error(e))
		}
		os.Exit(1)
	}

	if err := run(logger, cfg); err != nil {
		logger.Error("Engine failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *logging.ColoredLogger, cfg *config.Config) error {
	store, err := escrow.OpenSQLiteStore(logger, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	vault := escrow.NewMemoryVault()

	rpcURLs := make(map[uint64]string, len(cfg.Chains.Endpoints))
	for chainID, ep := range cfg.Chains.Endpoints {
		rpcURLs[chainID] = ep.RPCURL
	}
	registry, err := token.NewChainRegistry(logger, rpcURLs)
	if err != nil {
		return fmt.Errorf("failed to build chain registry: %w", err)
	}
	defer registry.Close()

	blobs := storage.NewClient(logger, cfg.Storage.Timeout)

	// Committed events fan out to the debug log and, once the gateway is
	// up, its websocket feed.
	var feed escrow.Sink
	ledger := escrow.NewLedger(logger, vault, store, escrow.MultiSink{
		escrow.SinkFunc(func(ev escrow.Event) {
			logger.ComponentDebug(logging.ComponentEscrow, "event committed",
				zap.Uint64("seq", ev.Seq),
				zap.String("escrow_id", ev.EscrowID),
				zap.String("event", string(ev.Name)))
		}),
		escrow.SinkFunc(func(ev escrow.Event) {
			if feed != nil {
				feed.Emit(ev)
			}
		}),
	})
	if err := ledger.Restore(); err != nil {
		return fmt.Errorf("failed to restore ledger: %w", err)
	}

	metadata := &ledgerMetadata{ledger: ledger}
	calculators := payout.Registry{
		payout.JobTypeFortune:                 payout.NewFortuneCalculator(logger, blobs),
		payout.JobTypeImageBoxes:              payout.NewCvatCalculator(logger, blobs, registry, metadata),
		payout.JobTypeImagePoints:             payout.NewCvatCalculator(logger, blobs, registry, metadata),
		payout.JobTypeImagePolygons:           payout.NewCvatCalculator(logger, blobs, registry, metadata),
		payout.JobTypeImageBoxesFromPoints:    payout.NewCvatCalculator(logger, blobs, registry, metadata),
		payout.JobTypeImageSkeletonsFromBoxes: payout.NewCvatCalculator(logger, blobs, registry, metadata),
		payout.JobTypeAudioTranscription:      payout.NewAudinoCalculator(logger, blobs, metadata),
	}

	coord := coordinator.New(logger, ledger, blobs, calculators,
		common.HexToAddress(cfg.Settlement.Caller),
		coordinator.RetryPolicy{
			MaxAttempts: cfg.Settlement.MaxAttempts,
			BaseDelay:   cfg.Settlement.RetryBackoff,
			MaxDelay:    cfg.Settlement.MaxBackoff,
		},
		cfg.Settlement.ForceComplete)

	gw, err := gateway.New(logger, &cfg.Gateway, ledger, coord, store)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	if gw != nil {
		feed = gw.Sink()
	}

	errCh := make(chan error, 1)
	if gw != nil {
		go func() { errCh <- gw.Start() }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.ComponentInfo(logging.ComponentGeneral, "shutting down",
			zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if gw != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gw.Stop(ctx); err != nil {
			logger.ComponentWarn(logging.ComponentGateway, "gateway shutdown failed", zap.Error(err))
		}
	}
	return nil
}
