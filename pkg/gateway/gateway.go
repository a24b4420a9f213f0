package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/crowdforge/escrow-engine/pkg/config"
	"github.com/crowdforge/escrow-engine/pkg/coordinator"
	"github.com/crowdforge/escrow-engine/pkg/escrow"
	"github.com/crowdforge/escrow-engine/pkg/logging"
)

// EventJournal is the persisted tail of the event stream, used to replay
// history to late-joining feed subscribers.
type EventJournal interface {
	EventsSince(after uint64, limit int) ([]escrow.Event, error)
}

// Gateway is the HTTP API over the ledger and the settlement coordinator.
type Gateway struct {
	logger      *logging.ColoredLogger
	cfg         *config.GatewayConfig
	ledger      *escrow.Ledger
	coordinator *coordinator.Coordinator
	journal     EventJournal
	feed        *eventFeed
	router      chi.Router
	server      *http.Server
}

// New creates the gateway. journal may be nil; the live feed then serves
// new events only.
func New(logger *logging.ColoredLogger, cfg *config.GatewayConfig, ledger *escrow.Ledger,
	coord *coordinator.Coordinator, journal EventJournal) (*Gateway, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if logger == nil {
		var err error
		logger, err = logging.NewColoredLogger(logging.ComponentGateway, true)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	g := &Gateway{
		logger:      logger,
		cfg:         cfg,
		ledger:      ledger,
		coordinator: coord,
		journal:     journal,
		feed:        newEventFeed(logger),
		router:      chi.NewRouter(),
	}

	g.router.Use(middleware.RequestID)
	g.router.Use(middleware.Logger)
	g.router.Use(middleware.Recoverer)
	g.router.Use(middleware.Timeout(cfg.RequestTimeout))

	g.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	g.registerRoutes()

	g.logger.ComponentInfo(logging.ComponentGateway, "gateway initialized",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Bool("auth_enabled", cfg.AuthEnabled),
	)
	return g, nil
}

// Sink returns the sink the ledger should publish committed events to.
func (g *Gateway) Sink() escrow.Sink {
	return g.feed
}

func (g *Gateway) registerRoutes() {
	g.router.Route("/v1", func(r chi.Router) {
		// Reads are open.
		r.Get("/escrows/{id}", g.handleGetEscrow)
		r.Get("/escrows/{id}/balance", g.handleGetBalance)
		r.Get("/escrows/{id}/events", g.handleEscrowEvents)
		r.Get("/events", g.handleEvents)
		r.Get("/events/ws", g.handleEventFeed)
		r.Get("/settlements/{id}", g.handleGetSettlement)

		// Mutations carry a wallet identity.
		r.Group(func(r chi.Router) {
			r.Use(g.walletAuth)
			r.Post("/escrows", g.handleCreateEscrow)
			r.Post("/escrows/{id}/deposit", g.handleDeposit)
			r.Post("/escrows/{id}/setup", g.handleSetup)
			r.Post("/escrows/{id}/results", g.handleStoreResults)
			r.Post("/escrows/{id}/payouts", g.handleBulkPayOut)
			r.Post("/escrows/{id}/cancel", g.handleCancel)
			r.Post("/escrows/{id}/complete", g.handleComplete)
			r.Post("/escrows/{id}/withdraw", g.handleWithdraw)
			r.Post("/settlements", g.handleSettle)
		})
	})
}

// Start begins serving. Blocks until the server stops.
func (g *Gateway) Start() error {
	g.server = &http.Server{
		Addr:    g.cfg.ListenAddr,
		Handler: g.router,
	}
	g.logger.ComponentInfo(logging.ComponentGateway, "gateway listening",
		zap.String("addr", g.cfg.ListenAddr))
	if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully and closes the event feed.
func (g *Gateway) Stop(ctx context.Context) error {
	g.feed.close()
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}
