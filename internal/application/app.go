package application

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/apexguard/guardian/internal/account"
	"github.com/apexguard/guardian/internal/advisor"
	"github.com/apexguard/guardian/internal/cadence"
	"github.com/apexguard/guardian/internal/compliance"
	"github.com/apexguard/guardian/internal/domain"
	"github.com/apexguard/guardian/internal/engine"
	"github.com/apexguard/guardian/internal/gateway"
	httpapi "github.com/apexguard/guardian/internal/interfaces/http"
	"github.com/apexguard/guardian/internal/ledger"
	"github.com/apexguard/guardian/internal/metrics"
	"github.com/apexguard/guardian/internal/persistence"
	"github.com/apexguard/guardian/internal/persistence/postgres"
	"github.com/apexguard/guardian/internal/risk"
	"github.com/apexguard/guardian/internal/sizing"
	"github.com/apexguard/guardian/internal/snapshot"
)

// App is the composed decision core: engine, gateway, API server, and the
// optional redis/postgres backends.
type App struct {
	cfg       Config
	engine    *engine.Engine
	publisher *gateway.Publisher
	hub       *gateway.Hub
	server    *httpapi.Server
	monitor   *compliance.Monitor

	redisClient *redis.Client
	db          *sqlx.DB
}

// New wires every component from the configuration. Optional backends that
// are not configured are skipped, not stubbed.
func New(cfg Config, version string) (*App, error) {
	led := ledger.New(cfg.Ledger)
	tracker := cadence.New(cfg.Cadence)
	accounts := account.NewStore(domain.AccountState{
		Equity:     cfg.Account.InitialEquity,
		PeakEquity: cfg.Account.InitialEquity,
	})
	monitor := compliance.NewMonitor(cfg.Limits,
		compliance.NewPredictiveLayer(cfg.Session.StartHour, cfg.Session.EndHour))

	app := &App{cfg: cfg, monitor: monitor}

	var snaps snapshot.Store = snapshot.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		app.redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		snaps = snapshot.NewRedisStore(app.redisClient, cfg.SnapshotTTL())
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis snapshot store enabled")
	}

	var recorder engine.Recorder
	var directiveRepo persistence.DirectiveRepo
	if cfg.Postgres.DSN != "" {
		db, err := sqlx.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.db = db
		directiveRepo = postgres.NewDirectivesRepo(db, cfg.PostgresTimeout())
		recorder = persistence.Recorder{
			Directives: directiveRepo,
			Outcomes:   postgres.NewOutcomesRepo(db, cfg.PostgresTimeout()),
		}
		log.Info().Msg("postgres persistence enabled")
	}

	var annotator engine.Annotator
	if cfg.Advisor.Enabled {
		ac := cfg.AdvisorConfig()
		annotator = advisor.New(ac, advisor.NewHTTPClient(ac.Endpoint, ac.Timeout))
		log.Info().Str("endpoint", ac.Endpoint).Msg("advisory enrichment enabled")
	}

	app.hub = gateway.NewHub()
	app.publisher = gateway.NewPublisher(cfg.GatewayConfig(), app.hub)

	reg := metrics.NewRegistry()
	app.engine = engine.New(cfg.EngineConfig(), engine.Deps{
		Ledger:    led,
		Tracker:   tracker,
		Sizer:     sizing.NewEngine(cfg.Sizing, led),
		Levels:    risk.NewCalculator(cfg.Risk),
		Monitor:   monitor,
		Accounts:  accounts,
		Snapshots: snaps,
		Publisher: app.publisher,
		Recorder:  recorder,
		Annotator: annotator,
		Metrics:   reg,
	})

	handlers := httpapi.NewHandlers(app.engine, app.engine, monitor, directiveRepo, reg, app.hub, version)
	server, err := httpapi.NewServer(cfg.ServerConfig(), handlers)
	if err != nil {
		return nil, err
	}
	app.server = server
	return app, nil
}

// Run starts the engine, the gateway dispatcher, and the API server, then
// blocks until ctx is cancelled and everything has drained.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.engine.Start(runCtx)

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		a.publisher.Run(runCtx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			cancel()
			a.shutdown(dispatcherDone)
			return fmt.Errorf("http server: %w", err)
		}
	}

	cancel()
	a.shutdown(dispatcherDone)
	return nil
}

func (a *App) shutdown(dispatcherDone <-chan struct{}) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	a.engine.Stop()
	<-dispatcherDone
	a.hub.Close()

	if a.redisClient != nil {
		a.redisClient.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	log.Info().Int64("published", a.publisher.Published()).
		Int64("dropped", a.publisher.Dropped()).Msg("guardian stopped")
}
