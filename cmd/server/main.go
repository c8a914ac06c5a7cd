package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"brickvault/internal/audit"
	"brickvault/internal/eligibility"
	eligibilityhandler "brickvault/internal/eligibility/handler"
	eligibilitymetrics "brickvault/internal/eligibility/metrics"
	eligibilitystore "brickvault/internal/eligibility/store"
	"brickvault/internal/governance"
	governancehandler "brickvault/internal/governance/handler"
	governancemetrics "brickvault/internal/governance/metrics"
	governancestore "brickvault/internal/governance/store"
	"brickvault/internal/outbound"
	"brickvault/internal/platform/config"
	"brickvault/internal/platform/httpserver"
	"brickvault/internal/platform/logger"
	"brickvault/internal/platform/middleware"
	"brickvault/internal/platform/postgres"
	platformredis "brickvault/internal/platform/redis"
	"brickvault/internal/rent"
	renthandler "brickvault/internal/rent/handler"
	rentmetrics "brickvault/internal/rent/metrics"
	rentstore "brickvault/internal/rent/store"
	"brickvault/internal/shares"
	shareshandler "brickvault/internal/shares/handler"
	sharesstore "brickvault/internal/shares/store"
)

// main wires stores, services, and the HTTP surface. Business rules live in
// the internal service packages; everything here is assembly.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.PostgresURL != "" {
		var err error
		pool, err = postgres.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			log.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
	}

	rdb, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// Audit events flow through a buffered publisher to a single worker so
	// request paths never block on the sink.
	publisher := audit.NewPublisher(1024, log)
	var auditStore audit.Store = audit.NewMemoryStore()
	if rdb != nil {
		auditStore = audit.NewRedisStore(rdb.Client, cfg.AuditStream)
	}
	auditWorker := audit.NewWorker(auditStore, publisher.Inbox(), log)

	var (
		eligStore eligibility.Store = eligibilitystore.NewMemoryStore()
		rentStore rent.Store        = rentstore.NewMemoryStore()
		govStore  governance.Store  = governancestore.NewMemoryStore()
		journal   shares.Journal    = sharesstore.NewMemoryJournal()
	)
	if pool != nil {
		eligStore = eligibilitystore.NewPostgresStore(pool)
		rentStore = rentstore.NewPostgresStore(pool)
		govStore = governancestore.NewPostgresStore(pool)
		journal = sharesstore.NewPostgresJournal(pool)
	}

	var (
		payments rent.PaymentTransfer = outbound.NewMemoryPayouts()
		executor governance.Executor  = outbound.NewMemoryExecutor()
	)
	if rdb != nil {
		payments = outbound.NewRedisPayouts(rdb.Client, cfg.PayoutStream, log)
		executor = outbound.NewRedisExecutor(rdb.Client, cfg.ExecutionStream, log)
	}

	ledger := shares.NewLedger()
	mirror := shares.NewMirror(ledger, journal, publisher, log)
	// Replay before hooks are registered: positions are restored from their
	// own stores, so replayed transfers must not re-settle them.
	if err := mirror.Rebuild(ctx); err != nil {
		log.Error("ledger rebuild failed", "error", err)
		os.Exit(1)
	}

	eligService, err := eligibility.New(eligStore, publisher, log,
		eligibility.WithMetrics(eligibilitymetrics.New()))
	if err != nil {
		log.Error("eligibility service init failed", "error", err)
		os.Exit(1)
	}

	rentService, err := rent.New(rentStore, ledger, payments, publisher, log,
		rent.WithMetrics(rentmetrics.New()))
	if err != nil {
		log.Error("rent service init failed", "error", err)
		os.Exit(1)
	}
	ledger.RegisterHook(rentService)

	govService, err := governance.New(govStore, ledger, executor, publisher, log,
		governance.WithMetrics(governancemetrics.New()))
	if err != nil {
		log.Error("governance service init failed", "error", err)
		os.Exit(1)
	}

	auth := middleware.NewAuthenticator(cfg.JWTSigningKey, log)

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if rdb != nil {
			if err := rdb.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "postgres unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		shareshandler.New(mirror, ledger, log).Register(r)
		eligibilityhandler.New(eligService, log).Register(r)
		renthandler.New(rentService, log).Register(r)
		governancehandler.New(govService, log).Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := auditWorker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("brickvault listening", "addr", cfg.Addr, "durable", pool != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
