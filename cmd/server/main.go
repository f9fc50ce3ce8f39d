package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"packreg/internal/accounts/invites"
	"packreg/internal/accounts/lock"
	"packreg/internal/accounts/store"
	"packreg/internal/app"
	"packreg/internal/audit"
	"packreg/internal/platform/config"
	"packreg/internal/platform/httpserver"
	"packreg/internal/platform/logger"
	"packreg/internal/platform/middleware"
	platformredis "packreg/internal/platform/redis"
	id "packreg/pkg/domain"
)

// main wires storage, locking, and the audit pipeline into the composed
// engine and exposes the operational surface. The enrolment API itself is
// served by a separate boundary layer consuming the app package.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var accountStore store.Store
	var auditStore audit.Store
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := store.EnsureSchema(ctx, db); err != nil {
			log.Error("ensure schema", "error", err)
			os.Exit(1)
		}
		if err := audit.EnsureSchema(ctx, db); err != nil {
			log.Error("ensure audit schema", "error", err)
			os.Exit(1)
		}
		accountStore = store.NewPostgres(db)
		auditStore = audit.NewPostgres(db)
	} else {
		log.Warn("no database configured, using in-memory store")
		accountStore = store.NewInMemory()
		auditStore = audit.NewInMemoryStore()
	}

	var locks lock.ConnectionLock = lock.NewInMemory()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		locks = lock.NewRedis(redisClient.Client)
	}

	inbox := make(chan audit.Event, 256)
	worker := audit.NewWorker(auditStore, inbox)

	engine := app.New(app.Options{
		Store:      accountStore,
		Locks:      locks,
		AuditStore: auditStore,
		AuditInbox: inbox,
		Tokens:     invites.NewTokenService(cfg.InviteSigningKey, "packreg", cfg.InviteTokenTTL),
		Logger:     log,
		Metrics:    true,
	})

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestLogger(log))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/internal/audit/{organisationID}", func(w http.ResponseWriter, r *http.Request) {
		orgID, err := id.ParseOrganisationID(chi.URLParam(r, "organisationID"))
		if err != nil {
			http.Error(w, "invalid organisation id", http.StatusBadRequest)
			return
		}
		events, err := engine.AuditReader.List(r.Context(), orgID)
		if err != nil {
			http.Error(w, "failed to list audit events", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(events); err != nil {
			log.Error("encode audit events", "error", err)
		}
	})

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := worker.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		log.Info("starting packreg server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
