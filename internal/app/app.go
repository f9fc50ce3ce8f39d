// Package app wires the enrolment engine's services together so the binary
// and integration tests share one composition root.
package app

import (
	"log/slog"

	"packreg/internal/accounts/authz"
	"packreg/internal/accounts/invites"
	"packreg/internal/accounts/lock"
	accountsmetrics "packreg/internal/accounts/metrics"
	accountsservice "packreg/internal/accounts/service"
	"packreg/internal/accounts/store"
	"packreg/internal/audit"
	regulatormetrics "packreg/internal/regulator/metrics"
	regulatorservice "packreg/internal/regulator/service"
)

// App is the composed engine: every service shares the same store, predicate
// engine, lock, and audit pipeline.
type App struct {
	Store       store.Store
	Authz       *authz.Engine
	Accounts    *accountsservice.Service
	Regulator   *regulatorservice.Service
	Invites     *invites.Service
	AuditReader *audit.Publisher
}

// Options carries the infrastructure the app composes over.
type Options struct {
	Store      store.Store
	Locks      lock.ConnectionLock
	AuditStore audit.Store
	AuditInbox chan<- audit.Event
	Tokens     *invites.TokenService
	Logger     *slog.Logger
	Metrics    bool
}

// New composes the engine. When Metrics is set the prometheus collectors are
// registered on the default registry; leave it unset in tests.
func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	publisher := audit.NewChannelPublisher(opts.AuditInbox)
	engine := authz.New(opts.Store)

	var accountsM *accountsmetrics.Metrics
	var regulatorM *regulatormetrics.Metrics
	if opts.Metrics {
		accountsM = accountsmetrics.New()
		regulatorM = regulatormetrics.New()
	}

	accounts := accountsservice.New(opts.Store, engine, opts.Locks,
		accountsservice.WithLogger(logger),
		accountsservice.WithAuditPublisher(publisher),
		accountsservice.WithMetrics(accountsM),
	)
	regulator := regulatorservice.New(opts.Store, engine, opts.Locks,
		regulatorservice.WithLogger(logger),
		regulatorservice.WithAuditPublisher(publisher),
		regulatorservice.WithMetrics(regulatorM),
	)
	invitesSvc := invites.New(opts.Store, engine, opts.Tokens,
		invites.WithLogger(logger),
		invites.WithAuditPublisher(publisher),
		invites.WithMetrics(accountsM),
	)

	return &App{
		Store:       opts.Store,
		Authz:       engine,
		Accounts:    accounts,
		Regulator:   regulator,
		Invites:     invitesSvc,
		AuditReader: audit.NewPublisher(opts.AuditStore),
	}
}
