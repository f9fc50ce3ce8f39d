// Package service implements the enrolment workflows: nomination of a basic
// user to delegated person, acceptance of delegated/approved person
// nominations, and person-role edits.
//
// Every mutating operation re-checks authorization immediately before
// mutating, takes the per-connection lock, and submits its writes as one
// atomic unit of work stamped with the acting user and organisation.
package service

import (
	"context"
	"errors"
	"log/slog"

	"packreg/internal/accounts/lock"
	accountsmetrics "packreg/internal/accounts/metrics"
	"packreg/internal/accounts/models"
	"packreg/internal/accounts/store"
	"packreg/internal/audit"
	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
	"packreg/pkg/platform/sentinel"
	"packreg/pkg/requestcontext"
)

// Authorizer is the slice of the predicate engine the workflows consume.
type Authorizer interface {
	CanManageUsers(ctx context.Context, actorUserID id.UserID, orgID id.OrganisationID, service models.ServiceKey) (bool, error)
	CanManageDelegatedUsers(ctx context.Context, actorUserID id.UserID, orgID id.OrganisationID, service models.ServiceKey) (bool, error)
}

// AuditPublisher receives domain events for the audit trail.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates the nomination and acceptance workflows.
type Service struct {
	store          store.Store
	authz          Authorizer
	locks          lock.ConnectionLock
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *accountsmetrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *accountsmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service.
func New(graph store.Store, authorizer Authorizer, locks lock.ConnectionLock, opts ...Option) *Service {
	s := &Service{store: graph, authz: authorizer, locks: locks}
	if s.locks == nil {
		s.locks = lock.NewInMemory()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// acquireLock takes the per-connection mutation lock, translating contention
// into a caller-facing conflict.
func (s *Service) acquireLock(ctx context.Context, connID id.ConnectionID) (func(), error) {
	release, err := s.locks.Acquire(ctx, connID)
	if err != nil {
		if errors.Is(err, sentinel.ErrLocked) {
			return nil, dErrors.New(dErrors.CodeConflict, "another change to this person is in progress")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire connection lock")
	}
	return release, nil
}

// actingPerson resolves the person behind the acting user.
func (s *Service) actingPerson(ctx context.Context, actorUserID id.UserID) (*models.Person, error) {
	if actorUserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "acting user id is required")
	}
	actor, err := s.store.GetPersonByUserID(ctx, actorUserID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "acting user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve acting person")
	}
	return actor, nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.Warn("audit emit failed",
			"action", string(event.Action),
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
	}
}
