// Package service implements the regulator-facing operations: deciding
// pending enrolments (approval, rejection with its cascading removal),
// removing an approved person, and transferring an organisation between
// nations.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"packreg/internal/accounts/lock"
	"packreg/internal/accounts/models"
	"packreg/internal/accounts/store"
	"packreg/internal/audit"
	regulatormetrics "packreg/internal/regulator/metrics"
	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
	"packreg/pkg/platform/sentinel"
	"packreg/pkg/requestcontext"
)

// Authorizer is the slice of the predicate engine the regulator operations
// consume.
type Authorizer interface {
	IsRegulator(ctx context.Context, actorUserID id.UserID) (bool, error)
	RegulatorNationMatchesOrganisation(ctx context.Context, actorUserID id.UserID, orgID id.OrganisationID) (bool, error)
}

// AuditPublisher receives domain events for the audit trail.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service carries the regulator decision operations.
type Service struct {
	store          store.Store
	authz          Authorizer
	locks          lock.ConnectionLock
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *regulatormetrics.Metrics
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

func WithMetrics(m *regulatormetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a regulator Service.
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

// requireRegulatorFor checks that the actor is a regulator admin whose nation
// covers the target organisation.
func (s *Service) requireRegulatorFor(ctx context.Context, actorUserID id.UserID, orgID id.OrganisationID) error {
	isRegulator, err := s.authz.IsRegulator(ctx, actorUserID)
	if err != nil {
		return err
	}
	if !isRegulator {
		return dErrors.New(dErrors.CodeForbidden, "regulator role required")
	}
	matches, err := s.authz.RegulatorNationMatchesOrganisation(ctx, actorUserID, orgID)
	if err != nil {
		return err
	}
	if !matches {
		return dErrors.New(dErrors.CodeForbidden, "organisation is outside the regulator's nation")
	}
	return nil
}

func (s *Service) actingPerson(ctx context.Context, actorUserID id.UserID) (*models.Person, error) {
	actor, err := s.store.GetPersonByUserID(ctx, actorUserID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "acting user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve acting person")
	}
	return actor, nil
}

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

// decidableEnrolment loads the enrolment under decision: it must belong to
// the organisation and carry an approved-person or delegated-person role.
func (s *Service) decidableEnrolment(ctx context.Context, orgID id.OrganisationID, enrolmentID id.EnrolmentID) (*models.Enrolment, models.ServiceRoleKind, error) {
	enrolment, err := s.store.FindEnrolment(ctx, store.FindEnrolmentFilter{
		EnrolmentID:    enrolmentID,
		OrganisationID: orgID,
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, "", dErrors.New(dErrors.CodeNotFound, "enrolment not found")
		}
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to find enrolment")
	}
	role, err := models.ServiceRoleByID(enrolment.ServiceRoleID)
	if err != nil {
		return nil, "", err
	}
	if role.Kind != models.RoleApprovedPerson && role.Kind != models.RoleDelegatedPerson {
		return nil, "", dErrors.New(dErrors.CodeNotFound, "enrolment not found")
	}
	return enrolment, role.Kind, nil
}

// UpdateEnrolmentStatus records the regulator's verdict on a pending
// approved-person or delegated-person enrolment.
//
// Approval moves the enrolment to Approved. Rejection requires a comment,
// freezes the enrolment as Rejected+deleted, and then either demotes the
// person back to basic user (delegated person) or sweeps the whole
// organisation subtree (approved person).
func (s *Service) UpdateEnrolmentStatus(ctx context.Context, actorUserID id.UserID, orgID id.OrganisationID, enrolmentID id.EnrolmentID, decision models.EnrolmentDecision, comment string) error {
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return dErrors.New(dErrors.CodeValidation, "unsupported enrolment status")
	}
	if err := s.requireRegulatorFor(ctx, actorUserID, orgID); err != nil {
		return err
	}
	actor, err := s.actingPerson(ctx, actorUserID)
	if err != nil {
		return err
	}

	enrolment, kind, err := s.decidableEnrolment(ctx, orgID, enrolmentID)
	if err != nil {
		return err
	}

	release, err := s.acquireLock(ctx, enrolment.ConnectionID)
	if err != nil {
		return err
	}
	defer release()

	// Re-read under the lock.
	enrolment, kind, err = s.decidableEnrolment(ctx, orgID, enrolmentID)
	if err != nil {
		return err
	}

	now := requestcontext.Now(ctx)
	stamp := store.AuditStamp{ActorUserID: actorUserID, OrganisationID: orgID, RequestID: requestcontext.RequestID(ctx)}

	if decision == models.DecisionApproved {
		if err := enrolment.Transition(models.EnrolmentStatusApproved, now); err != nil {
			return err
		}
		err = s.store.RunInTx(ctx, stamp, func(ctx context.Context) error {
			return s.store.UpdateEnrolment(ctx, enrolment)
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist approval")
		}
		if s.metrics != nil {
			s.metrics.DecisionRecorded("approved")
		}
		s.emitAudit(ctx, audit.Event{
			ActorUserID:    actorUserID,
			OrganisationID: orgID,
			Action:         audit.ActionEnrolmentApproved,
			Subject:        enrolment.ID.String(),
		})
		return nil
	}

	if comment == "" {
		return dErrors.New(dErrors.CodeValidation, "regulator comments missing")
	}
	if err := enrolment.Transition(models.EnrolmentStatusRejected, now); err != nil {
		return err
	}
	enrolment.MarkDeleted(now)
	rejection := &models.RegulatorComment{
		ID:              uuid.New(),
		EnrolmentID:     enrolment.ID,
		AuthorPersonID:  actor.ID,
		RejectedComment: comment,
		CreatedAt:       now,
	}

	err = s.store.RunInTx(ctx, stamp, func(ctx context.Context) error {
		if err := s.store.UpdateEnrolment(ctx, enrolment); err != nil {
			return err
		}
		if err := s.store.CreateRegulatorComment(ctx, rejection); err != nil {
			return err
		}
		switch kind {
		case models.RoleDelegatedPerson:
			return s.demoteToBasicUser(ctx, enrolment.ConnectionID, now)
		case models.RoleApprovedPerson:
			plan, err := planOrganisationCascade(ctx, s.store, orgID, enrolment.ConnectionID)
			if err != nil {
				return err
			}
			return s.applyCascade(ctx, plan, now)
		}
		return nil
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist rejection")
	}

	if s.metrics != nil {
		s.metrics.DecisionRecorded("rejected")
	}
	s.emitAudit(ctx, audit.Event{
		ActorUserID:    actorUserID,
		OrganisationID: orgID,
		Action:         audit.ActionEnrolmentRejected,
		Subject:        enrolment.ID.String(),
		Detail:         "role=" + string(kind),
	})
	s.logger.Info("enrolment rejected",
		"enrolment_id", enrolment.ID.String(),
		"role", string(kind),
		"organisation_id", orgID.String())
	return nil
}

// demoteToBasicUser adds a fresh enrolled basic-user enrolment on the
// connection whose delegated-person enrolment was just rejected.
func (s *Service) demoteToBasicUser(ctx context.Context, connID id.ConnectionID, now time.Time) error {
	basicRole, err := models.ServiceRoleFor(models.ServicePackaging, models.RoleBasicUser)
	if err != nil {
		return err
	}
	replacement, err := models.NewEnrolment(id.EnrolmentID(uuid.New()), connID, basicRole.ID, models.EnrolmentStatusEnrolled, now)
	if err != nil {
		return err
	}
	return s.store.CreateEnrolment(ctx, replacement)
}
