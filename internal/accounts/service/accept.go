package service

import (
	"context"
	"errors"
	"time"

	"packreg/internal/accounts/models"
	"packreg/internal/accounts/store"
	"packreg/internal/audit"
	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
	"packreg/pkg/platform/sentinel"
	"packreg/pkg/requestcontext"
)

// AcceptDelegatedPersonNomination is the nominee's acceptance of a delegated
// person nomination. The enrolment moves Nominated -> Pending, the nominee's
// telephone and declaration are recorded, and any basic-user enrolments on the
// connection are superseded.
func (s *Service) AcceptDelegatedPersonNomination(ctx context.Context, enrolmentID id.EnrolmentID, actorUserID id.UserID, orgID id.OrganisationID, service models.ServiceKey, req models.AcceptNominationRequest) error {
	return s.acceptNomination(ctx, enrolmentID, actorUserID, orgID, service, models.RoleDelegatedPerson, req)
}

// AcceptApprovedPersonNomination is the nominee's acceptance of an approved
// person nomination. On top of the delegated-person steps it records the job
// title on the connection and forces the connection role to Admin.
func (s *Service) AcceptApprovedPersonNomination(ctx context.Context, enrolmentID id.EnrolmentID, actorUserID id.UserID, orgID id.OrganisationID, service models.ServiceKey, req models.AcceptNominationRequest) error {
	return s.acceptNomination(ctx, enrolmentID, actorUserID, orgID, service, models.RoleApprovedPerson, req)
}

func (s *Service) acceptNomination(ctx context.Context, enrolmentID id.EnrolmentID, actorUserID id.UserID, orgID id.OrganisationID, service models.ServiceKey, kind models.ServiceRoleKind, req models.AcceptNominationRequest) error {
	if service != models.ServicePackaging {
		return dErrors.New(dErrors.CodeValidation, "unsupported service")
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if kind == models.RoleApprovedPerson && req.JobTitle == "" {
		return dErrors.New(dErrors.CodeValidation, "job title is required")
	}

	actor, err := s.actingPerson(ctx, actorUserID)
	if err != nil {
		return err
	}

	// The filter pins status Nominated, so a second accept on an already
	// Pending enrolment finds nothing.
	filter := store.FindEnrolmentFilter{
		EnrolmentID:    enrolmentID,
		OrganisationID: orgID,
		PersonID:       actor.ID,
		Service:        service,
		RoleKind:       kind,
		Status:         models.EnrolmentStatusNominated,
	}
	enrolment, err := s.store.FindEnrolment(ctx, filter)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "no matching enrolment")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to find enrolment")
	}

	release, err := s.acquireLock(ctx, enrolment.ConnectionID)
	if err != nil {
		return err
	}
	defer release()

	// Re-read under the lock so a racing accept or removal is observed.
	enrolment, err = s.store.FindEnrolment(ctx, filter)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "no matching enrolment")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to find enrolment")
	}

	now := requestcontext.Now(ctx)
	if kind == models.RoleApprovedPerson {
		if err := s.guardSingleApprovedPerson(ctx, orgID, enrolment.ID, now); err != nil {
			return err
		}
	}

	conn, err := s.store.GetConnection(ctx, enrolment.ConnectionID, orgID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load connection")
	}

	if err := enrolment.Transition(models.EnrolmentStatusPending, now); err != nil {
		return err
	}
	actor.Telephone = req.Telephone
	actor.UpdatedAt = now
	if kind == models.RoleApprovedPerson {
		conn.JobTitle = req.JobTitle
		conn.PromoteToAdmin(now)
		conn.UpdatedAt = now
	}

	superseded, err := s.basicUserEnrolments(ctx, conn.ID, service, now)
	if err != nil {
		return err
	}

	stamp := store.AuditStamp{ActorUserID: actorUserID, OrganisationID: orgID, RequestID: requestcontext.RequestID(ctx)}
	err = s.store.RunInTx(ctx, stamp, func(ctx context.Context) error {
		if err := s.store.UpdateEnrolment(ctx, enrolment); err != nil {
			return err
		}
		if err := s.store.UpdatePerson(ctx, actor); err != nil {
			return err
		}
		if kind == models.RoleApprovedPerson {
			if err := s.store.UpdateConnection(ctx, conn); err != nil {
				return err
			}
			if err := s.writeApprovedDeclaration(ctx, enrolment.ID, req.NomineeDeclaration, now); err != nil {
				return err
			}
		} else {
			if err := s.writeDelegatedDeclaration(ctx, enrolment.ID, req.NomineeDeclaration, now); err != nil {
				return err
			}
		}
		for _, basic := range superseded {
			if err := s.store.DeleteEnrolment(ctx, basic.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist acceptance")
	}

	if s.metrics != nil {
		s.metrics.NominationAccepted(string(kind))
	}
	s.emitAudit(ctx, audit.Event{
		ActorUserID:    actorUserID,
		OrganisationID: orgID,
		Action:         audit.ActionNominationAccepted,
		Subject:        enrolment.ID.String(),
		Detail:         "role=" + string(kind),
	})
	s.logger.Info("nomination accepted",
		"enrolment_id", enrolment.ID.String(),
		"role", string(kind),
		"organisation_id", orgID.String())
	return nil
}

// guardSingleApprovedPerson enforces the one-active-approved-person rule for
// the organisation, ignoring the enrolment being accepted. Nominated
// enrolments are exempt so competing nominations can coexist: the first
// acceptance moves to Pending and blocks the rest here.
func (s *Service) guardSingleApprovedPerson(ctx context.Context, orgID id.OrganisationID, acceptingID id.EnrolmentID, now time.Time) error {
	enrolments, err := s.store.EnrolmentsByOrganisation(ctx, orgID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organisation enrolments")
	}
	for _, e := range enrolments {
		if e.ID == acceptingID || !e.IsActive(now) {
			continue
		}
		role, err := models.ServiceRoleByID(e.ServiceRoleID)
		if err != nil {
			return err
		}
		if role.Kind == models.RoleApprovedPerson && e.Status != models.EnrolmentStatusNominated {
			return dErrors.New(dErrors.CodeConflict, "an approved person already exists for this organisation")
		}
	}
	return nil
}

func (s *Service) basicUserEnrolments(ctx context.Context, connID id.ConnectionID, service models.ServiceKey, now time.Time) ([]*models.Enrolment, error) {
	active, err := s.store.ActiveEnrolments(ctx, connID, service, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load active enrolments")
	}
	var basics []*models.Enrolment
	for _, e := range active {
		role, err := models.ServiceRoleByID(e.ServiceRoleID)
		if err != nil {
			return nil, err
		}
		if role.Kind == models.RoleBasicUser {
			basics = append(basics, e)
		}
	}
	return basics, nil
}

func (s *Service) writeDelegatedDeclaration(ctx context.Context, enrolmentID id.EnrolmentID, declaration string, now time.Time) error {
	ext, err := s.store.GetDelegatedPersonEnrolment(ctx, enrolmentID)
	if err != nil {
		return err
	}
	ext.NomineeDeclaration = declaration
	ext.NomineeDeclarationTime = &now
	return s.store.UpdateDelegatedPersonEnrolment(ctx, ext)
}

// writeApprovedDeclaration upserts the approved-person extension: it exists
// when the nomination came through the invitation path, and is created fresh
// otherwise.
func (s *Service) writeApprovedDeclaration(ctx context.Context, enrolmentID id.EnrolmentID, declaration string, now time.Time) error {
	ext, err := s.store.GetApprovedPersonEnrolment(ctx, enrolmentID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		ext = &models.ApprovedPersonEnrolment{EnrolmentID: enrolmentID}
		ext.NomineeDeclaration = declaration
		ext.NomineeDeclarationTime = &now
		return s.store.CreateApprovedPersonEnrolment(ctx, ext)
	}
	ext.NomineeDeclaration = declaration
	ext.NomineeDeclarationTime = &now
	return s.store.UpdateApprovedPersonEnrolment(ctx, ext)
}
