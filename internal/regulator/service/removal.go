package service

import (
	"context"
	"errors"

	"packreg/internal/accounts/models"
	"packreg/internal/accounts/store"
	"packreg/internal/audit"
	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
	"packreg/pkg/platform/sentinel"
	"packreg/pkg/requestcontext"
)

// RemoveApprovedPerson administratively removes the approved or delegated
// person behind the given connection. The matched enrolment, connection, and
// person are soft-deleted; every remaining delegated-person enrolment at the
// organisation is demoted to the basic-user service role. The demotion swaps
// only the role id: the enrolment status stays where it was rather than
// resetting to Enrolled, so a still-Pending delegated person stays Pending
// under the new role.
func (s *Service) RemoveApprovedPerson(ctx context.Context, actorUserID id.UserID, connID id.ConnectionID, orgID id.OrganisationID) error {
	if err := s.requireRegulatorFor(ctx, actorUserID, orgID); err != nil {
		return err
	}

	release, err := s.acquireLock(ctx, connID)
	if err != nil {
		return err
	}
	defer release()

	enrolments, err := s.store.EnrolmentsByOrganisation(ctx, orgID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organisation enrolments")
	}

	now := requestcontext.Now(ctx)
	var removed *models.Enrolment
	var remaining []*models.Enrolment
	basicRole, err := models.ServiceRoleFor(models.ServicePackaging, models.RoleBasicUser)
	if err != nil {
		return err
	}
	for _, e := range enrolments {
		if !e.IsActive(now) {
			continue
		}
		role, err := models.ServiceRoleByID(e.ServiceRoleID)
		if err != nil {
			return err
		}
		if role.Kind != models.RoleApprovedPerson && role.Kind != models.RoleDelegatedPerson {
			continue
		}
		if e.ConnectionID == connID {
			// An approved-person enrolment wins when the connection holds both.
			if removed == nil || role.Kind == models.RoleApprovedPerson {
				removed = e
			}
			continue
		}
		if role.Kind == models.RoleDelegatedPerson {
			remaining = append(remaining, e)
		}
	}
	if removed == nil {
		return dErrors.New(dErrors.CodeNotFound, "Approved person doesnt belong to organisation")
	}

	conn, err := s.store.GetConnection(ctx, connID, orgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "Approved person doesnt belong to organisation")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load connection")
	}
	person, err := s.store.GetPerson(ctx, conn.PersonID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load person")
	}

	removed.MarkDeleted(now)
	conn.MarkDeleted(now)
	person.MarkDeleted(now)

	stamp := store.AuditStamp{ActorUserID: actorUserID, OrganisationID: orgID, RequestID: requestcontext.RequestID(ctx)}
	err = s.store.RunInTx(ctx, stamp, func(ctx context.Context) error {
		if err := s.store.UpdateEnrolment(ctx, removed); err != nil {
			return err
		}
		if err := s.store.UpdateConnection(ctx, conn); err != nil {
			return err
		}
		if err := s.store.UpdatePerson(ctx, person); err != nil {
			return err
		}
		for _, e := range remaining {
			e.ServiceRoleID = basicRole.ID
			e.UpdatedAt = now
			if err := s.store.UpdateEnrolment(ctx, e); err != nil {
				return err
			}
			// The delegated-person extension cannot outlive its role.
			if err := s.store.DeleteDelegatedPersonEnrolment(ctx, e.ID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist approved person removal")
	}

	if s.metrics != nil {
		s.metrics.ApprovedPersonRemoved()
	}
	s.emitAudit(ctx, audit.Event{
		ActorUserID:    actorUserID,
		OrganisationID: orgID,
		Action:         audit.ActionApprovedPersonRemoved,
		Subject:        removed.ID.String(),
	})
	s.logger.Info("approved person removed",
		"enrolment_id", removed.ID.String(),
		"organisation_id", orgID.String(),
		"demoted", len(remaining))
	return nil
}
