package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"packreg/internal/accounts/models"
	"packreg/internal/accounts/store"
	"packreg/internal/audit"
	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
	"packreg/pkg/requestcontext"
)

// TransferOrganisationNation moves an organisation to another UK nation,
// recording where it came from and the regulator's narrative for the move.
// Compliance scheme organisations cannot be transferred.
func (s *Service) TransferOrganisationNation(ctx context.Context, actorUserID id.UserID, orgID id.OrganisationID, target models.Nation, comment string) error {
	if comment == "" {
		return dErrors.New(dErrors.CodeValidation, "transfer comments missing")
	}
	if err := s.requireRegulatorFor(ctx, actorUserID, orgID); err != nil {
		return err
	}
	actor, err := s.actingPerson(ctx, actorUserID)
	if err != nil {
		return err
	}

	org, err := s.store.GetOrganisation(ctx, orgID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organisation")
	}
	if err := org.CanTransferNation(target); err != nil {
		return err
	}

	now := requestcontext.Now(ctx)
	previous := org.Nation
	org.ApplyNationTransfer(target, now)

	narrative := &models.RegulatorComment{
		ID:              uuid.New(),
		EnrolmentID:     s.approvedPersonEnrolmentID(ctx, orgID, now),
		AuthorPersonID:  actor.ID,
		TransferComment: comment,
		CreatedAt:       now,
	}

	stamp := store.AuditStamp{ActorUserID: actorUserID, OrganisationID: orgID, RequestID: requestcontext.RequestID(ctx)}
	err = s.store.RunInTx(ctx, stamp, func(ctx context.Context) error {
		if err := s.store.UpdateOrganisation(ctx, org); err != nil {
			return err
		}
		return s.store.CreateRegulatorComment(ctx, narrative)
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist nation transfer")
	}

	if s.metrics != nil {
		s.metrics.NationTransferred()
	}
	s.emitAudit(ctx, audit.Event{
		ActorUserID:    actorUserID,
		OrganisationID: orgID,
		Action:         audit.ActionNationTransferred,
		Subject:        orgID.String(),
		Detail:         string(previous) + "->" + string(target),
	})
	return nil
}

// approvedPersonEnrolmentID anchors the transfer narrative to the
// organisation's active approved-person enrolment when one exists; the zero
// id marks an organisation-level comment otherwise.
func (s *Service) approvedPersonEnrolmentID(ctx context.Context, orgID id.OrganisationID, now time.Time) id.EnrolmentID {
	enrolments, err := s.store.EnrolmentsByOrganisation(ctx, orgID)
	if err != nil {
		return id.EnrolmentID{}
	}
	for _, e := range enrolments {
		if !e.IsActive(now) {
			continue
		}
		role, err := models.ServiceRoleByID(e.ServiceRoleID)
		if err != nil {
			continue
		}
		if role.Kind == models.RoleApprovedPerson {
			return e.ID
		}
	}
	return id.EnrolmentID{}
}
