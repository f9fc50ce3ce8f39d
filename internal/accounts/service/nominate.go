package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"packreg/internal/accounts/models"
	"packreg/internal/accounts/store"
	"packreg/internal/audit"
	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
	"packreg/pkg/platform/sentinel"
	"packreg/pkg/requestcontext"
)

// Nominate proposes the basic user behind the given connection for promotion
// to delegated person. The nomination records who nominated (via the
// nominator's own approved-person enrolment), the relationship between the
// nominee and the organisation, and the nominator's declaration. The nominee
// must still accept before the regulator sees anything.
func (s *Service) Nominate(ctx context.Context, connID id.ConnectionID, actorUserID id.UserID, orgID id.OrganisationID, service models.ServiceKey, req models.NominationRequest) error {
	start := time.Now()
	if service != models.ServicePackaging {
		return dErrors.New(dErrors.CodeValidation, "unsupported service")
	}
	if err := req.Validate(); err != nil {
		return err
	}

	allowed, err := s.authz.CanManageUsers(ctx, actorUserID, orgID, service)
	if err != nil {
		return err
	}
	if !allowed {
		return dErrors.New(dErrors.CodeForbidden, "not authorised to manage users")
	}

	actor, err := s.actingPerson(ctx, actorUserID)
	if err != nil {
		return err
	}

	release, err := s.acquireLock(ctx, connID)
	if err != nil {
		return err
	}
	defer release()

	conn, err := s.store.GetConnection(ctx, connID, orgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "no matching record")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load connection")
	}
	if conn.PersonID == actor.ID {
		return dErrors.New(dErrors.CodeValidation, "a person cannot nominate themselves")
	}

	now := requestcontext.Now(ctx)
	active, err := s.store.ActiveEnrolments(ctx, conn.ID, service, now)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load active enrolments")
	}
	if err := nominationEligibility(active); err != nil {
		return err
	}

	nominator, err := s.nominatorEnrolment(ctx, actor.ID, orgID, service)
	if err != nil {
		return err
	}

	role, err := models.ServiceRoleFor(service, models.RoleDelegatedPerson)
	if err != nil {
		return err
	}
	enrolment, err := models.NewEnrolment(id.EnrolmentID(uuid.New()), conn.ID, role.ID, models.EnrolmentStatusNominated, now)
	if err != nil {
		return err
	}
	declarationTime := now
	ext := &models.DelegatedPersonEnrolment{
		EnrolmentID:                  enrolment.ID,
		NominatorEnrolmentID:         nominator.ID,
		RelationshipType:             req.RelationshipType,
		ConsultancyName:              req.ConsultancyName,
		ComplianceSchemeName:         req.ComplianceSchemeName,
		OtherOrganisationName:        req.OtherOrganisationName,
		OtherRelationshipDescription: req.OtherRelationshipDescription,
		NominatorDeclaration:         req.NominatorDeclaration,
		NominatorDeclarationTime:     &declarationTime,
	}
	if req.RelationshipType == models.RelationshipEmployment {
		conn.JobTitle = req.JobTitle
	}
	conn.PromoteToAdmin(now)

	stamp := store.AuditStamp{ActorUserID: actorUserID, OrganisationID: orgID, RequestID: requestcontext.RequestID(ctx)}
	err = s.store.RunInTx(ctx, stamp, func(ctx context.Context) error {
		if err := s.store.UpdateConnection(ctx, conn); err != nil {
			return err
		}
		if err := s.store.CreateEnrolment(ctx, enrolment); err != nil {
			return err
		}
		return s.store.CreateDelegatedPersonEnrolment(ctx, ext)
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist nomination")
	}

	if s.metrics != nil {
		s.metrics.NominationCreated()
		s.metrics.ObserveNominate(start)
	}
	s.emitAudit(ctx, audit.Event{
		ActorUserID:    actorUserID,
		OrganisationID: orgID,
		Action:         audit.ActionNominationCreated,
		Subject:        enrolment.ID.String(),
		Detail:         "relationship=" + string(req.RelationshipType),
	})
	s.logger.Info("nomination created",
		"enrolment_id", enrolment.ID.String(),
		"connection_id", conn.ID.String(),
		"organisation_id", orgID.String())
	return nil
}

// nominationEligibility enforces the ordering of nomination guards over the
// target's active enrolments: enrolled at all, not invited, not already
// holding an elevated role, and actually a basic user. The flags are
// collected in one pass and tested in guard order so the reason stays the
// same no matter how the enrolments are listed.
func nominationEligibility(active []*models.Enrolment) error {
	if len(active) == 0 {
		return dErrors.New(dErrors.CodeValidation, "not enrolled")
	}
	var invited, approvedPerson, delegatedPerson, basicUser bool
	for _, e := range active {
		if e.Status == models.EnrolmentStatusInvited {
			invited = true
		}
		role, err := models.ServiceRoleByID(e.ServiceRoleID)
		if err != nil {
			return err
		}
		switch role.Kind {
		case models.RoleApprovedPerson:
			approvedPerson = true
		case models.RoleDelegatedPerson:
			delegatedPerson = true
		case models.RoleBasicUser:
			basicUser = true
		}
	}
	switch {
	case invited:
		return dErrors.New(dErrors.CodeValidation, "Invited user cannot be nominated")
	case approvedPerson:
		return dErrors.New(dErrors.CodeValidation, "Approved person cannot be nominated")
	case delegatedPerson:
		return dErrors.New(dErrors.CodeValidation, "Delegated Person cannot be nominated")
	case !basicUser:
		return dErrors.New(dErrors.CodeValidation, "only Basic User can be nominated")
	}
	return nil
}

// nominatorEnrolment finds the acting person's own active approved-person
// enrolment at the organisation, which stamps provenance on the nomination.
func (s *Service) nominatorEnrolment(ctx context.Context, actorPersonID id.PersonID, orgID id.OrganisationID, service models.ServiceKey) (*models.Enrolment, error) {
	conn, err := s.store.ConnectionByPersonAndOrg(ctx, actorPersonID, orgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeForbidden, "nominator has no connection to the organisation")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load nominator connection")
	}
	active, err := s.store.ActiveEnrolments(ctx, conn.ID, service, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load nominator enrolments")
	}
	for _, e := range active {
		role, err := models.ServiceRoleByID(e.ServiceRoleID)
		if err != nil {
			return nil, err
		}
		if role.Kind == models.RoleApprovedPerson {
			return e, nil
		}
	}
	return nil, dErrors.New(dErrors.CodeForbidden, "nominator must hold an approved person enrolment")
}
