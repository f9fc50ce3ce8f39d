package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"packreg/internal/accounts/models"
	"packreg/internal/accounts/store"
	"packreg/internal/audit"
	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
	"packreg/pkg/platform/sentinel"
	"packreg/pkg/requestcontext"
)

// RoleUpdateResult reports what the edit removed alongside the role change,
// so the caller can tell the user which service roles were stripped.
type RoleUpdateResult struct {
	PersonRole          models.PersonRole
	RemovedServiceRoles []models.ServiceRoleKind
}

// UpdatePersonRole edits another person's organisational role between
// Employee and Admin. Editing a delegated person's role strips the delegated
// person enrolment and falls the target back to an enrolled basic user.
func (s *Service) UpdatePersonRole(ctx context.Context, connID id.ConnectionID, actorUserID id.UserID, orgID id.OrganisationID, service models.ServiceKey, newRole models.PersonRole) (*RoleUpdateResult, error) {
	if service != models.ServicePackaging {
		return nil, dErrors.New(dErrors.CodeValidation, "person role can only be updated for the packaging service")
	}
	if !newRole.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unsupported person role")
	}

	allowed, err := s.authz.CanManageUsers(ctx, actorUserID, orgID, service)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorised to manage users")
	}

	actor, err := s.actingPerson(ctx, actorUserID)
	if err != nil {
		return nil, err
	}

	release, err := s.acquireLock(ctx, connID)
	if err != nil {
		return nil, err
	}
	defer release()

	conn, err := s.store.GetConnection(ctx, connID, orgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no matching record")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load connection")
	}
	if conn.PersonID == actor.ID {
		return nil, dErrors.New(dErrors.CodeValidation, "a person cannot update their own role")
	}

	now := requestcontext.Now(ctx)
	active, err := s.store.ActiveEnrolments(ctx, conn.ID, service, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load active enrolments")
	}

	var delegated []*models.Enrolment
	hasEnrolledBasic := false
	for _, e := range active {
		if e.Status == models.EnrolmentStatusInvited {
			return nil, dErrors.New(dErrors.CodeValidation, "invited user's role cannot be updated")
		}
		role, err := models.ServiceRoleByID(e.ServiceRoleID)
		if err != nil {
			return nil, err
		}
		switch role.Kind {
		case models.RoleApprovedPerson:
			return nil, dErrors.New(dErrors.CodeValidation, "approved person's role cannot be updated")
		case models.RoleDelegatedPerson:
			delegated = append(delegated, e)
		case models.RoleBasicUser:
			if e.Status == models.EnrolmentStatusEnrolled {
				hasEnrolledBasic = true
			}
		}
	}

	var removed []models.ServiceRoleKind
	var replacement *models.Enrolment
	if len(delegated) > 0 {
		allowed, err := s.authz.CanManageDelegatedUsers(ctx, actorUserID, orgID, service)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, dErrors.New(dErrors.CodeForbidden, "not authorised to manage delegated users")
		}
		removed = append(removed, models.RoleDelegatedPerson)
		if !hasEnrolledBasic {
			basicRole, err := models.ServiceRoleFor(service, models.RoleBasicUser)
			if err != nil {
				return nil, err
			}
			replacement, err = models.NewEnrolment(id.EnrolmentID(uuid.New()), conn.ID, basicRole.ID, models.EnrolmentStatusEnrolled, now)
			if err != nil {
				return nil, err
			}
		}
	}

	conn.PersonRole = newRole
	conn.UpdatedAt = now

	stamp := store.AuditStamp{ActorUserID: actorUserID, OrganisationID: orgID, RequestID: requestcontext.RequestID(ctx)}
	err = s.store.RunInTx(ctx, stamp, func(ctx context.Context) error {
		for _, e := range delegated {
			if err := s.store.DeleteEnrolment(ctx, e.ID); err != nil {
				return err
			}
		}
		if replacement != nil {
			if err := s.store.CreateEnrolment(ctx, replacement); err != nil {
				return err
			}
		}
		return s.store.UpdateConnection(ctx, conn)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist role update")
	}

	if s.metrics != nil {
		s.metrics.PersonRoleUpdated()
	}
	s.emitAudit(ctx, audit.Event{
		ActorUserID:    actorUserID,
		OrganisationID: orgID,
		Action:         audit.ActionPersonRoleUpdated,
		Subject:        conn.ID.String(),
		Detail:         "role=" + string(newRole),
	})
	return &RoleUpdateResult{PersonRole: newRole, RemovedServiceRoles: removed}, nil
}
