// Package authz answers "may actor X perform action Y on target Z".
//
// Every predicate is a side-effect-free read over the account graph: role
// hierarchy plus active-enrolment lookups. Nothing is cached between calls;
// mutating services re-evaluate the relevant predicate immediately before
// each mutation.
package authz

import (
	"context"
	"errors"
	"time"

	"packreg/internal/accounts/models"
	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
	"packreg/pkg/platform/sentinel"
	"packreg/pkg/requestcontext"
)

// Store is the read surface the predicates need.
type Store interface {
	GetOrganisation(ctx context.Context, orgID id.OrganisationID) (*models.Organisation, error)
	GetPersonByUserID(ctx context.Context, userID id.UserID) (*models.Person, error)
	ConnectionByPersonAndOrg(ctx context.Context, personID id.PersonID, orgID id.OrganisationID) (*models.Connection, error)
	ConnectionsByPerson(ctx context.Context, personID id.PersonID) ([]*models.Connection, error)
	ActiveEnrolments(ctx context.Context, connID id.ConnectionID, service models.ServiceKey, asOf time.Time) ([]*models.Enrolment, error)
}

// Engine evaluates authorization predicates.
type Engine struct {
	store Store
}

// New constructs an Engine over the given store.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// manageStatuses are the enrolment statuses that carry management authority.
var manageStatuses = []models.EnrolmentStatus{
	models.EnrolmentStatusPending,
	models.EnrolmentStatusApproved,
	models.EnrolmentStatusEnrolled,
}

// approvedPersonStatuses are the statuses under which an approved person may
// act on delegated users: Pending or Approved, not yet-to-accept states.
var approvedPersonStatuses = []models.EnrolmentStatus{
	models.EnrolmentStatusPending,
	models.EnrolmentStatusApproved,
}

func statusIn(status models.EnrolmentStatus, set []models.EnrolmentStatus) bool {
	for _, s := range set {
		if status == s {
			return true
		}
	}
	return false
}

// CanManageUsers reports whether the actor may administer users of the given
// service at the given organisation: either an Admin-connection holder with an
// active enrolment at a non-regulator organisation, or a regulator admin
// whose nation covers the organisation.
func (e *Engine) CanManageUsers(ctx context.Context, actorUserID id.UserID, orgID id.OrganisationID, service models.ServiceKey) (bool, error) {
	actor, org, err := e.resolve(ctx, actorUserID, orgID)
	if err != nil || actor == nil {
		return false, err
	}

	if !org.IsRegulator() {
		ok, err := e.holdsEnrolment(ctx, actor.ID, orgID, service, nil, manageStatuses, true)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return e.isRegulatorFor(ctx, actor.ID, org)
}

// CanManageDelegatedUsers reports whether the actor holds an active
// ApprovedPerson enrolment for the service at the organisation. Strictly
// narrower than CanManageUsers.
func (e *Engine) CanManageDelegatedUsers(ctx context.Context, actorUserID id.UserID, orgID id.OrganisationID, service models.ServiceKey) (bool, error) {
	actor, _, err := e.resolve(ctx, actorUserID, orgID)
	if err != nil || actor == nil {
		return false, err
	}
	kind := models.RoleApprovedPerson
	return e.holdsEnrolment(ctx, actor.ID, orgID, service, &kind, approvedPersonStatuses, false)
}

// CanRemoveEnrolledUser reports whether the actor may remove the target
// person's enrolments for the service role's service at the organisation.
// Always false for self-removal. Otherwise the target's highest active role
// determines which roles may remove it: only a role of equal or higher rank,
// held with an Admin connection at the same organisation or as regulator
// admin.
func (e *Engine) CanRemoveEnrolledUser(ctx context.Context, actorUserID id.UserID, orgID id.OrganisationID, serviceRoleID id.ServiceRoleID, targetPersonID id.PersonID) (bool, error) {
	actor, org, err := e.resolve(ctx, actorUserID, orgID)
	if err != nil || actor == nil {
		return false, err
	}
	if actor.ID == targetPersonID {
		return false, nil
	}

	role, err := models.ServiceRoleByID(serviceRoleID)
	if err != nil {
		return false, err
	}

	highest, err := e.highestActiveRole(ctx, targetPersonID, orgID, role.Service)
	if err != nil {
		return false, err
	}
	if highest == "" {
		return false, nil
	}

	// Producer-side removal: an Admin-connection enrolment of equal or
	// higher rank at the same organisation.
	enrolments, adminConn, err := e.activeEnrolmentsWithConn(ctx, actor.ID, orgID, role.Service)
	if err != nil {
		return false, err
	}
	if adminConn {
		for _, enrolment := range enrolments {
			actorRole, err := models.ServiceRoleByID(enrolment.ServiceRoleID)
			if err != nil {
				continue
			}
			if actorRole.Kind.Rank() >= highest.Rank() && statusIn(enrolment.Status, manageStatuses) {
				return true, nil
			}
		}
	}

	return e.isRegulatorFor(ctx, actor.ID, org)
}

// CanViewComplianceSchemeMembers reports whether the actor holds an active
// packaging enrolment at the given compliance scheme operator.
func (e *Engine) CanViewComplianceSchemeMembers(ctx context.Context, actorUserID id.UserID, orgID id.OrganisationID) (bool, error) {
	actor, org, err := e.resolve(ctx, actorUserID, orgID)
	if err != nil || actor == nil {
		return false, err
	}
	if !org.IsComplianceScheme() {
		return false, nil
	}
	return e.holdsEnrolment(ctx, actor.ID, orgID, models.ServicePackaging, nil, manageStatuses, false)
}

// IsRegulator reports whether the actor holds an active regulator-admin
// enrolment at any regulator organisation.
func (e *Engine) IsRegulator(ctx context.Context, actorUserID id.UserID) (bool, error) {
	actor, err := e.actorPerson(ctx, actorUserID)
	if err != nil || actor == nil {
		return false, err
	}
	org, err := e.regulatorOrganisation(ctx, actor.ID)
	if err != nil {
		return false, err
	}
	return org != nil, nil
}

// RegulatorNationMatchesOrganisation reports whether the actor's regulator
// organisation covers the target organisation's nation.
func (e *Engine) RegulatorNationMatchesOrganisation(ctx context.Context, actorUserID id.UserID, orgID id.OrganisationID) (bool, error) {
	actor, target, err := e.resolve(ctx, actorUserID, orgID)
	if err != nil || actor == nil {
		return false, err
	}
	regOrg, err := e.regulatorOrganisation(ctx, actor.ID)
	if err != nil {
		return false, err
	}
	return regOrg != nil && regOrg.Nation == target.Nation, nil
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

func (e *Engine) actorPerson(ctx context.Context, actorUserID id.UserID) (*models.Person, error) {
	if actorUserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "acting user id is required")
	}
	actor, err := e.store.GetPersonByUserID(ctx, actorUserID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve acting person")
	}
	return actor, nil
}

func (e *Engine) resolve(ctx context.Context, actorUserID id.UserID, orgID id.OrganisationID) (*models.Person, *models.Organisation, error) {
	actor, err := e.actorPerson(ctx, actorUserID)
	if err != nil || actor == nil {
		return nil, nil, err
	}
	org, err := e.store.GetOrganisation(ctx, orgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organisation")
	}
	if org.IsDeleted {
		return nil, nil, nil
	}
	return actor, org, nil
}

// holdsEnrolment reports whether the person holds an active enrolment at the
// organisation for the service, optionally narrowed to one role kind, with a
// status in the given set, optionally requiring the Admin connection role.
func (e *Engine) holdsEnrolment(ctx context.Context, personID id.PersonID, orgID id.OrganisationID, service models.ServiceKey, kind *models.ServiceRoleKind, statuses []models.EnrolmentStatus, requireAdmin bool) (bool, error) {
	conn, err := e.store.ConnectionByPersonAndOrg(ctx, personID, orgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load connection")
	}
	if requireAdmin && conn.PersonRole != models.PersonRoleAdmin {
		return false, nil
	}
	enrolments, err := e.store.ActiveEnrolments(ctx, conn.ID, service, requestcontext.Now(ctx))
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load enrolments")
	}
	for _, enrolment := range enrolments {
		if !statusIn(enrolment.Status, statuses) {
			continue
		}
		if kind == nil {
			return true, nil
		}
		role, err := models.ServiceRoleByID(enrolment.ServiceRoleID)
		if err != nil {
			continue
		}
		if role.Kind == *kind {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) activeEnrolmentsWithConn(ctx context.Context, personID id.PersonID, orgID id.OrganisationID, service models.ServiceKey) ([]*models.Enrolment, bool, error) {
	conn, err := e.store.ConnectionByPersonAndOrg(ctx, personID, orgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load connection")
	}
	enrolments, err := e.store.ActiveEnrolments(ctx, conn.ID, service, requestcontext.Now(ctx))
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load enrolments")
	}
	return enrolments, conn.PersonRole == models.PersonRoleAdmin, nil
}

// highestActiveRole returns the target's highest-ranked active role kind for
// the service at the organisation, or "" when no active enrolment exists.
func (e *Engine) highestActiveRole(ctx context.Context, personID id.PersonID, orgID id.OrganisationID, service models.ServiceKey) (models.ServiceRoleKind, error) {
	conn, err := e.store.ConnectionByPersonAndOrg(ctx, personID, orgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", nil
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load connection")
	}
	enrolments, err := e.store.ActiveEnrolments(ctx, conn.ID, service, requestcontext.Now(ctx))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load enrolments")
	}
	var highest models.ServiceRoleKind
	for _, enrolment := range enrolments {
		role, err := models.ServiceRoleByID(enrolment.ServiceRoleID)
		if err != nil {
			continue
		}
		if role.Kind.Rank() > highest.Rank() {
			highest = role.Kind
		}
	}
	return highest, nil
}

// regulatorOrganisation returns the regulator organisation at which the
// person holds an active regulator-admin enrolment, or nil.
func (e *Engine) regulatorOrganisation(ctx context.Context, personID id.PersonID) (*models.Organisation, error) {
	conns, err := e.store.ConnectionsByPerson(ctx, personID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load connections")
	}
	now := requestcontext.Now(ctx)
	for _, conn := range conns {
		if conn.IsDeleted {
			continue
		}
		org, err := e.store.GetOrganisation(ctx, conn.OrganisationID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organisation")
		}
		if !org.IsRegulator() || org.IsDeleted {
			continue
		}
		enrolments, err := e.store.ActiveEnrolments(ctx, conn.ID, models.ServiceRegulating, now)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load enrolments")
		}
		for _, enrolment := range enrolments {
			role, err := models.ServiceRoleByID(enrolment.ServiceRoleID)
			if err != nil {
				continue
			}
			if role.Kind == models.RoleRegulatorAdmin && statusIn(enrolment.Status, manageStatuses) {
				return org, nil
			}
		}
	}
	return nil, nil
}

// isRegulatorFor reports whether the person is a regulator admin whose
// organisation's nation covers the target organisation.
func (e *Engine) isRegulatorFor(ctx context.Context, personID id.PersonID, target *models.Organisation) (bool, error) {
	regOrg, err := e.regulatorOrganisation(ctx, personID)
	if err != nil {
		return false, err
	}
	if regOrg == nil {
		return false, nil
	}
	if target.IsRegulator() {
		// Regulator admins manage their own organisation's users directly.
		return regOrg.ID == target.ID, nil
	}
	return regOrg.Nation == target.Nation, nil
}
