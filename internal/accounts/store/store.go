// Package store persists the account graph: organisations, persons, users,
// person-organisation connections, and the enrolments attached to them.
//
// Two implementations exist: InMemory for unit tests and local development,
// and Postgres for production. Both return pkg/platform/sentinel errors;
// services translate those into domain errors with user-visible reasons.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"packreg/internal/accounts/models"
	id "packreg/pkg/domain"
)

// AuditStamp identifies who committed a unit of work and on whose behalf.
// Every multi-entity mutation is stamped so the change history can answer
// "who did this" without inspecting individual rows.
type AuditStamp struct {
	ActorUserID    id.UserID
	OrganisationID id.OrganisationID
	RequestID      string
}

// Tx is the unit-of-work boundary. Every mutation inside fn commits
// atomically or not at all; a failure leaves no partial state.
type Tx interface {
	RunInTx(ctx context.Context, stamp AuditStamp, fn func(ctx context.Context) error) error
}

// FindEnrolmentFilter narrows an enrolment lookup to exactly one candidate.
// All set fields must match; zero-valued fields are not part of the filter.
type FindEnrolmentFilter struct {
	EnrolmentID    id.EnrolmentID
	OrganisationID id.OrganisationID
	PersonID       id.PersonID
	Service        models.ServiceKey
	RoleKind       models.ServiceRoleKind
	Status         models.EnrolmentStatus
}

// OrganisationStore reads and writes organisations and the inter-organisation
// rows the rejection cascade sweeps.
type OrganisationStore interface {
	CreateOrganisation(ctx context.Context, org *models.Organisation) error
	GetOrganisation(ctx context.Context, orgID id.OrganisationID) (*models.Organisation, error)
	UpdateOrganisation(ctx context.Context, org *models.Organisation) error

	CreateOrganisationConnection(ctx context.Context, conn *models.OrganisationConnection) error
	OrganisationConnectionsTouching(ctx context.Context, orgID id.OrganisationID) ([]*models.OrganisationConnection, error)
	UpdateOrganisationConnection(ctx context.Context, conn *models.OrganisationConnection) error

	CreateSchemeSelection(ctx context.Context, sel *models.ComplianceSchemeSelection) error
	SchemeSelectionsTouching(ctx context.Context, orgID id.OrganisationID) ([]*models.ComplianceSchemeSelection, error)
	UpdateSchemeSelection(ctx context.Context, sel *models.ComplianceSchemeSelection) error
}

// PersonStore reads and writes persons and their owning users.
type PersonStore interface {
	CreatePerson(ctx context.Context, person *models.Person) error
	GetPerson(ctx context.Context, personID id.PersonID) (*models.Person, error)
	GetPersonByUserID(ctx context.Context, userID id.UserID) (*models.Person, error)
	UpdatePerson(ctx context.Context, person *models.Person) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID id.UserID) (*models.User, error)
	GetUserByExternalIdentity(ctx context.Context, externalIdentityID uuid.UUID) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
}

// ConnectionStore reads and writes person-organisation connections.
type ConnectionStore interface {
	CreateConnection(ctx context.Context, conn *models.Connection) error
	GetConnection(ctx context.Context, connID id.ConnectionID, orgID id.OrganisationID) (*models.Connection, error)
	ConnectionByPersonAndOrg(ctx context.Context, personID id.PersonID, orgID id.OrganisationID) (*models.Connection, error)
	ConnectionsByPerson(ctx context.Context, personID id.PersonID) ([]*models.Connection, error)
	ConnectionsByOrganisation(ctx context.Context, orgID id.OrganisationID) ([]*models.Connection, error)
	UpdateConnection(ctx context.Context, conn *models.Connection) error
}

// EnrolmentStore reads and writes enrolments and their role extensions.
//
// DeleteEnrolment is the only physical delete in the system: demotion and
// replacement remove the Delegated/ApprovedPerson record and substitute a new
// BasicUser enrolment. The role extension travels with its parent. All other
// removal is soft.
type EnrolmentStore interface {
	CreateEnrolment(ctx context.Context, enrolment *models.Enrolment) error
	GetEnrolment(ctx context.Context, enrolmentID id.EnrolmentID) (*models.Enrolment, error)
	FindEnrolment(ctx context.Context, filter FindEnrolmentFilter) (*models.Enrolment, error)
	ActiveEnrolments(ctx context.Context, connID id.ConnectionID, service models.ServiceKey, asOf time.Time) ([]*models.Enrolment, error)
	EnrolmentsByOrganisation(ctx context.Context, orgID id.OrganisationID) ([]*models.Enrolment, error)
	UpdateEnrolment(ctx context.Context, enrolment *models.Enrolment) error
	DeleteEnrolment(ctx context.Context, enrolmentID id.EnrolmentID) error

	CreateDelegatedPersonEnrolment(ctx context.Context, ext *models.DelegatedPersonEnrolment) error
	GetDelegatedPersonEnrolment(ctx context.Context, enrolmentID id.EnrolmentID) (*models.DelegatedPersonEnrolment, error)
	UpdateDelegatedPersonEnrolment(ctx context.Context, ext *models.DelegatedPersonEnrolment) error
	// DeleteDelegatedPersonEnrolment removes the extension row alone, used
	// when the parent enrolment is demoted to a basic-user role in place.
	DeleteDelegatedPersonEnrolment(ctx context.Context, enrolmentID id.EnrolmentID) error

	CreateApprovedPersonEnrolment(ctx context.Context, ext *models.ApprovedPersonEnrolment) error
	GetApprovedPersonEnrolment(ctx context.Context, enrolmentID id.EnrolmentID) (*models.ApprovedPersonEnrolment, error)
	UpdateApprovedPersonEnrolment(ctx context.Context, ext *models.ApprovedPersonEnrolment) error

	CreateRegulatorComment(ctx context.Context, comment *models.RegulatorComment) error
	RegulatorCommentsByEnrolment(ctx context.Context, enrolmentID id.EnrolmentID) ([]*models.RegulatorComment, error)
}

// Store is the full account-graph surface.
type Store interface {
	OrganisationStore
	PersonStore
	ConnectionStore
	EnrolmentStore
	Tx
}
