package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
)

// EnrolmentStatus is the closed set of enrolment lifecycle states.
type EnrolmentStatus string

const (
	EnrolmentStatusNotSet    EnrolmentStatus = "not_set"
	EnrolmentStatusInvited   EnrolmentStatus = "invited"
	EnrolmentStatusNominated EnrolmentStatus = "nominated"
	EnrolmentStatusPending   EnrolmentStatus = "pending"
	EnrolmentStatusApproved  EnrolmentStatus = "approved"
	EnrolmentStatusRejected  EnrolmentStatus = "rejected"
	EnrolmentStatusEnrolled  EnrolmentStatus = "enrolled"
	EnrolmentStatusOnHold    EnrolmentStatus = "on_hold"
)

// transitions is the complete legal transition table. Creation enters the
// machine at Invited (invitation), Enrolled (direct account creation), or
// Nominated (nomination workflow); those edges are enforced by the
// constructors, not here.
var transitions = map[EnrolmentStatus][]EnrolmentStatus{
	EnrolmentStatusInvited:   {EnrolmentStatusEnrolled},
	EnrolmentStatusNominated: {EnrolmentStatusPending},
	EnrolmentStatusPending:   {EnrolmentStatusApproved, EnrolmentStatusRejected},
}

// CanTransitionTo reports whether the table permits moving to target.
func (s EnrolmentStatus) CanTransitionTo(target EnrolmentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// ActiveEnrolmentStatuses are the statuses that count as "active" for
// authorization and uniqueness checks.
var ActiveEnrolmentStatuses = []EnrolmentStatus{
	EnrolmentStatusEnrolled,
	EnrolmentStatusPending,
	EnrolmentStatusApproved,
	EnrolmentStatusInvited,
	EnrolmentStatusNominated,
}

// IsActiveStatus reports whether the status is in the active set.
func (s EnrolmentStatus) IsActiveStatus() bool {
	for _, active := range ActiveEnrolmentStatuses {
		if s == active {
			return true
		}
	}
	return false
}

// Enrolment is a person's participation record in one service role at one
// organisation, attached via the person-organisation connection.
//
// Invariants:
//   - meaningful only in the context of its connection's organisation and
//     its service role's service
//   - at most one active ApprovedPerson enrolment per organisation-service
//   - status changes only through Transition (regulator removal freezes the
//     status and sets IsDeleted instead)
type Enrolment struct {
	ID            id.EnrolmentID
	ConnectionID  id.ConnectionID
	ServiceRoleID id.ServiceRoleID
	Status        EnrolmentStatus
	ValidFrom     *time.Time
	ValidTo       *time.Time
	IsDeleted     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transition moves the enrolment to target, or rejects the move with the
// exact illegal edge named. An attempt outside the table never no-ops.
func (e *Enrolment) Transition(target EnrolmentStatus, now time.Time) error {
	if e.IsDeleted {
		return dErrors.New(dErrors.CodeConflict, "enrolment has been removed")
	}
	if !e.Status.CanTransitionTo(target) {
		return dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("enrolment cannot transition from %s to %s", e.Status, target))
	}
	e.Status = target
	e.UpdatedAt = now
	return nil
}

// IsActive reports whether the enrolment counts as active at the given time:
// not soft-deleted, status in the active set, and inside the validity window
// when one is present.
func (e *Enrolment) IsActive(asOf time.Time) bool {
	if e.IsDeleted || !e.Status.IsActiveStatus() {
		return false
	}
	if e.ValidFrom != nil && asOf.Before(*e.ValidFrom) {
		return false
	}
	if e.ValidTo != nil && !asOf.Before(*e.ValidTo) {
		return false
	}
	return true
}

// MarkDeleted soft-deletes the enrolment, freezing its status. One-directional.
func (e *Enrolment) MarkDeleted(now time.Time) {
	e.IsDeleted = true
	e.UpdatedAt = now
}

// NewEnrolment constructs an enrolment entering the machine at one of the
// legal entry states.
func NewEnrolment(enrolmentID id.EnrolmentID, connectionID id.ConnectionID, serviceRoleID id.ServiceRoleID, status EnrolmentStatus, now time.Time) (*Enrolment, error) {
	switch status {
	case EnrolmentStatusInvited, EnrolmentStatusEnrolled, EnrolmentStatusNominated:
	default:
		return nil, dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("enrolment cannot be created in status %s", status))
	}
	return &Enrolment{
		ID:            enrolmentID,
		ConnectionID:  connectionID,
		ServiceRoleID: serviceRoleID,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// RelationshipType describes how a delegated person relates to the
// organisation they act for.
type RelationshipType string

const (
	RelationshipEmployment       RelationshipType = "employment"
	RelationshipConsultancy      RelationshipType = "consultancy"
	RelationshipComplianceScheme RelationshipType = "compliance_scheme"
	RelationshipOther            RelationshipType = "other"
)

// DelegatedPersonEnrolment is the 1:1 extension of a DelegatedPerson
// enrolment. It travels with its parent: deleting the enrolment removes it.
type DelegatedPersonEnrolment struct {
	EnrolmentID                  id.EnrolmentID
	NominatorEnrolmentID         id.EnrolmentID
	RelationshipType             RelationshipType
	ConsultancyName              string
	ComplianceSchemeName         string
	OtherOrganisationName        string
	OtherRelationshipDescription string
	NominatorDeclaration         string
	NominatorDeclarationTime     *time.Time
	NomineeDeclaration           string
	NomineeDeclarationTime       *time.Time
}

// ApprovedPersonEnrolment is the 1:1 extension of an ApprovedPerson enrolment.
type ApprovedPersonEnrolment struct {
	EnrolmentID            id.EnrolmentID
	NomineeDeclaration     string
	NomineeDeclarationTime *time.Time
}

// RegulatorComment attaches a regulator's narrative to an enrolment: either
// the reason a pending enrolment was rejected, or the story behind a nation
// transfer.
type RegulatorComment struct {
	ID              uuid.UUID
	EnrolmentID     id.EnrolmentID
	AuthorPersonID  id.PersonID
	RejectedComment string
	TransferComment string
	IsDeleted       bool
	CreatedAt       time.Time
}
