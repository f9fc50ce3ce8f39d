// Package domain defines the typed identifiers shared across packreg modules.
//
// Each entity gets its own UUID-backed type so the compiler rejects a
// ConnectionID where an EnrolmentID is expected. Parse functions enforce the
// boundary invariant: ids must be valid, non-empty, non-nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "packreg/pkg/domain-errors"
)

type (
	// OrganisationID identifies an organisation.
	OrganisationID uuid.UUID
	// PersonID identifies a person.
	PersonID uuid.UUID
	// UserID identifies a user (the login identity owning a person).
	UserID uuid.UUID
	// ConnectionID identifies a person-organisation connection.
	ConnectionID uuid.UUID
	// EnrolmentID identifies an enrolment.
	EnrolmentID uuid.UUID
	// ServiceRoleID identifies a service role.
	ServiceRoleID uuid.UUID
)

func parse(raw string, what string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" id is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" id is not a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" id cannot be the nil UUID")
	}
	return parsed, nil
}

// ParseOrganisationID validates and converts a string to an OrganisationID.
func ParseOrganisationID(raw string) (OrganisationID, error) {
	parsed, err := parse(raw, "organisation")
	return OrganisationID(parsed), err
}

// ParsePersonID validates and converts a string to a PersonID.
func ParsePersonID(raw string) (PersonID, error) {
	parsed, err := parse(raw, "person")
	return PersonID(parsed), err
}

// ParseUserID validates and converts a string to a UserID.
func ParseUserID(raw string) (UserID, error) {
	parsed, err := parse(raw, "user")
	return UserID(parsed), err
}

// ParseConnectionID validates and converts a string to a ConnectionID.
func ParseConnectionID(raw string) (ConnectionID, error) {
	parsed, err := parse(raw, "connection")
	return ConnectionID(parsed), err
}

// ParseEnrolmentID validates and converts a string to an EnrolmentID.
func ParseEnrolmentID(raw string) (EnrolmentID, error) {
	parsed, err := parse(raw, "enrolment")
	return EnrolmentID(parsed), err
}

// ParseServiceRoleID validates and converts a string to a ServiceRoleID.
func ParseServiceRoleID(raw string) (ServiceRoleID, error) {
	parsed, err := parse(raw, "service role")
	return ServiceRoleID(parsed), err
}

func (id OrganisationID) String() string { return uuid.UUID(id).String() }
func (id PersonID) String() string       { return uuid.UUID(id).String() }
func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id ConnectionID) String() string   { return uuid.UUID(id).String() }
func (id EnrolmentID) String() string    { return uuid.UUID(id).String() }
func (id ServiceRoleID) String() string  { return uuid.UUID(id).String() }

func (id OrganisationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id PersonID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id ConnectionID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id EnrolmentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ServiceRoleID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
