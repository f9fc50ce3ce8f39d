package models

import (
	"time"

	"github.com/google/uuid"

	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
)

// Person holds the contact details behind a user identity. A person is owned
// by at most one user and may be connected to several organisations.
type Person struct {
	ID        id.PersonID
	UserID    id.UserID
	FirstName string
	LastName  string
	Email     string
	Telephone string
	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MarkDeleted soft-deletes the person. One-directional.
func (p *Person) MarkDeleted(now time.Time) {
	p.IsDeleted = true
	p.UpdatedAt = now
}

// User correlates a person with an external login identity.
// ExternalIdentityID is uuid.Nil ("empty") until the invite is accepted, and
// is reset to uuid.Nil when the cascade orphans an approved person.
// InviteTokenHash is non-empty only while an invitation is outstanding.
type User struct {
	ID                 id.UserID
	ExternalIdentityID uuid.UUID
	Email              string
	InviteTokenHash    string
	IsDeleted          bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasPendingInvite reports whether an invitation is outstanding.
func (u *User) HasPendingInvite() bool {
	return u.InviteTokenHash != ""
}

// ClearInvite consumes the outstanding invitation and links the external
// identity the invitee signed in with.
func (u *User) ClearInvite(externalIdentityID uuid.UUID, now time.Time) {
	u.InviteTokenHash = ""
	u.ExternalIdentityID = externalIdentityID
	u.UpdatedAt = now
}

// UnlinkExternalIdentity resets the external identity correlation to the
// empty sentinel. Used when the organisation subtree the identity belonged to
// is removed.
func (u *User) UnlinkExternalIdentity(now time.Time) {
	u.ExternalIdentityID = uuid.Nil
	u.UpdatedAt = now
}

// MarkDeleted soft-deletes the user. One-directional.
func (u *User) MarkDeleted(now time.Time) {
	u.IsDeleted = true
	u.UpdatedAt = now
}

// PersonRole is the role a person holds inside one organisation, carried on
// the connection. It is promoted to Admin as a side effect of nomination and
// approved-person acceptance, never edited independently of enrolments.
type PersonRole string

const (
	PersonRoleEmployee PersonRole = "employee"
	PersonRoleAdmin    PersonRole = "admin"
)

// Valid reports whether the role is one of the two known person roles.
func (r PersonRole) Valid() bool {
	return r == PersonRoleEmployee || r == PersonRoleAdmin
}

// Connection links a person to an organisation. A person holds at most one
// connection per organisation; enrolments attach to the connection.
type Connection struct {
	ID             id.ConnectionID
	PersonID       id.PersonID
	OrganisationID id.OrganisationID
	PersonRole     PersonRole
	JobTitle       string
	IsDeleted      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MarkDeleted soft-deletes the connection. One-directional.
func (c *Connection) MarkDeleted(now time.Time) {
	c.IsDeleted = true
	c.UpdatedAt = now
}

// PromoteToAdmin sets the connection's person role to Admin. Idempotent.
func (c *Connection) PromoteToAdmin(now time.Time) {
	if c.PersonRole != PersonRoleAdmin {
		c.PersonRole = PersonRoleAdmin
		c.UpdatedAt = now
	}
}

// NewConnection constructs a connection, validating its invariants.
func NewConnection(connID id.ConnectionID, personID id.PersonID, orgID id.OrganisationID, role PersonRole, jobTitle string, now time.Time) (*Connection, error) {
	if !role.Valid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown person role")
	}
	return &Connection{
		ID:             connID,
		PersonID:       personID,
		OrganisationID: orgID,
		PersonRole:     role,
		JobTitle:       jobTitle,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
