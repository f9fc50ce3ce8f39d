package models

import (
	"github.com/google/uuid"

	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
)

// ServiceKey identifies a regulated digital service. Packaging is the only
// producer-facing service today; Regulating carries the regulator admins.
type ServiceKey string

const (
	ServicePackaging  ServiceKey = "packaging"
	ServiceRegulating ServiceKey = "regulating"
)

// Valid reports whether the key names a known service.
func (k ServiceKey) Valid() bool {
	return k == ServicePackaging || k == ServiceRegulating
}

// ServiceRoleKind is the closed set of well-known roles within a service.
// Keeping this a tagged enum (instead of comparing key strings) means an
// unrecognized role can never silently fall through a match.
type ServiceRoleKind string

const (
	RoleBasicUser       ServiceRoleKind = "basic_user"
	RoleDelegatedPerson ServiceRoleKind = "delegated_person"
	RoleApprovedPerson  ServiceRoleKind = "approved_person"
	RoleRegulatorAdmin  ServiceRoleKind = "regulator_admin"
)

// Rank orders the packaging roles by authority: ApprovedPerson is the
// accountable signatory, DelegatedPerson acts on their behalf, BasicUser has
// no signing authority. RegulatorAdmin sits outside the producer hierarchy
// and ranks above all of them for removal purposes.
func (k ServiceRoleKind) Rank() int {
	switch k {
	case RoleBasicUser:
		return 1
	case RoleDelegatedPerson:
		return 2
	case RoleApprovedPerson:
		return 3
	case RoleRegulatorAdmin:
		return 4
	}
	return 0
}

// ServiceRole is a catalogue row: one role within one service.
type ServiceRole struct {
	ID      id.ServiceRoleID
	Service ServiceKey
	Kind    ServiceRoleKind
}

// Well-known service-role ids. These are seeded reference data, fixed so the
// in-memory and Postgres stores agree.
var (
	ServiceRolePackagingBasicUserID       = id.ServiceRoleID(uuid.MustParse("6a96b6a1-6d49-4c13-9a6a-d5c04a6cb2a1"))
	ServiceRolePackagingDelegatedPersonID = id.ServiceRoleID(uuid.MustParse("b21f06cd-9e54-4756-95d6-d1d2ea7c80a2"))
	ServiceRolePackagingApprovedPersonID  = id.ServiceRoleID(uuid.MustParse("c49b1b26-98b2-4f03-8e6f-1a0a9cfbc3a3"))
	ServiceRoleRegulatorAdminID           = id.ServiceRoleID(uuid.MustParse("d5709a0a-417b-4f17-a7a9-bcf6f77fc4a4"))
)

// ServiceRoles is the full seeded catalogue.
var ServiceRoles = []ServiceRole{
	{ID: ServiceRolePackagingBasicUserID, Service: ServicePackaging, Kind: RoleBasicUser},
	{ID: ServiceRolePackagingDelegatedPersonID, Service: ServicePackaging, Kind: RoleDelegatedPerson},
	{ID: ServiceRolePackagingApprovedPersonID, Service: ServicePackaging, Kind: RoleApprovedPerson},
	{ID: ServiceRoleRegulatorAdminID, Service: ServiceRegulating, Kind: RoleRegulatorAdmin},
}

// ServiceRoleByID resolves a catalogue row by id.
func ServiceRoleByID(roleID id.ServiceRoleID) (ServiceRole, error) {
	for _, role := range ServiceRoles {
		if role.ID == roleID {
			return role, nil
		}
	}
	return ServiceRole{}, dErrors.New(dErrors.CodeInvalidInput, "unknown service role")
}

// ServiceRoleFor resolves a catalogue row by service and kind.
func ServiceRoleFor(service ServiceKey, kind ServiceRoleKind) (ServiceRole, error) {
	for _, role := range ServiceRoles {
		if role.Service == service && role.Kind == kind {
			return role, nil
		}
	}
	return ServiceRole{}, dErrors.New(dErrors.CodeInvalidInput, "unknown service role")
}
