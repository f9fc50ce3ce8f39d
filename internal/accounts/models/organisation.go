package models

import (
	"time"

	"github.com/google/uuid"

	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
)

// OrganisationType distinguishes producers from the bodies that administer
// or aggregate them.
type OrganisationType string

const (
	OrganisationTypeCompaniesHouseCompany    OrganisationType = "companies_house_company"
	OrganisationTypeNonCompaniesHouseCompany OrganisationType = "non_companies_house_company"
	OrganisationTypeRegulator                OrganisationType = "regulator"
	OrganisationTypeComplianceScheme         OrganisationType = "compliance_scheme"
)

// Nation is the UK nation an organisation is registered in. Regulator scope
// is nation-based, so an unknown nation is rejected at the boundary.
type Nation string

const (
	NationEngland         Nation = "england"
	NationNorthernIreland Nation = "northern_ireland"
	NationScotland        Nation = "scotland"
	NationWales           Nation = "wales"
)

// Valid reports whether the nation is one of the four known UK nations.
func (n Nation) Valid() bool {
	switch n {
	case NationEngland, NationNorthernIreland, NationScotland, NationWales:
		return true
	}
	return false
}

// Organisation is an account holder: a producer company, a regulator, or a
// compliance scheme operator.
//
// Invariants:
//   - Name is non-empty
//   - Nation is one of the four known nations
//   - IsDeleted is one-directional: once true it never resets
//   - TransferredFromNation is set only by a regulator nation transfer and
//     records the nation the organisation previously belonged to
type Organisation struct {
	ID                    id.OrganisationID
	Name                  string
	Type                  OrganisationType
	Nation                Nation
	TransferredFromNation *Nation
	IsDeleted             bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (o *Organisation) IsRegulator() bool {
	return o.Type == OrganisationTypeRegulator
}

func (o *Organisation) IsComplianceScheme() bool {
	return o.Type == OrganisationTypeComplianceScheme
}

// MarkDeleted soft-deletes the organisation. There is deliberately no inverse
// operation.
func (o *Organisation) MarkDeleted(now time.Time) {
	o.IsDeleted = true
	o.UpdatedAt = now
}

// CanTransferNation checks the preconditions for a regulator nation transfer.
func (o *Organisation) CanTransferNation(target Nation) error {
	if o.IsComplianceScheme() {
		return dErrors.New(dErrors.CodeInvariantViolation, "compliance scheme organisations cannot be transferred between nations")
	}
	if !target.Valid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown nation")
	}
	return nil
}

// ApplyNationTransfer records the previous nation and moves the organisation
// to the target nation. Call CanTransferNation first.
func (o *Organisation) ApplyNationTransfer(target Nation, now time.Time) {
	previous := o.Nation
	o.TransferredFromNation = &previous
	o.Nation = target
	o.UpdatedAt = now
}

// NewOrganisation constructs an organisation, validating its invariants.
func NewOrganisation(orgID id.OrganisationID, name string, orgType OrganisationType, nation Nation, now time.Time) (*Organisation, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "organisation name cannot be empty")
	}
	if !nation.Valid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown nation")
	}
	return &Organisation{
		ID:        orgID,
		Name:      name,
		Type:      orgType,
		Nation:    nation,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// OrganisationConnection is an inter-organisation edge (for example a
// producer's link to its compliance scheme operator). The rejection cascade
// sweeps every edge touching the rejected organisation.
type OrganisationConnection struct {
	ID        uuid.UUID
	FromID    id.OrganisationID
	ToID      id.OrganisationID
	IsDeleted bool
}

func (c *OrganisationConnection) Touches(orgID id.OrganisationID) bool {
	return c.FromID == orgID || c.ToID == orgID
}

// ComplianceSchemeSelection records a producer's membership of a compliance
// scheme. Selection logic lives elsewhere; this row exists here because the
// rejection cascade must sweep it.
type ComplianceSchemeSelection struct {
	ID                 uuid.UUID
	OrganisationID     id.OrganisationID
	ComplianceSchemeID id.OrganisationID
	IsDeleted          bool
}
