package models

import (
	dErrors "packreg/pkg/domain-errors"
)

// NominationRequest is the payload proposing a basic user for promotion to
// delegated person.
type NominationRequest struct {
	RelationshipType             RelationshipType
	JobTitle                     string
	ConsultancyName              string
	ComplianceSchemeName         string
	OtherOrganisationName        string
	OtherRelationshipDescription string
	NominatorDeclaration         string
}

// Validate enforces the companion-field rule for each relationship type.
// Any relationship type outside the closed set is unsupported.
func (r *NominationRequest) Validate() error {
	switch r.RelationshipType {
	case RelationshipEmployment:
		if r.JobTitle == "" {
			return dErrors.New(dErrors.CodeValidation, "job title is required for an employment relationship")
		}
	case RelationshipConsultancy:
		if r.ConsultancyName == "" {
			return dErrors.New(dErrors.CodeValidation, "consultancy name is required for a consultancy relationship")
		}
	case RelationshipComplianceScheme:
		if r.ComplianceSchemeName == "" {
			return dErrors.New(dErrors.CodeValidation, "compliance scheme name is required for a compliance scheme relationship")
		}
	case RelationshipOther:
		if r.OtherOrganisationName == "" || r.OtherRelationshipDescription == "" {
			return dErrors.New(dErrors.CodeValidation, "organisation name and relationship description are required for an other relationship")
		}
	default:
		return dErrors.New(dErrors.CodeValidation, "unsupported relationship type")
	}
	return nil
}

// AcceptNominationRequest is the payload the nominee submits when accepting a
// nomination. JobTitle is read only for approved-person acceptance.
type AcceptNominationRequest struct {
	NomineeDeclaration string
	Telephone          string
	JobTitle           string
}

// Validate enforces the fields every acceptance needs.
func (r *AcceptNominationRequest) Validate() error {
	if r.NomineeDeclaration == "" {
		return dErrors.New(dErrors.CodeValidation, "nominee declaration is required")
	}
	if r.Telephone == "" {
		return dErrors.New(dErrors.CodeValidation, "telephone number is required")
	}
	return nil
}

// EnrolmentDecision is the regulator's verdict on a pending enrolment.
type EnrolmentDecision string

const (
	DecisionApproved EnrolmentDecision = "approved"
	DecisionRejected EnrolmentDecision = "rejected"
)
