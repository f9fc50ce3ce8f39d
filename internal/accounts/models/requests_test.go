package models

import (
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "packreg/pkg/domain-errors"
)

type RequestsSuite struct {
	suite.Suite
}

func TestRequestsSuite(t *testing.T) {
	suite.Run(t, new(RequestsSuite))
}

// TestNominationCompanionFields verifies each relationship type demands its
// companion field.
func (s *RequestsSuite) TestNominationCompanionFields() {
	s.Run("employment requires job title", func() {
		req := &NominationRequest{RelationshipType: RelationshipEmployment}
		err := req.Validate()
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		req.JobTitle = "Compliance Manager"
		s.NoError(req.Validate())
	})

	s.Run("consultancy requires consultancy name", func() {
		req := &NominationRequest{RelationshipType: RelationshipConsultancy}
		s.Require().Error(req.Validate())

		req.ConsultancyName = "Acme Advisory"
		s.NoError(req.Validate())
	})

	s.Run("compliance scheme requires scheme name", func() {
		req := &NominationRequest{RelationshipType: RelationshipComplianceScheme}
		s.Require().Error(req.Validate())

		req.ComplianceSchemeName = "GreenPack"
		s.NoError(req.Validate())
	})

	s.Run("other requires organisation name and description", func() {
		req := &NominationRequest{RelationshipType: RelationshipOther, OtherOrganisationName: "Holdings Ltd"}
		s.Require().Error(req.Validate())

		req.OtherRelationshipDescription = "parent company secondment"
		s.NoError(req.Validate())
	})

	s.Run("unsupported relationship type is rejected", func() {
		req := &NominationRequest{RelationshipType: "franchise"}
		err := req.Validate()
		s.Require().Error(err)
		s.Contains(err.Error(), "unsupported relationship type")
	})
}

func (s *RequestsSuite) TestAcceptNomination() {
	s.Run("requires declaration and telephone", func() {
		req := &AcceptNominationRequest{}
		s.Require().Error(req.Validate())

		req.NomineeDeclaration = "I confirm"
		s.Require().Error(req.Validate())

		req.Telephone = "020 7946 0000"
		s.NoError(req.Validate())
	})
}
