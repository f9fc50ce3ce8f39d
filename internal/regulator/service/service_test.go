package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"packreg/internal/accounts/authz"
	"packreg/internal/accounts/lock"
	"packreg/internal/accounts/models"
	"packreg/internal/accounts/store"
	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
	"packreg/pkg/platform/sentinel"
	"packreg/pkg/testutil"
)

type RegulatorSuite struct {
	suite.Suite
	store   *store.InMemory
	service *Service
	ctx     context.Context

	org      *models.Organisation
	regOrg   *models.Organisation
	regAdmin member
	approved member
}

type member struct {
	userID      id.UserID
	personID    id.PersonID
	connID      id.ConnectionID
	enrolmentID id.EnrolmentID
}

func TestRegulatorSuite(t *testing.T) {
	suite.Run(t, new(RegulatorSuite))
}

func (s *RegulatorSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.service = New(s.store, authz.New(s.store), lock.NewInMemory())
	s.ctx = testutil.Context()

	s.org = s.newOrg("Producer Ltd", models.OrganisationTypeCompaniesHouseCompany, models.NationEngland)
	s.regOrg = s.newOrg("Environment Agency", models.OrganisationTypeRegulator, models.NationEngland)
	s.regAdmin = s.newMember(s.regOrg, models.PersonRoleAdmin, models.ServiceRoleRegulatorAdminID, models.EnrolmentStatusEnrolled)
	s.approved = s.newMember(s.org, models.PersonRoleAdmin, models.ServiceRolePackagingApprovedPersonID, models.EnrolmentStatusApproved)
}

func (s *RegulatorSuite) newOrg(name string, orgType models.OrganisationType, nation models.Nation) *models.Organisation {
	org, err := models.NewOrganisation(id.OrganisationID(uuid.New()), name, orgType, nation, testutil.FixedTime)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateOrganisation(s.ctx, org))
	return org
}

func (s *RegulatorSuite) newMember(org *models.Organisation, personRole models.PersonRole, serviceRoleID id.ServiceRoleID, status models.EnrolmentStatus) member {
	user := &models.User{ID: id.UserID(uuid.New()), Email: uuid.NewString() + "@example.test", CreatedAt: testutil.FixedTime, UpdatedAt: testutil.FixedTime}
	s.Require().NoError(s.store.CreateUser(s.ctx, user))
	person := &models.Person{ID: id.PersonID(uuid.New()), UserID: user.ID, FirstName: "Fixture", LastName: "Person", Email: user.Email, CreatedAt: testutil.FixedTime, UpdatedAt: testutil.FixedTime}
	s.Require().NoError(s.store.CreatePerson(s.ctx, person))
	conn, err := models.NewConnection(id.ConnectionID(uuid.New()), person.ID, org.ID, personRole, "", testutil.FixedTime)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateConnection(s.ctx, conn))

	enrolment, err := models.NewEnrolment(id.EnrolmentID(uuid.New()), conn.ID, serviceRoleID, models.EnrolmentStatusEnrolled, testutil.FixedTime)
	s.Require().NoError(err)
	enrolment.Status = status
	s.Require().NoError(s.store.CreateEnrolment(s.ctx, enrolment))

	return member{userID: user.ID, personID: person.ID, connID: conn.ID, enrolmentID: enrolment.ID}
}

func (s *RegulatorSuite) newDelegatedPerson(org *models.Organisation, status models.EnrolmentStatus, nominatorEnrolmentID id.EnrolmentID) member {
	m := s.newMember(org, models.PersonRoleAdmin, models.ServiceRolePackagingDelegatedPersonID, status)
	ext := &models.DelegatedPersonEnrolment{
		EnrolmentID:          m.enrolmentID,
		NominatorEnrolmentID: nominatorEnrolmentID,
		RelationshipType:     models.RelationshipEmployment,
	}
	s.Require().NoError(s.store.CreateDelegatedPersonEnrolment(s.ctx, ext))
	return m
}

func (s *RegulatorSuite) TestUpdateEnrolmentStatus() {
	s.Run("approval moves a pending delegated person to approved", func() {
		dp := s.newDelegatedPerson(s.org, models.EnrolmentStatusPending, s.approved.enrolmentID)

		err := s.service.UpdateEnrolmentStatus(s.ctx, s.regAdmin.userID, s.org.ID, dp.enrolmentID, models.DecisionApproved, "")
		s.Require().NoError(err)

		decided, err := s.store.GetEnrolment(s.ctx, dp.enrolmentID)
		s.Require().NoError(err)
		s.Equal(models.EnrolmentStatusApproved, decided.Status)
		s.False(decided.IsDeleted)
	})

	s.Run("an unsupported decision is rejected up front", func() {
		err := s.service.UpdateEnrolmentStatus(s.ctx, s.regAdmin.userID, s.org.ID, id.EnrolmentID(uuid.New()), models.EnrolmentDecision("on_hold"), "")
		s.Require().ErrorContains(err, "unsupported enrolment status")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("a non-regulator cannot decide", func() {
		err := s.service.UpdateEnrolmentStatus(s.ctx, s.approved.userID, s.org.ID, id.EnrolmentID(uuid.New()), models.DecisionApproved, "")
		s.Require().ErrorContains(err, "regulator role required")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("a regulator cannot decide outside their nation", func() {
		welsh := s.newOrg("Welsh Producer", models.OrganisationTypeCompaniesHouseCompany, models.NationWales)
		err := s.service.UpdateEnrolmentStatus(s.ctx, s.regAdmin.userID, welsh.ID, id.EnrolmentID(uuid.New()), models.DecisionApproved, "")
		s.Require().ErrorContains(err, "organisation is outside the regulator's nation")
	})

	s.Run("rejection requires a comment", func() {
		dp := s.newDelegatedPerson(s.org, models.EnrolmentStatusPending, s.approved.enrolmentID)
		err := s.service.UpdateEnrolmentStatus(s.ctx, s.regAdmin.userID, s.org.ID, dp.enrolmentID, models.DecisionRejected, "")
		s.Require().ErrorContains(err, "regulator comments missing")
	})

	s.Run("a basic-user enrolment is not decidable", func() {
		basic := s.newMember(s.org, models.PersonRoleEmployee, models.ServiceRolePackagingBasicUserID, models.EnrolmentStatusEnrolled)
		err := s.service.UpdateEnrolmentStatus(s.ctx, s.regAdmin.userID, s.org.ID, basic.enrolmentID, models.DecisionApproved, "")
		s.Require().ErrorContains(err, "enrolment not found")
	})
}

func (s *RegulatorSuite) TestRejectDelegatedPerson() {
	dp := s.newDelegatedPerson(s.org, models.EnrolmentStatusPending, s.approved.enrolmentID)

	err := s.service.UpdateEnrolmentStatus(s.ctx, s.regAdmin.userID, s.org.ID, dp.enrolmentID, models.DecisionRejected, "identity checks failed")
	s.Require().NoError(err)

	rejected, err := s.store.GetEnrolment(s.ctx, dp.enrolmentID)
	s.Require().NoError(err)
	s.Equal(models.EnrolmentStatusRejected, rejected.Status)
	s.True(rejected.IsDeleted)

	comments, err := s.store.RegulatorCommentsByEnrolment(s.ctx, dp.enrolmentID)
	s.Require().NoError(err)
	s.Require().Len(comments, 1)
	s.Equal("identity checks failed", comments[0].RejectedComment)
	s.Equal(s.regAdmin.personID, comments[0].AuthorPersonID)

	// The person falls back to basic user on the same connection.
	replacement, err := s.store.FindEnrolment(s.ctx, store.FindEnrolmentFilter{
		OrganisationID: s.org.ID,
		PersonID:       dp.personID,
		Service:        models.ServicePackaging,
		RoleKind:       models.RoleBasicUser,
		Status:         models.EnrolmentStatusEnrolled,
	})
	s.Require().NoError(err)
	s.Equal(dp.connID, replacement.ConnectionID)

	s.Run("a second decision finds nothing", func() {
		err := s.service.UpdateEnrolmentStatus(s.ctx, s.regAdmin.userID, s.org.ID, dp.enrolmentID, models.DecisionRejected, "again")
		s.Require().ErrorContains(err, "enrolment not found")
	})
}

func (s *RegulatorSuite) TestRejectApprovedPersonCascades() {
	pending := s.newMember(s.org, models.PersonRoleAdmin, models.ServiceRolePackagingApprovedPersonID, models.EnrolmentStatusPending)
	basic := s.newMember(s.org, models.PersonRoleEmployee, models.ServiceRolePackagingBasicUserID, models.EnrolmentStatusEnrolled)

	// The subject's login identity is linked and must be unlinked by the sweep.
	user, err := s.store.GetUser(s.ctx, pending.userID)
	s.Require().NoError(err)
	user.ExternalIdentityID = uuid.New()
	s.Require().NoError(s.store.UpdateUser(s.ctx, user))

	// A person shared with another organisation survives the sweep.
	other := s.newOrg("Other Producer", models.OrganisationTypeCompaniesHouseCompany, models.NationEngland)
	shared := s.newMember(s.org, models.PersonRoleEmployee, models.ServiceRolePackagingBasicUserID, models.EnrolmentStatusEnrolled)
	sharedConn, err := models.NewConnection(id.ConnectionID(uuid.New()), shared.personID, other.ID, models.PersonRoleEmployee, "", testutil.FixedTime)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateConnection(s.ctx, sharedConn))

	scheme := s.newOrg("GreenPack Scheme", models.OrganisationTypeComplianceScheme, models.NationEngland)
	selection := &models.ComplianceSchemeSelection{ID: uuid.New(), OrganisationID: s.org.ID, ComplianceSchemeID: scheme.ID}
	s.Require().NoError(s.store.CreateSchemeSelection(s.ctx, selection))
	edge := &models.OrganisationConnection{ID: uuid.New(), FromID: s.org.ID, ToID: scheme.ID}
	s.Require().NoError(s.store.CreateOrganisationConnection(s.ctx, edge))

	err = s.service.UpdateEnrolmentStatus(s.ctx, s.regAdmin.userID, s.org.ID, pending.enrolmentID, models.DecisionRejected, "organisation failed verification")
	s.Require().NoError(err)

	org, err := s.store.GetOrganisation(s.ctx, s.org.ID)
	s.Require().NoError(err)
	s.True(org.IsDeleted)

	enrolments, err := s.store.EnrolmentsByOrganisation(s.ctx, s.org.ID)
	s.Require().NoError(err)
	for _, e := range enrolments {
		s.True(e.IsDeleted)
	}

	_, err = s.store.GetConnection(s.ctx, basic.connID, s.org.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	person, err := s.store.GetPerson(s.ctx, basic.personID)
	s.Require().NoError(err)
	s.True(person.IsDeleted)
	removedUser, err := s.store.GetUser(s.ctx, basic.userID)
	s.Require().NoError(err)
	s.True(removedUser.IsDeleted)

	// Shared identity survives, with only its rows under the swept
	// organisation gone.
	sharedPerson, err := s.store.GetPerson(s.ctx, shared.personID)
	s.Require().NoError(err)
	s.False(sharedPerson.IsDeleted)
	sharedUser, err := s.store.GetUser(s.ctx, shared.userID)
	s.Require().NoError(err)
	s.False(sharedUser.IsDeleted)
	_, err = s.store.GetConnection(s.ctx, sharedConn.ID, other.ID)
	s.Require().NoError(err)

	// The rejected approved person's login link is cleared.
	orphan, err := s.store.GetUser(s.ctx, pending.userID)
	s.Require().NoError(err)
	s.Equal(uuid.Nil, orphan.ExternalIdentityID)

	selections, err := s.store.SchemeSelectionsTouching(s.ctx, s.org.ID)
	s.Require().NoError(err)
	for _, sel := range selections {
		s.True(sel.IsDeleted)
	}
	edges, err := s.store.OrganisationConnectionsTouching(s.ctx, s.org.ID)
	s.Require().NoError(err)
	for _, e := range edges {
		s.True(e.IsDeleted)
	}
}

func (s *RegulatorSuite) TestRemoveApprovedPerson() {
	s.Run("removal soft-deletes the subject and demotes delegated persons", func() {
		dp := s.newDelegatedPerson(s.org, models.EnrolmentStatusPending, s.approved.enrolmentID)

		err := s.service.RemoveApprovedPerson(s.ctx, s.regAdmin.userID, s.approved.connID, s.org.ID)
		s.Require().NoError(err)

		removed, err := s.store.GetEnrolment(s.ctx, s.approved.enrolmentID)
		s.Require().NoError(err)
		s.True(removed.IsDeleted)
		_, err = s.store.GetConnection(s.ctx, s.approved.connID, s.org.ID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
		person, err := s.store.GetPerson(s.ctx, s.approved.personID)
		s.Require().NoError(err)
		s.True(person.IsDeleted)

		// The delegated person keeps their status under the basic-user role.
		demoted, err := s.store.GetEnrolment(s.ctx, dp.enrolmentID)
		s.Require().NoError(err)
		s.Equal(models.ServiceRolePackagingBasicUserID, demoted.ServiceRoleID)
		s.Equal(models.EnrolmentStatusPending, demoted.Status)
		_, err = s.store.GetDelegatedPersonEnrolment(s.ctx, dp.enrolmentID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("a delegated person's connection is removable too", func() {
		org := s.newOrg("Delegation Ltd", models.OrganisationTypeCompaniesHouseCompany, models.NationEngland)
		ap := s.newMember(org, models.PersonRoleAdmin, models.ServiceRolePackagingApprovedPersonID, models.EnrolmentStatusApproved)
		subject := s.newDelegatedPerson(org, models.EnrolmentStatusApproved, ap.enrolmentID)
		bystander := s.newDelegatedPerson(org, models.EnrolmentStatusPending, ap.enrolmentID)

		err := s.service.RemoveApprovedPerson(s.ctx, s.regAdmin.userID, subject.connID, org.ID)
		s.Require().NoError(err)

		removed, err := s.store.GetEnrolment(s.ctx, subject.enrolmentID)
		s.Require().NoError(err)
		s.True(removed.IsDeleted)
		_, err = s.store.GetConnection(s.ctx, subject.connID, org.ID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
		person, err := s.store.GetPerson(s.ctx, subject.personID)
		s.Require().NoError(err)
		s.True(person.IsDeleted)

		// The approved person is untouched; the other delegated person is demoted.
		standing, err := s.store.GetEnrolment(s.ctx, ap.enrolmentID)
		s.Require().NoError(err)
		s.False(standing.IsDeleted)
		s.Equal(models.ServiceRolePackagingApprovedPersonID, standing.ServiceRoleID)
		demoted, err := s.store.GetEnrolment(s.ctx, bystander.enrolmentID)
		s.Require().NoError(err)
		s.Equal(models.ServiceRolePackagingBasicUserID, demoted.ServiceRoleID)
		s.Equal(models.EnrolmentStatusPending, demoted.Status)
	})

	s.Run("a connection without an approved person changes nothing", func() {
		org := s.newOrg("Second Producer", models.OrganisationTypeCompaniesHouseCompany, models.NationEngland)
		basic := s.newMember(org, models.PersonRoleEmployee, models.ServiceRolePackagingBasicUserID, models.EnrolmentStatusEnrolled)

		err := s.service.RemoveApprovedPerson(s.ctx, s.regAdmin.userID, basic.connID, org.ID)
		s.Require().ErrorContains(err, "Approved person doesnt belong to organisation")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		untouched, err := s.store.GetEnrolment(s.ctx, basic.enrolmentID)
		s.Require().NoError(err)
		s.False(untouched.IsDeleted)
		_, err = s.store.GetConnection(s.ctx, basic.connID, org.ID)
		s.Require().NoError(err)
	})

	s.Run("a non-regulator cannot remove", func() {
		err := s.service.RemoveApprovedPerson(s.ctx, s.approved.userID, s.approved.connID, s.org.ID)
		s.Require().ErrorContains(err, "regulator role required")
	})
}

func (s *RegulatorSuite) TestTransferOrganisationNation() {
	s.Run("transfer records the previous nation and a narrative", func() {
		err := s.service.TransferOrganisationNation(s.ctx, s.regAdmin.userID, s.org.ID, models.NationWales, "registered office moved to Cardiff")
		s.Require().NoError(err)

		org, err := s.store.GetOrganisation(s.ctx, s.org.ID)
		s.Require().NoError(err)
		s.Equal(models.NationWales, org.Nation)
		s.Require().NotNil(org.TransferredFromNation)
		s.Equal(models.NationEngland, *org.TransferredFromNation)

		comments, err := s.store.RegulatorCommentsByEnrolment(s.ctx, s.approved.enrolmentID)
		s.Require().NoError(err)
		s.Require().Len(comments, 1)
		s.Equal("registered office moved to Cardiff", comments[0].TransferComment)
	})

	s.Run("a comment is mandatory", func() {
		err := s.service.TransferOrganisationNation(s.ctx, s.regAdmin.userID, s.org.ID, models.NationWales, "")
		s.Require().ErrorContains(err, "transfer comments missing")
	})

	s.Run("compliance schemes cannot be transferred", func() {
		scheme := s.newOrg("GreenPack Scheme", models.OrganisationTypeComplianceScheme, models.NationEngland)
		err := s.service.TransferOrganisationNation(s.ctx, s.regAdmin.userID, scheme.ID, models.NationWales, "why not")
		s.Require().ErrorContains(err, "compliance scheme organisations cannot be transferred between nations")
	})

	s.Run("an organisation without an approved person gets an organisation-level narrative", func() {
		org := s.newOrg("Bare Producer", models.OrganisationTypeCompaniesHouseCompany, models.NationEngland)
		err := s.service.TransferOrganisationNation(s.ctx, s.regAdmin.userID, org.ID, models.NationScotland, "moved north")
		s.Require().NoError(err)

		comments, err := s.store.RegulatorCommentsByEnrolment(s.ctx, id.EnrolmentID{})
		s.Require().NoError(err)
		s.Require().Len(comments, 1)
		s.Equal("moved north", comments[0].TransferComment)
	})
}
