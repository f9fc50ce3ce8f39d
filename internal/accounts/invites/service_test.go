package invites

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"packreg/internal/accounts/authz"
	"packreg/internal/accounts/models"
	"packreg/internal/accounts/store"
	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
	"packreg/pkg/testutil"
)

type InvitesSuite struct {
	suite.Suite
	store   *store.InMemory
	tokens  *TokenService
	service *Service
	ctx     context.Context

	org         *models.Organisation
	adminUserID id.UserID
}

func TestInvitesSuite(t *testing.T) {
	suite.Run(t, new(InvitesSuite))
}

func (s *InvitesSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.tokens = NewTokenService("test-signing-key", "packreg-test", DefaultTokenTTL)
	s.service = New(s.store, authz.New(s.store), s.tokens)
	s.ctx = testutil.Context()

	org, err := models.NewOrganisation(id.OrganisationID(uuid.New()), "Producer Ltd", models.OrganisationTypeCompaniesHouseCompany, models.NationEngland, testutil.FixedTime)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateOrganisation(s.ctx, org))
	s.org = org

	user := &models.User{ID: id.UserID(uuid.New()), Email: "admin@example.test", CreatedAt: testutil.FixedTime, UpdatedAt: testutil.FixedTime}
	s.Require().NoError(s.store.CreateUser(s.ctx, user))
	person := &models.Person{ID: id.PersonID(uuid.New()), UserID: user.ID, FirstName: "Admin", LastName: "Person", Email: user.Email, CreatedAt: testutil.FixedTime, UpdatedAt: testutil.FixedTime}
	s.Require().NoError(s.store.CreatePerson(s.ctx, person))
	conn, err := models.NewConnection(id.ConnectionID(uuid.New()), person.ID, org.ID, models.PersonRoleAdmin, "", testutil.FixedTime)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateConnection(s.ctx, conn))
	enrolment, err := models.NewEnrolment(id.EnrolmentID(uuid.New()), conn.ID, models.ServiceRolePackagingBasicUserID, models.EnrolmentStatusEnrolled, testutil.FixedTime)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateEnrolment(s.ctx, enrolment))
	s.adminUserID = user.ID
}

func inviteRequest() InviteRequest {
	return InviteRequest{
		FirstName:  "New",
		LastName:   "Member",
		Email:      "new.member@example.test",
		PersonRole: models.PersonRoleEmployee,
		JobTitle:   "Analyst",
	}
}

func (s *InvitesSuite) TestInviteUser() {
	s.Run("invitation creates the full identity chain", func() {
		invitation, err := s.service.InviteUser(s.ctx, s.adminUserID, s.org.ID, inviteRequest())
		s.Require().NoError(err)
		s.NotEmpty(invitation.Token)

		user, err := s.store.GetUser(s.ctx, invitation.UserID)
		s.Require().NoError(err)
		s.True(user.HasPendingInvite())
		s.True(CompareToken(user.InviteTokenHash, invitation.Token))

		enrolment, err := s.store.GetEnrolment(s.ctx, invitation.EnrolmentID)
		s.Require().NoError(err)
		s.Equal(models.EnrolmentStatusInvited, enrolment.Status)
		s.Equal(invitation.ConnectionID, enrolment.ConnectionID)
	})

	s.Run("a non-admin may not invite", func() {
		user := &models.User{ID: id.UserID(uuid.New()), Email: "plain@example.test", CreatedAt: testutil.FixedTime, UpdatedAt: testutil.FixedTime}
		s.Require().NoError(s.store.CreateUser(s.ctx, user))
		person := &models.Person{ID: id.PersonID(uuid.New()), UserID: user.ID, FirstName: "Plain", LastName: "User", Email: user.Email, CreatedAt: testutil.FixedTime, UpdatedAt: testutil.FixedTime}
		s.Require().NoError(s.store.CreatePerson(s.ctx, person))

		_, err := s.service.InviteUser(s.ctx, user.ID, s.org.ID, inviteRequest())
		s.Require().ErrorContains(err, "not authorised to manage users")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("missing names are derived from the email", func() {
		req := InviteRequest{Email: "jane.doe@example.test", PersonRole: models.PersonRoleEmployee}
		invitation, err := s.service.InviteUser(s.ctx, s.adminUserID, s.org.ID, req)
		s.Require().NoError(err)

		person, err := s.store.GetPerson(s.ctx, invitation.PersonID)
		s.Require().NoError(err)
		s.Equal("Jane", person.FirstName)
		s.Equal("Doe", person.LastName)
	})

	s.Run("an invalid email is rejected", func() {
		req := inviteRequest()
		req.Email = "not-an-address"
		_, err := s.service.InviteUser(s.ctx, s.adminUserID, s.org.ID, req)
		s.Require().ErrorContains(err, "a valid email address is required")
	})

	s.Run("an unknown organisation is rejected", func() {
		_, err := s.service.InviteUser(s.ctx, s.adminUserID, id.OrganisationID(uuid.New()), inviteRequest())
		s.Require().ErrorContains(err, "organisation not found")
	})
}

func (s *InvitesSuite) TestAcceptInvite() {
	invitation, err := s.service.InviteUser(s.ctx, s.adminUserID, s.org.ID, inviteRequest())
	s.Require().NoError(err)
	identityID := uuid.New()

	s.Run("redeeming links the identity and enrols the user", func() {
		err := s.service.AcceptInvite(s.ctx, invitation.Token, identityID)
		s.Require().NoError(err)

		user, err := s.store.GetUser(s.ctx, invitation.UserID)
		s.Require().NoError(err)
		s.False(user.HasPendingInvite())
		s.Equal(identityID, user.ExternalIdentityID)

		enrolment, err := s.store.GetEnrolment(s.ctx, invitation.EnrolmentID)
		s.Require().NoError(err)
		s.Equal(models.EnrolmentStatusEnrolled, enrolment.Status)
	})

	s.Run("a token cannot be redeemed twice", func() {
		err := s.service.AcceptInvite(s.ctx, invitation.Token, uuid.New())
		s.Require().ErrorContains(err, "invalid invite token")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("the external identity is mandatory", func() {
		err := s.service.AcceptInvite(s.ctx, invitation.Token, uuid.Nil)
		s.Require().ErrorContains(err, "external identity id is required")
	})

	s.Run("a tampered token is rejected", func() {
		err := s.service.AcceptInvite(s.ctx, invitation.Token+"x", uuid.New())
		s.Require().ErrorContains(err, "invalid invite token")
	})
}

func (s *InvitesSuite) TestTokenService() {
	s.Run("claims roundtrip", func() {
		userID := uuid.New()
		orgID := uuid.New()
		token, err := s.tokens.GenerateInviteToken(userID, orgID, time.Now())
		s.Require().NoError(err)

		claims, err := s.tokens.ValidateToken(token)
		s.Require().NoError(err)
		s.Equal(userID.String(), claims.UserID)
		s.Equal(orgID.String(), claims.OrganisationID)
	})

	s.Run("an expired token names its expiry", func() {
		token, err := s.tokens.GenerateInviteToken(uuid.New(), uuid.New(), time.Now().Add(-2*DefaultTokenTTL))
		s.Require().NoError(err)

		_, err = s.tokens.ValidateToken(token)
		s.Require().ErrorContains(err, "invite token has expired")
	})

	s.Run("a token signed with another key is rejected", func() {
		other := NewTokenService("other-key", "packreg-test", DefaultTokenTTL)
		token, err := other.GenerateInviteToken(uuid.New(), uuid.New(), time.Now())
		s.Require().NoError(err)

		_, err = s.tokens.ValidateToken(token)
		s.Require().ErrorContains(err, "invalid invite token")
	})

	s.Run("hashing is one-way and comparable", func() {
		hash, err := HashToken("some-token")
		s.Require().NoError(err)
		s.NotEqual("some-token", hash)
		s.True(CompareToken(hash, "some-token"))
		s.False(CompareToken(hash, "another-token"))
	})
}
