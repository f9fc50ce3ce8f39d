package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Authorizer,AuditPublisher

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"packreg/internal/accounts/lock"
	"packreg/internal/accounts/models"
	"packreg/internal/accounts/service/mocks"
	"packreg/internal/accounts/store"
	"packreg/internal/audit"
	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
	"packreg/pkg/testutil"
)

// AuditEmissionSuite pins down the interaction contract with the authorizer
// and the audit publisher, independent of the predicate engine.
type AuditEmissionSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	store     *store.InMemory
	authz     *mocks.MockAuthorizer
	publisher *mocks.MockAuditPublisher
	service   *Service
	ctx       context.Context

	org      *models.Organisation
	approved member
	basic    member
}

func TestAuditEmissionSuite(t *testing.T) {
	suite.Run(t, new(AuditEmissionSuite))
}

func (s *AuditEmissionSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = store.NewInMemory()
	s.authz = mocks.NewMockAuthorizer(s.ctrl)
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.service = New(s.store, s.authz, lock.NewInMemory(), WithAuditPublisher(s.publisher))
	s.ctx = testutil.Context()

	s.org = createOrg(s.T(), s.ctx, s.store, "Producer Ltd", models.NationEngland)
	s.approved = createMember(s.T(), s.ctx, s.store, s.org, models.PersonRoleAdmin, models.ServiceRolePackagingApprovedPersonID, models.EnrolmentStatusApproved)
	s.basic = createMember(s.T(), s.ctx, s.store, s.org, models.PersonRoleEmployee, models.ServiceRolePackagingBasicUserID, models.EnrolmentStatusEnrolled)
}

func (s *AuditEmissionSuite) TestNominateEmitsAuditEvent() {
	s.authz.EXPECT().CanManageUsers(gomock.Any(), s.approved.userID, s.org.ID, models.ServicePackaging).Return(true, nil)

	var captured audit.Event
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, event audit.Event) error {
		captured = event
		return nil
	})

	err := s.service.Nominate(s.ctx, s.basic.connID, s.approved.userID, s.org.ID, models.ServicePackaging, employmentNomination())
	s.Require().NoError(err)

	s.Equal(audit.ActionNominationCreated, captured.Action)
	s.Equal(s.approved.userID, captured.ActorUserID)
	s.Equal(s.org.ID, captured.OrganisationID)
	s.Equal("relationship=employment", captured.Detail)
}

func (s *AuditEmissionSuite) TestPublisherFailureDoesNotFailTheOperation() {
	s.authz.EXPECT().CanManageUsers(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(assert.AnError)

	err := s.service.Nominate(s.ctx, s.basic.connID, s.approved.userID, s.org.ID, models.ServicePackaging, employmentNomination())
	s.Require().NoError(err)

	// The nomination itself still committed.
	_, err = s.store.FindEnrolment(s.ctx, store.FindEnrolmentFilter{
		OrganisationID: s.org.ID,
		RoleKind:       models.RoleDelegatedPerson,
		Status:         models.EnrolmentStatusNominated,
	})
	s.Require().NoError(err)
}

func (s *AuditEmissionSuite) TestDeniedActorEmitsNothing() {
	s.authz.EXPECT().CanManageUsers(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil)

	err := s.service.Nominate(s.ctx, s.basic.connID, s.approved.userID, s.org.ID, models.ServicePackaging, employmentNomination())
	s.Require().ErrorContains(err, "not authorised to manage users")
}

func (s *AuditEmissionSuite) TestAuthzErrorPropagates() {
	authzErr := dErrors.New(dErrors.CodeInternal, "predicate store unavailable")
	s.authz.EXPECT().CanManageUsers(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(false, authzErr)

	err := s.service.Nominate(s.ctx, id.ConnectionID(uuid.New()), s.approved.userID, s.org.ID, models.ServicePackaging, employmentNomination())
	s.Require().ErrorIs(err, authzErr)
}
