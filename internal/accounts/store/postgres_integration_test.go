//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"packreg/internal/accounts/models"
	"packreg/internal/accounts/store"
	"packreg/internal/audit"
	id "packreg/pkg/domain"
	"packreg/pkg/platform/sentinel"
	"packreg/pkg/testutil"
	"packreg/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	container *containers.PostgresContainer
	store     *store.Postgres
	ctx       context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.container = containers.NewPostgresContainer(s.T())
	s.Require().NoError(store.EnsureSchema(s.ctx, s.container.DB))
	s.Require().NoError(audit.EnsureSchema(s.ctx, s.container.DB))
	s.store = store.NewPostgres(s.container.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.container.TruncateAll(s.ctx))
}

func (s *PostgresStoreSuite) newOrganisation() *models.Organisation {
	org, err := models.NewOrganisation(id.OrganisationID(uuid.New()), "Producer Ltd", models.OrganisationTypeCompaniesHouseCompany, models.NationEngland, testutil.FixedTime)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateOrganisation(s.ctx, org))
	return org
}

func (s *PostgresStoreSuite) newPersonWithUser() (*models.Person, *models.User) {
	user := &models.User{ID: id.UserID(uuid.New()), Email: uuid.NewString() + "@example.test", CreatedAt: testutil.FixedTime, UpdatedAt: testutil.FixedTime}
	s.Require().NoError(s.store.CreateUser(s.ctx, user))
	person := &models.Person{ID: id.PersonID(uuid.New()), UserID: user.ID, FirstName: "Pat", LastName: "Example", Email: user.Email, CreatedAt: testutil.FixedTime, UpdatedAt: testutil.FixedTime}
	s.Require().NoError(s.store.CreatePerson(s.ctx, person))
	return person, user
}

func (s *PostgresStoreSuite) newConnection(org *models.Organisation, person *models.Person) *models.Connection {
	conn, err := models.NewConnection(id.ConnectionID(uuid.New()), person.ID, org.ID, models.PersonRoleEmployee, "", testutil.FixedTime)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateConnection(s.ctx, conn))
	return conn
}

func (s *PostgresStoreSuite) TestOrganisationRoundtrip() {
	org := s.newOrganisation()

	loaded, err := s.store.GetOrganisation(s.ctx, org.ID)
	s.Require().NoError(err)
	s.Equal(org.Name, loaded.Name)
	s.Equal(models.NationEngland, loaded.Nation)
	s.Nil(loaded.TransferredFromNation)

	loaded.ApplyNationTransfer(models.NationWales, testutil.FixedTime.Add(time.Hour))
	s.Require().NoError(s.store.UpdateOrganisation(s.ctx, loaded))

	moved, err := s.store.GetOrganisation(s.ctx, org.ID)
	s.Require().NoError(err)
	s.Equal(models.NationWales, moved.Nation)
	s.Require().NotNil(moved.TransferredFromNation)
	s.Equal(models.NationEngland, *moved.TransferredFromNation)

	s.Run("duplicate id conflicts", func() {
		dup := *org
		err := s.store.CreateOrganisation(s.ctx, &dup)
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})
}

func (s *PostgresStoreSuite) TestConnectionLifecycle() {
	org := s.newOrganisation()
	person, _ := s.newPersonWithUser()
	conn := s.newConnection(org, person)

	s.Run("a second live connection for the pair conflicts", func() {
		dup, err := models.NewConnection(id.ConnectionID(uuid.New()), person.ID, org.ID, models.PersonRoleAdmin, "", testutil.FixedTime)
		s.Require().NoError(err)
		s.Require().ErrorIs(s.store.CreateConnection(s.ctx, dup), sentinel.ErrConflict)
	})

	s.Run("soft delete hides the connection and frees the pair", func() {
		conn.MarkDeleted(testutil.FixedTime.Add(time.Hour))
		s.Require().NoError(s.store.UpdateConnection(s.ctx, conn))

		_, err := s.store.GetConnection(s.ctx, conn.ID, org.ID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)

		replacement, err := models.NewConnection(id.ConnectionID(uuid.New()), person.ID, org.ID, models.PersonRoleEmployee, "", testutil.FixedTime)
		s.Require().NoError(err)
		s.Require().NoError(s.store.CreateConnection(s.ctx, replacement))
	})
}

func (s *PostgresStoreSuite) TestEnrolmentFilters() {
	org := s.newOrganisation()
	person, _ := s.newPersonWithUser()
	conn := s.newConnection(org, person)

	enrolment, err := models.NewEnrolment(id.EnrolmentID(uuid.New()), conn.ID, models.ServiceRolePackagingDelegatedPersonID, models.EnrolmentStatusNominated, testutil.FixedTime)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateEnrolment(s.ctx, enrolment))

	found, err := s.store.FindEnrolment(s.ctx, store.FindEnrolmentFilter{
		EnrolmentID:    enrolment.ID,
		OrganisationID: org.ID,
		PersonID:       person.ID,
		Service:        models.ServicePackaging,
		RoleKind:       models.RoleDelegatedPerson,
		Status:         models.EnrolmentStatusNominated,
	})
	s.Require().NoError(err)
	s.Equal(enrolment.ID, found.ID)

	_, err = s.store.FindEnrolment(s.ctx, store.FindEnrolmentFilter{
		EnrolmentID: enrolment.ID,
		Status:      models.EnrolmentStatusPending,
	})
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	active, err := s.store.ActiveEnrolments(s.ctx, conn.ID, models.ServicePackaging, testutil.FixedTime.Add(time.Hour))
	s.Require().NoError(err)
	s.Require().Len(active, 1)

	s.Run("delegated extension roundtrip", func() {
		now := testutil.FixedTime
		ext := &models.DelegatedPersonEnrolment{
			EnrolmentID:              enrolment.ID,
			NominatorEnrolmentID:     enrolment.ID,
			RelationshipType:         models.RelationshipConsultancy,
			ConsultancyName:          "Pack Advisors",
			NominatorDeclaration:     "declared",
			NominatorDeclarationTime: &now,
		}
		s.Require().NoError(s.store.CreateDelegatedPersonEnrolment(s.ctx, ext))

		loaded, err := s.store.GetDelegatedPersonEnrolment(s.ctx, enrolment.ID)
		s.Require().NoError(err)
		s.Equal("Pack Advisors", loaded.ConsultancyName)

		loaded.NomineeDeclaration = "accepted"
		loaded.NomineeDeclarationTime = &now
		s.Require().NoError(s.store.UpdateDelegatedPersonEnrolment(s.ctx, loaded))

		s.Require().NoError(s.store.DeleteDelegatedPersonEnrolment(s.ctx, enrolment.ID))
		_, err = s.store.GetDelegatedPersonEnrolment(s.ctx, enrolment.ID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestRunInTx() {
	org := s.newOrganisation()
	person, _ := s.newPersonWithUser()
	actorUserID := id.UserID(uuid.New())
	stamp := store.AuditStamp{ActorUserID: actorUserID, OrganisationID: org.ID, RequestID: "req-42"}

	s.Run("commit records the audit stamp", func() {
		err := s.store.RunInTx(s.ctx, stamp, func(ctx context.Context) error {
			conn, err := models.NewConnection(id.ConnectionID(uuid.New()), person.ID, org.ID, models.PersonRoleEmployee, "", testutil.FixedTime)
			if err != nil {
				return err
			}
			return s.store.CreateConnection(ctx, conn)
		})
		s.Require().NoError(err)

		var requestID string
		row := s.container.DB.QueryRowContext(s.ctx, `SELECT request_id FROM change_log WHERE actor_user_id = $1`, actorUserID.String())
		s.Require().NoError(row.Scan(&requestID))
		s.Equal("req-42", requestID)
	})

	s.Run("rollback leaves no partial state", func() {
		boom := errors.New("boom")
		connID := id.ConnectionID(uuid.New())
		other, _ := s.newPersonWithUser()
		err := s.store.RunInTx(s.ctx, stamp, func(ctx context.Context) error {
			conn, err := models.NewConnection(connID, other.ID, org.ID, models.PersonRoleEmployee, "", testutil.FixedTime)
			if err != nil {
				return err
			}
			if err := s.store.CreateConnection(ctx, conn); err != nil {
				return err
			}
			return boom
		})
		s.Require().ErrorIs(err, boom)

		_, err = s.store.GetConnection(s.ctx, connID, org.ID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestAuditStore() {
	auditStore := audit.NewPostgres(s.container.DB)
	orgID := id.OrganisationID(uuid.New())
	event := audit.Event{
		Timestamp:      testutil.FixedTime,
		ActorUserID:    id.UserID(uuid.New()),
		OrganisationID: orgID,
		Action:         audit.ActionNominationCreated,
		Subject:        uuid.NewString(),
		Detail:         "relationship=employment",
		RequestID:      "req-7",
	}
	s.Require().NoError(auditStore.Append(s.ctx, event))

	events, err := auditStore.ListByOrganisation(s.ctx, orgID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.ActionNominationCreated, events[0].Action)
	s.Equal("req-7", events[0].RequestID)
}
