package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
)

type EnrolmentSuite struct {
	suite.Suite
	now time.Time
}

func (s *EnrolmentSuite) SetupTest() {
	s.now = time.Date(2025, time.March, 12, 9, 30, 0, 0, time.UTC)
}

func TestEnrolmentSuite(t *testing.T) {
	suite.Run(t, new(EnrolmentSuite))
}

func (s *EnrolmentSuite) newEnrolment(status EnrolmentStatus) *Enrolment {
	return &Enrolment{
		ID:            id.EnrolmentID(uuid.New()),
		ConnectionID:  id.ConnectionID(uuid.New()),
		ServiceRoleID: ServiceRolePackagingBasicUserID,
		Status:        status,
		CreatedAt:     s.now,
		UpdatedAt:     s.now,
	}
}

// TestTransitionTable walks every legal edge and a selection of illegal ones.
func (s *EnrolmentSuite) TestTransitionTable() {
	s.Run("invited moves to enrolled", func() {
		e := s.newEnrolment(EnrolmentStatusInvited)
		s.Require().NoError(e.Transition(EnrolmentStatusEnrolled, s.now))
		s.Equal(EnrolmentStatusEnrolled, e.Status)
	})

	s.Run("nominated moves to pending", func() {
		e := s.newEnrolment(EnrolmentStatusNominated)
		s.Require().NoError(e.Transition(EnrolmentStatusPending, s.now))
		s.Equal(EnrolmentStatusPending, e.Status)
	})

	s.Run("pending moves to approved or rejected", func() {
		e := s.newEnrolment(EnrolmentStatusPending)
		s.Require().NoError(e.Transition(EnrolmentStatusApproved, s.now))

		e = s.newEnrolment(EnrolmentStatusPending)
		s.Require().NoError(e.Transition(EnrolmentStatusRejected, s.now))
	})

	s.Run("illegal edges never no-op", func() {
		cases := []struct {
			from, to EnrolmentStatus
		}{
			{EnrolmentStatusEnrolled, EnrolmentStatusApproved},
			{EnrolmentStatusApproved, EnrolmentStatusPending},
			{EnrolmentStatusRejected, EnrolmentStatusApproved},
			{EnrolmentStatusInvited, EnrolmentStatusPending},
			{EnrolmentStatusNominated, EnrolmentStatusApproved},
			{EnrolmentStatusOnHold, EnrolmentStatusEnrolled},
		}
		for _, tc := range cases {
			e := s.newEnrolment(tc.from)
			err := e.Transition(tc.to, s.now)
			s.Require().Error(err, "expected %s -> %s to fail", tc.from, tc.to)
			s.True(dErrors.HasCode(err, dErrors.CodeConflict))
			s.Equal(tc.from, e.Status, "status must not change on a rejected transition")
		}
	})

	s.Run("deleted enrolment rejects any transition", func() {
		e := s.newEnrolment(EnrolmentStatusPending)
		e.MarkDeleted(s.now)
		err := e.Transition(EnrolmentStatusApproved, s.now)
		s.Require().Error(err)
		s.Contains(err.Error(), "removed")
	})
}

func (s *EnrolmentSuite) TestEntryStates() {
	s.Run("accepts invited, enrolled, and nominated", func() {
		for _, status := range []EnrolmentStatus{EnrolmentStatusInvited, EnrolmentStatusEnrolled, EnrolmentStatusNominated} {
			_, err := NewEnrolment(id.EnrolmentID(uuid.New()), id.ConnectionID(uuid.New()), ServiceRolePackagingBasicUserID, status, s.now)
			s.Require().NoError(err, "status %s", status)
		}
	})

	s.Run("rejects every other entry state", func() {
		for _, status := range []EnrolmentStatus{EnrolmentStatusPending, EnrolmentStatusApproved, EnrolmentStatusRejected, EnrolmentStatusOnHold, EnrolmentStatusNotSet} {
			_, err := NewEnrolment(id.EnrolmentID(uuid.New()), id.ConnectionID(uuid.New()), ServiceRolePackagingBasicUserID, status, s.now)
			s.Require().Error(err, "status %s", status)
			s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		}
	})
}

func (s *EnrolmentSuite) TestIsActive() {
	s.Run("active statuses count", func() {
		for _, status := range ActiveEnrolmentStatuses {
			e := s.newEnrolment(status)
			s.True(e.IsActive(s.now), "status %s", status)
		}
	})

	s.Run("rejected and deleted do not count", func() {
		e := s.newEnrolment(EnrolmentStatusRejected)
		s.False(e.IsActive(s.now))

		e = s.newEnrolment(EnrolmentStatusEnrolled)
		e.MarkDeleted(s.now)
		s.False(e.IsActive(s.now))
	})

	s.Run("validity window bounds activity", func() {
		from := s.now.Add(time.Hour)
		to := s.now.Add(2 * time.Hour)
		e := s.newEnrolment(EnrolmentStatusEnrolled)
		e.ValidFrom = &from
		e.ValidTo = &to

		s.False(e.IsActive(s.now), "before the window")
		s.True(e.IsActive(s.now.Add(90*time.Minute)), "inside the window")
		s.False(e.IsActive(s.now.Add(3*time.Hour)), "after the window")
		s.False(e.IsActive(to), "valid_to is exclusive")
	})
}

func (s *EnrolmentSuite) TestServiceRoleCatalogue() {
	s.Run("ranks order the packaging hierarchy", func() {
		s.Greater(RoleApprovedPerson.Rank(), RoleDelegatedPerson.Rank())
		s.Greater(RoleDelegatedPerson.Rank(), RoleBasicUser.Rank())
		s.Greater(RoleRegulatorAdmin.Rank(), RoleApprovedPerson.Rank())
	})

	s.Run("resolves by id and by service-kind", func() {
		role, err := ServiceRoleByID(ServiceRolePackagingDelegatedPersonID)
		s.Require().NoError(err)
		s.Equal(RoleDelegatedPerson, role.Kind)

		role, err = ServiceRoleFor(ServiceRegulating, RoleRegulatorAdmin)
		s.Require().NoError(err)
		s.Equal(ServiceRoleRegulatorAdminID, role.ID)
	})

	s.Run("rejects unknown lookups", func() {
		_, err := ServiceRoleByID(id.ServiceRoleID(uuid.New()))
		s.Require().Error(err)

		_, err = ServiceRoleFor(ServiceRegulating, RoleApprovedPerson)
		s.Require().Error(err)
	})
}
