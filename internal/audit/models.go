package audit

import (
	"time"

	id "packreg/pkg/domain"
)

// Action names the domain event being recorded.
type Action string

const (
	ActionUserInvited           Action = "user.invited"
	ActionInviteAccepted        Action = "user.invite_accepted"
	ActionNominationCreated     Action = "enrolment.nomination_created"
	ActionNominationAccepted    Action = "enrolment.nomination_accepted"
	ActionPersonRoleUpdated     Action = "connection.person_role_updated"
	ActionEnrolmentApproved     Action = "enrolment.approved"
	ActionEnrolmentRejected     Action = "enrolment.rejected"
	ActionApprovedPersonRemoved Action = "enrolment.approved_person_removed"
	ActionNationTransferred     Action = "organisation.nation_transferred"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp      time.Time
	ActorUserID    id.UserID
	OrganisationID id.OrganisationID
	Action         Action
	Subject        string
	Detail         string
	RequestID      string
}
