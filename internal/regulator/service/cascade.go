package service

import (
	"context"
	"errors"
	"time"

	"packreg/internal/accounts/models"
	"packreg/internal/accounts/store"
	id "packreg/pkg/domain"
	"packreg/pkg/platform/sentinel"
)

// CascadePlan is the full set of entities an approved-person rejection
// removes: the organisation, every enrolment and person-organisation
// connection under it, every inter-organisation edge and scheme selection
// touching it, and the persons and users left without any other
// organisation. Computing the plan up front keeps the sweep inspectable and
// testable independently of the commit.
type CascadePlan struct {
	Organisation   *models.Organisation
	Enrolments     []*models.Enrolment
	Connections    []*models.Connection
	OrgConnections []*models.OrganisationConnection
	Selections     []*models.ComplianceSchemeSelection
	Persons        []*models.Person
	Users          []*models.User
	OrphanedUser   *models.User
}

// planOrganisationCascade walks the organisation subtree and decides what the
// rejection sweep will touch. Persons connected to another organisation keep
// their person and user records; only their rows under this organisation go.
// rejectedConnID identifies the approved person whose external identity link
// is cleared regardless of whether their user record survives.
func planOrganisationCascade(ctx context.Context, graph store.Store, orgID id.OrganisationID, rejectedConnID id.ConnectionID) (*CascadePlan, error) {
	org, err := graph.GetOrganisation(ctx, orgID)
	if err != nil {
		return nil, err
	}
	enrolments, err := graph.EnrolmentsByOrganisation(ctx, orgID)
	if err != nil {
		return nil, err
	}
	connections, err := graph.ConnectionsByOrganisation(ctx, orgID)
	if err != nil {
		return nil, err
	}
	orgConnections, err := graph.OrganisationConnectionsTouching(ctx, orgID)
	if err != nil {
		return nil, err
	}
	selections, err := graph.SchemeSelectionsTouching(ctx, orgID)
	if err != nil {
		return nil, err
	}

	plan := &CascadePlan{
		Organisation:   org,
		Enrolments:     enrolments,
		Connections:    connections,
		OrgConnections: orgConnections,
		Selections:     selections,
	}

	seen := map[id.PersonID]bool{}
	for _, conn := range connections {
		if conn.IsDeleted || seen[conn.PersonID] {
			continue
		}
		seen[conn.PersonID] = true

		person, err := graph.GetPerson(ctx, conn.PersonID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return nil, err
		}

		var user *models.User
		if !person.UserID.IsNil() {
			user, err = graph.GetUser(ctx, person.UserID)
			if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				return nil, err
			}
		}

		if conn.ID == rejectedConnID && user != nil {
			plan.OrphanedUser = user
		}

		shared, err := hasOtherOrganisation(ctx, graph, person.ID, orgID)
		if err != nil {
			return nil, err
		}
		if shared {
			continue
		}
		plan.Persons = append(plan.Persons, person)
		if user != nil {
			plan.Users = append(plan.Users, user)
		}
	}
	return plan, nil
}

// hasOtherOrganisation reports whether the person holds a live connection to
// any organisation other than orgID. Identities shared across organisations
// must survive the sweep.
func hasOtherOrganisation(ctx context.Context, graph store.Store, personID id.PersonID, orgID id.OrganisationID) (bool, error) {
	conns, err := graph.ConnectionsByPerson(ctx, personID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, c := range conns {
		if !c.IsDeleted && c.OrganisationID != orgID {
			return true, nil
		}
	}
	return false, nil
}

// applyCascade soft-deletes everything the plan names. Must run inside the
// surrounding unit of work so a failure leaves the subtree intact.
func (s *Service) applyCascade(ctx context.Context, plan *CascadePlan, now time.Time) error {
	start := time.Now()
	for _, e := range plan.Enrolments {
		if e.IsDeleted {
			continue
		}
		e.MarkDeleted(now)
		if err := s.store.UpdateEnrolment(ctx, e); err != nil {
			return err
		}
	}
	for _, c := range plan.Connections {
		if c.IsDeleted {
			continue
		}
		c.MarkDeleted(now)
		if err := s.store.UpdateConnection(ctx, c); err != nil {
			return err
		}
	}
	for _, oc := range plan.OrgConnections {
		if oc.IsDeleted {
			continue
		}
		oc.IsDeleted = true
		if err := s.store.UpdateOrganisationConnection(ctx, oc); err != nil {
			return err
		}
	}
	for _, sel := range plan.Selections {
		if sel.IsDeleted {
			continue
		}
		sel.IsDeleted = true
		if err := s.store.UpdateSchemeSelection(ctx, sel); err != nil {
			return err
		}
	}
	for _, p := range plan.Persons {
		if p.IsDeleted {
			continue
		}
		p.MarkDeleted(now)
		if err := s.store.UpdatePerson(ctx, p); err != nil {
			return err
		}
	}
	for _, u := range plan.Users {
		if u.IsDeleted {
			continue
		}
		u.MarkDeleted(now)
		if err := s.store.UpdateUser(ctx, u); err != nil {
			return err
		}
	}
	if plan.Organisation != nil && !plan.Organisation.IsDeleted {
		plan.Organisation.MarkDeleted(now)
		if err := s.store.UpdateOrganisation(ctx, plan.Organisation); err != nil {
			return err
		}
	}
	if plan.OrphanedUser != nil {
		plan.OrphanedUser.UnlinkExternalIdentity(now)
		if err := s.store.UpdateUser(ctx, plan.OrphanedUser); err != nil {
			return err
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveCascade(start)
	}
	return nil
}
