package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"packreg/internal/accounts/models"
	id "packreg/pkg/domain"
	"packreg/pkg/platform/sentinel"
)

// InMemory is a map-backed account graph store guarded by a mutex.
//
// RunInTx takes a snapshot of every table before running the callback and
// restores it if the callback fails, so the atomicity contract holds for unit
// tests exactly as it does for Postgres. Transactions are serialized by a
// coarse lock.
type InMemory struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	organisations   map[id.OrganisationID]models.Organisation
	orgConnections  map[uuid.UUID]models.OrganisationConnection
	selections      map[uuid.UUID]models.ComplianceSchemeSelection
	persons         map[id.PersonID]models.Person
	users           map[id.UserID]models.User
	connections     map[id.ConnectionID]models.Connection
	enrolments      map[id.EnrolmentID]models.Enrolment
	delegatedExts   map[id.EnrolmentID]models.DelegatedPersonEnrolment
	approvedExts    map[id.EnrolmentID]models.ApprovedPersonEnrolment
	comments        map[uuid.UUID]models.RegulatorComment
	committedStamps []AuditStamp
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		organisations:  map[id.OrganisationID]models.Organisation{},
		orgConnections: map[uuid.UUID]models.OrganisationConnection{},
		selections:     map[uuid.UUID]models.ComplianceSchemeSelection{},
		persons:        map[id.PersonID]models.Person{},
		users:          map[id.UserID]models.User{},
		connections:    map[id.ConnectionID]models.Connection{},
		enrolments:     map[id.EnrolmentID]models.Enrolment{},
		delegatedExts:  map[id.EnrolmentID]models.DelegatedPersonEnrolment{},
		approvedExts:   map[id.EnrolmentID]models.ApprovedPersonEnrolment{},
		comments:       map[uuid.UUID]models.RegulatorComment{},
	}
}

type snapshot struct {
	organisations  map[id.OrganisationID]models.Organisation
	orgConnections map[uuid.UUID]models.OrganisationConnection
	selections     map[uuid.UUID]models.ComplianceSchemeSelection
	persons        map[id.PersonID]models.Person
	users          map[id.UserID]models.User
	connections    map[id.ConnectionID]models.Connection
	enrolments     map[id.EnrolmentID]models.Enrolment
	delegatedExts  map[id.EnrolmentID]models.DelegatedPersonEnrolment
	approvedExts   map[id.EnrolmentID]models.ApprovedPersonEnrolment
	comments       map[uuid.UUID]models.RegulatorComment
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (s *InMemory) takeSnapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		organisations:  copyMap(s.organisations),
		orgConnections: copyMap(s.orgConnections),
		selections:     copyMap(s.selections),
		persons:        copyMap(s.persons),
		users:          copyMap(s.users),
		connections:    copyMap(s.connections),
		enrolments:     copyMap(s.enrolments),
		delegatedExts:  copyMap(s.delegatedExts),
		approvedExts:   copyMap(s.approvedExts),
		comments:       copyMap(s.comments),
	}
}

func (s *InMemory) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organisations = snap.organisations
	s.orgConnections = snap.orgConnections
	s.selections = snap.selections
	s.persons = snap.persons
	s.users = snap.users
	s.connections = snap.connections
	s.enrolments = snap.enrolments
	s.delegatedExts = snap.delegatedExts
	s.approvedExts = snap.approvedExts
	s.comments = snap.comments
}

// RunInTx runs fn atomically: if fn fails, every table is restored to its
// pre-transaction state. The audit stamp is recorded on successful commit.
func (s *InMemory) RunInTx(ctx context.Context, stamp AuditStamp, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.takeSnapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}

	s.mu.Lock()
	s.committedStamps = append(s.committedStamps, stamp)
	s.mu.Unlock()
	return nil
}

// CommittedStamps returns the audit stamps of every committed transaction,
// oldest first. Test helper.
func (s *InMemory) CommittedStamps() []AuditStamp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditStamp, len(s.committedStamps))
	copy(out, s.committedStamps)
	return out
}

// guardSoftDelete enforces the one-way soft-delete invariant on updates.
func guardSoftDelete(existingDeleted, incomingDeleted bool) error {
	if existingDeleted && !incomingDeleted {
		return sentinel.ErrInvalidState
	}
	return nil
}

// -----------------------------------------------------------------------------
// Organisations
// -----------------------------------------------------------------------------

func (s *InMemory) CreateOrganisation(_ context.Context, org *models.Organisation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.organisations[org.ID]; ok {
		return sentinel.ErrConflict
	}
	s.organisations[org.ID] = *org
	return nil
}

func (s *InMemory) GetOrganisation(_ context.Context, orgID id.OrganisationID) (*models.Organisation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.organisations[orgID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &org, nil
}

func (s *InMemory) UpdateOrganisation(_ context.Context, org *models.Organisation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.organisations[org.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := guardSoftDelete(existing.IsDeleted, org.IsDeleted); err != nil {
		return err
	}
	s.organisations[org.ID] = *org
	return nil
}

func (s *InMemory) CreateOrganisationConnection(_ context.Context, conn *models.OrganisationConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgConnections[conn.ID]; ok {
		return sentinel.ErrConflict
	}
	s.orgConnections[conn.ID] = *conn
	return nil
}

func (s *InMemory) OrganisationConnectionsTouching(_ context.Context, orgID id.OrganisationID) ([]*models.OrganisationConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.OrganisationConnection
	for _, conn := range s.orgConnections {
		if conn.Touches(orgID) {
			c := conn
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *InMemory) UpdateOrganisationConnection(_ context.Context, conn *models.OrganisationConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orgConnections[conn.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := guardSoftDelete(existing.IsDeleted, conn.IsDeleted); err != nil {
		return err
	}
	s.orgConnections[conn.ID] = *conn
	return nil
}

func (s *InMemory) CreateSchemeSelection(_ context.Context, sel *models.ComplianceSchemeSelection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.selections[sel.ID]; ok {
		return sentinel.ErrConflict
	}
	s.selections[sel.ID] = *sel
	return nil
}

func (s *InMemory) SchemeSelectionsTouching(_ context.Context, orgID id.OrganisationID) ([]*models.ComplianceSchemeSelection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ComplianceSchemeSelection
	for _, sel := range s.selections {
		if sel.OrganisationID == orgID || sel.ComplianceSchemeID == orgID {
			v := sel
			out = append(out, &v)
		}
	}
	return out, nil
}

func (s *InMemory) UpdateSchemeSelection(_ context.Context, sel *models.ComplianceSchemeSelection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.selections[sel.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := guardSoftDelete(existing.IsDeleted, sel.IsDeleted); err != nil {
		return err
	}
	s.selections[sel.ID] = *sel
	return nil
}

// -----------------------------------------------------------------------------
// Persons and users
// -----------------------------------------------------------------------------

func (s *InMemory) CreatePerson(_ context.Context, person *models.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.persons[person.ID]; ok {
		return sentinel.ErrConflict
	}
	s.persons[person.ID] = *person
	return nil
}

func (s *InMemory) GetPerson(_ context.Context, personID id.PersonID) (*models.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	person, ok := s.persons[personID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &person, nil
}

func (s *InMemory) GetPersonByUserID(_ context.Context, userID id.UserID) (*models.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, person := range s.persons {
		if person.UserID == userID && !person.IsDeleted {
			p := person
			return &p, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) UpdatePerson(_ context.Context, person *models.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.persons[person.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := guardSoftDelete(existing.IsDeleted, person.IsDeleted); err != nil {
		return err
	}
	s.persons[person.ID] = *person
	return nil
}

func (s *InMemory) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return sentinel.ErrConflict
	}
	s.users[user.ID] = *user
	return nil
}

func (s *InMemory) GetUser(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &user, nil
}

func (s *InMemory) GetUserByExternalIdentity(_ context.Context, externalIdentityID uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if externalIdentityID == uuid.Nil {
		return nil, sentinel.ErrNotFound
	}
	for _, user := range s.users {
		if user.ExternalIdentityID == externalIdentityID && !user.IsDeleted {
			u := user
			return &u, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) UpdateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[user.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := guardSoftDelete(existing.IsDeleted, user.IsDeleted); err != nil {
		return err
	}
	s.users[user.ID] = *user
	return nil
}

// -----------------------------------------------------------------------------
// Connections
// -----------------------------------------------------------------------------

func (s *InMemory) CreateConnection(_ context.Context, conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connections[conn.ID]; ok {
		return sentinel.ErrConflict
	}
	for _, existing := range s.connections {
		if existing.PersonID == conn.PersonID && existing.OrganisationID == conn.OrganisationID && !existing.IsDeleted {
			return sentinel.ErrConflict
		}
	}
	s.connections[conn.ID] = *conn
	return nil
}

func (s *InMemory) GetConnection(_ context.Context, connID id.ConnectionID, orgID id.OrganisationID) (*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.connections[connID]
	if !ok || conn.OrganisationID != orgID || conn.IsDeleted {
		return nil, sentinel.ErrNotFound
	}
	return &conn, nil
}

func (s *InMemory) ConnectionByPersonAndOrg(_ context.Context, personID id.PersonID, orgID id.OrganisationID) (*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conn := range s.connections {
		if conn.PersonID == personID && conn.OrganisationID == orgID && !conn.IsDeleted {
			c := conn
			return &c, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ConnectionsByPerson(_ context.Context, personID id.PersonID) ([]*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Connection
	for _, conn := range s.connections {
		if conn.PersonID == personID {
			c := conn
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *InMemory) ConnectionsByOrganisation(_ context.Context, orgID id.OrganisationID) ([]*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Connection
	for _, conn := range s.connections {
		if conn.OrganisationID == orgID {
			c := conn
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *InMemory) UpdateConnection(_ context.Context, conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.connections[conn.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := guardSoftDelete(existing.IsDeleted, conn.IsDeleted); err != nil {
		return err
	}
	s.connections[conn.ID] = *conn
	return nil
}

// -----------------------------------------------------------------------------
// Enrolments
// -----------------------------------------------------------------------------

func (s *InMemory) CreateEnrolment(_ context.Context, enrolment *models.Enrolment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enrolments[enrolment.ID]; ok {
		return sentinel.ErrConflict
	}
	s.enrolments[enrolment.ID] = *enrolment
	return nil
}

func (s *InMemory) GetEnrolment(_ context.Context, enrolmentID id.EnrolmentID) (*models.Enrolment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enrolment, ok := s.enrolments[enrolmentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &enrolment, nil
}

func (s *InMemory) FindEnrolment(_ context.Context, filter FindEnrolmentFilter) (*models.Enrolment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, enrolment := range s.enrolments {
		if enrolment.IsDeleted {
			continue
		}
		if !filter.EnrolmentID.IsNil() && enrolment.ID != filter.EnrolmentID {
			continue
		}
		if filter.Status != "" && enrolment.Status != filter.Status {
			continue
		}
		role, err := models.ServiceRoleByID(enrolment.ServiceRoleID)
		if err != nil {
			continue
		}
		if filter.Service != "" && role.Service != filter.Service {
			continue
		}
		if filter.RoleKind != "" && role.Kind != filter.RoleKind {
			continue
		}
		conn, ok := s.connections[enrolment.ConnectionID]
		if !ok || conn.IsDeleted {
			continue
		}
		if !filter.OrganisationID.IsNil() && conn.OrganisationID != filter.OrganisationID {
			continue
		}
		if !filter.PersonID.IsNil() && conn.PersonID != filter.PersonID {
			continue
		}
		e := enrolment
		return &e, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ActiveEnrolments(_ context.Context, connID id.ConnectionID, service models.ServiceKey, asOf time.Time) ([]*models.Enrolment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Enrolment
	for _, enrolment := range s.enrolments {
		if enrolment.ConnectionID != connID || !enrolment.IsActive(asOf) {
			continue
		}
		role, err := models.ServiceRoleByID(enrolment.ServiceRoleID)
		if err != nil || role.Service != service {
			continue
		}
		e := enrolment
		out = append(out, &e)
	}
	return out, nil
}

func (s *InMemory) EnrolmentsByOrganisation(_ context.Context, orgID id.OrganisationID) ([]*models.Enrolment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Enrolment
	for _, enrolment := range s.enrolments {
		conn, ok := s.connections[enrolment.ConnectionID]
		if !ok || conn.OrganisationID != orgID {
			continue
		}
		e := enrolment
		out = append(out, &e)
	}
	return out, nil
}

func (s *InMemory) UpdateEnrolment(_ context.Context, enrolment *models.Enrolment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.enrolments[enrolment.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := guardSoftDelete(existing.IsDeleted, enrolment.IsDeleted); err != nil {
		return err
	}
	s.enrolments[enrolment.ID] = *enrolment
	return nil
}

// DeleteEnrolment physically removes the enrolment and its role extension.
func (s *InMemory) DeleteEnrolment(_ context.Context, enrolmentID id.EnrolmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enrolments[enrolmentID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.enrolments, enrolmentID)
	delete(s.delegatedExts, enrolmentID)
	delete(s.approvedExts, enrolmentID)
	return nil
}

// -----------------------------------------------------------------------------
// Role extensions and regulator comments
// -----------------------------------------------------------------------------

func (s *InMemory) CreateDelegatedPersonEnrolment(_ context.Context, ext *models.DelegatedPersonEnrolment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enrolments[ext.EnrolmentID]; !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := s.delegatedExts[ext.EnrolmentID]; ok {
		return sentinel.ErrConflict
	}
	s.delegatedExts[ext.EnrolmentID] = *ext
	return nil
}

func (s *InMemory) GetDelegatedPersonEnrolment(_ context.Context, enrolmentID id.EnrolmentID) (*models.DelegatedPersonEnrolment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ext, ok := s.delegatedExts[enrolmentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &ext, nil
}

func (s *InMemory) DeleteDelegatedPersonEnrolment(_ context.Context, enrolmentID id.EnrolmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.delegatedExts[enrolmentID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.delegatedExts, enrolmentID)
	return nil
}

func (s *InMemory) UpdateDelegatedPersonEnrolment(_ context.Context, ext *models.DelegatedPersonEnrolment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.delegatedExts[ext.EnrolmentID]; !ok {
		return sentinel.ErrNotFound
	}
	s.delegatedExts[ext.EnrolmentID] = *ext
	return nil
}

func (s *InMemory) CreateApprovedPersonEnrolment(_ context.Context, ext *models.ApprovedPersonEnrolment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enrolments[ext.EnrolmentID]; !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := s.approvedExts[ext.EnrolmentID]; ok {
		return sentinel.ErrConflict
	}
	s.approvedExts[ext.EnrolmentID] = *ext
	return nil
}

func (s *InMemory) GetApprovedPersonEnrolment(_ context.Context, enrolmentID id.EnrolmentID) (*models.ApprovedPersonEnrolment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ext, ok := s.approvedExts[enrolmentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &ext, nil
}

func (s *InMemory) UpdateApprovedPersonEnrolment(_ context.Context, ext *models.ApprovedPersonEnrolment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvedExts[ext.EnrolmentID]; !ok {
		return sentinel.ErrNotFound
	}
	s.approvedExts[ext.EnrolmentID] = *ext
	return nil
}

func (s *InMemory) CreateRegulatorComment(_ context.Context, comment *models.RegulatorComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[comment.ID]; ok {
		return sentinel.ErrConflict
	}
	s.comments[comment.ID] = *comment
	return nil
}

func (s *InMemory) RegulatorCommentsByEnrolment(_ context.Context, enrolmentID id.EnrolmentID) ([]*models.RegulatorComment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RegulatorComment
	for _, comment := range s.comments {
		if comment.EnrolmentID == enrolmentID {
			c := comment
			out = append(out, &c)
		}
	}
	return out, nil
}
