package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"packreg/internal/accounts/models"
	id "packreg/pkg/domain"
	"packreg/pkg/platform/sentinel"
	platformtx "packreg/pkg/platform/tx"
)

// Postgres persists the account graph in PostgreSQL.
//
// Stores are pure I/O: business rules live in the services. The one invariant
// enforced here is one-way soft-deletion: updates OR the incoming flag with
// the stored one so a stale write can never resurrect a deleted row.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed account graph store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the ambient transaction when one is in flight, else the pool.
func (s *Postgres) q(ctx context.Context) querier {
	if tx, ok := platformtx.From(ctx); ok {
		return tx
	}
	return s.db
}

// RunInTx opens a transaction, threads it through the context for every store
// call inside fn, writes the audit stamp, and commits. Any failure rolls the
// whole unit of work back.
func (s *Postgres) RunInTx(ctx context.Context, stamp AuditStamp, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txCtx := platformtx.WithTx(ctx, tx)

	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO change_log (actor_user_id, organisation_id, request_id, committed_at)
		VALUES ($1, $2, $3, NOW())
	`, stamp.ActorUserID.String(), stamp.OrganisationID.String(), stamp.RequestID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write audit stamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// -----------------------------------------------------------------------------
// Organisations
// -----------------------------------------------------------------------------

func (s *Postgres) CreateOrganisation(ctx context.Context, org *models.Organisation) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO organisations (id, name, org_type, nation, transferred_from_nation, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, org.ID.String(), org.Name, string(org.Type), string(org.Nation), nationPtr(org.TransferredFromNation), org.IsDeleted, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create organisation: %w", err)
	}
	return nil
}

func (s *Postgres) GetOrganisation(ctx context.Context, orgID id.OrganisationID) (*models.Organisation, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, name, org_type, nation, transferred_from_nation, is_deleted, created_at, updated_at
		FROM organisations
		WHERE id = $1
	`, orgID.String())
	return scanOrganisation(row)
}

func (s *Postgres) UpdateOrganisation(ctx context.Context, org *models.Organisation) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE organisations
		SET name = $2,
		    org_type = $3,
		    nation = $4,
		    transferred_from_nation = $5,
		    is_deleted = is_deleted OR $6,
		    updated_at = $7
		WHERE id = $1
	`, org.ID.String(), org.Name, string(org.Type), string(org.Nation), nationPtr(org.TransferredFromNation), org.IsDeleted, org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update organisation: %w", err)
	}
	return requireRowAffected(result)
}

func (s *Postgres) CreateOrganisationConnection(ctx context.Context, conn *models.OrganisationConnection) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO organisation_connections (id, from_organisation_id, to_organisation_id, is_deleted)
		VALUES ($1, $2, $3, $4)
	`, conn.ID, conn.FromID.String(), conn.ToID.String(), conn.IsDeleted)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create organisation connection: %w", err)
	}
	return nil
}

func (s *Postgres) OrganisationConnectionsTouching(ctx context.Context, orgID id.OrganisationID) ([]*models.OrganisationConnection, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, from_organisation_id, to_organisation_id, is_deleted
		FROM organisation_connections
		WHERE from_organisation_id = $1 OR to_organisation_id = $1
	`, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("organisation connections touching: %w", err)
	}
	defer rows.Close()

	var out []*models.OrganisationConnection
	for rows.Next() {
		var conn models.OrganisationConnection
		var fromID, toID uuid.UUID
		if err := rows.Scan(&conn.ID, &fromID, &toID, &conn.IsDeleted); err != nil {
			return nil, fmt.Errorf("scan organisation connection: %w", err)
		}
		conn.FromID = id.OrganisationID(fromID)
		conn.ToID = id.OrganisationID(toID)
		out = append(out, &conn)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateOrganisationConnection(ctx context.Context, conn *models.OrganisationConnection) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE organisation_connections
		SET is_deleted = is_deleted OR $2
		WHERE id = $1
	`, conn.ID, conn.IsDeleted)
	if err != nil {
		return fmt.Errorf("update organisation connection: %w", err)
	}
	return requireRowAffected(result)
}

func (s *Postgres) CreateSchemeSelection(ctx context.Context, sel *models.ComplianceSchemeSelection) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO compliance_scheme_selections (id, organisation_id, compliance_scheme_id, is_deleted)
		VALUES ($1, $2, $3, $4)
	`, sel.ID, sel.OrganisationID.String(), sel.ComplianceSchemeID.String(), sel.IsDeleted)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create scheme selection: %w", err)
	}
	return nil
}

func (s *Postgres) SchemeSelectionsTouching(ctx context.Context, orgID id.OrganisationID) ([]*models.ComplianceSchemeSelection, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, organisation_id, compliance_scheme_id, is_deleted
		FROM compliance_scheme_selections
		WHERE organisation_id = $1 OR compliance_scheme_id = $1
	`, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("scheme selections touching: %w", err)
	}
	defer rows.Close()

	var out []*models.ComplianceSchemeSelection
	for rows.Next() {
		var sel models.ComplianceSchemeSelection
		var orgUUID, schemeUUID uuid.UUID
		if err := rows.Scan(&sel.ID, &orgUUID, &schemeUUID, &sel.IsDeleted); err != nil {
			return nil, fmt.Errorf("scan scheme selection: %w", err)
		}
		sel.OrganisationID = id.OrganisationID(orgUUID)
		sel.ComplianceSchemeID = id.OrganisationID(schemeUUID)
		out = append(out, &sel)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateSchemeSelection(ctx context.Context, sel *models.ComplianceSchemeSelection) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE compliance_scheme_selections
		SET is_deleted = is_deleted OR $2
		WHERE id = $1
	`, sel.ID, sel.IsDeleted)
	if err != nil {
		return fmt.Errorf("update scheme selection: %w", err)
	}
	return requireRowAffected(result)
}

// -----------------------------------------------------------------------------
// Persons and users
// -----------------------------------------------------------------------------

func (s *Postgres) CreatePerson(ctx context.Context, person *models.Person) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO persons (id, user_id, first_name, last_name, email, telephone, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, person.ID.String(), person.UserID.String(), person.FirstName, person.LastName, person.Email, person.Telephone, person.IsDeleted, person.CreatedAt, person.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create person: %w", err)
	}
	return nil
}

func (s *Postgres) GetPerson(ctx context.Context, personID id.PersonID) (*models.Person, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, user_id, first_name, last_name, email, telephone, is_deleted, created_at, updated_at
		FROM persons
		WHERE id = $1
	`, personID.String())
	return scanPerson(row)
}

func (s *Postgres) GetPersonByUserID(ctx context.Context, userID id.UserID) (*models.Person, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, user_id, first_name, last_name, email, telephone, is_deleted, created_at, updated_at
		FROM persons
		WHERE user_id = $1 AND is_deleted = FALSE
	`, userID.String())
	return scanPerson(row)
}

func (s *Postgres) UpdatePerson(ctx context.Context, person *models.Person) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE persons
		SET first_name = $2,
		    last_name = $3,
		    email = $4,
		    telephone = $5,
		    is_deleted = is_deleted OR $6,
		    updated_at = $7
		WHERE id = $1
	`, person.ID.String(), person.FirstName, person.LastName, person.Email, person.Telephone, person.IsDeleted, person.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update person: %w", err)
	}
	return requireRowAffected(result)
}

func (s *Postgres) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO users (id, external_identity_id, email, invite_token_hash, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID.String(), user.ExternalIdentityID, user.Email, nullIfEmpty(user.InviteTokenHash), user.IsDeleted, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Postgres) GetUser(ctx context.Context, userID id.UserID) (*models.User, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, external_identity_id, email, invite_token_hash, is_deleted, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID.String())
	return scanUser(row)
}

func (s *Postgres) GetUserByExternalIdentity(ctx context.Context, externalIdentityID uuid.UUID) (*models.User, error) {
	if externalIdentityID == uuid.Nil {
		return nil, sentinel.ErrNotFound
	}
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, external_identity_id, email, invite_token_hash, is_deleted, created_at, updated_at
		FROM users
		WHERE external_identity_id = $1 AND is_deleted = FALSE
	`, externalIdentityID)
	return scanUser(row)
}

func (s *Postgres) UpdateUser(ctx context.Context, user *models.User) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE users
		SET external_identity_id = $2,
		    email = $3,
		    invite_token_hash = $4,
		    is_deleted = is_deleted OR $5,
		    updated_at = $6
		WHERE id = $1
	`, user.ID.String(), user.ExternalIdentityID, user.Email, nullIfEmpty(user.InviteTokenHash), user.IsDeleted, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return requireRowAffected(result)
}

// -----------------------------------------------------------------------------
// Connections
// -----------------------------------------------------------------------------

func (s *Postgres) CreateConnection(ctx context.Context, conn *models.Connection) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO connections (id, person_id, organisation_id, person_role, job_title, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, conn.ID.String(), conn.PersonID.String(), conn.OrganisationID.String(), string(conn.PersonRole), conn.JobTitle, conn.IsDeleted, conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

func (s *Postgres) GetConnection(ctx context.Context, connID id.ConnectionID, orgID id.OrganisationID) (*models.Connection, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, person_id, organisation_id, person_role, job_title, is_deleted, created_at, updated_at
		FROM connections
		WHERE id = $1 AND organisation_id = $2 AND is_deleted = FALSE
	`, connID.String(), orgID.String())
	return scanConnection(row)
}

func (s *Postgres) ConnectionByPersonAndOrg(ctx context.Context, personID id.PersonID, orgID id.OrganisationID) (*models.Connection, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, person_id, organisation_id, person_role, job_title, is_deleted, created_at, updated_at
		FROM connections
		WHERE person_id = $1 AND organisation_id = $2 AND is_deleted = FALSE
	`, personID.String(), orgID.String())
	return scanConnection(row)
}

func (s *Postgres) ConnectionsByPerson(ctx context.Context, personID id.PersonID) ([]*models.Connection, error) {
	return s.queryConnections(ctx, `
		SELECT id, person_id, organisation_id, person_role, job_title, is_deleted, created_at, updated_at
		FROM connections
		WHERE person_id = $1
	`, personID.String())
}

func (s *Postgres) ConnectionsByOrganisation(ctx context.Context, orgID id.OrganisationID) ([]*models.Connection, error) {
	return s.queryConnections(ctx, `
		SELECT id, person_id, organisation_id, person_role, job_title, is_deleted, created_at, updated_at
		FROM connections
		WHERE organisation_id = $1
	`, orgID.String())
}

func (s *Postgres) UpdateConnection(ctx context.Context, conn *models.Connection) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE connections
		SET person_role = $2,
		    job_title = $3,
		    is_deleted = is_deleted OR $4,
		    updated_at = $5
		WHERE id = $1
	`, conn.ID.String(), string(conn.PersonRole), conn.JobTitle, conn.IsDeleted, conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	return requireRowAffected(result)
}

// -----------------------------------------------------------------------------
// Enrolments
// -----------------------------------------------------------------------------

const enrolmentColumns = `e.id, e.connection_id, e.service_role_id, e.status, e.valid_from, e.valid_to, e.is_deleted, e.created_at, e.updated_at`

func (s *Postgres) CreateEnrolment(ctx context.Context, enrolment *models.Enrolment) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO enrolments (id, connection_id, service_role_id, status, valid_from, valid_to, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, enrolment.ID.String(), enrolment.ConnectionID.String(), enrolment.ServiceRoleID.String(), string(enrolment.Status), enrolment.ValidFrom, enrolment.ValidTo, enrolment.IsDeleted, enrolment.CreatedAt, enrolment.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create enrolment: %w", err)
	}
	return nil
}

func (s *Postgres) GetEnrolment(ctx context.Context, enrolmentID id.EnrolmentID) (*models.Enrolment, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+enrolmentColumns+`
		FROM enrolments e
		WHERE e.id = $1
	`, enrolmentID.String())
	return scanEnrolment(row)
}

func (s *Postgres) FindEnrolment(ctx context.Context, filter FindEnrolmentFilter) (*models.Enrolment, error) {
	query := `
		SELECT ` + enrolmentColumns + `
		FROM enrolments e
		JOIN connections c ON c.id = e.connection_id AND c.is_deleted = FALSE
		JOIN service_roles sr ON sr.id = e.service_role_id
		WHERE e.is_deleted = FALSE
	`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !filter.EnrolmentID.IsNil() {
		query += ` AND e.id = ` + arg(filter.EnrolmentID.String())
	}
	if !filter.OrganisationID.IsNil() {
		query += ` AND c.organisation_id = ` + arg(filter.OrganisationID.String())
	}
	if !filter.PersonID.IsNil() {
		query += ` AND c.person_id = ` + arg(filter.PersonID.String())
	}
	if filter.Service != "" {
		query += ` AND sr.service = ` + arg(string(filter.Service))
	}
	if filter.RoleKind != "" {
		query += ` AND sr.kind = ` + arg(string(filter.RoleKind))
	}
	if filter.Status != "" {
		query += ` AND e.status = ` + arg(string(filter.Status))
	}
	query += ` LIMIT 1`

	return scanEnrolment(s.q(ctx).QueryRowContext(ctx, query, args...))
}

func (s *Postgres) ActiveEnrolments(ctx context.Context, connID id.ConnectionID, service models.ServiceKey, asOf time.Time) ([]*models.Enrolment, error) {
	statuses := make([]string, 0, len(models.ActiveEnrolmentStatuses))
	for _, status := range models.ActiveEnrolmentStatuses {
		statuses = append(statuses, string(status))
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+enrolmentColumns+`
		FROM enrolments e
		JOIN service_roles sr ON sr.id = e.service_role_id
		WHERE e.connection_id = $1
		  AND sr.service = $2
		  AND e.is_deleted = FALSE
		  AND e.status = ANY($3)
		  AND (e.valid_from IS NULL OR e.valid_from <= $4)
		  AND (e.valid_to IS NULL OR e.valid_to > $4)
	`, connID.String(), string(service), pq.Array(statuses), asOf)
	if err != nil {
		return nil, fmt.Errorf("active enrolments: %w", err)
	}
	defer rows.Close()
	return collectEnrolments(rows)
}

func (s *Postgres) EnrolmentsByOrganisation(ctx context.Context, orgID id.OrganisationID) ([]*models.Enrolment, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+enrolmentColumns+`
		FROM enrolments e
		JOIN connections c ON c.id = e.connection_id
		WHERE c.organisation_id = $1
	`, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("enrolments by organisation: %w", err)
	}
	defer rows.Close()
	return collectEnrolments(rows)
}

func (s *Postgres) UpdateEnrolment(ctx context.Context, enrolment *models.Enrolment) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE enrolments
		SET service_role_id = $2,
		    status = $3,
		    valid_from = $4,
		    valid_to = $5,
		    is_deleted = is_deleted OR $6,
		    updated_at = $7
		WHERE id = $1
	`, enrolment.ID.String(), enrolment.ServiceRoleID.String(), string(enrolment.Status), enrolment.ValidFrom, enrolment.ValidTo, enrolment.IsDeleted, enrolment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update enrolment: %w", err)
	}
	return requireRowAffected(result)
}

// DeleteEnrolment physically removes the enrolment; the role extension rows
// go with it via ON DELETE CASCADE.
func (s *Postgres) DeleteEnrolment(ctx context.Context, enrolmentID id.EnrolmentID) error {
	result, err := s.q(ctx).ExecContext(ctx, `DELETE FROM enrolments WHERE id = $1`, enrolmentID.String())
	if err != nil {
		return fmt.Errorf("delete enrolment: %w", err)
	}
	return requireRowAffected(result)
}

// -----------------------------------------------------------------------------
// Role extensions and regulator comments
// -----------------------------------------------------------------------------

func (s *Postgres) CreateDelegatedPersonEnrolment(ctx context.Context, ext *models.DelegatedPersonEnrolment) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO delegated_person_enrolments
			(enrolment_id, nominator_enrolment_id, relationship_type, consultancy_name, compliance_scheme_name,
			 other_organisation_name, other_relationship_description,
			 nominator_declaration, nominator_declaration_time, nominee_declaration, nominee_declaration_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, ext.EnrolmentID.String(), ext.NominatorEnrolmentID.String(), string(ext.RelationshipType),
		ext.ConsultancyName, ext.ComplianceSchemeName, ext.OtherOrganisationName, ext.OtherRelationshipDescription,
		ext.NominatorDeclaration, ext.NominatorDeclarationTime, ext.NomineeDeclaration, ext.NomineeDeclarationTime)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create delegated person enrolment: %w", err)
	}
	return nil
}

func (s *Postgres) GetDelegatedPersonEnrolment(ctx context.Context, enrolmentID id.EnrolmentID) (*models.DelegatedPersonEnrolment, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT enrolment_id, nominator_enrolment_id, relationship_type, consultancy_name, compliance_scheme_name,
		       other_organisation_name, other_relationship_description,
		       nominator_declaration, nominator_declaration_time, nominee_declaration, nominee_declaration_time
		FROM delegated_person_enrolments
		WHERE enrolment_id = $1
	`, enrolmentID.String())

	var ext models.DelegatedPersonEnrolment
	var enrolmentUUID, nominatorUUID uuid.UUID
	var relationship string
	err := row.Scan(&enrolmentUUID, &nominatorUUID, &relationship, &ext.ConsultancyName, &ext.ComplianceSchemeName,
		&ext.OtherOrganisationName, &ext.OtherRelationshipDescription,
		&ext.NominatorDeclaration, &ext.NominatorDeclarationTime, &ext.NomineeDeclaration, &ext.NomineeDeclarationTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get delegated person enrolment: %w", err)
	}
	ext.EnrolmentID = id.EnrolmentID(enrolmentUUID)
	ext.NominatorEnrolmentID = id.EnrolmentID(nominatorUUID)
	ext.RelationshipType = models.RelationshipType(relationship)
	return &ext, nil
}

func (s *Postgres) UpdateDelegatedPersonEnrolment(ctx context.Context, ext *models.DelegatedPersonEnrolment) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE delegated_person_enrolments
		SET nominee_declaration = $2,
		    nominee_declaration_time = $3
		WHERE enrolment_id = $1
	`, ext.EnrolmentID.String(), ext.NomineeDeclaration, ext.NomineeDeclarationTime)
	if err != nil {
		return fmt.Errorf("update delegated person enrolment: %w", err)
	}
	return requireRowAffected(result)
}

func (s *Postgres) DeleteDelegatedPersonEnrolment(ctx context.Context, enrolmentID id.EnrolmentID) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		DELETE FROM delegated_person_enrolments WHERE enrolment_id = $1
	`, enrolmentID.String())
	if err != nil {
		return fmt.Errorf("delete delegated person enrolment: %w", err)
	}
	return requireRowAffected(result)
}

func (s *Postgres) CreateApprovedPersonEnrolment(ctx context.Context, ext *models.ApprovedPersonEnrolment) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO approved_person_enrolments (enrolment_id, nominee_declaration, nominee_declaration_time)
		VALUES ($1, $2, $3)
	`, ext.EnrolmentID.String(), ext.NomineeDeclaration, ext.NomineeDeclarationTime)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create approved person enrolment: %w", err)
	}
	return nil
}

func (s *Postgres) GetApprovedPersonEnrolment(ctx context.Context, enrolmentID id.EnrolmentID) (*models.ApprovedPersonEnrolment, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT enrolment_id, nominee_declaration, nominee_declaration_time
		FROM approved_person_enrolments
		WHERE enrolment_id = $1
	`, enrolmentID.String())

	var ext models.ApprovedPersonEnrolment
	var enrolmentUUID uuid.UUID
	err := row.Scan(&enrolmentUUID, &ext.NomineeDeclaration, &ext.NomineeDeclarationTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get approved person enrolment: %w", err)
	}
	ext.EnrolmentID = id.EnrolmentID(enrolmentUUID)
	return &ext, nil
}

func (s *Postgres) UpdateApprovedPersonEnrolment(ctx context.Context, ext *models.ApprovedPersonEnrolment) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE approved_person_enrolments
		SET nominee_declaration = $2,
		    nominee_declaration_time = $3
		WHERE enrolment_id = $1
	`, ext.EnrolmentID.String(), ext.NomineeDeclaration, ext.NomineeDeclarationTime)
	if err != nil {
		return fmt.Errorf("update approved person enrolment: %w", err)
	}
	return requireRowAffected(result)
}

func (s *Postgres) CreateRegulatorComment(ctx context.Context, comment *models.RegulatorComment) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO regulator_comments (id, enrolment_id, author_person_id, rejected_comment, transfer_comment, is_deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, comment.ID, comment.EnrolmentID.String(), comment.AuthorPersonID.String(), comment.RejectedComment, comment.TransferComment, comment.IsDeleted, comment.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create regulator comment: %w", err)
	}
	return nil
}

func (s *Postgres) RegulatorCommentsByEnrolment(ctx context.Context, enrolmentID id.EnrolmentID) ([]*models.RegulatorComment, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, enrolment_id, author_person_id, rejected_comment, transfer_comment, is_deleted, created_at
		FROM regulator_comments
		WHERE enrolment_id = $1
		ORDER BY created_at
	`, enrolmentID.String())
	if err != nil {
		return nil, fmt.Errorf("regulator comments by enrolment: %w", err)
	}
	defer rows.Close()

	var out []*models.RegulatorComment
	for rows.Next() {
		var comment models.RegulatorComment
		var enrolmentUUID, personUUID uuid.UUID
		if err := rows.Scan(&comment.ID, &enrolmentUUID, &personUUID, &comment.RejectedComment, &comment.TransferComment, &comment.IsDeleted, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan regulator comment: %w", err)
		}
		comment.EnrolmentID = id.EnrolmentID(enrolmentUUID)
		comment.AuthorPersonID = id.PersonID(personUUID)
		out = append(out, &comment)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Scan helpers
// -----------------------------------------------------------------------------

func requireRowAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nationPtr(n *models.Nation) *string {
	if n == nil {
		return nil
	}
	v := string(*n)
	return &v
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func scanOrganisation(row *sql.Row) (*models.Organisation, error) {
	var org models.Organisation
	var orgUUID uuid.UUID
	var orgType, nation string
	var transferredFrom *string
	err := row.Scan(&orgUUID, &org.Name, &orgType, &nation, &transferredFrom, &org.IsDeleted, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan organisation: %w", err)
	}
	org.ID = id.OrganisationID(orgUUID)
	org.Type = models.OrganisationType(orgType)
	org.Nation = models.Nation(nation)
	if transferredFrom != nil {
		n := models.Nation(*transferredFrom)
		org.TransferredFromNation = &n
	}
	return &org, nil
}

func scanPerson(row *sql.Row) (*models.Person, error) {
	var person models.Person
	var personUUID, userUUID uuid.UUID
	err := row.Scan(&personUUID, &userUUID, &person.FirstName, &person.LastName, &person.Email, &person.Telephone, &person.IsDeleted, &person.CreatedAt, &person.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan person: %w", err)
	}
	person.ID = id.PersonID(personUUID)
	person.UserID = id.UserID(userUUID)
	return &person, nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	var userUUID uuid.UUID
	var inviteHash *string
	err := row.Scan(&userUUID, &user.ExternalIdentityID, &user.Email, &inviteHash, &user.IsDeleted, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.ID = id.UserID(userUUID)
	if inviteHash != nil {
		user.InviteTokenHash = *inviteHash
	}
	return &user, nil
}

func scanConnection(row *sql.Row) (*models.Connection, error) {
	var conn models.Connection
	var connUUID, personUUID, orgUUID uuid.UUID
	var role string
	err := row.Scan(&connUUID, &personUUID, &orgUUID, &role, &conn.JobTitle, &conn.IsDeleted, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	conn.ID = id.ConnectionID(connUUID)
	conn.PersonID = id.PersonID(personUUID)
	conn.OrganisationID = id.OrganisationID(orgUUID)
	conn.PersonRole = models.PersonRole(role)
	return &conn, nil
}

func (s *Postgres) queryConnections(ctx context.Context, query string, args ...any) ([]*models.Connection, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var out []*models.Connection
	for rows.Next() {
		var conn models.Connection
		var connUUID, personUUID, orgUUID uuid.UUID
		var role string
		if err := rows.Scan(&connUUID, &personUUID, &orgUUID, &role, &conn.JobTitle, &conn.IsDeleted, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conn.ID = id.ConnectionID(connUUID)
		conn.PersonID = id.PersonID(personUUID)
		conn.OrganisationID = id.OrganisationID(orgUUID)
		conn.PersonRole = models.PersonRole(role)
		out = append(out, &conn)
	}
	return out, rows.Err()
}

func scanEnrolment(row *sql.Row) (*models.Enrolment, error) {
	var enrolment models.Enrolment
	var enrolmentUUID, connUUID, roleUUID uuid.UUID
	var status string
	err := row.Scan(&enrolmentUUID, &connUUID, &roleUUID, &status, &enrolment.ValidFrom, &enrolment.ValidTo, &enrolment.IsDeleted, &enrolment.CreatedAt, &enrolment.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan enrolment: %w", err)
	}
	enrolment.ID = id.EnrolmentID(enrolmentUUID)
	enrolment.ConnectionID = id.ConnectionID(connUUID)
	enrolment.ServiceRoleID = id.ServiceRoleID(roleUUID)
	enrolment.Status = models.EnrolmentStatus(status)
	return &enrolment, nil
}

func collectEnrolments(rows *sql.Rows) ([]*models.Enrolment, error) {
	var out []*models.Enrolment
	for rows.Next() {
		var enrolment models.Enrolment
		var enrolmentUUID, connUUID, roleUUID uuid.UUID
		var status string
		if err := rows.Scan(&enrolmentUUID, &connUUID, &roleUUID, &status, &enrolment.ValidFrom, &enrolment.ValidTo, &enrolment.IsDeleted, &enrolment.CreatedAt, &enrolment.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan enrolment: %w", err)
		}
		enrolment.ID = id.EnrolmentID(enrolmentUUID)
		enrolment.ConnectionID = id.ConnectionID(connUUID)
		enrolment.ServiceRoleID = id.ServiceRoleID(roleUUID)
		enrolment.Status = models.EnrolmentStatus(status)
		out = append(out, &enrolment)
	}
	return out, rows.Err()
}
