package audit

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/google/uuid"

	id "packreg/pkg/domain"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore persists audit events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the audit_events table. Idempotent.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (actor_user_id, organisation_id, action, subject, detail, request_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.ActorUserID.String(), event.OrganisationID.String(), string(event.Action), event.Subject, event.Detail, event.RequestID, event.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByOrganisation(ctx context.Context, orgID id.OrganisationID) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor_user_id, organisation_id, action, subject, detail, request_id, occurred_at
		FROM audit_events
		WHERE organisation_id = $1
		ORDER BY occurred_at
	`, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var event Event
		var actorUUID, orgUUID uuid.UUID
		var action string
		if err := rows.Scan(&actorUUID, &orgUUID, &action, &event.Subject, &event.Detail, &event.RequestID, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ActorUserID = id.UserID(actorUUID)
		event.OrganisationID = id.OrganisationID(orgUUID)
		event.Action = Action(action)
		out = append(out, event)
	}
	return out, rows.Err()
}
