package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/allisson/capsec/internal/audit"
	apperrors "github.com/allisson/capsec/internal/errors"
)

// MySQLSink persists audit event batches to MySQL. Mirrors PostgreSQLSink with
// MySQL placeholders and string-encoded UUIDs (MySQL lacks a native UUID type).
type MySQLSink struct {
	db *sql.DB
}

// NewMySQLSink creates a sink writing to the given database.
func NewMySQLSink(db *sql.DB) *MySQLSink {
	return &MySQLSink{db: db}
}

// Flush inserts the batch into audit_events. Nil metadata is stored as NULL.
func (m *MySQLSink) Flush(ctx context.Context, events []*audit.Event) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, "failed to begin audit flush transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO audit_events
		(id, request_id, principal_id, event_type, decision, resource_type,
		 operation, resource, capability_id, reason, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return apperrors.Wrap(err, "failed to prepare audit insert")
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, event := range events {
		var metadataJSON []byte
		if event.Metadata != nil {
			metadataJSON, err = json.Marshal(event.Metadata)
			if err != nil {
				return apperrors.Wrap(err, "failed to marshal audit event metadata")
			}
		}
		_, err = stmt.ExecContext(
			ctx,
			event.ID.String(),
			event.RequestID.String(),
			event.PrincipalID,
			string(event.EventType),
			string(event.Decision),
			event.ResourceType,
			event.Operation,
			event.Resource,
			event.CapabilityID.String(),
			event.Reason,
			metadataJSON,
			event.CreatedAt,
		)
		if err != nil {
			return apperrors.Wrap(err, "failed to insert audit event")
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(err, "failed to commit audit flush")
	}
	return nil
}
