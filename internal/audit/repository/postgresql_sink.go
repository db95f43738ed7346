// Package repository implements database-backed audit sinks.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/allisson/capsec/internal/audit"
	apperrors "github.com/allisson/capsec/internal/errors"
)

// PostgreSQLSink persists audit event batches to PostgreSQL.
// Each flush runs in a single transaction so a batch lands atomically.
type PostgreSQLSink struct {
	db *sql.DB
}

// NewPostgreSQLSink creates a sink writing to the given database.
func NewPostgreSQLSink(db *sql.DB) *PostgreSQLSink {
	return &PostgreSQLSink{db: db}
}

// Flush inserts the batch into audit_events. Nil metadata is stored as NULL.
func (p *PostgreSQLSink) Flush(ctx context.Context, events []*audit.Event) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, "failed to begin audit flush transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO audit_events
		(id, request_id, principal_id, event_type, decision, resource_type,
		 operation, resource, capability_id, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

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
			event.ID,
			event.RequestID,
			event.PrincipalID,
			string(event.EventType),
			string(event.Decision),
			event.ResourceType,
			event.Operation,
			event.Resource,
			event.CapabilityID,
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
