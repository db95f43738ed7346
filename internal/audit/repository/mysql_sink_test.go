package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/capsec/internal/audit"
)

func TestMySQLSink_Flush(t *testing.T) {
	t.Run("uuids are stored as strings", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		event := testEvent()
		event.Metadata = map[string]any{"attempts": 2}

		mock.ExpectBegin()
		prepare := mock.ExpectPrepare("INSERT INTO audit_events")
		prepare.ExpectExec().
			WithArgs(
				event.ID.String(), event.RequestID.String(), event.PrincipalID,
				string(event.EventType), string(event.Decision),
				event.ResourceType, event.Operation, event.Resource,
				event.CapabilityID.String(), event.Reason, []byte(`{"attempts":2}`), event.CreatedAt,
			).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		sink := NewMySQLSink(db)
		require.NoError(t, sink.Flush(context.Background(), []*audit.Event{event}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("prepare failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectPrepare("INSERT INTO audit_events").
			WillReturnError(errors.New("table not found"))
		mock.ExpectRollback()

		sink := NewMySQLSink(db)
		err = sink.Flush(context.Background(), []*audit.Event{testEvent()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to prepare audit insert")
	})
}
