// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
)

// Repository defines the interface for persisting sessions and conversation turns.
type Repository interface {
	// RecordSession upserts the metadata of a newly activated session,
	// reopening the row when a reconnect reuses the session id.
	RecordSession(ctx context.Context, rec domain.SessionRecord) error

	// CloseSession stamps closed_at on a session still owned by
	// connectionID. Closing twice is a no-op.
	CloseSession(ctx context.Context, sessionID, connectionID string, closedAt time.Time) error

	// AppendTurn stores the text projection of a completed turn.
	AppendTurn(ctx context.Context, turn domain.StoredTurn) error

	// ListTurns returns the most recent turns for a user, oldest first.
	ListTurns(ctx context.Context, userID string, limit int) ([]domain.StoredTurn, error)

	// PruneTurns deletes turns and closed sessions older than the retention window.
	PruneTurns(ctx context.Context, olderThan time.Duration) (turns int64, sessions int64, err error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
