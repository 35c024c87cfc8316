package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite"

	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
	"github.com/SidGoyal2014/gah-final-submission/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		language TEXT NOT NULL,
		degraded INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		closed_at INTEGER,
		connection_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		interrupted INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_user_created ON conversation_turns(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return s.addColumn("sessions", "connection_id", `TEXT NOT NULL DEFAULT ''`)
}

// addColumn brings databases created before column existed up to date.
func (s *SQLiteStore) addColumn(table, column, decl string) error {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// RecordSession upserts session metadata. A reconnect reusing a session id
// takes the row over and reopens it.
func (s *SQLiteStore) RecordSession(ctx context.Context, rec domain.SessionRecord) error {
	query := `
	INSERT INTO sessions (session_id, user_id, mode, language, degraded, created_at, connection_id)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		user_id = excluded.user_id,
		mode = excluded.mode,
		language = excluded.language,
		degraded = excluded.degraded,
		created_at = excluded.created_at,
		connection_id = excluded.connection_id,
		closed_at = NULL`

	return s.execWithRetry(ctx, "record session", query,
		rec.SessionID, rec.UserID, string(rec.Mode), rec.Language,
		boolToInt(rec.Degraded), rec.CreatedAt.UnixMilli(), rec.ConnectionID,
	)
}

// CloseSession stamps closed_at the first time it is called for a session,
// and only while the row still belongs to connectionID. An empty
// connectionID closes whatever connection owns the row.
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID, connectionID string, closedAt time.Time) error {
	query := `
	UPDATE sessions SET closed_at = ?
	WHERE session_id = ? AND closed_at IS NULL AND (? = '' OR connection_id = ?)`
	return s.execWithRetry(ctx, "close session", query, closedAt.UnixMilli(), sessionID, connectionID, connectionID)
}

// AppendTurn stores one completed turn.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn domain.StoredTurn) error {
	query := `
	INSERT INTO conversation_turns (session_id, user_id, role, text, interrupted, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return s.execWithRetry(ctx, "append turn", query,
		turn.SessionID, turn.UserID, string(turn.Role), turn.Text,
		boolToInt(turn.Interrupted), createdAt.UnixMilli(),
	)
}

// ListTurns returns up to limit recent turns for userID, oldest first.
func (s *SQLiteStore) ListTurns(ctx context.Context, userID string, limit int) ([]domain.StoredTurn, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, session_id, user_id, role, text, interrupted, created_at
		FROM (
			SELECT * FROM conversation_turns
			WHERE user_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	var turns []domain.StoredTurn
	for rows.Next() {
		var t domain.StoredTurn
		var role string
		var interrupted int
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.UserID, &role, &t.Text, &interrupted, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Role = domain.Role(role)
		t.Interrupted = interrupted != 0
		t.CreatedAt = time.UnixMilli(createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// PruneTurns removes turns older than the window and closed sessions left without turns.
func (s *SQLiteStore) PruneTurns(ctx context.Context, olderThan time.Duration) (int64, int64, error) {
	threshold := time.Now().Add(-olderThan).UnixMilli()

	turnRes, err := s.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, 0, fmt.Errorf("prune turns: %w", err)
	}
	turnRows, err := turnRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("pruned turns rows affected: %w", err)
	}

	sessRes, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE closed_at IS NOT NULL AND closed_at < ?
		  AND session_id NOT IN (SELECT DISTINCT session_id FROM conversation_turns)`, threshold)
	if err != nil {
		return turnRows, 0, fmt.Errorf("prune sessions: %w", err)
	}
	sessRows, err := sessRes.RowsAffected()
	if err != nil {
		return turnRows, 0, fmt.Errorf("pruned sessions rows affected: %w", err)
	}

	return turnRows, sessRows, nil
}

// execWithRetry retries writes that hit SQLITE_BUSY with exponential backoff: 100ms, 200ms, 400ms.
func (s *SQLiteStore) execWithRetry(ctx context.Context, op, query string, args ...any) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		_, err := s.db.ExecContext(ctx, query, args...)
		if err != nil && shared.IsSQLiteConflictError(err) {
			slog.Debug("sqlite write busy, retrying", "op", op, "attempt", attempt)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
