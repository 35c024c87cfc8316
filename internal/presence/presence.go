// Package presence tracks which farmer sessions are live, optionally across
// several server instances.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry describes one live session.
type Entry struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Instance  string    `json:"instance"`
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"started_at"`

	// ConnectionID tells a reconnect under the same session id apart.
	ConnectionID string `json:"connection_id,omitempty"`
}

// Directory records live sessions. Implementations must be safe for concurrent use.
type Directory interface {
	Register(ctx context.Context, e Entry) error
	// Refresh extends the lifetime of a registered entry.
	Refresh(ctx context.Context, userID, sessionID string) error
	// Unregister removes the entry only while it still belongs to
	// connectionID; an empty connectionID removes it unconditionally.
	Unregister(ctx context.Context, userID, sessionID, connectionID string) error
	Sessions(ctx context.Context, userID string) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryDirectory is a single-instance Directory.
type MemoryDirectory struct {
	mu      sync.RWMutex
	entries map[string]map[string]Entry
}

// NewMemoryDirectory creates an empty in-process directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{entries: make(map[string]map[string]Entry)}
}

// Register implements Directory.
func (d *MemoryDirectory) Register(_ context.Context, e Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[e.UserID]; !ok {
		d.entries[e.UserID] = make(map[string]Entry)
	}
	d.entries[e.UserID][e.SessionID] = e
	return nil
}

// Refresh implements Directory.
func (d *MemoryDirectory) Refresh(context.Context, string, string) error { return nil }

// Unregister implements Directory.
func (d *MemoryDirectory) Unregister(_ context.Context, userID, sessionID, connectionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sessions, ok := d.entries[userID]; ok {
		if e, ok := sessions[sessionID]; !ok || !e.ownedBy(connectionID) {
			return nil
		}
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(d.entries, userID)
		}
	}
	return nil
}

// Sessions implements Directory. Entries are ordered by start time.
func (d *MemoryDirectory) Sessions(_ context.Context, userID string) ([]Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, 0, len(d.entries[userID]))
	for _, e := range d.entries[userID] {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// Ping implements Directory.
func (d *MemoryDirectory) Ping(context.Context) error { return nil }

// Close implements Directory.
func (d *MemoryDirectory) Close() error { return nil }

func (e Entry) ownedBy(connectionID string) bool {
	return connectionID == "" || e.ConnectionID == connectionID
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].StartedAt.Equal(entries[j].StartedAt) {
			return entries[i].SessionID < entries[j].SessionID
		}
		return entries[i].StartedAt.Before(entries[j].StartedAt)
	})
}
