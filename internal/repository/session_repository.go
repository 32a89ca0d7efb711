package repository

import (
	"context"
	"database/sql"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/engine"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
)

// SessionRepo provides data access to the sessions table.  The session
// registry is the single writer; the table only mirrors registry state
// so paid time survives a process restart.  MAC is the primary key.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns a SessionRepo bound to the provided database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// Load returns every persisted session.  Called once at startup to warm
// the registry.
func (r *SessionRepo) Load(ctx context.Context) ([]model.Session, error) {
	const q = `SELECT mac, ip, remaining_seconds, total_paid, token, is_paused, connected_at
	           FROM sessions`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.MAC, &s.IP, &s.RemainingSeconds, &s.TotalPaid, &s.Token, &s.IsPaused, &s.ConnectedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Upsert writes the session row, inserting on first credit and updating
// in place afterwards.
func (r *SessionRepo) Upsert(ctx context.Context, s *model.Session) error {
	const q = `INSERT INTO sessions (mac, ip, remaining_seconds, total_paid, token, is_paused, connected_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE
	             ip = VALUES(ip),
	             remaining_seconds = VALUES(remaining_seconds),
	             total_paid = VALUES(total_paid),
	             token = VALUES(token),
	             is_paused = VALUES(is_paused)`
	_, err := r.db.ExecContext(ctx, q,
		s.MAC, s.IP, s.RemainingSeconds, s.TotalPaid, s.Token, s.IsPaused, s.ConnectedAt.UTC())
	return err
}

// Delete removes the session row for a MAC.  Deleting an absent row is
// not an error; eviction and identity migration both re-delete freely.
func (r *SessionRepo) Delete(ctx context.Context, mac string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE mac = ?`, mac)
	return err
}

var _ engine.Store = (*SessionRepo)(nil)
