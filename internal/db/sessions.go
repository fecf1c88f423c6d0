package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Session is one stay of a player on the server. LeftAt is zero while the
// player is still connected.
type Session struct {
	ID       int64     `json:"id"`
	PlayerID uint8     `json:"player_id"`
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	JoinedAt time.Time `json:"joined_at"`
	LeftAt   time.Time `json:"left_at,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// Open reports whether the player has not left yet.
func (s Session) Open() bool {
	return s.LeftAt.IsZero()
}

// Alert is a persisted long-tick alert.
type Alert struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore is the session history table set.
type SessionStore struct {
	db *Database
}

// NewSessionStore opens the database at dbPath and migrates the schema.
func NewSessionStore(dbPath string) (*SessionStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	store := &SessionStore{db: database}
	if err := store.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate session database: %w", err)
	}
	return store, nil
}

// sessionSchema holds one entry per schema version. Times are unix
// milliseconds; left_at 0 marks an open session.
var sessionSchema = []string{
	`CREATE TABLE sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		player_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL,
		joined_at INTEGER NOT NULL,
		left_at INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX idx_sessions_open ON sessions(address, left_at);
	CREATE INDEX idx_sessions_joined ON sessions(joined_at);`,

	`CREATE TABLE alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX idx_alerts_created ON alerts(created_at);`,
}

func (s *SessionStore) migrate() error {
	if err := s.db.Migrate(sessionSchema); err != nil {
		return err
	}
	log.Debug().Msg("session schema ready")
	return nil
}

// Join records a player joining and returns the new session id.
func (s *SessionStore) Join(playerID uint8, name, address string, at time.Time) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO sessions (player_id, name, address, joined_at) VALUES (?, ?, ?, ?)",
		int(playerID), name, address, at.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to record join of %s: %w", address, err)
	}
	return res.LastInsertId()
}

// Leave closes the open session of (playerID, address). It returns false when
// there was no open session.
func (s *SessionStore) Leave(playerID uint8, address, reason string, at time.Time) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE sessions SET left_at = ?, reason = ?
		 WHERE id = (SELECT id FROM sessions
		             WHERE player_id = ? AND address = ? AND left_at = 0
		             ORDER BY joined_at DESC, id DESC LIMIT 1)`,
		at.UnixMilli(), reason, int(playerID), address)
	if err != nil {
		return false, fmt.Errorf("failed to record leave of %s: %w", address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CloseOpen closes every open session, used at startup to settle sessions
// left dangling by a crash and at shutdown.
func (s *SessionStore) CloseOpen(reason string, at time.Time) (int64, error) {
	res, err := s.db.Exec("UPDATE sessions SET left_at = ?, reason = ? WHERE left_at = 0",
		at.UnixMilli(), reason)
	if err != nil {
		return 0, fmt.Errorf("failed to close open sessions: %w", err)
	}
	return res.RowsAffected()
}

// Recent returns up to limit sessions, newest first.
func (s *SessionStore) Recent(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, player_id, name, address, joined_at, left_at, reason
		 FROM sessions ORDER BY joined_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess     Session
			playerID int
			joined   int64
			left     int64
		)
		if err := rows.Scan(&sess.ID, &playerID, &sess.Name, &sess.Address, &joined, &left, &sess.Reason); err != nil {
			return nil, err
		}
		sess.PlayerID = uint8(playerID)
		sess.JoinedAt = time.UnixMilli(joined)
		if left != 0 {
			sess.LeftAt = time.UnixMilli(left)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// CreateAlert stores a long-tick alert.
func (s *SessionStore) CreateAlert(level, message string, at time.Time) error {
	_, err := s.db.Exec("INSERT INTO alerts (level, message, created_at) VALUES (?, ?, ?)",
		level, message, at.UnixMilli())
	return err
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *SessionStore) RecentAlerts(limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		"SELECT id, level, message, created_at FROM alerts ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var (
			a       Alert
			created int64
		)
		if err := rows.Scan(&a.ID, &a.Level, &a.Message, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = time.UnixMilli(created)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Prune deletes closed sessions that ended before cutoff and alerts older
// than cutoff. Open sessions are never pruned.
func (s *SessionStore) Prune(cutoff time.Time) (int64, error) {
	var total int64
	err := s.db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM sessions WHERE left_at != 0 AND left_at < ?", cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		total += n

		res, err = tx.Exec("DELETE FROM alerts WHERE created_at < ?", cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		total += n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune session history: %w", err)
	}
	return total, nil
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}
