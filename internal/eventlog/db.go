// Package eventlog persists per-session notification events and stage
// errors to sqlite for observability and after-the-fact review.
// Nothing is ever read back into pipeline state: sessions stay
// isolated, the log is append-only from the pipeline's point of view.
package eventlog

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/sightline/internal/monitoring"
	"github.com/banshee-data/sightline/internal/vision"
)

// DB wraps the sqlite event log.
type DB struct {
	*sql.DB
	path string
}

// NewDB opens (or creates) the event log at path and applies pending
// migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("eventlog migrations: %w", err)
	}
	return db, nil
}

// RecordSessionStart inserts a new session row.
func (db *DB) RecordSessionStart(id string, startedAt time.Time, source, model string) error {
	_, err := db.Exec(
		`INSERT INTO sessions (id, started_at, source, model) VALUES (?, ?, ?, ?)`,
		id, startedAt, source, model)
	return err
}

// RecordSessionStop marks a session as stopped.
func (db *DB) RecordSessionStop(id string, stoppedAt time.Time) error {
	_, err := db.Exec(`UPDATE sessions SET stopped_at = ? WHERE id = ?`, stoppedAt, id)
	return err
}

// RecordNotification appends one notification event for a session.
func (db *DB) RecordNotification(sessionID string, ev vision.NotificationEvent) error {
	_, err := db.Exec(
		`INSERT INTO notifications (session_id, track_id, label, zone, kind, at) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, ev.TrackID, ev.Label, ev.Zone.String(), string(ev.Kind), ev.Timestamp)
	return err
}

// RecordStageError appends one stage error for a session.
func (db *DB) RecordStageError(sessionID string, ev vision.StageEvent) error {
	_, err := db.Exec(
		`INSERT INTO stage_errors (session_id, stage, error, at) VALUES (?, ?, ?, ?)`,
		sessionID, ev.Stage, ev.Error, ev.At)
	return err
}

// Session is one pipeline run as stored in the log.
type Session struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Source    string     `json:"source"`
	Model     string     `json:"model"`
}

// ListSessions returns sessions newest first.
func (db *DB) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		`SELECT id, started_at, stopped_at, source, model FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.StoppedAt, &s.Source, &s.Model); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Notification is one logged announcement decision.
type Notification struct {
	TrackID int64     `json:"track_id"`
	Label   string    `json:"label"`
	Zone    string    `json:"zone"`
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
}

// ListNotifications returns a session's events oldest first.
func (db *DB) ListNotifications(sessionID string) ([]Notification, error) {
	rows, err := db.Query(
		`SELECT track_id, label, zone, kind, at FROM notifications WHERE session_id = ? ORDER BY at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.TrackID, &n.Label, &n.Zone, &n.Kind, &n.At); err != nil {
			return nil, err
		}
		events = append(events, n)
	}
	return events, rows.Err()
}

// ZoneCounts returns the number of events per zone for one session.
func (db *DB) ZoneCounts(sessionID string) (map[string]int, error) {
	rows, err := db.Query(
		`SELECT zone, COUNT(*) FROM notifications WHERE session_id = ? GROUP BY zone`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var zone string
		var n int
		if err := rows.Scan(&zone, &n); err != nil {
			return nil, err
		}
		counts[zone] = n
	}
	return counts, rows.Err()
}

// LabelCounts returns the number of events per object label for one
// session.
func (db *DB) LabelCounts(sessionID string) (map[string]int, error) {
	rows, err := db.Query(
		`SELECT label, COUNT(*) FROM notifications WHERE session_id = ? GROUP BY label`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		counts[label] = n
	}
	return counts, rows.Err()
}

// ListStageErrors returns a session's stage errors oldest first.
func (db *DB) ListStageErrors(sessionID string) ([]vision.StageEvent, error) {
	rows, err := db.Query(
		`SELECT stage, error, at FROM stage_errors WHERE session_id = ? ORDER BY at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []vision.StageEvent
	for rows.Next() {
		var ev vision.StageEvent
		if err := rows.Scan(&ev.Stage, &ev.Error, &ev.At); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AttachAdminRoutes mounts the tsweb debug index and a tailSQL live
// query UI over the event log on the given mux. Debug-only surface; in
// production it sits behind the tailnet like the rest of /debug.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("eventlog: failed to create tailsql server: %v", err)
		return
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Sightline event log",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
}
