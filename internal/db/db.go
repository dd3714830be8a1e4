package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database holding sidecar and host event history
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at the specified path
func Open(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	// Initialize schema
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close checkpoints the WAL and closes the connection
func (db *DB) Close() error {
	if db.conn != nil {
		// Checkpoint the WAL so all history lands in the main database file
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return db.conn.Close()
	}
	return nil
}

// Flush forces a WAL checkpoint to write pending changes to the main database file
func (db *DB) Flush() error {
	if db.conn != nil {
		// Use RESTART mode to force checkpoint even if there are active readers
		_, err := db.conn.Exec("PRAGMA wal_checkpoint(RESTART)")
		return err
	}
	return nil
}

// initSchema creates the database tables if they don't exist
func (db *DB) initSchema() error {
	schema := `
	-- Sidecar lifecycle events (start, stop, integrity and health failures)
	CREATE TABLE IF NOT EXISTS sidecar_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		launch_id TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Transitions of the derived throttled flag
	CREATE TABLE IF NOT EXISTS throttle_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		throttled INTEGER NOT NULL,
		cpu_usage_pct REAL NOT NULL,
		cpu_temp_c REAL,
		battery_pct REAL,
		on_ac_power INTEGER,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Host lifecycle events
	CREATE TABLE IF NOT EXISTS daemon_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_sidecar_events_timestamp ON sidecar_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_sidecar_events_launch ON sidecar_events(launch_id);
	CREATE INDEX IF NOT EXISTS idx_throttle_changes_timestamp ON throttle_changes(timestamp);
	CREATE INDEX IF NOT EXISTS idx_daemon_events_timestamp ON daemon_events(timestamp);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// SidecarEvent is a sidecar lifecycle event
type SidecarEvent struct {
	ID        int64
	LaunchID  string
	EventType string
	Details   string
	Timestamp time.Time
}

// LogSidecarEvent records a sidecar lifecycle event
func (db *DB) LogSidecarEvent(launchID, eventType, details string) error {
	// Retry briefly if database is locked; this is best-effort and must not
	// hold up shutdown
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		_, err := db.conn.Exec(
			`INSERT INTO sidecar_events (launch_id, event_type, details, timestamp)
			 VALUES (?, ?, ?, ?)`,
			launchID, eventType, details, time.Now(),
		)
		if err == nil {
			return nil
		}
		// Only SQLITE_BUSY is worth retrying; anything else is a real failure
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("failed to log sidecar event after %d retries: database locked", maxRetries)
}

// ThrottleChange is a recorded transition of the throttled flag together
// with the readings that caused it
type ThrottleChange struct {
	ID          int64
	Throttled   bool
	CPUUsagePct float64
	CPUTempC    *float64
	BatteryPct  *float64
	OnACPower   *bool
	Timestamp   time.Time
}

// LogThrottleChange records a transition of the throttled flag
func (db *DB) LogThrottleChange(c ThrottleChange) error {
	_, err := db.conn.Exec(
		`INSERT INTO throttle_changes (throttled, cpu_usage_pct, cpu_temp_c, battery_pct, on_ac_power, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.Throttled, c.CPUUsagePct, nullFloat(c.CPUTempC), nullFloat(c.BatteryPct), nullBool(c.OnACPower), time.Now(),
	)
	return err
}

// DaemonEvent is a host lifecycle event
type DaemonEvent struct {
	ID        int64
	EventType string
	Details   string
	Timestamp time.Time
}

// LogDaemonEvent records a host lifecycle event
func (db *DB) LogDaemonEvent(eventType, details string) error {
	_, err := db.conn.Exec(
		`INSERT INTO daemon_events (event_type, details, timestamp)
		 VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	)
	return err
}

// GetRecentSidecarEvents retrieves recent sidecar events, newest first
func (db *DB) GetRecentSidecarEvents(limit int) ([]SidecarEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, launch_id, event_type, details, timestamp
		 FROM sidecar_events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SidecarEvent
	for rows.Next() {
		var e SidecarEvent
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.LaunchID, &e.EventType, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		// Details is nullable; absent details read as empty
		e.Details = details.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetRecentThrottleChanges retrieves recent throttle transitions, newest first
func (db *DB) GetRecentThrottleChanges(limit int) ([]ThrottleChange, error) {
	rows, err := db.conn.Query(
		`SELECT id, throttled, cpu_usage_pct, cpu_temp_c, battery_pct, on_ac_power, timestamp
		 FROM throttle_changes
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []ThrottleChange
	for rows.Next() {
		var c ThrottleChange
		var temp, batt sql.NullFloat64
		var ac sql.NullBool
		if err := rows.Scan(&c.ID, &c.Throttled, &c.CPUUsagePct, &temp, &batt, &ac, &c.Timestamp); err != nil {
			return nil, err
		}
		// Readings the sampler could not take were stored as NULL
		if temp.Valid {
			c.CPUTempC = &temp.Float64
		}
		if batt.Valid {
			c.BatteryPct = &batt.Float64
		}
		if ac.Valid {
			c.OnACPower = &ac.Bool
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// GetRecentDaemonEvents retrieves recent host events, newest first
func (db *DB) GetRecentDaemonEvents(limit int) ([]DaemonEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, event_type, details, timestamp
		 FROM daemon_events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []DaemonEvent
	for rows.Next() {
		var e DaemonEvent
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.EventType, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Details = details.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// nullFloat maps an absent reading to SQL NULL
func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// nullBool maps an unknown power source to SQL NULL
func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}
