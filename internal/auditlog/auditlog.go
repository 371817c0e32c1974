// Package auditlog implements a write-only SQLite log of every accepted
// sensor change, for operational history. It is never read back to
// reconstruct live sensor state at startup — the registry is always
// rebuilt from the configuration document, preserving spec.md section 1's
// durability Non-goal. Adapted from the teacher's internal/db package,
// narrowed from its tunnel/daemon/sensor event tables to one
// sensor_changes table matching the ChangeBus vocabulary.
package auditlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"sensorhub.dev/hub/internal/changebus"
)

// Log wraps the SQLite connection backing the audit trail.
type Log struct {
	conn   *sql.DB
	logger *slog.Logger
}

// Open opens or creates the SQLite database at path, creating its parent
// directory and the schema if needed.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("auditlog: creating directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("auditlog: opening database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("auditlog: enabling WAL mode: %w", err)
	}

	l := &Log{conn: conn, logger: slog.Default()}
	if err := l.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("auditlog: initializing schema: %w", err)
	}
	return l, nil
}

// SetLogger overrides the default logger.
func (l *Log) SetLogger(logger *slog.Logger) { l.logger = logger }

func (l *Log) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sensor_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		node_id TEXT NOT NULL,
		sensor_id TEXT NOT NULL,
		metrics TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sensor_changes_node_sensor ON sensor_changes(node_id, sensor_id);
	CREATE INDEX IF NOT EXISTS idx_sensor_changes_timestamp ON sensor_changes(timestamp);
	`
	_, err := l.conn.Exec(schema)
	return err
}

// Append implements changebus.AuditSink: every non-empty diff is recorded
// as one row per changed sensor. Failures are logged, never propagated —
// the dispatch that produced this diff has already completed.
func (l *Log) Append(diff changebus.Diff) {
	for nodeID, sensors := range diff {
		for sensorID, metrics := range sensors {
			blob, err := json.Marshal(metrics)
			if err != nil {
				l.logger.Warn("auditlog: marshaling metrics failed", "node", nodeID, "sensor", sensorID, "error", err)
				continue
			}
			if _, err := l.conn.Exec(
				`INSERT INTO sensor_changes (node_id, sensor_id, metrics, timestamp) VALUES (?, ?, ?, ?)`,
				nodeID, sensorID, string(blob), time.Now(),
			); err != nil {
				l.logger.Warn("auditlog: insert failed", "node", nodeID, "sensor", sensorID, "error", err)
			}
		}
	}
}

// Flush forces a WAL checkpoint, for periodic scheduling (spec.md section
// 4.4's "hostsensors poller and an audit-log WAL checkpoint flush").
func (l *Log) Flush() error {
	_, err := l.conn.Exec("PRAGMA wal_checkpoint(RESTART)")
	return err
}

// Close flushes and closes the underlying connection.
func (l *Log) Close() error {
	l.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return l.conn.Close()
}

// SensorChange is one recorded row, for operational inspection tooling.
type SensorChange struct {
	ID        int64
	NodeID    string
	SensorID  string
	Metrics   string
	Timestamp time.Time
}

// Recent returns the most recent n recorded changes, newest first.
func (l *Log) Recent(n int) ([]SensorChange, error) {
	rows, err := l.conn.Query(
		`SELECT id, node_id, sensor_id, metrics, timestamp FROM sensor_changes ORDER BY timestamp DESC LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SensorChange
	for rows.Next() {
		var c SensorChange
		if err := rows.Scan(&c.ID, &c.NodeID, &c.SensorID, &c.Metrics, &c.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
