// Package persistence keeps the preset catalog in SQLite. Only scenario
// configuration is stored; sample buffers and statistics never touch disk.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/policysim/internal/policy"
)

// MetaDefaultPreset names the preset a server activates on start.
const MetaDefaultPreset = "default_preset"

// ErrNotFound is returned when a preset or meta key does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps a SQLite connection for the preset catalog.
type DB struct {
	conn *sqlx.DB
}

type presetRow struct {
	Name      string `db:"name"`
	Body      string `db:"body_json"`
	UpdatedAt int64  `db:"updated_at"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS presets (
		name TEXT PRIMARY KEY,
		body_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS catalog_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SavePreset inserts or replaces one preset.
func (db *DB) SavePreset(sc policy.Scenario) error {
	return db.SavePresets([]policy.Scenario{sc})
}

// SavePresets inserts or replaces presets in one transaction.
func (db *DB) SavePresets(scenarios []policy.Scenario) error {
	if len(scenarios) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, sc := range scenarios {
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("preset %q: %w", sc.Name, err)
		}
		body, err := json.Marshal(sc.Normalize())
		if err != nil {
			return fmt.Errorf("encode preset %q: %w", sc.Name, err)
		}
		_, err = tx.Exec(
			"INSERT OR REPLACE INTO presets (name, body_json, updated_at) VALUES (?, ?, ?)",
			sc.Name, string(body), now,
		)
		if err != nil {
			return fmt.Errorf("insert preset %q: %w", sc.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("presets saved", "count", len(scenarios))
	return nil
}

// LoadPresets returns every stored preset ordered by name.
func (db *DB) LoadPresets() ([]policy.Scenario, error) {
	var rows []presetRow
	if err := db.conn.Select(&rows, "SELECT name, body_json, updated_at FROM presets ORDER BY name"); err != nil {
		return nil, err
	}
	out := make([]policy.Scenario, 0, len(rows))
	for _, r := range rows {
		sc, err := decodePreset(r)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// LoadPreset returns one preset by name.
func (db *DB) LoadPreset(name string) (policy.Scenario, error) {
	var r presetRow
	err := db.conn.Get(&r, "SELECT name, body_json, updated_at FROM presets WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Scenario{}, fmt.Errorf("preset %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return policy.Scenario{}, err
	}
	return decodePreset(r)
}

// DeletePreset removes a preset. A stored default naming it is cleared in
// the same transaction so the catalog never remembers a missing preset.
func (db *DB) DeletePreset(name string) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM presets WHERE name = ?", name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("preset %q: %w", name, ErrNotFound)
	}
	_, err = tx.Exec("DELETE FROM catalog_meta WHERE key = ? AND value = ?", MetaDefaultPreset, name)
	if err != nil {
		return fmt.Errorf("clear default preset: %w", err)
	}
	return tx.Commit()
}

// PresetUpdatedAt reports when a preset was last written.
func (db *DB) PresetUpdatedAt(name string) (time.Time, error) {
	var ts int64
	err := db.conn.Get(&ts, "SELECT updated_at FROM presets WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("preset %q: %w", name, ErrNotFound)
	}
	return time.Unix(ts, 0), err
}

func decodePreset(r presetRow) (policy.Scenario, error) {
	var sc policy.Scenario
	if err := json.Unmarshal([]byte(r.Body), &sc); err != nil {
		return policy.Scenario{}, fmt.Errorf("decode preset %q: %w", r.Name, err)
	}
	return sc.Normalize(), nil
}

// SaveMeta stores a key-value pair in catalog metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO catalog_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM catalog_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("meta %q: %w", key, ErrNotFound)
	}
	return value, err
}
