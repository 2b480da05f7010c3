package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/gridhabit/gridhabit/pkg/types"
)

// SQLiteProvider implements Database and Telemetry against an embedded SQLite
// file. WAL mode keeps reads concurrent with the single writer.
type SQLiteProvider struct {
	db *sql.DB
}

var (
	_ Database  = (*SQLiteProvider)(nil)
	_ Telemetry = (*SQLiteProvider)(nil)
)

// OpenSQLite creates or opens the database at dir/gridhabit.db and runs
// idempotent migrations.
func OpenSQLite(dir string) (*SQLiteProvider, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := filepath.Join(dir, "gridhabit.db") + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	p := &SQLiteProvider{db: db}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

func (p *SQLiteProvider) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			user_id TEXT PRIMARY KEY,
			json    TEXT NOT NULL,
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS patterns (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			trigger_vendor TEXT NOT NULL,
			trigger_device TEXT NOT NULL,
			trigger_event  TEXT NOT NULL,
			action_vendor  TEXT NOT NULL,
			action_device  TEXT NOT NULL,
			action_event   TEXT NOT NULL,
			context_key    TEXT NOT NULL,
			triggers_total INTEGER NOT NULL,
			pairs_total    INTEGER NOT NULL,
			avg_delay_s    REAL NOT NULL,
			confidence     REAL NOT NULL,
			state          TEXT NOT NULL,
			undo_count     INTEGER NOT NULL DEFAULT 0,
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL,
			UNIQUE(user_id, trigger_vendor, trigger_device, trigger_event,
				action_vendor, action_device, action_event, context_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_trigger
			ON patterns(user_id, trigger_vendor, trigger_device, trigger_event, state)`,
		`CREATE TABLE IF NOT EXISTS habit_logs (
			id         TEXT PRIMARY KEY,
			pattern_id TEXT NOT NULL,
			event      TEXT NOT NULL,
			meta       TEXT,
			ts         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_habit_logs_pattern ON habit_logs(pattern_id, ts)`,
		`CREATE TABLE IF NOT EXISTS automations (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			json       TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS automation_state (
			automation_id TEXT PRIMARY KEY,
			last_state    TEXT NOT NULL,
			last_at       INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS miner_cursors (
			user_id TEXT PRIMARY KEY,
			ts      INTEGER NOT NULL
		)`,
		// Telemetry tables are written by the ingestion subsystem; the engine
		// only reads them (and cmd/seed fills them for local development).
		`CREATE TABLE IF NOT EXISTS state_samples (
			user_id    TEXT NOT NULL,
			vendor     TEXT NOT NULL,
			device_id  TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			room       TEXT NOT NULL DEFAULT '',
			ts         INTEGER NOT NULL,
			on_state   INTEGER NOT NULL,
			power_w    REAL NOT NULL DEFAULT 0,
			energy_kwh REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_state_samples ON state_samples(user_id, ts)`,
		`CREATE TABLE IF NOT EXISTS power_samples (
			user_id TEXT NOT NULL,
			metric  TEXT NOT NULL,
			ts      INTEGER NOT NULL,
			value   REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_power_samples ON power_samples(user_id, metric, ts)`,
	}
	for _, m := range migrations {
		if _, err := p.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}

func (p *SQLiteProvider) GetSettings(ctx context.Context, userID string) (types.Settings, int, error) {
	var jsonStr string
	var version int
	err := p.db.QueryRowContext(ctx,
		`SELECT json, version FROM settings WHERE user_id = ?`, userID).Scan(&jsonStr, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Settings{}.Normalize(), 0, nil
	}
	if err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings: %w", err)
	}
	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return s.Normalize(), version, nil
}

func (p *SQLiteProvider) SetSettings(ctx context.Context, userID string, settings types.Settings, version int) error {
	b, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO settings (user_id, json, version) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET json = excluded.json, version = excluded.version`,
		userID, string(b), version)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (p *SQLiteProvider) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM (
			SELECT user_id FROM state_samples
			UNION SELECT user_id FROM patterns
			UNION SELECT user_id FROM automations
		) ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const patternColumns = `id, user_id, trigger_vendor, trigger_device, trigger_event,
	action_vendor, action_device, action_event, context_key,
	triggers_total, pairs_total, avg_delay_s, confidence, state, undo_count,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (types.HabitPattern, error) {
	var pt types.HabitPattern
	var createdAt, updatedAt int64
	err := row.Scan(&pt.ID, &pt.Key.UserID,
		&pt.Key.Trigger.Vendor, &pt.Key.Trigger.DeviceID, &pt.Key.Trigger.Event,
		&pt.Key.Action.Vendor, &pt.Key.Action.DeviceID, &pt.Key.Action.Event,
		&pt.Key.Context,
		&pt.TriggersTotal, &pt.PairsTotal, &pt.AvgDelayS, &pt.Confidence,
		&pt.State, &pt.UndoCount, &createdAt, &updatedAt)
	if err != nil {
		return types.HabitPattern{}, err
	}
	pt.CreatedAt = time.UnixMilli(createdAt)
	pt.UpdatedAt = time.UnixMilli(updatedAt)
	return pt, nil
}

func (p *SQLiteProvider) writePattern(ctx context.Context, tx *sql.Tx, pt types.HabitPattern) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO patterns (`+patternColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			triggers_total = excluded.triggers_total,
			pairs_total    = excluded.pairs_total,
			avg_delay_s    = excluded.avg_delay_s,
			confidence     = excluded.confidence,
			state          = excluded.state,
			undo_count     = excluded.undo_count,
			updated_at     = excluded.updated_at`,
		pt.ID, pt.Key.UserID,
		pt.Key.Trigger.Vendor, pt.Key.Trigger.DeviceID, pt.Key.Trigger.Event,
		pt.Key.Action.Vendor, pt.Key.Action.DeviceID, pt.Key.Action.Event,
		pt.Key.Context,
		pt.TriggersTotal, pt.PairsTotal, pt.AvgDelayS, pt.Confidence,
		pt.State, pt.UndoCount, pt.CreatedAt.UnixMilli(), pt.UpdatedAt.UnixMilli())
	return err
}

// UpdatePattern performs a read-modify-write of the pattern row for key under
// a single transaction so racing ticks cannot lose counter updates.
func (p *SQLiteProvider) UpdatePattern(ctx context.Context, key types.PatternKey, fn func(*types.HabitPattern) error) (types.HabitPattern, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return types.HabitPattern{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns
		WHERE user_id = ? AND trigger_vendor = ? AND trigger_device = ? AND trigger_event = ?
		AND action_vendor = ? AND action_device = ? AND action_event = ? AND context_key = ?`,
		key.UserID,
		key.Trigger.Vendor, key.Trigger.DeviceID, key.Trigger.Event,
		key.Action.Vendor, key.Action.DeviceID, key.Action.Event, key.Context)
	pt, err := scanPattern(row)
	created := false
	if errors.Is(err, sql.ErrNoRows) {
		pt = types.HabitPattern{Key: key}
		created = true
	} else if err != nil {
		return types.HabitPattern{}, fmt.Errorf("fetch pattern: %w", err)
	}

	if err := fn(&pt); err != nil {
		return types.HabitPattern{}, err
	}
	now := time.Now()
	if created {
		pt.ID = uuid.NewString()
		pt.CreatedAt = now
	}
	pt.UpdatedAt = now
	if err := p.writePattern(ctx, tx, pt); err != nil {
		return types.HabitPattern{}, fmt.Errorf("write pattern: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return types.HabitPattern{}, fmt.Errorf("commit pattern: %w", err)
	}
	return pt, nil
}

func (p *SQLiteProvider) UpdatePatternByID(ctx context.Context, id string, fn func(*types.HabitPattern) error) (types.HabitPattern, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return types.HabitPattern{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id)
	pt, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.HabitPattern{}, ErrNotFound
	}
	if err != nil {
		return types.HabitPattern{}, fmt.Errorf("fetch pattern: %w", err)
	}
	if err := fn(&pt); err != nil {
		return types.HabitPattern{}, err
	}
	pt.UpdatedAt = time.Now()
	if err := p.writePattern(ctx, tx, pt); err != nil {
		return types.HabitPattern{}, fmt.Errorf("write pattern: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return types.HabitPattern{}, fmt.Errorf("commit pattern: %w", err)
	}
	return pt, nil
}

func (p *SQLiteProvider) GetPattern(ctx context.Context, id string) (types.HabitPattern, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id)
	pt, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.HabitPattern{}, ErrNotFound
	}
	if err != nil {
		return types.HabitPattern{}, fmt.Errorf("fetch pattern: %w", err)
	}
	return pt, nil
}

func (p *SQLiteProvider) listPatterns(ctx context.Context, query string, args ...any) ([]types.HabitPattern, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()
	var out []types.HabitPattern
	for rows.Next() {
		pt, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (p *SQLiteProvider) ListPatterns(ctx context.Context, userID string) ([]types.HabitPattern, error) {
	return p.listPatterns(ctx,
		`SELECT `+patternColumns+` FROM patterns WHERE user_id = ? ORDER BY created_at`, userID)
}

func (p *SQLiteProvider) ListActivePatternsForTrigger(ctx context.Context, userID string, trigger types.Trigger, ck types.ContextKey, limit int) ([]types.HabitPattern, error) {
	return p.listPatterns(ctx,
		`SELECT `+patternColumns+` FROM patterns
		WHERE user_id = ? AND state = ?
		AND trigger_vendor = ? AND trigger_device = ? AND trigger_event = ?
		AND context_key IN (?, ?)
		ORDER BY confidence DESC, updated_at DESC
		LIMIT ?`,
		userID, types.PatternActive,
		trigger.Vendor, trigger.DeviceID, trigger.Event,
		ck, types.ContextGlobal, limit)
}

func (p *SQLiteProvider) ListPatternsForTrigger(ctx context.Context, userID string, trigger types.Trigger, ck types.ContextKey) ([]types.HabitPattern, error) {
	return p.listPatterns(ctx,
		`SELECT `+patternColumns+` FROM patterns
		WHERE user_id = ?
		AND trigger_vendor = ? AND trigger_device = ? AND trigger_event = ?
		AND context_key IN (?, ?)
		ORDER BY created_at`,
		userID, trigger.Vendor, trigger.DeviceID, trigger.Event,
		ck, types.ContextGlobal)
}

func (p *SQLiteProvider) DeletePattern(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM patterns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete pattern: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *SQLiteProvider) InsertHabitLog(ctx context.Context, entry types.HabitLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	var meta []byte
	if entry.Meta != nil {
		var err error
		meta, err = json.Marshal(entry.Meta)
		if err != nil {
			return fmt.Errorf("marshal log meta: %w", err)
		}
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO habit_logs (id, pattern_id, event, meta, ts) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.PatternID, entry.Event, string(meta), entry.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert habit log: %w", err)
	}
	return nil
}

func (p *SQLiteProvider) ListHabitLogs(ctx context.Context, patternID string, limit int) ([]types.HabitLogEntry, error) {
	if limit <= 0 {
		// LIMIT -1 is SQLite's "no limit"
		limit = -1
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, pattern_id, event, meta, ts FROM habit_logs
		WHERE pattern_id = ? ORDER BY ts DESC LIMIT ?`, patternID, limit)
	if err != nil {
		return nil, fmt.Errorf("query habit logs: %w", err)
	}
	defer rows.Close()
	var out []types.HabitLogEntry
	for rows.Next() {
		var e types.HabitLogEntry
		var meta string
		var ts int64
		if err := rows.Scan(&e.ID, &e.PatternID, &e.Event, &meta, &ts); err != nil {
			return nil, err
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &e.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal log meta: %w", err)
			}
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *SQLiteProvider) ListAutomations(ctx context.Context, userID string) ([]types.Automation, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT json FROM automations WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("query automations: %w", err)
	}
	defer rows.Close()
	var out []types.Automation
	for rows.Next() {
		var jsonStr string
		if err := rows.Scan(&jsonStr); err != nil {
			return nil, err
		}
		var a types.Automation
		if err := json.Unmarshal([]byte(jsonStr), &a); err != nil {
			return nil, fmt.Errorf("unmarshal automation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *SQLiteProvider) GetAutomation(ctx context.Context, id string) (types.Automation, error) {
	var jsonStr string
	err := p.db.QueryRowContext(ctx, `SELECT json FROM automations WHERE id = ?`, id).Scan(&jsonStr)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Automation{}, ErrNotFound
	}
	if err != nil {
		return types.Automation{}, fmt.Errorf("fetch automation: %w", err)
	}
	var a types.Automation
	if err := json.Unmarshal([]byte(jsonStr), &a); err != nil {
		return types.Automation{}, fmt.Errorf("unmarshal automation: %w", err)
	}
	return a, nil
}

func (p *SQLiteProvider) CreateAutomation(ctx context.Context, a types.Automation) (types.Automation, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	b, err := json.Marshal(a)
	if err != nil {
		return types.Automation{}, fmt.Errorf("marshal automation: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO automations (id, user_id, json, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.UserID, string(b), a.CreatedAt.UnixMilli())
	if err != nil {
		return types.Automation{}, fmt.Errorf("insert automation: %w", err)
	}
	return a, nil
}

func (p *SQLiteProvider) UpdateAutomation(ctx context.Context, a types.Automation) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal automation: %w", err)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE automations SET json = ? WHERE id = ?`, string(b), a.ID)
	if err != nil {
		return fmt.Errorf("update automation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *SQLiteProvider) DeleteAutomation(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete automation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, _ = p.db.ExecContext(ctx, `DELETE FROM automation_state WHERE automation_id = ?`, id)
	return nil
}

func (p *SQLiteProvider) GetAutomationState(ctx context.Context, id string) (types.AutomationState, error) {
	var s types.AutomationState
	var lastAt int64
	err := p.db.QueryRowContext(ctx,
		`SELECT last_state, last_at FROM automation_state WHERE automation_id = ?`, id).
		Scan(&s.LastState, &lastAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AutomationState{LastState: types.StateIdle}, nil
	}
	if err != nil {
		return types.AutomationState{}, fmt.Errorf("fetch automation state: %w", err)
	}
	s.LastAt = time.UnixMilli(lastAt)
	return s, nil
}

func (p *SQLiteProvider) SetAutomationState(ctx context.Context, id string, state types.AutomationState) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO automation_state (automation_id, last_state, last_at) VALUES (?, ?, ?)
		 ON CONFLICT(automation_id) DO UPDATE SET last_state = excluded.last_state, last_at = excluded.last_at`,
		id, state.LastState, state.LastAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save automation state: %w", err)
	}
	return nil
}

func (p *SQLiteProvider) GetMinerCursor(ctx context.Context, userID string) (time.Time, error) {
	var ts int64
	err := p.db.QueryRowContext(ctx,
		`SELECT ts FROM miner_cursors WHERE user_id = ?`, userID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch miner cursor: %w", err)
	}
	return time.UnixMilli(ts), nil
}

func (p *SQLiteProvider) SetMinerCursor(ctx context.Context, userID string, ts time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO miner_cursors (user_id, ts) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET ts = excluded.ts`,
		userID, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("save miner cursor: %w", err)
	}
	return nil
}

func (p *SQLiteProvider) FetchStateChangesSince(ctx context.Context, userID string, since time.Time) ([]types.StateSample, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT vendor, device_id, name, room, ts, on_state, power_w, energy_kwh
		FROM state_samples WHERE user_id = ? AND ts >= ?
		ORDER BY vendor, device_id, ts`, userID, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query state samples: %w", err)
	}
	defer rows.Close()
	var out []types.StateSample
	for rows.Next() {
		var s types.StateSample
		var ts int64
		var on int
		if err := rows.Scan(&s.Vendor, &s.DeviceID, &s.Name, &s.Room, &ts, &on, &s.PowerW, &s.EnergyKWH); err != nil {
			return nil, err
		}
		s.Timestamp = time.UnixMilli(ts)
		s.On = on != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *SQLiteProvider) FetchPowerSeries(ctx context.Context, userID, metric string, start, end time.Time) ([]types.PowerSample, *types.PowerSample, error) {
	var prev *types.PowerSample
	var prevTS, prevVal = int64(0), 0.0
	err := p.db.QueryRowContext(ctx,
		`SELECT ts, value FROM power_samples
		WHERE user_id = ? AND metric = ? AND ts < ?
		ORDER BY ts DESC LIMIT 1`, userID, metric, start.UnixMilli()).
		Scan(&prevTS, &prevVal)
	if err == nil {
		prev = &types.PowerSample{Timestamp: time.UnixMilli(prevTS), Value: prevVal}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("query prev power sample: %w", err)
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT ts, value FROM power_samples
		WHERE user_id = ? AND metric = ? AND ts >= ? AND ts <= ?
		ORDER BY ts`, userID, metric, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, nil, fmt.Errorf("query power samples: %w", err)
	}
	defer rows.Close()
	var out []types.PowerSample
	for rows.Next() {
		var ts int64
		var v float64
		if err := rows.Scan(&ts, &v); err != nil {
			return nil, nil, err
		}
		out = append(out, types.PowerSample{Timestamp: time.UnixMilli(ts), Value: v})
	}
	return out, prev, rows.Err()
}

func (p *SQLiteProvider) LatestStates(ctx context.Context, userID string) ([]types.StateSample, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT vendor, device_id, name, room, MAX(ts), on_state, power_w, energy_kwh
		FROM state_samples WHERE user_id = ?
		GROUP BY vendor, device_id ORDER BY vendor, device_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query latest states: %w", err)
	}
	defer rows.Close()
	var out []types.StateSample
	for rows.Next() {
		var s types.StateSample
		var ts int64
		var on int
		if err := rows.Scan(&s.Vendor, &s.DeviceID, &s.Name, &s.Room, &ts, &on, &s.PowerW, &s.EnergyKWH); err != nil {
			return nil, err
		}
		s.Timestamp = time.UnixMilli(ts)
		s.On = on != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertStateSample writes one telemetry sample. Only cmd/seed uses this; in
// production ingestion owns these tables.
func (p *SQLiteProvider) InsertStateSample(ctx context.Context, userID string, s types.StateSample) error {
	on := 0
	if s.On {
		on = 1
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO state_samples (user_id, vendor, device_id, name, room, ts, on_state, power_w, energy_kwh)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, s.Vendor, s.DeviceID, s.Name, s.Room, s.Timestamp.UnixMilli(), on, s.PowerW, s.EnergyKWH)
	if err != nil {
		return fmt.Errorf("insert state sample: %w", err)
	}
	return nil
}

// InsertPowerSample writes one power-curve point. Seed helper, see above.
func (p *SQLiteProvider) InsertPowerSample(ctx context.Context, userID, metric string, s types.PowerSample) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO power_samples (user_id, metric, ts, value) VALUES (?, ?, ?, ?)`,
		userID, metric, s.Timestamp.UnixMilli(), s.Value)
	if err != nil {
		return fmt.Errorf("insert power sample: %w", err)
	}
	return nil
}
