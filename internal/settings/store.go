package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"video-compare/internal/logging"
	"video-compare/internal/metrics"
)

const defaultTimeout = 5 * time.Second

// schemaVersion is stored in the metadata table.
const schemaVersion = "1"

// ErrNotFound is returned when no settings exist for a pair.
var ErrNotFound = errors.New("settings not found")

// Store manages the settings database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open opens or creates the database at dbPath. The parent directory must
// exist and be writable.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	logging.Info("Settings database: %s", dbPath)

	if err := diagnosePermissions(dbPath); err != nil {
		logging.Warn("Settings database permission diagnostics: %v", err)
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { recordQuery("initialize_schema", start, err) }()

	schema := `
	CREATE TABLE IF NOT EXISTS pair_settings (
		ref_a TEXT NOT NULL,
		ref_b TEXT NOT NULL,
		offset_ms INTEGER NOT NULL DEFAULT 0,
		mode TEXT NOT NULL DEFAULT 'side-by-side',
		threshold INTEGER NOT NULL DEFAULT 10,
		color_map TEXT NOT NULL DEFAULT 'gray',
		division REAL NOT NULL DEFAULT 0.5,
		speed REAL NOT NULL DEFAULT 1,
		end_policy TEXT NOT NULL DEFAULT 'hold-last',
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		PRIMARY KEY (ref_a, ref_b)
	);

	CREATE INDEX IF NOT EXISTS idx_pair_settings_updated ON pair_settings(updated_at);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	`
	if _, err = s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return s.setMetadata(ctx, "schema_version", schemaVersion)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Get returns the settings saved for the pair (refA, refB).
func (s *Store) Get(ctx context.Context, refA, refB string) (_ Settings, err error) {
	start := time.Now()
	defer func() {
		if errors.Is(err, ErrNotFound) {
			recordQuery("get_settings", start, nil)
			return
		}
		recordQuery("get_settings", start, err)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
	SELECT ref_a, ref_b, offset_ms, mode, threshold, color_map, division, speed, end_policy, updated_at
	FROM pair_settings WHERE ref_a = ? AND ref_b = ?
	`, refA, refB)

	st, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, fmt.Errorf("%w: %s | %s", ErrNotFound, refA, refB)
	}
	return st, err
}

// Save stores st, replacing earlier settings of the same pair.
func (s *Store) Save(ctx context.Context, st Settings) (err error) {
	start := time.Now()
	defer func() { recordQuery("save_settings", start, err) }()

	mode, err := st.Mode.MarshalText()
	if err != nil {
		return err
	}
	cm, err := st.ColorMap.MarshalText()
	if err != nil {
		return err
	}
	policy, err := st.EndPolicy.MarshalText()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO pair_settings (ref_a, ref_b, offset_ms, mode, threshold, color_map, division, speed, end_policy, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
	ON CONFLICT(ref_a, ref_b) DO UPDATE SET
		offset_ms = excluded.offset_ms,
		mode = excluded.mode,
		threshold = excluded.threshold,
		color_map = excluded.color_map,
		division = excluded.division,
		speed = excluded.speed,
		end_policy = excluded.end_policy,
		updated_at = excluded.updated_at
	`, st.RefA, st.RefB, st.Offset.Milliseconds(), string(mode), int(st.Threshold),
		string(cm), st.Division, st.Speed, string(policy))
	return err
}

// Delete removes the settings of a pair. Deleting a missing pair is not an
// error.
func (s *Store) Delete(ctx context.Context, refA, refB string) (err error) {
	start := time.Now()
	defer func() { recordQuery("delete_settings", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, "DELETE FROM pair_settings WHERE ref_a = ? AND ref_b = ?", refA, refB)
	return err
}

// Recent returns up to limit pairs, most recently saved first.
func (s *Store) Recent(ctx context.Context, limit int) (_ []Settings, err error) {
	start := time.Now()
	defer func() { recordQuery("list_recent", start, err) }()

	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
	SELECT ref_a, ref_b, offset_ms, mode, threshold, color_map, division, speed, end_policy, updated_at
	FROM pair_settings ORDER BY updated_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Settings
	for rows.Next() {
		st, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, st)
	}
	return list, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSettings(row scanner) (Settings, error) {
	var (
		st                Settings
		offsetMs, updated int64
		threshold         int
		mode, cm, policy  string
	)
	err := row.Scan(&st.RefA, &st.RefB, &offsetMs, &mode, &threshold, &cm,
		&st.Division, &st.Speed, &policy, &updated)
	if err != nil {
		return Settings{}, err
	}

	st.Offset = time.Duration(offsetMs) * time.Millisecond
	st.Threshold = uint8(min(max(threshold, 0), 255))
	st.UpdatedAt = time.Unix(updated, 0)
	if err := st.Mode.UnmarshalText([]byte(mode)); err != nil {
		return Settings{}, fmt.Errorf("stored mode: %w", err)
	}
	if err := st.ColorMap.UnmarshalText([]byte(cm)); err != nil {
		return Settings{}, fmt.Errorf("stored color map: %w", err)
	}
	if err := st.EndPolicy.UnmarshalText([]byte(policy)); err != nil {
		return Settings{}, fmt.Errorf("stored end policy: %w", err)
	}
	return st, nil
}

func (s *Store) setMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// Metadata returns a metadata value, or sql.ErrNoRows if unset.
func (s *Store) Metadata(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	return value, err
}

func recordQuery(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// diagnosePermissions logs the state of the database directory and files.
func diagnosePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}
	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		logging.Debug("Database file %s (mode: %v, size: %d bytes)", path, info.Mode(), info.Size())
		if info.Mode().Perm()&0o200 == 0 {
			logging.Warn("%s is read-only (mode %v), writes will fail", path, info.Mode())
		}
	}
	return nil
}
