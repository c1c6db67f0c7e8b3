package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/UtkarshDeoli/Kite/internal/profile"
	"github.com/UtkarshDeoli/Kite/store"
)

// SQLite is the development and single-user driver. Vector similarity is
// computed in the application layer and keyword search uses LIKE matching;
// BM25-grade full-text search and in-database vector distance require the
// Postgres driver.

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database for the DSN in the profile.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect with sane settings:
	// - busy_timeout to ride out writer contention instead of failing fast.
	// - WAL journal mode: the recommended mode, prevents most locking issues.
	//
	// Note: with the `modernc.org/sqlite` driver each pragma must be prefixed
	// with `_pragma=`.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// SQLite with WAL: a single connection is optimal for a local file.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS workflow (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	creator_id INTEGER NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	intent_type TEXT NOT NULL DEFAULT '',
	keywords TEXT NOT NULL DEFAULT '',
	original_prompt TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	steps TEXT NOT NULL DEFAULT '[]',
	parameters TEXT NOT NULL DEFAULT '{}',
	success_rate REAL NOT NULL DEFAULT 1.0,
	success_count INTEGER NOT NULL DEFAULT 1,
	total_count INTEGER NOT NULL DEFAULT 1,
	rating INTEGER NOT NULL DEFAULT 5,
	is_template INTEGER NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflow_creator_perf
	ON workflow (creator_id, success_rate DESC, success_count DESC);

CREATE TABLE IF NOT EXISTS workflow_execution (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workflow_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	step_results TEXT,
	error_message TEXT NOT NULL DEFAULT '',
	started_ts BIGINT NOT NULL,
	completed_ts BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_workflow_execution_workflow
	ON workflow_execution (workflow_id, started_ts DESC);

CREATE TABLE IF NOT EXISTS embedding (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_id INTEGER NOT NULL,
	source_kind TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding BLOB NOT NULL,
	metadata TEXT,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL,
	UNIQUE(content_id, source_kind)
);
`

// Migrate creates the schema when it does not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate sqlite schema")
	}
	return nil
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM sqlite_master WHERE type='table' AND name='workflow')").Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return exists, nil
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal json column")
	}
	return string(raw), nil
}

func unmarshalJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, "failed to unmarshal json column")
	}
	return nil
}
