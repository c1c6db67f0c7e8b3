package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	// Import the Postgres driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/UtkarshDeoli/Kite/internal/profile"
	"github.com/UtkarshDeoli/Kite/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a Postgres connection for the DSN in the profile.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	postgresDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	driver := DB{db: postgresDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS workflow (
	id BIGSERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	creator_id INTEGER NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	intent_type TEXT NOT NULL DEFAULT '',
	keywords TEXT NOT NULL DEFAULT '',
	original_prompt TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	steps TEXT NOT NULL DEFAULT '[]',
	parameters TEXT NOT NULL DEFAULT '{}',
	success_rate DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	success_count INTEGER NOT NULL DEFAULT 1,
	total_count INTEGER NOT NULL DEFAULT 1,
	rating INTEGER NOT NULL DEFAULT 5,
	is_template BOOLEAN NOT NULL DEFAULT FALSE,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflow_creator_perf
	ON workflow (creator_id, success_rate DESC, success_count DESC);

CREATE TABLE IF NOT EXISTS workflow_execution (
	id BIGSERIAL PRIMARY KEY,
	workflow_id BIGINT NOT NULL,
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
	id BIGSERIAL PRIMARY KEY,
	content_id BIGINT NOT NULL,
	source_kind TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding vector NOT NULL,
	metadata TEXT,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL,
	UNIQUE(content_id, source_kind)
);

CREATE INDEX IF NOT EXISTS idx_embedding_content_fts
	ON embedding USING GIN (to_tsvector('simple', content));
`

// Migrate creates the schema when it does not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate postgres schema")
	}
	return nil
}

// placeholder returns the parameter placeholder for a 1-based position.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns a comma-joined list of n parameter placeholders.
func placeholders(n int) string {
	list := []string{}
	for i := 1; i <= n; i++ {
		list = append(list, placeholder(i))
	}
	return strings.Join(list, ", ")
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
