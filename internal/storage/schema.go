package storage

import (
	"context"
	"fmt"
	"strings"
)

// dialect holds the column types that differ between drivers.
type dialect struct {
	name      string
	blob      string
	timestamp string
}

var (
	duckDialect     = dialect{name: DriverDuckDB, blob: "BLOB", timestamp: "TIMESTAMPTZ"}
	postgresDialect = dialect{name: DriverPostgres, blob: "BYTEA", timestamp: "TIMESTAMPTZ"}
)

func dialectFor(driver string) dialect {
	if driver == DriverPostgres {
		return postgresDialect
	}
	return duckDialect
}

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS shutdown_sessions (
	id           VARCHAR PRIMARY KEY,
	plant_id     BIGINT NOT NULL,
	status       VARCHAR NOT NULL,
	start_time   {{ts}} NOT NULL,
	end_time     {{ts}},
	initiated_by VARCHAR NOT NULL,
	completed_by VARCHAR,
	aborted_by   VARCHAR,
	abort_reason VARCHAR,
	current_step INTEGER NOT NULL,
	total_steps  INTEGER NOT NULL,
	progress     {{blob}},
	updated_at   {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON shutdown_sessions (status);
CREATE TABLE IF NOT EXISTS override_records (
	id            VARCHAR PRIMARY KEY,
	session_id    VARCHAR NOT NULL,
	step_number   INTEGER NOT NULL,
	requested_by  VARCHAR NOT NULL,
	executed_by   VARCHAR,
	authorized_by VARCHAR,
	reason        VARCHAR NOT NULL,
	denial        VARCHAR,
	created_at    {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_overrides_session ON override_records (session_id);
CREATE TABLE IF NOT EXISTS audit_events (
	id               VARCHAR PRIMARY KEY,
	occurred_at      {{ts}} NOT NULL,
	actor            VARCHAR NOT NULL,
	action           VARCHAR NOT NULL,
	session_id       VARCHAR NOT NULL,
	plant_id         BIGINT NOT NULL,
	step_number      INTEGER,
	payload          VARCHAR NOT NULL,
	integrity_sha256 VARCHAR NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_events (session_id);
`

// statements returns the schema as individual statements for the dialect.
func (d dialect) statements() []string {
	ddl := strings.NewReplacer("{{ts}}", d.timestamp, "{{blob}}", d.blob).Replace(schemaTemplate)
	var out []string
	for _, stmt := range strings.Split(ddl, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Migrate creates the tables and indexes when they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.statements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}
