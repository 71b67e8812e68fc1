package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlVerificationRecords = `
CREATE TABLE IF NOT EXISTS verification_records (
    id            TEXT         PRIMARY KEY,
    correction_id TEXT         NOT NULL,
    status        TEXT         NOT NULL,
    metrics       JSONB        NOT NULL DEFAULT '{}',
    categories    TEXT[]       NOT NULL DEFAULT '{}',
    quality_score INT          NOT NULL DEFAULT 0,
    feedback      TEXT         NOT NULL DEFAULT '',
    verified_by   TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    verified_at   TIMESTAMPTZ,
    version       BIGINT       NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_verification_records_status
    ON verification_records (status);

CREATE INDEX IF NOT EXISTS idx_verification_records_correction_id
    ON verification_records (correction_id);

CREATE INDEX IF NOT EXISTS idx_verification_records_created_at
    ON verification_records (created_at);

CREATE INDEX IF NOT EXISTS idx_verification_records_categories
    ON verification_records USING GIN (categories);
`

const ddlAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id           TEXT         PRIMARY KEY,
    rule_id      TEXT         NOT NULL,
    severity     TEXT         NOT NULL,
    message      TEXT         NOT NULL DEFAULT '',
    triggered_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    resolved_at  TIMESTAMPTZ,
    acknowledged BOOLEAN      NOT NULL DEFAULT FALSE
);

-- Backstop for the evaluator's per-rule serialisation: the database itself
-- refuses a second unresolved alert for the same rule.
CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_rule_unresolved
    ON alerts (rule_id) WHERE resolved_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_alerts_severity
    ON alerts (severity);

CREATE INDEX IF NOT EXISTS idx_alerts_triggered_at
    ON alerts (triggered_at);
`

// Migrate creates or ensures all required database tables exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlVerificationRecords,
		ddlAlerts,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
