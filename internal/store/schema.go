package store

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the engine's tables and indexes if they do not
// exist. The partial unique index on sla_breach_log is what makes
// breach-open idempotent across processes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const q = `
CREATE TABLE IF NOT EXISTS sla_config (
  id uuid PRIMARY KEY,
  workflow_stage text NOT NULL,
  scope_type text NOT NULL DEFAULT 'none',
  scope_value text,
  target_hours double precision NOT NULL,
  warning_percent integer NOT NULL,
  critical_percent integer NOT NULL,
  is_active boolean NOT NULL DEFAULT TRUE,
  updated_by text,
  updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sla_config_scope
  ON sla_config (workflow_stage, scope_type, COALESCE(scope_value,''))
  WHERE is_active;

CREATE TABLE IF NOT EXISTS business_calendar (
  date text PRIMARY KEY,
  is_working_day boolean NOT NULL,
  holiday_name text,
  synced_from_hrms boolean NOT NULL DEFAULT FALSE,
  synced_at timestamptz
);

CREATE TABLE IF NOT EXISTS priority_config (
  factor_id text PRIMARY KEY,
  display_name text NOT NULL,
  weight double precision NOT NULL,
  value_mappings jsonb NOT NULL DEFAULT '{}',
  is_active boolean NOT NULL DEFAULT TRUE,
  updated_by text,
  updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS priority_audit (
  id uuid PRIMARY KEY,
  factor_id text NOT NULL,
  field_changed text NOT NULL,
  old_value text NOT NULL,
  new_value text NOT NULL,
  changed_by text NOT NULL,
  reason text,
  changed_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_priority_audit_factor
  ON priority_audit (factor_id, changed_at DESC);

CREATE TABLE IF NOT EXISTS sla_breach_log (
  id uuid PRIMARY KEY,
  item_id text NOT NULL,
  workflow_stage text NOT NULL,
  breach_type text NOT NULL,
  target_hours double precision NOT NULL,
  actual_hours double precision NOT NULL,
  notified_user_ids jsonb,
  detected_at timestamptz NOT NULL DEFAULT now(),
  resolved_at timestamptz
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_breach_open_once
  ON sla_breach_log (item_id, workflow_stage)
  WHERE resolved_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_breach_detected_at
  ON sla_breach_log (detected_at DESC);

CREATE TABLE IF NOT EXISTS ml_predictions (
  id uuid PRIMARY KEY,
  item_id text NOT NULL,
  predicted_score integer NOT NULL,
  predicted_level text NOT NULL,
  prediction_method text NOT NULL,
  model_id text,
  features_snapshot jsonb,
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_predictions_item
  ON ml_predictions (item_id, created_at DESC);

CREATE TABLE IF NOT EXISTS workflow_items (
  id text PRIMARY KEY,
  workflow_stage text NOT NULL,
  stage_entered_at timestamptz NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  requester_id text,
  service_type text,
  is_pie boolean NOT NULL DEFAULT FALSE,
  is_international boolean NOT NULL DEFAULT FALSE,
  escalation_count integer NOT NULL DEFAULT 0,
  external_deadline timestamptz,
  deadline_reason text
);
CREATE INDEX IF NOT EXISTS idx_items_stage
  ON workflow_items (workflow_stage, stage_entered_at);
`
	if _, err := db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
