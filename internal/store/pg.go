package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/coi-platform/sla-engine/internal/models"
)

// PGStore is the Postgres-backed store. Breach-open idempotency is backed
// by a partial unique index on (item_id, workflow_stage) WHERE resolved_at
// IS NULL, so concurrent duplicate opens collapse to one row even across
// processes.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

const slaConfigColumns = `id, workflow_stage, scope_type, scope_value, target_hours, warning_percent, critical_percent, is_active, updated_by, updated_at`

func scanSLAConfig(row rowScanner) (models.SLAConfigEntry, error) {
	var (
		entry     models.SLAConfigEntry
		scopeVal  sql.NullString
		updatedBy sql.NullString
	)
	if err := row.Scan(
		&entry.ID,
		&entry.WorkflowStage,
		&entry.ScopeType,
		&scopeVal,
		&entry.TargetHours,
		&entry.WarningPercent,
		&entry.CriticalPercent,
		&entry.IsActive,
		&updatedBy,
		&entry.UpdatedAt,
	); err != nil {
		return models.SLAConfigEntry{}, err
	}
	if scopeVal.Valid {
		entry.ScopeValue = scopeVal.String
	}
	if updatedBy.Valid {
		entry.UpdatedBy = updatedBy.String
	}
	return entry, nil
}

func (s *PGStore) ActiveSLAConfig(ctx context.Context, stage string, scopeType models.ConfigScopeType, scopeValue string) (models.SLAConfigEntry, error) {
	query := `
		SELECT ` + slaConfigColumns + `
		FROM sla_config
		WHERE workflow_stage=$1 AND scope_type=$2 AND COALESCE(scope_value,'')=$3 AND is_active=TRUE
		LIMIT 1
	`
	entry, err := scanSLAConfig(s.db.QueryRowContext(ctx, query, stage, scopeType, scopeValue))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SLAConfigEntry{}, ErrNotFound
		}
		return models.SLAConfigEntry{}, fmt.Errorf("query sla config: %w", err)
	}
	return entry, nil
}

func (s *PGStore) ListActiveSLAConfigs(ctx context.Context) ([]models.SLAConfigEntry, error) {
	query := `
		SELECT ` + slaConfigColumns + `
		FROM sla_config
		WHERE is_active=TRUE
		ORDER BY workflow_stage, scope_type DESC, scope_value
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sla configs: %w", err)
	}
	defer rows.Close()

	var entries []models.SLAConfigEntry
	for rows.Next() {
		entry, err := scanSLAConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sla config: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sla configs: %w", err)
	}
	return entries, nil
}

func (s *PGStore) GetSLAConfig(ctx context.Context, id uuid.UUID) (models.SLAConfigEntry, error) {
	query := `SELECT ` + slaConfigColumns + ` FROM sla_config WHERE id=$1`
	entry, err := scanSLAConfig(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SLAConfigEntry{}, ErrNotFound
		}
		return models.SLAConfigEntry{}, fmt.Errorf("get sla config: %w", err)
	}
	return entry, nil
}

func (s *PGStore) UpdateSLAConfig(ctx context.Context, in SLAConfigUpdate) (models.SLAConfigEntry, error) {
	setParts := []string{}
	args := []interface{}{in.ID}
	argPos := 2
	addSet := func(col string, val interface{}) {
		setParts = append(setParts, fmt.Sprintf("%s=$%d", col, argPos))
		args = append(args, val)
		argPos++
	}
	if in.TargetHours != nil {
		addSet("target_hours", *in.TargetHours)
	}
	if in.WarningPercent != nil {
		addSet("warning_percent", *in.WarningPercent)
	}
	if in.CriticalPercent != nil {
		addSet("critical_percent", *in.CriticalPercent)
	}
	if in.IsActive != nil {
		addSet("is_active", *in.IsActive)
	}
	if len(setParts) == 0 {
		return models.SLAConfigEntry{}, fmt.Errorf("no fields to update")
	}
	addSet("updated_by", in.Actor)
	setParts = append(setParts, "updated_at=NOW()")

	query := fmt.Sprintf(`
		UPDATE sla_config SET %s WHERE id=$1
		RETURNING %s
	`, strings.Join(setParts, ", "), slaConfigColumns)
	entry, err := scanSLAConfig(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SLAConfigEntry{}, ErrNotFound
		}
		return models.SLAConfigEntry{}, fmt.Errorf("update sla config: %w", err)
	}
	return entry, nil
}

func (s *PGStore) UpsertCalendarDay(ctx context.Context, day models.CalendarDay) (bool, error) {
	query := `
		INSERT INTO business_calendar (date, is_working_day, holiday_name, synced_from_hrms, synced_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (date) DO UPDATE SET
			is_working_day=EXCLUDED.is_working_day,
			holiday_name=EXCLUDED.holiday_name,
			synced_from_hrms=EXCLUDED.synced_from_hrms,
			synced_at=EXCLUDED.synced_at
		RETURNING (xmax = 0)
	`
	var holiday interface{}
	if day.HolidayName != "" {
		holiday = day.HolidayName
	}
	var inserted bool
	err := s.db.QueryRowContext(ctx, query, day.Date, day.IsWorkingDay, holiday, day.SyncedFromHRMS, day.SyncedAt).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert calendar day: %w", err)
	}
	return inserted, nil
}

func (s *PGStore) IsWorkingDay(ctx context.Context, date string) (bool, error) {
	var working bool
	query := `SELECT is_working_day FROM business_calendar WHERE date=$1`
	if err := s.db.QueryRowContext(ctx, query, date).Scan(&working); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Undefined dates are conservatively non-working.
			return false, nil
		}
		return false, fmt.Errorf("query calendar day: %w", err)
	}
	return working, nil
}

func (s *PGStore) CountWorkingDays(ctx context.Context, startDate, endDate string) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM business_calendar
		WHERE date >= $1 AND date <= $2 AND is_working_day=TRUE
	`
	if err := s.db.QueryRowContext(ctx, query, startDate, endDate).Scan(&count); err != nil {
		return 0, fmt.Errorf("count working days: %w", err)
	}
	return count, nil
}

func (s *PGStore) ListCalendar(ctx context.Context, startDate, endDate string) ([]models.CalendarDay, error) {
	query := `
		SELECT date, is_working_day, holiday_name, synced_from_hrms, synced_at
		FROM business_calendar
		WHERE date >= $1 AND date <= $2
		ORDER BY date
	`
	rows, err := s.db.QueryContext(ctx, query, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("list calendar: %w", err)
	}
	defer rows.Close()

	var days []models.CalendarDay
	for rows.Next() {
		var (
			day      models.CalendarDay
			holiday  sql.NullString
			syncedAt sql.NullTime
		)
		if err := rows.Scan(&day.Date, &day.IsWorkingDay, &holiday, &day.SyncedFromHRMS, &syncedAt); err != nil {
			return nil, fmt.Errorf("scan calendar day: %w", err)
		}
		if holiday.Valid {
			day.HolidayName = holiday.String
		}
		if syncedAt.Valid {
			t := syncedAt.Time
			day.SyncedAt = &t
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calendar: %w", err)
	}
	return days, nil
}

const factorColumns = `factor_id, display_name, weight, value_mappings, is_active, updated_by, updated_at`

func scanFactor(row rowScanner) (models.PriorityFactorConfig, error) {
	var (
		factor    models.PriorityFactorConfig
		mappings  []byte
		updatedBy sql.NullString
	)
	if err := row.Scan(
		&factor.FactorID,
		&factor.DisplayName,
		&factor.Weight,
		&mappings,
		&factor.IsActive,
		&updatedBy,
		&factor.UpdatedAt,
	); err != nil {
		return models.PriorityFactorConfig{}, err
	}
	factor.ValueMappings = map[string]int{}
	if len(mappings) > 0 {
		if err := json.Unmarshal(mappings, &factor.ValueMappings); err != nil {
			return models.PriorityFactorConfig{}, fmt.Errorf("decode value mappings for %s: %w", factor.FactorID, err)
		}
	}
	if updatedBy.Valid {
		factor.UpdatedBy = updatedBy.String
	}
	return factor, nil
}

func (s *PGStore) ListActiveFactors(ctx context.Context) ([]models.PriorityFactorConfig, error) {
	query := `
		SELECT ` + factorColumns + `
		FROM priority_config
		WHERE is_active=TRUE
		ORDER BY weight DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list factors: %w", err)
	}
	defer rows.Close()

	var factors []models.PriorityFactorConfig
	for rows.Next() {
		factor, err := scanFactor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan factor: %w", err)
		}
		factors = append(factors, factor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate factors: %w", err)
	}
	return factors, nil
}

func (s *PGStore) GetFactor(ctx context.Context, factorID string) (models.PriorityFactorConfig, error) {
	query := `SELECT ` + factorColumns + ` FROM priority_config WHERE factor_id=$1`
	factor, err := scanFactor(s.db.QueryRowContext(ctx, query, factorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PriorityFactorConfig{}, ErrNotFound
		}
		return models.PriorityFactorConfig{}, fmt.Errorf("get factor: %w", err)
	}
	return factor, nil
}

func (s *PGStore) UpdateFactorWeight(ctx context.Context, factorID string, weight float64, actor string) (models.PriorityFactorConfig, error) {
	query := `
		UPDATE priority_config
		SET weight=$2, updated_by=$3, updated_at=NOW()
		WHERE factor_id=$1
		RETURNING ` + factorColumns
	factor, err := scanFactor(s.db.QueryRowContext(ctx, query, factorID, weight, actor))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PriorityFactorConfig{}, ErrNotFound
		}
		return models.PriorityFactorConfig{}, fmt.Errorf("update factor weight: %w", err)
	}
	return factor, nil
}

func (s *PGStore) UpdateFactorMappings(ctx context.Context, factorID string, mappings map[string]int, actor string) (models.PriorityFactorConfig, error) {
	encoded, err := json.Marshal(mappings)
	if err != nil {
		return models.PriorityFactorConfig{}, fmt.Errorf("encode value mappings: %w", err)
	}
	query := `
		UPDATE priority_config
		SET value_mappings=$2, updated_by=$3, updated_at=NOW()
		WHERE factor_id=$1
		RETURNING ` + factorColumns
	factor, err := scanFactor(s.db.QueryRowContext(ctx, query, factorID, encoded, actor))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PriorityFactorConfig{}, ErrNotFound
		}
		return models.PriorityFactorConfig{}, fmt.Errorf("update factor mappings: %w", err)
	}
	return factor, nil
}

func (s *PGStore) SetFactorActive(ctx context.Context, factorID string, active bool, actor string) (models.PriorityFactorConfig, error) {
	query := `
		UPDATE priority_config
		SET is_active=$2, updated_by=$3, updated_at=NOW()
		WHERE factor_id=$1
		RETURNING ` + factorColumns
	factor, err := scanFactor(s.db.QueryRowContext(ctx, query, factorID, active, actor))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PriorityFactorConfig{}, ErrNotFound
		}
		return models.PriorityFactorConfig{}, fmt.Errorf("set factor active: %w", err)
	}
	return factor, nil
}

func (s *PGStore) AppendConfigAudit(ctx context.Context, entry *models.ConfigAuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO priority_audit (id, factor_id, field_changed, old_value, new_value, changed_by, reason, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.FactorID, entry.FieldChanged, entry.OldValue, entry.NewValue,
		entry.ChangedBy, entry.Reason, entry.ChangedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

const auditColumns = `id, factor_id, field_changed, old_value, new_value, changed_by, reason, changed_at`

func scanAuditEntry(row rowScanner) (models.ConfigAuditEntry, error) {
	var (
		entry  models.ConfigAuditEntry
		reason sql.NullString
	)
	if err := row.Scan(
		&entry.ID,
		&entry.FactorID,
		&entry.FieldChanged,
		&entry.OldValue,
		&entry.NewValue,
		&entry.ChangedBy,
		&reason,
		&entry.ChangedAt,
	); err != nil {
		return models.ConfigAuditEntry{}, err
	}
	if reason.Valid {
		entry.Reason = reason.String
	}
	return entry, nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func (s *PGStore) ListFactorAudit(ctx context.Context, factorID string, limit int) ([]models.ConfigAuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM priority_audit
		WHERE factor_id=$1
		ORDER BY changed_at DESC
		LIMIT $2
	`
	return s.queryAudit(ctx, query, factorID, normalizeLimit(limit, 50))
}

func (s *PGStore) ListConfigAudit(ctx context.Context, limit int) ([]models.ConfigAuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM priority_audit
		ORDER BY changed_at DESC
		LIMIT $1
	`
	return s.queryAudit(ctx, query, normalizeLimit(limit, 100))
}

func (s *PGStore) queryAudit(ctx context.Context, query string, args ...interface{}) ([]models.ConfigAuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.ConfigAuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

const breachColumns = `id, item_id, workflow_stage, breach_type, target_hours, actual_hours, notified_user_ids, detected_at, resolved_at`

func scanBreach(row rowScanner) (models.BreachRecord, error) {
	var (
		rec        models.BreachRecord
		notified   []byte
		resolvedAt sql.NullTime
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ItemID,
		&rec.WorkflowStage,
		&rec.BreachType,
		&rec.TargetHours,
		&rec.ActualHours,
		&notified,
		&rec.DetectedAt,
		&resolvedAt,
	); err != nil {
		return models.BreachRecord{}, err
	}
	if len(notified) > 0 {
		if err := json.Unmarshal(notified, &rec.NotifiedUserIDs); err != nil {
			return models.BreachRecord{}, fmt.Errorf("decode notified users: %w", err)
		}
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		rec.ResolvedAt = &t
	}
	return rec, nil
}

// OpenBreach inserts a breach record unless an open one already exists for
// (item, stage). The second return value reports whether a row was written.
func (s *PGStore) OpenBreach(ctx context.Context, in BreachInput) (models.BreachRecord, bool, error) {
	notified, err := json.Marshal(in.NotifiedUserIDs)
	if err != nil {
		return models.BreachRecord{}, false, fmt.Errorf("encode notified users: %w", err)
	}
	id := uuid.New()
	query := `
		INSERT INTO sla_breach_log (id, item_id, workflow_stage, breach_type, target_hours, actual_hours, notified_user_ids, detected_at)
		SELECT $1,$2,$3,$4,$5,$6,$7,NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM sla_breach_log
			WHERE item_id=$2 AND workflow_stage=$3 AND resolved_at IS NULL
		)
		ON CONFLICT (item_id, workflow_stage) WHERE resolved_at IS NULL DO NOTHING
		RETURNING ` + breachColumns
	rec, err := scanBreach(s.db.QueryRowContext(ctx, query,
		id, in.ItemID, in.WorkflowStage, in.BreachType, in.TargetHours, in.ActualHours, notified))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Already open; fetch the existing record.
			existing, getErr := s.openBreachFor(ctx, in.ItemID, in.WorkflowStage)
			if getErr != nil {
				return models.BreachRecord{}, false, getErr
			}
			return existing, false, nil
		}
		if isUniqueViolation(err) {
			existing, getErr := s.openBreachFor(ctx, in.ItemID, in.WorkflowStage)
			if getErr != nil {
				return models.BreachRecord{}, false, getErr
			}
			return existing, false, nil
		}
		return models.BreachRecord{}, false, fmt.Errorf("open breach: %w", err)
	}
	return rec, true, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *PGStore) openBreachFor(ctx context.Context, itemID, stage string) (models.BreachRecord, error) {
	query := `
		SELECT ` + breachColumns + `
		FROM sla_breach_log
		WHERE item_id=$1 AND workflow_stage=$2 AND resolved_at IS NULL
		LIMIT 1
	`
	rec, err := scanBreach(s.db.QueryRowContext(ctx, query, itemID, stage))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.BreachRecord{}, ErrNotFound
		}
		return models.BreachRecord{}, fmt.Errorf("get open breach: %w", err)
	}
	return rec, nil
}

func (s *PGStore) ResolveBreaches(ctx context.Context, itemID, stage string, resolvedAt time.Time) (int, error) {
	query := `UPDATE sla_breach_log SET resolved_at=$2 WHERE item_id=$1 AND resolved_at IS NULL`
	args := []interface{}{itemID, resolvedAt}
	if stage != "" {
		query += ` AND workflow_stage=$3`
		args = append(args, stage)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("resolve breaches: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("resolve breaches rows: %w", err)
	}
	return int(n), nil
}

func (s *PGStore) ListOpenBreaches(ctx context.Context) ([]models.BreachRecord, error) {
	query := `
		SELECT ` + breachColumns + `
		FROM sla_breach_log
		WHERE resolved_at IS NULL
		ORDER BY detected_at ASC
	`
	return s.queryBreaches(ctx, query)
}

func (s *PGStore) ListBreachHistory(ctx context.Context, itemID string) ([]models.BreachRecord, error) {
	query := `
		SELECT ` + breachColumns + `
		FROM sla_breach_log
		WHERE item_id=$1
		ORDER BY detected_at DESC
	`
	return s.queryBreaches(ctx, query, itemID)
}

func (s *PGStore) queryBreaches(ctx context.Context, query string, args ...interface{}) ([]models.BreachRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list breaches: %w", err)
	}
	defer rows.Close()

	var records []models.BreachRecord
	for rows.Next() {
		rec, err := scanBreach(rows)
		if err != nil {
			return nil, fmt.Errorf("scan breach: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate breaches: %w", err)
	}
	return records, nil
}

func (s *PGStore) BreachStats(ctx context.Context, start, end time.Time) ([]models.BreachStageStats, error) {
	query := `
		SELECT
			workflow_stage,
			COUNT(*) AS total_breaches,
			COUNT(resolved_at) AS resolved_breaches,
			COALESCE(AVG(actual_hours - target_hours), 0) AS avg_hours_overdue,
			COALESCE(AVG(EXTRACT(EPOCH FROM (resolved_at - detected_at)) / 3600.0), 0) AS avg_resolution_hours
		FROM sla_breach_log
		WHERE detected_at >= $1 AND detected_at <= $2
		GROUP BY workflow_stage
		ORDER BY workflow_stage
	`
	rows, err := s.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("breach stats: %w", err)
	}
	defer rows.Close()

	var stats []models.BreachStageStats
	for rows.Next() {
		var st models.BreachStageStats
		if err := rows.Scan(&st.WorkflowStage, &st.TotalBreaches, &st.ResolvedBreaches, &st.AvgHoursOverdue, &st.AvgResolutionHours); err != nil {
			return nil, fmt.Errorf("scan breach stats: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate breach stats: %w", err)
	}
	return stats, nil
}

func (s *PGStore) InsertPrediction(ctx context.Context, rec *models.PredictionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	features := rec.Features
	if len(features) == 0 {
		features = []byte("{}")
	}
	query := `
		INSERT INTO ml_predictions (id, item_id, predicted_score, predicted_level, prediction_method, model_id, features_snapshot, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ItemID, rec.Score, rec.Level, rec.Method, rec.ModelID, features, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

const itemColumns = `id, workflow_stage, stage_entered_at, created_at, requester_id, service_type, is_pie, is_international, escalation_count, external_deadline, deadline_reason`

func scanItem(row rowScanner) (models.WorkflowItem, error) {
	var (
		item      models.WorkflowItem
		requester sql.NullString
		service   sql.NullString
		deadline  sql.NullTime
		reason    sql.NullString
	)
	if err := row.Scan(
		&item.ID,
		&item.WorkflowStage,
		&item.StageEnteredAt,
		&item.CreatedAt,
		&requester,
		&service,
		&item.IsPIE,
		&item.IsInternational,
		&item.EscalationCount,
		&deadline,
		&reason,
	); err != nil {
		return models.WorkflowItem{}, err
	}
	if requester.Valid {
		item.RequesterID = requester.String
	}
	if service.Valid {
		item.ServiceType = service.String
	}
	if deadline.Valid {
		t := deadline.Time
		item.ExternalDeadline = &t
	}
	if reason.Valid {
		item.DeadlineReason = reason.String
	}
	return item, nil
}

func (s *PGStore) PendingItems(ctx context.Context, statuses []string) ([]models.WorkflowItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM workflow_items
		WHERE workflow_stage = ANY($1)
		ORDER BY stage_entered_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	defer rows.Close()

	var items []models.WorkflowItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (s *PGStore) GetItem(ctx context.Context, id string) (models.WorkflowItem, error) {
	query := `SELECT ` + itemColumns + ` FROM workflow_items WHERE id=$1`
	item, err := scanItem(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.WorkflowItem{}, ErrNotFound
		}
		return models.WorkflowItem{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (s *PGStore) CountOpenItemsForRequester(ctx context.Context, requesterID, excludeItemID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM workflow_items
		WHERE requester_id=$1
		AND workflow_stage NOT IN ('Approved','Rejected','Lapsed')
		AND id != $2
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, requesterID, excludeItemID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count requester items: %w", err)
	}
	return count, nil
}
