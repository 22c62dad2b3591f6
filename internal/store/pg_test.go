package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coi-platform/sla-engine/internal/models"
	"github.com/coi-platform/sla-engine/internal/store"
)

func newMockStore(t *testing.T) (*store.PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewPGStore(db), mock
}

var slaConfigCols = []string{
	"id", "workflow_stage", "scope_type", "scope_value", "target_hours",
	"warning_percent", "critical_percent", "is_active", "updated_by", "updated_at",
}

func TestActiveSLAConfig(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM sla_config`).
		WithArgs("Pending Compliance", models.ScopeServiceType, "STATUTORY_AUDIT").
		WillReturnRows(sqlmock.NewRows(slaConfigCols).
			AddRow(id, "Pending Compliance", "service_type", "STATUTORY_AUDIT", 36.0, 70, 85, true, "admin-1", now))

	entry, err := st.ActiveSLAConfig(context.Background(), "Pending Compliance", models.ScopeServiceType, "STATUTORY_AUDIT")
	require.NoError(t, err)
	assert.Equal(t, id, entry.ID)
	assert.Equal(t, float64(36), entry.TargetHours)
	assert.Equal(t, "STATUTORY_AUDIT", entry.ScopeValue)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveSLAConfigNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM sla_config`).
		WithArgs("Pending Finance", models.ScopeNone, "").
		WillReturnRows(sqlmock.NewRows(slaConfigCols))

	_, err := st.ActiveSLAConfig(context.Background(), "Pending Finance", models.ScopeNone, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSLAConfigPartialSet(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now().UTC()
	hours := 24.0

	mock.ExpectQuery(`UPDATE sla_config SET target_hours=\$2, updated_by=\$3, updated_at=NOW\(\) WHERE id=\$1`).
		WithArgs(id, hours, "compliance-1").
		WillReturnRows(sqlmock.NewRows(slaConfigCols).
			AddRow(id, "Pending Compliance", "none", nil, 24.0, 75, 90, true, "compliance-1", now))

	entry, err := st.UpdateSLAConfig(context.Background(), store.SLAConfigUpdate{
		ID:          id,
		TargetHours: &hours,
		Actor:       "compliance-1",
	})
	require.NoError(t, err)
	assert.Equal(t, float64(24), entry.TargetHours)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSLAConfigNoFields(t *testing.T) {
	st, _ := newMockStore(t)
	_, err := st.UpdateSLAConfig(context.Background(), store.SLAConfigUpdate{ID: uuid.New()})
	require.Error(t, err)
}

var breachCols = []string{
	"id", "item_id", "workflow_stage", "breach_type", "target_hours",
	"actual_hours", "notified_user_ids", "detected_at", "resolved_at",
}

func TestOpenBreachInsertsNewRecord(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()
	id := uuid.New()

	mock.ExpectQuery(`INSERT INTO sla_breach_log`).
		WithArgs(sqlmock.AnyArg(), "COI-1001", "Pending Compliance", "BREACHED", 48.0, 54.0, []byte(`["emp-301"]`)).
		WillReturnRows(sqlmock.NewRows(breachCols).
			AddRow(id, "COI-1001", "Pending Compliance", "BREACHED", 48.0, 54.0, []byte(`["emp-301"]`), now, nil))

	rec, opened, err := st.OpenBreach(context.Background(), store.BreachInput{
		ItemID:          "COI-1001",
		WorkflowStage:   "Pending Compliance",
		BreachType:      "BREACHED",
		TargetHours:     48,
		ActualHours:     54,
		NotifiedUserIDs: []string{"emp-301"},
	})
	require.NoError(t, err)
	assert.True(t, opened)
	assert.Equal(t, "COI-1001", rec.ItemID)
	assert.Equal(t, []string{"emp-301"}, rec.NotifiedUserIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenBreachReturnsExistingWhenAlreadyOpen(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()
	existing := uuid.New()

	// The guarded insert writes nothing, then the open record is fetched.
	mock.ExpectQuery(`INSERT INTO sla_breach_log`).
		WithArgs(sqlmock.AnyArg(), "COI-1001", "Pending Compliance", "BREACHED", 48.0, 55.0, []byte(`null`)).
		WillReturnRows(sqlmock.NewRows(breachCols))
	mock.ExpectQuery(`SELECT .+ FROM sla_breach_log`).
		WithArgs("COI-1001", "Pending Compliance").
		WillReturnRows(sqlmock.NewRows(breachCols).
			AddRow(existing, "COI-1001", "Pending Compliance", "BREACHED", 48.0, 54.0, []byte(`[]`), now, nil))

	rec, opened, err := st.OpenBreach(context.Background(), store.BreachInput{
		ItemID:        "COI-1001",
		WorkflowStage: "Pending Compliance",
		BreachType:    "BREACHED",
		TargetHours:   48,
		ActualHours:   55,
	})
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Equal(t, existing, rec.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveBreachesScopedToStage(t *testing.T) {
	st, mock := newMockStore(t)
	resolvedAt := time.Now().UTC()

	mock.ExpectExec(`UPDATE sla_breach_log SET resolved_at=\$2`).
		WithArgs("COI-1001", resolvedAt, "Pending Compliance").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := st.ResolveBreaches(context.Background(), "COI-1001", "Pending Compliance", resolvedAt)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveFactorsDecodesMappings(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()
	cols := []string{"factor_id", "display_name", "weight", "value_mappings", "is_active", "updated_by", "updated_at"}

	mock.ExpectQuery(`SELECT .+ FROM priority_config`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("sla_status", "SLA Status", 3.0, []byte(`{"ON_TRACK":10,"BREACHED":100}`), true, nil, now).
			AddRow("pie_status", "PIE Client", 2.0, []byte(`{"Yes":100,"No":0}`), true, "admin-1", now))

	factors, err := st.ListActiveFactors(context.Background())
	require.NoError(t, err)
	require.Len(t, factors, 2)
	assert.Equal(t, 100, factors[0].ValueMappings["BREACHED"])
	assert.Equal(t, "admin-1", factors[1].UpdatedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendConfigAuditFillsDefaults(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO priority_audit`).
		WithArgs(sqlmock.AnyArg(), "pie_status", "weight", "3", "7", "partner-9", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &models.ConfigAuditEntry{
		FactorID:     "pie_status",
		FieldChanged: "weight",
		OldValue:     "3",
		NewValue:     "7",
		ChangedBy:    "partner-9",
	}
	require.NoError(t, st.AppendConfigAudit(context.Background(), entry))
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.False(t, entry.ChangedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingItemsUsesStatusArray(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM workflow_items`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "workflow_stage", "stage_entered_at", "created_at", "requester_id",
			"service_type", "is_pie", "is_international", "escalation_count",
			"external_deadline", "deadline_reason",
		}).AddRow("COI-1001", "Pending Compliance", now, now, "emp-301", nil, true, false, 1, nil, nil))

	items, err := st.PendingItems(context.Background(), []string{"Pending Compliance"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "COI-1001", items[0].ID)
	assert.True(t, items[0].IsPIE)
	assert.Nil(t, items[0].ExternalDeadline)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCalendarDayReportsInsert(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO business_calendar`).
		WithArgs("2025-03-06", false, "Founders Day", true, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(true))

	synced := time.Now().UTC()
	inserted, err := st.UpsertCalendarDay(context.Background(), models.CalendarDay{
		Date:           "2025-03-06",
		IsWorkingDay:   false,
		HolidayName:    "Founders Day",
		SyncedFromHRMS: true,
		SyncedAt:       &synced,
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBreachStats(t *testing.T) {
	st, mock := newMockStore(t)
	start := time.Now().UTC().AddDate(0, 0, -30)
	end := time.Now().UTC()

	mock.ExpectQuery(`SELECT\s+workflow_stage,`).
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{
			"workflow_stage", "total_breaches", "resolved_breaches", "avg_hours_overdue", "avg_resolution_hours",
		}).AddRow("Pending Compliance", 4, 3, 6.5, 12.25))

	stats, err := st.BreachStats(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 4, stats[0].TotalBreaches)
	assert.Equal(t, 6.5, stats[0].AvgHoursOverdue)
	require.NoError(t, mock.ExpectationsWereMet())
}
