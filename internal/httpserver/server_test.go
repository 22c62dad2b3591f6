package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coi-platform/sla-engine/internal/audit"
	"github.com/coi-platform/sla-engine/internal/calendar"
	"github.com/coi-platform/sla-engine/internal/config"
	"github.com/coi-platform/sla-engine/internal/events"
	"github.com/coi-platform/sla-engine/internal/httpserver"
	"github.com/coi-platform/sla-engine/internal/models"
	"github.com/coi-platform/sla-engine/internal/monitor"
	"github.com/coi-platform/sla-engine/internal/predictor"
	"github.com/coi-platform/sla-engine/internal/priority"
	"github.com/coi-platform/sla-engine/internal/service"
	"github.com/coi-platform/sla-engine/internal/sla"
	"github.com/coi-platform/sla-engine/internal/store"
)

const debugToken = "test-token"

func newTestServer(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	cal := calendar.NewStoreProvider(st)
	resolver := sla.NewResolver(st)
	clock := sla.NewClock(cal, resolver)
	extractor := predictor.NewExtractor(clock, st.CountOpenItemsForRequester)
	scorer := priority.NewScorer(st, clock, extractor, nil)
	mon := monitor.New(st, clock, events.NewMemorySink(), monitor.Config{Concurrency: 1})
	auditor := audit.NewStoreRecorder(st, nil)
	svc := service.New(st, resolver, clock, scorer, mon, auditor, cal, service.Config{})

	cfg := config.Config{
		AllowDebugToken: true,
		DebugToken:      debugToken,
	}
	return httpserver.New(cfg, svc, st).Router(), st
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Debug-Token", token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	handler, _ := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
}

func TestResolveConfigEndpoint(t *testing.T) {
	handler, st := newTestServer(t)
	st.SeedSLAConfig(models.SLAConfigEntry{
		WorkflowStage:   "Pending Compliance",
		ScopeType:       models.ScopePIE,
		TargetHours:     24,
		WarningPercent:  60,
		CriticalPercent: 80,
		IsActive:        true,
	})

	rec := doJSON(t, handler, http.MethodGet, "/sla/config?stage=Pending+Compliance&pie=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var entry models.SLAConfigEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, float64(24), entry.TargetHours)
	assert.Equal(t, models.SourcePIEOverride, entry.Source)

	rec = doJSON(t, handler, http.MethodGet, "/sla/config", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	handler, st := newTestServer(t)
	st.SeedSLAConfig(models.SLAConfigEntry{
		WorkflowStage:   "Pending Compliance",
		ScopeType:       models.ScopeNone,
		TargetHours:     48,
		WarningPercent:  75,
		CriticalPercent: 90,
		IsActive:        true,
	})

	item := models.WorkflowItem{
		ID:             "COI-1001",
		WorkflowStage:  "Pending Compliance",
		StageEnteredAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	rec := doJSON(t, handler, http.MethodPost, "/sla/status", item, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status sla.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, float64(48), status.TargetHours)

	rec = doJSON(t, handler, http.MethodPost, "/sla/status", models.WorkflowItem{ID: "x"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScoreEndpoint(t *testing.T) {
	handler, st := newTestServer(t)
	st.SeedFactor(models.PriorityFactorConfig{
		FactorID:      "pie_status",
		DisplayName:   "PIE Client",
		Weight:        2,
		ValueMappings: map[string]int{"Yes": 100, "No": 0},
		IsActive:      true,
	})

	item := models.WorkflowItem{
		ID:             "COI-1002",
		WorkflowStage:  "Pending Compliance",
		StageEnteredAt: time.Now().UTC().Add(-1 * time.Hour),
		IsPIE:          true,
	}
	rec := doJSON(t, handler, http.MethodPost, "/priority/score", item, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result priority.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 100, result.Score)
	assert.Equal(t, priority.LevelCritical, result.Level)
	assert.Equal(t, priority.MethodRules, result.Method)
}

func TestUpdateWeightRequiresAuth(t *testing.T) {
	handler, st := newTestServer(t)
	st.SeedFactor(models.PriorityFactorConfig{FactorID: "pie_status", Weight: 3, IsActive: true})

	body := map[string]interface{}{"weight": 7, "updatedBy": "partner-9"}

	rec := doJSON(t, handler, http.MethodPut, "/priority/factors/pie_status/weight", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, handler, http.MethodPut, "/priority/factors/pie_status/weight", body, debugToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var factor models.PriorityFactorConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &factor))
	assert.Equal(t, float64(7), factor.Weight)
}

func TestUpdateWeightValidation(t *testing.T) {
	handler, st := newTestServer(t)
	st.SeedFactor(models.PriorityFactorConfig{FactorID: "pie_status", Weight: 3, IsActive: true})

	rec := doJSON(t, handler, http.MethodPut, "/priority/factors/pie_status/weight",
		map[string]interface{}{"weight": 42, "updatedBy": "partner-9"}, debugToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPut, "/priority/factors/unknown/weight",
		map[string]interface{}{"weight": 5, "updatedBy": "partner-9"}, debugToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodPut, "/priority/factors/pie_status/weight",
		map[string]interface{}{"weight": 5}, debugToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "updatedBy required")
}

func TestMonitorCheckAndResolve(t *testing.T) {
	handler, st := newTestServer(t)
	st.SeedSLAConfig(models.SLAConfigEntry{
		WorkflowStage:   "Pending Compliance",
		ScopeType:       models.ScopeNone,
		TargetHours:     1,
		WarningPercent:  75,
		CriticalPercent: 90,
		IsActive:        true,
	})
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_, err := st.UpsertCalendarDay(context.Background(), models.CalendarDay{
			Date:         now.AddDate(0, 0, -i).Format(calendar.DateLayout),
			IsWorkingDay: true,
		})
		require.NoError(t, err)
	}
	st.SeedItem(models.WorkflowItem{
		ID:             "COI-1003",
		WorkflowStage:  "Pending Compliance",
		StageEnteredAt: now.Add(-48 * time.Hour),
	})

	rec := doJSON(t, handler, http.MethodPost, "/monitor/check", nil, debugToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary monitor.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, []string{"COI-1003"}, summary.Breached)

	open, err := st.ListOpenBreaches(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)

	rec = doJSON(t, handler, http.MethodPost, "/monitor/resolve",
		map[string]string{"itemId": "COI-1003", "stage": "Pending Compliance"}, debugToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resolved": 1}`, rec.Body.String())

	open, err = st.ListOpenBreaches(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCalendarEndpoints(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/calendar/sync",
		map[string]interface{}{"holidays": []calendar.Holiday{{Date: "2025-08-15", Name: "Independence Day"}}}, debugToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var result calendar.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Added)

	rec = doJSON(t, handler, http.MethodGet, "/calendar/?start=2025-08-01&end=2025-08-31", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var days []models.CalendarDay
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &days))
	require.Len(t, days, 1)
	assert.Equal(t, "Independence Day", days[0].HolidayName)

	rec = doJSON(t, handler, http.MethodPost, "/calendar/generate",
		map[string]int{"days": 0}, debugToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBreachStatsRejectsBadDates(t *testing.T) {
	handler, _ := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/monitor/stats?start=01-03-2025", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateSLAConfigEndpoint(t *testing.T) {
	handler, st := newTestServer(t)
	entry := st.SeedSLAConfig(models.SLAConfigEntry{
		WorkflowStage:   "Pending Compliance",
		ScopeType:       models.ScopeNone,
		TargetHours:     48,
		WarningPercent:  75,
		CriticalPercent: 90,
		IsActive:        true,
	})

	path := fmt.Sprintf("/sla/configs/%s", entry.ID)
	rec := doJSON(t, handler, http.MethodPut, path,
		map[string]interface{}{"targetHours": 24, "updatedBy": "compliance-1"}, debugToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.SLAConfigEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, float64(24), updated.TargetHours)

	rec = doJSON(t, handler, http.MethodPut, "/sla/configs/not-a-uuid",
		map[string]interface{}{"targetHours": 24, "updatedBy": "compliance-1"}, debugToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
