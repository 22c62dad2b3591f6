package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/coi-platform/sla-engine/internal/calendar"
	"github.com/coi-platform/sla-engine/internal/config"
	"github.com/coi-platform/sla-engine/internal/models"
	"github.com/coi-platform/sla-engine/internal/service"
	"github.com/coi-platform/sla-engine/internal/store"
)

type Server struct {
	cfg     config.Config
	service *service.Service
	store   store.Store
}

func New(cfg config.Config, svc *service.Service, store store.Store) *Server {
	return &Server{cfg: cfg, service: svc, store: store}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/sla", func(r chi.Router) {
		r.Get("/config", s.handleResolveConfig)
		r.Get("/configs", s.handleListConfigs)
		r.Post("/status", s.handleStatus)
		r.Post("/deadline", s.handleDeadline)
		r.Group(func(r chi.Router) {
			r.Use(s.writeAuth)
			r.Put("/configs/{id}", s.handleUpdateConfig)
		})
	})

	r.Route("/priority", func(r chi.Router) {
		r.Post("/score", s.handleScore)
		r.Get("/factors", s.handleListFactors)
		r.Get("/factors/{factorId}/audit", s.handleFactorAudit)
		r.Get("/audit", s.handleAudit)
		r.Group(func(r chi.Router) {
			r.Use(s.writeAuth)
			r.Put("/factors/{factorId}/weight", s.handleUpdateWeight)
			r.Put("/factors/{factorId}/mappings", s.handleUpdateMappings)
			r.Put("/factors/{factorId}/active", s.handleToggleActive)
		})
	})

	r.Route("/monitor", func(r chi.Router) {
		r.Get("/breaches", s.handleOpenBreaches)
		r.Get("/breaches/{itemId}", s.handleBreachHistory)
		r.Get("/stats", s.handleBreachStats)
		r.Group(func(r chi.Router) {
			r.Use(s.writeAuth)
			r.Post("/check", s.handleCheck)
			r.Post("/resolve", s.handleResolve)
		})
	})

	r.Route("/calendar", func(r chi.Router) {
		r.Get("/", s.handleCalendar)
		r.Group(func(r chi.Router) {
			r.Use(s.writeAuth)
			r.Post("/sync", s.handleCalendarSync)
			r.Post("/generate", s.handleCalendarGenerate)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleResolveConfig(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stage := q.Get("stage")
	if stage == "" {
		respondError(w, http.StatusBadRequest, "stage query parameter required")
		return
	}
	isPIE, _ := strconv.ParseBool(q.Get("pie"))
	cfg, err := s.service.ResolveConfig(r.Context(), stage, q.Get("serviceType"), isPIE)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.service.ListSLAConfigs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, configs)
}

type updateConfigRequest struct {
	service.SLAConfigUpdate
	UpdatedBy string `json:"updatedBy"`
	Reason    string `json:"reason"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid config id")
		return
	}
	var req updateConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UpdatedBy == "" {
		respondError(w, http.StatusBadRequest, "updatedBy required")
		return
	}
	updated, err := s.service.UpdateSLAConfig(r.Context(), id, req.SLAConfigUpdate, req.UpdatedBy, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var item models.WorkflowItem
	if err := decodeJSON(w, r, &item); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if item.ID == "" || item.WorkflowStage == "" || item.StageEnteredAt.IsZero() {
		respondError(w, http.StatusBadRequest, "id, workflowStage, and stageEnteredAt required")
		return
	}
	status, err := s.service.ComputeStatus(r.Context(), item)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleDeadline(w http.ResponseWriter, r *http.Request) {
	var item models.WorkflowItem
	if err := decodeJSON(w, r, &item); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if item.ID == "" || item.WorkflowStage == "" || item.StageEnteredAt.IsZero() {
		respondError(w, http.StatusBadRequest, "id, workflowStage, and stageEnteredAt required")
		return
	}
	deadline, err := s.service.EffectiveDeadline(r.Context(), item)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, deadline)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var item models.WorkflowItem
	if err := decodeJSON(w, r, &item); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if item.ID == "" || item.WorkflowStage == "" {
		respondError(w, http.StatusBadRequest, "id and workflowStage required")
		return
	}
	result, err := s.service.ComputeScore(r.Context(), item)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListFactors(w http.ResponseWriter, r *http.Request) {
	factors, err := s.service.ListFactors(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, factors)
}

type updateWeightRequest struct {
	Weight    float64 `json:"weight"`
	UpdatedBy string  `json:"updatedBy"`
	Reason    string  `json:"reason"`
}

func (s *Server) handleUpdateWeight(w http.ResponseWriter, r *http.Request) {
	factorID := chi.URLParam(r, "factorId")
	var req updateWeightRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UpdatedBy == "" {
		respondError(w, http.StatusBadRequest, "updatedBy required")
		return
	}
	updated, err := s.service.UpdateWeight(r.Context(), factorID, req.Weight, req.UpdatedBy, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

type updateMappingsRequest struct {
	ValueMappings map[string]int `json:"valueMappings"`
	UpdatedBy     string         `json:"updatedBy"`
	Reason        string         `json:"reason"`
}

func (s *Server) handleUpdateMappings(w http.ResponseWriter, r *http.Request) {
	factorID := chi.URLParam(r, "factorId")
	var req updateMappingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UpdatedBy == "" {
		respondError(w, http.StatusBadRequest, "updatedBy required")
		return
	}
	updated, err := s.service.UpdateValueMappings(r.Context(), factorID, req.ValueMappings, req.UpdatedBy, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

type toggleActiveRequest struct {
	IsActive  bool   `json:"isActive"`
	UpdatedBy string `json:"updatedBy"`
	Reason    string `json:"reason"`
}

func (s *Server) handleToggleActive(w http.ResponseWriter, r *http.Request) {
	factorID := chi.URLParam(r, "factorId")
	var req toggleActiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UpdatedBy == "" {
		respondError(w, http.StatusBadRequest, "updatedBy required")
		return
	}
	updated, err := s.service.ToggleFactorActive(r.Context(), factorID, req.IsActive, req.UpdatedBy, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleFactorAudit(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	entries, err := s.service.FactorAuditHistory(r.Context(), chi.URLParam(r, "factorId"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	entries, err := s.service.AuditHistory(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.CheckPending(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

type resolveRequest struct {
	ItemID string `json:"itemId"`
	Stage  string `json:"stage"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	resolved, err := s.service.ResolveBreach(r.Context(), req.ItemID, req.Stage)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"resolved": resolved})
}

func (s *Server) handleOpenBreaches(w http.ResponseWriter, r *http.Request) {
	breaches, err := s.service.OpenBreaches(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, breaches)
}

func (s *Server) handleBreachHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.service.BreachHistory(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleBreachStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(calendar.DateLayout, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
			return
		}
		start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(calendar.DateLayout, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
			return
		}
		end = t.AddDate(0, 0, 1)
	}
	stats, err := s.service.BreachStats(r.Context(), start, end)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")
	if start == "" || end == "" {
		respondError(w, http.StatusBadRequest, "start and end query parameters required")
		return
	}
	days, err := s.service.Calendar(r.Context(), start, end)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, days)
}

type calendarSyncRequest struct {
	Holidays []calendar.Holiday `json:"holidays"`
}

func (s *Server) handleCalendarSync(w http.ResponseWriter, r *http.Request) {
	var req calendarSyncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.service.SyncHolidays(r.Context(), req.Holidays)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type calendarGenerateRequest struct {
	Days int `json:"days"`
}

func (s *Server) handleCalendarGenerate(w http.ResponseWriter, r *http.Request) {
	var req calendarGenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Days <= 0 || req.Days > 730 {
		respondError(w, http.StatusBadRequest, "days must be between 1 and 730")
		return
	}
	created, err := s.service.GenerateWeekdays(r.Context(), req.Days)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"created": created})
}

func (s *Server) writeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AllowDebugToken {
			if token := r.Header.Get("X-Debug-Token"); token != "" && token == s.cfg.DebugToken {
				next.ServeHTTP(w, r)
				return
			}
			respondError(w, http.StatusUnauthorized, "debug token required")
			return
		}
		if r.TLS == nil {
			respondError(w, http.StatusUnauthorized, "mtls required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// respondServiceError maps store/service errors onto HTTP statuses:
// missing rows become 404, everything else from the validation layer is a
// client error.
func respondServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusBadRequest, err.Error())
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
