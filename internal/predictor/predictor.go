// Package predictor defines the pluggable external priority predictor
// port: a versioned feature schema, the client contract, an HTTP
// implementation and a circuit breaker. Transport is an implementation
// detail; callers only rely on the timeout/fallback contract.
package predictor

import "context"

// SchemaVersion identifies the feature vector layout. Changes to the
// schema are additive only.
const SchemaVersion = 1

// Features is the fixed input vector of one prediction. Boolean features
// are encoded as 0/1 integers for model compatibility.
type Features struct {
	SLAHoursRemaining   int `json:"sla_hours_remaining"`
	SLAPercentElapsed   int `json:"sla_percent_elapsed"`
	HasExternalDeadline int `json:"has_external_deadline"`
	DaysToDeadline      int `json:"days_to_deadline"`
	IsPIE               int `json:"is_pie"`
	IsInternational     int `json:"is_international"`
	IsStatutoryAudit    int `json:"is_statutory_audit"`
	IsTaxCompliance     int `json:"is_tax_compliance"`
	EscalationCount     int `json:"escalation_count"`
	CurrentStage        int `json:"current_stage"`
	HoursInStage        int `json:"hours_in_stage"`
	RequesterWorkload   int `json:"requester_workload"`
	DayOfWeek           int `json:"day_of_week"`
	IsEndOfMonth        int `json:"is_end_of_month"`
	IsQ4                int `json:"is_q4"`
}

// Prediction is the external predictor's answer. Score must land in
// [0,100]; callers reject anything else and fall back to rule scoring.
type Prediction struct {
	Score       int      `json:"score"`
	Level       string   `json:"level"`
	Explanation []string `json:"explanation,omitempty"`
	Probability float64  `json:"probability,omitempty"`
	ModelID     string   `json:"modelId,omitempty"`
}

// Client is the external predictor port. Ready reports whether the
// backend can serve predictions; a false answer routes callers to the
// rule-based path. Predict must respect ctx and its own bounded timeout —
// timeouts, errors and malformed responses are all treated as "not
// available for this call" by the scorer, never retried within a call.
type Client interface {
	Ready(ctx context.Context) bool
	Predict(ctx context.Context, features Features) (Prediction, error)
}
