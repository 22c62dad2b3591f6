// Package priority computes 0-100 urgency scores for workflow items from
// configurable weighted factors, optionally delegating to an external
// predictor with an unconditional rule-based fallback.
package priority

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/coi-platform/sla-engine/internal/models"
	"github.com/coi-platform/sla-engine/internal/predictor"
	"github.com/coi-platform/sla-engine/internal/sla"
	"github.com/coi-platform/sla-engine/internal/store"
)

// Level is the urgency tier derived from the score.
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelHigh     Level = "HIGH"
	LevelMedium   Level = "MEDIUM"
	LevelLow      Level = "LOW"
)

// LevelFor maps a score to its tier: >=80 CRITICAL, >=60 HIGH, >=40
// MEDIUM, else LOW.
func LevelFor(score int) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Scoring methods reported in results.
const (
	MethodRules = "RULES"
	MethodML    = "ML"
)

// FactorContribution is one factor's share of a rule-based score.
type FactorContribution struct {
	FactorID     string  `json:"factorId"`
	Factor       string  `json:"factor"`
	Value        string  `json:"value"`
	Score        int     `json:"score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Result is the outcome of scoring one item.
type Result struct {
	Score       int                  `json:"score"`
	Level       Level                `json:"level"`
	Method      string               `json:"method"`
	Breakdown   []FactorContribution `json:"breakdown,omitempty"`
	SLAStatus   sla.Status           `json:"slaStatus"`
	TopFactors  []string             `json:"topFactors,omitempty"`
	Probability float64              `json:"probability,omitempty"`
	ModelID     string               `json:"modelId,omitempty"`
	Explanation []string             `json:"explanation,omitempty"`
}

// Scorer computes urgency scores. The predictor client is optional; when
// absent or unhealthy every score comes from the rule path.
type Scorer struct {
	store     store.Store
	clock     *sla.Clock
	extractor *predictor.Extractor
	client    predictor.Client
	now       func() time.Time
}

func NewScorer(st store.Store, clock *sla.Clock, extractor *predictor.Extractor, client predictor.Client) *Scorer {
	return &Scorer{store: st, clock: clock, extractor: extractor, client: client, now: time.Now}
}

// WithNow returns a copy of the scorer using the given time source.
func (s *Scorer) WithNow(now func() time.Time) *Scorer {
	return &Scorer{store: s.store, clock: s.clock, extractor: s.extractor, client: s.client, now: now}
}

// Score delegates to the external predictor when one is registered and
// ready, sanity-checks the returned score, and falls back to the rule
// path on any error, timeout or out-of-range answer. The fallback is
// unconditional: a predictor problem is never surfaced to the caller.
func (s *Scorer) Score(ctx context.Context, item models.WorkflowItem) (Result, error) {
	if s.client != nil && s.extractor != nil && s.client.Ready(ctx) {
		result, err := s.scoreWithPredictor(ctx, item)
		if err == nil {
			return result, nil
		}
		log.Printf("[priority] ml prediction failed for item %s, falling back to rules: %v", item.ID, err)
	}
	return s.ScoreWithRules(ctx, item)
}

func (s *Scorer) scoreWithPredictor(ctx context.Context, item models.WorkflowItem) (Result, error) {
	features, err := s.extractor.Extract(ctx, item)
	if err != nil {
		return Result{}, err
	}
	prediction, err := s.client.Predict(ctx, features)
	if err != nil {
		return Result{}, err
	}
	if prediction.Score < 0 || prediction.Score > 100 {
		return Result{}, fmt.Errorf("predictor score %d out of range", prediction.Score)
	}

	status, err := s.clock.Status(ctx, item)
	if err != nil {
		return Result{}, err
	}

	level := prediction.Level
	if level == "" {
		level = string(LevelFor(prediction.Score))
	}
	result := Result{
		Score:       prediction.Score,
		Level:       Level(level),
		Method:      MethodML,
		SLAStatus:   status,
		Probability: prediction.Probability,
		ModelID:     prediction.ModelID,
		Explanation: prediction.Explanation,
	}
	if n := len(prediction.Explanation); n > 0 {
		if n > 2 {
			n = 2
		}
		result.TopFactors = prediction.Explanation[:n]
	}
	s.logPrediction(ctx, item.ID, result, features)
	return result, nil
}

// ScoreWithRules computes the weighted-factor score. Order-independent:
// the result is the rounded weighted mean over active factors, 0 when no
// factor is active or all weights are zero.
func (s *Scorer) ScoreWithRules(ctx context.Context, item models.WorkflowItem) (Result, error) {
	factors, err := s.store.ListActiveFactors(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load priority factors: %w", err)
	}

	status, err := s.clock.Status(ctx, item)
	if err != nil {
		return Result{}, err
	}

	var (
		totalWeighted float64
		totalWeight   float64
		breakdown     []FactorContribution
	)
	now := s.now()
	for _, factor := range factors {
		rawValue := extractValue(item, factor.FactorID, status, now)
		score := factor.ValueMappings[rawValue]
		weighted := float64(score) * factor.Weight

		totalWeighted += weighted
		totalWeight += factor.Weight
		breakdown = append(breakdown, FactorContribution{
			FactorID:     factor.FactorID,
			Factor:       factor.DisplayName,
			Value:        rawValue,
			Score:        score,
			Weight:       factor.Weight,
			Contribution: weighted,
		})
	}

	finalScore := 0
	if totalWeight > 0 {
		finalScore = int(math.Round(totalWeighted / totalWeight))
	}

	sort.Slice(breakdown, func(i, j int) bool { return breakdown[i].Contribution > breakdown[j].Contribution })

	var top []string
	for i := 0; i < len(breakdown) && i < 2; i++ {
		top = append(top, fmt.Sprintf("%s: %s", breakdown[i].Factor, breakdown[i].Value))
	}

	return Result{
		Score:      finalScore,
		Level:      LevelFor(finalScore),
		Method:     MethodRules,
		Breakdown:  breakdown,
		SLAStatus:  status,
		TopFactors: top,
	}, nil
}

// ScoreBatch scores items one by one, pairing each with its result.
type ScoredItem struct {
	Item   models.WorkflowItem `json:"item"`
	Result Result              `json:"priority"`
}

func (s *Scorer) ScoreBatch(ctx context.Context, items []models.WorkflowItem) ([]ScoredItem, error) {
	scored := make([]ScoredItem, 0, len(items))
	for _, item := range items {
		result, err := s.Score(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("score item %s: %w", item.ID, err)
		}
		scored = append(scored, ScoredItem{Item: item, Result: result})
	}
	return scored, nil
}

// extractValue maps a factor id to the item's raw value for that factor.
// Unknown factor ids fall back to reading known fields directly off the
// item, stringified, and "0" when nothing matches.
func extractValue(item models.WorkflowItem, factorID string, status sla.Status, now time.Time) string {
	switch factorID {
	case "sla_status":
		return string(status.Status)
	case "external_deadline":
		return sla.DeadlineBucket(item.ExternalDeadline, now)
	case "pie_status":
		if item.IsPIE {
			return "Yes"
		}
		return "No"
	case "international_operations":
		if item.IsInternational {
			return "1"
		}
		return "0"
	case "service_type":
		if item.ServiceType == "" {
			return "Other"
		}
		return item.ServiceType
	case "escalation_count":
		if item.EscalationCount >= 3 {
			return "3+"
		}
		return strconv.Itoa(item.EscalationCount)
	case "workflow_stage":
		return item.WorkflowStage
	default:
		return "0"
	}
}

func (s *Scorer) logPrediction(ctx context.Context, itemID string, result Result, features predictor.Features) {
	snapshot, err := json.Marshal(features)
	if err != nil {
		snapshot = nil
	}
	rec := models.PredictionRecord{
		ItemID:   itemID,
		Score:    result.Score,
		Level:    string(result.Level),
		Method:   result.Method,
		ModelID:  result.ModelID,
		Features: snapshot,
	}
	if err := s.store.InsertPrediction(ctx, &rec); err != nil {
		log.Printf("[priority] prediction log write failed for item %s: %v", itemID, err)
	}
}
