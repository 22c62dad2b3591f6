// Package events defines the escalation event sink consumed by the breach
// monitor and its Kafka-backed implementation.
package events

import (
	"context"
	"log"
	"sync"
	"time"
)

// Type is the escalation event kind.
type Type string

const (
	TypeWarning  Type = "WARNING"
	TypeCritical Type = "CRITICAL"
	TypeBreach   Type = "BREACH"
	TypeResolved Type = "RESOLVED"
)

// Payload carries the item context of one escalation or resolution.
type Payload struct {
	ItemID         string    `json:"itemId"`
	WorkflowStage  string    `json:"workflowStage"`
	TargetHours    float64   `json:"targetHours,omitempty"`
	ActualHours    float64   `json:"actualHours,omitempty"`
	HoursRemaining float64   `json:"hoursRemaining,omitempty"`
	PercentUsed    int       `json:"percentUsed,omitempty"`
	BreachTime     time.Time `json:"breachTime,omitempty"`
	RequesterID    string    `json:"requesterId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sink receives escalation notifications. Delivery is fire-and-forget
// from the monitor's point of view: a sink failure is logged, never
// propagated into the evaluation pass.
type Sink interface {
	Emit(ctx context.Context, eventType Type, payload Payload) error
}

// LogSink writes events to the process log. Default sink when no broker
// is configured.
type LogSink struct{}

func (LogSink) Emit(ctx context.Context, eventType Type, payload Payload) error {
	log.Printf("[events] %s item=%s stage=%q target=%.1fh actual=%.1fh", eventType, payload.ItemID, payload.WorkflowStage, payload.TargetHours, payload.ActualHours)
	return nil
}

// MemorySink records events in memory. Test helper.
type MemorySink struct {
	mu     sync.Mutex
	events []RecordedEvent
}

type RecordedEvent struct {
	Type    Type
	Payload Payload
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Emit(ctx context.Context, eventType Type, payload Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, RecordedEvent{Type: eventType, Payload: payload})
	return nil
}

func (m *MemorySink) Events() []RecordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedEvent(nil), m.events...)
}
