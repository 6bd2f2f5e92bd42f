// Package events defines StandardEvent, the sole inter-component message
// carried on the bus, and its per-type payloads (spec §3).
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates StandardEvent payloads.
type Type string

const (
	TypeTrade           Type = "trade"
	TypeTicker          Type = "ticker"
	TypeOrderBook       Type = "order_book"
	TypeOHLCV           Type = "ohlcv"
	TypeTraderPositions Type = "trader_positions"
	TypeTraderOrder     Type = "trader_order"
	TypePositionChange  Type = "position_change"
	TypeScoredTraders   Type = "scored_traders"
	TypeSignal          Type = "signal"
	TypeWhaleAlert      Type = "whale_alert"
	TypeOnchainMetric   Type = "onchain_metric"
	TypeLeaderboard     Type = "leaderboard"
	TypeHeartbeat       Type = "heartbeat"
	TypeError           Type = "error"
)

// DefaultPriority is used when a publisher does not specify one.
const DefaultPriority = 5

// StandardEvent is the sole inter-component message.
type StandardEvent struct {
	EventID          string
	EventType        Type
	Timestamp        time.Time
	Source           string
	Payload          interface{}
	CorrelationID    string
	ParentEventID    string
	Priority         int
	ProcessedAt      time.Time
	ProcessingTimeMs float64
}

// New builds a source event (no parent, correlation defaults to its own id
// unless the caller overrides it after construction).
func New(eventType Type, source string, payload interface{}) *StandardEvent {
	id := uuid.NewString()
	return &StandardEvent{
		EventID:       id,
		EventType:     eventType,
		Timestamp:     time.Now().UTC(),
		Source:        source,
		Payload:       payload,
		CorrelationID: id,
		Priority:      DefaultPriority,
	}
}

// Derive builds an event caused by parent, carrying its correlation_id
// forward and recording the back-pointer (spec §3 invariants).
func Derive(eventType Type, source string, payload interface{}, parent *StandardEvent) *StandardEvent {
	ev := New(eventType, source, payload)
	if parent != nil {
		ev.CorrelationID = parent.CorrelationID
		ev.ParentEventID = parent.EventID
	}
	return ev
}

// MarkProcessed stamps ProcessedAt/ProcessingTimeMs; timestamp <= processed_at
// and correlation_id != "" are invariants for every non-source event.
func (e *StandardEvent) MarkProcessed() {
	now := time.Now().UTC()
	e.ProcessedAt = now
	e.ProcessingTimeMs = float64(now.Sub(e.Timestamp).Microseconds()) / 1000.0
}
