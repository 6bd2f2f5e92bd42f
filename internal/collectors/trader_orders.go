package collectors

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/events"
)

// orderAction classifies a diffed order (spec §4.2 Trader-orders collector).
type orderAction string

const (
	orderNew       orderAction = "new"
	orderFilled    orderAction = "filled"
	orderCancelled orderAction = "cancelled"
	orderClosed    orderAction = "closed"
)

// TraderOrderEvent is the trader_order payload.
type TraderOrderEvent struct {
	TraderAddress string
	OrderID       string
	Coin          string
	Action        orderAction
	Price         float64
	Size          float64
	Time          time.Time
}

// TraderOrdersCollector derives order events by diffing the current open-
// order set against the previously observed one, keyed by order_id, per
// trader. It does not own a WS subscription itself — it is fed frames by
// TraderPositionsCollector, which shares the user-channel (spec §4.2).
type TraderOrdersCollector struct {
	bus     Publisher
	metrics *Metrics
	source  string

	mu     sync.Mutex
	prev   map[string]map[int64]rawOrder  // trader -> order_id -> last seen order
	status map[string]map[int64]string    // trader -> order_id -> last status reported on orderUpdates
}

// rawOrderStatusUpdate is one entry of the orderUpdates channel push, the
// status-transition feed Hyperliquid delivers alongside openOrders
// (grounded on dwdwow/hl-go's WsOrder{Order, Status, StatusTimestamp}).
// openOrders itself never carries a terminal status, so fill/cancel
// detection reads this feed instead (spec §9 Open Question 5).
type rawOrderStatusUpdate struct {
	Order  rawOrder `json:"order"`
	Status string   `json:"status"`
}

// NewTraderOrdersCollector constructs a standalone orders collector; wire
// it into NewTraderPositionsCollector to receive frames.
func NewTraderOrdersCollector(bus Publisher) *TraderOrdersCollector {
	return &TraderOrdersCollector{
		bus:     bus,
		metrics: NewMetrics("trader_orders_collector"),
		source:  "trader_orders_collector",
		prev:    make(map[string]map[int64]rawOrder),
		status:  make(map[string]map[int64]string),
	}
}

// handleStatusUpdate records the latest status Hyperliquid reported for an
// order on the orderUpdates channel, consumed the next time that order
// disappears from the open set (see handle below).
func (c *TraderOrdersCollector) handleStatusUpdate(address string, raw []byte) {
	var updates []rawOrderStatusUpdate
	if err := json.Unmarshal(raw, &updates); err != nil {
		return
	}

	c.mu.Lock()
	m, ok := c.status[address]
	if !ok {
		m = make(map[int64]string)
		c.status[address] = m
	}
	for _, u := range updates {
		m[u.Order.OID] = u.Status
	}
	c.mu.Unlock()
}

// resolveVanishedAction classifies an order that dropped out of the open
// set using the most recent orderUpdates status seen for it, falling back
// to closed when no transition was observed (spec §9 Open Question 5).
func resolveVanishedAction(status string) orderAction {
	s := strings.ToLower(status)
	switch {
	case strings.Contains(s, "fill"):
		return orderFilled
	case strings.Contains(s, "cancel"):
		return orderCancelled
	default:
		return orderClosed
	}
}

func (c *TraderOrdersCollector) handle(address string, current []rawOrder) {
	c.metrics.IncReceived()

	curByID := make(map[int64]rawOrder, len(current))
	for _, o := range current {
		curByID[o.OID] = o
	}

	c.mu.Lock()
	prevByID, ok := c.prev[address]
	if !ok {
		prevByID = make(map[int64]rawOrder)
	}
	c.prev[address] = curByID
	c.mu.Unlock()

	now := time.Now().UTC()
	emitted := 0

	for oid, o := range curByID {
		if _, existed := prevByID[oid]; !existed {
			c.emit(address, o, orderNew, now)
			emitted++
		}
	}
	c.mu.Lock()
	statusByID := c.status[address]
	c.mu.Unlock()

	for oid, o := range prevByID {
		if _, stillOpen := curByID[oid]; !stillOpen {
			action := orderClosed
			if status, ok := statusByID[oid]; ok {
				action = resolveVanishedAction(status)
			}
			c.emit(address, o, action, now)
			emitted++

			c.mu.Lock()
			delete(c.status[address], oid)
			c.mu.Unlock()
		}
	}

	if emitted > 0 {
		c.metrics.IncProcessed()
	} else {
		c.metrics.IncFiltered()
	}
}

func (c *TraderOrdersCollector) emit(address string, o rawOrder, action orderAction, t time.Time) {
	px, _ := strconv.ParseFloat(o.Px, 64)
	sz, _ := strconv.ParseFloat(o.Sz, 64)

	ev := &TraderOrderEvent{
		TraderAddress: address,
		OrderID:       strconv.FormatInt(o.OID, 10),
		Coin:          o.Coin,
		Action:        action,
		Price:         px,
		Size:          sz,
		Time:          t,
	}
	event := events.New(events.TypeTraderOrder, c.source, ev)
	if c.bus.Publish(context.Background(), event, events.DefaultPriority) {
		c.metrics.IncEmitted()
	}
}

// Metrics returns a snapshot of the collector's counters.
func (c *TraderOrdersCollector) Metrics() Metrics { return c.metrics.Snapshot() }
