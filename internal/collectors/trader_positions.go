package collectors

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nofendian17/hl-whale-signal/internal/events"
	"github.com/nofendian17/hl-whale-signal/internal/wsexchange"
)

// rawUserFrame is the per-trader user-channel push: clearinghouse state
// plus open orders, the single stream trader-positions and trader-orders
// both read (spec §4.2: "shares the user-channel with positions").
type rawUserFrame struct {
	ClearinghouseState struct {
		MarginSummary struct {
			AccountValue    string `json:"accountValue"`
			TotalNtlPos     string `json:"totalNtlPos"`
			TotalMarginUsed string `json:"totalMarginUsed"`
		} `json:"marginSummary"`
		AssetPositions []struct {
			Position struct {
				Coin         string `json:"coin"`
				Szi          string `json:"szi"`
				EntryPx      string `json:"entryPx"`
				PositionValue string `json:"positionValue"`
				UnrealizedPnl string `json:"unrealizedPnl"`
				Leverage      struct {
					Value float64 `json:"value"`
				} `json:"leverage"`
				LiquidationPx string `json:"liquidationPx"`
				MarginUsed    string `json:"marginUsed"`
			} `json:"position"`
		} `json:"assetPositions"`
	} `json:"clearinghouseState"`
	OpenOrders []rawOrder `json:"openOrders"`
}

// rawOrder's Status carries Hyperliquid's order-status field when present
// (third-party clients such as dwdwow/hl-go's WsOrder.Status confirm the
// field name). It is empty on the openOrders list itself — Hyperliquid
// never reports a terminal status for an order still open — and nothing
// reads it: TraderOrdersCollector takes an order's terminal status from
// the separate orderUpdates feed (spec §9 Open Question 5).
type rawOrder struct {
	OID    int64  `json:"oid"`
	Coin   string `json:"coin"`
	Side   string `json:"side"`
	Px     string `json:"limitPx"`
	Sz     string `json:"sz"`
	Status string `json:"status,omitempty"`
}

// TraderPositionsCollector owns exactly one WS subscription per tracked
// trader (spec §4.2). Its AddTrader/RemoveTrader pair is the scoped
// mutation interface the leaderboard job drives (spec §5 shared-resource
// policy): the leaderboard job is the only caller.
type TraderPositionsCollector struct {
	mgr          *wsexchange.Manager
	bus          Publisher
	metrics      *Metrics
	source       string
	orders       *TraderOrdersCollector
	targetSymbol string

	mu      sync.Mutex
	tracked map[string]bool
}

// NewTraderPositionsCollector optionally chains an orders collector that
// reads the same raw frames (pass nil to run positions standalone).
// targetSymbol is the coin snapshots derive btc_exposure against (spec
// §4.2/§6: "the tracked symbol's signed size").
func NewTraderPositionsCollector(mgr *wsexchange.Manager, bus Publisher, orders *TraderOrdersCollector, targetSymbol string) *TraderPositionsCollector {
	return &TraderPositionsCollector{
		mgr:          mgr,
		bus:          bus,
		metrics:      NewMetrics("trader_positions_collector"),
		source:       "trader_positions_collector",
		orders:       orders,
		targetSymbol: targetSymbol,
		tracked:      make(map[string]bool),
	}
}

// AddTrader subscribes to one trader's user channel. Idempotent.
func (c *TraderPositionsCollector) AddTrader(address string) {
	addr, err := canonicalAddress(address)
	if err != nil {
		log.Printf("⚠️  trader_positions_collector: invalid address %q: %v", address, err)
		return
	}

	c.mu.Lock()
	if c.tracked[addr] {
		c.mu.Unlock()
		return
	}
	c.tracked[addr] = true
	c.mu.Unlock()

	c.mgr.Subscribe(wsexchange.ChannelSpec{Type: "user", User: addr}, func(raw []byte) {
		c.handle(addr, raw)
	})

	if c.orders != nil {
		c.mgr.Subscribe(wsexchange.ChannelSpec{Type: "orderUpdates", User: addr}, func(raw []byte) {
			c.orders.handleStatusUpdate(addr, raw)
		})
	}
}

// RemoveTrader unsubscribes from one trader's user channel. Idempotent.
func (c *TraderPositionsCollector) RemoveTrader(address string) {
	addr, err := canonicalAddress(address)
	if err != nil {
		return
	}

	c.mu.Lock()
	if !c.tracked[addr] {
		c.mu.Unlock()
		return
	}
	delete(c.tracked, addr)
	c.mu.Unlock()

	c.mgr.Unsubscribe(wsexchange.ChannelSpec{Type: "user", User: addr})
	if c.orders != nil {
		c.mgr.Unsubscribe(wsexchange.ChannelSpec{Type: "orderUpdates", User: addr})
	}
}

// canonicalAddress validates and EIP-55-checksums a trader address; a
// non-hex address is a protocol error, not a transient one.
func canonicalAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", errInvalidAddress(address)
	}
	return common.HexToAddress(address).Hex(), nil
}

type errInvalidAddress string

func (e errInvalidAddress) Error() string { return "invalid trader address: " + string(e) }

func (c *TraderPositionsCollector) handle(address string, raw []byte) {
	c.metrics.IncReceived()

	var frame rawUserFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("⚠️  trader_positions_collector: malformed frame: %v", err)
		c.metrics.IncFiltered()
		return
	}

	snap, err := toPositionsSnapshot(address, frame, c.targetSymbol)
	if err != nil {
		log.Printf("⚠️  trader_positions_collector: %v", err)
		c.metrics.IncFiltered()
		return
	}

	c.metrics.IncProcessed()
	ev := events.New(events.TypeTraderPositions, c.source, snap)
	if c.bus.Publish(context.Background(), ev, events.DefaultPriority) {
		c.metrics.IncEmitted()
	}

	if c.orders != nil {
		c.orders.handle(address, frame.OpenOrders)
	}
}

func toPositionsSnapshot(address string, frame rawUserFrame, targetSymbol string) (*events.TraderPositionsSnapshot, error) {
	accountValue, _ := strconv.ParseFloat(frame.ClearinghouseState.MarginSummary.AccountValue, 64)
	totalNotional, _ := strconv.ParseFloat(frame.ClearinghouseState.MarginSummary.TotalNtlPos, 64)
	marginUsed, _ := strconv.ParseFloat(frame.ClearinghouseState.MarginSummary.TotalMarginUsed, 64)

	positions := make([]events.Position, 0, len(frame.ClearinghouseState.AssetPositions))
	for _, ap := range frame.ClearinghouseState.AssetPositions {
		p := ap.Position
		size, _ := strconv.ParseFloat(p.Szi, 64)
		entry, _ := strconv.ParseFloat(p.EntryPx, 64)
		posValue, _ := strconv.ParseFloat(p.PositionValue, 64)
		pnl, _ := strconv.ParseFloat(p.UnrealizedPnl, 64)
		liqPx, _ := strconv.ParseFloat(p.LiquidationPx, 64)
		margin, _ := strconv.ParseFloat(p.MarginUsed, 64)

		positions = append(positions, events.Position{
			Coin:             p.Coin,
			Size:             size,
			EntryPrice:       entry,
			PositionValue:    posValue,
			UnrealizedPnL:    pnl,
			Leverage:         p.Leverage.Value,
			LiquidationPrice: liqPx,
			MarginUsed:       margin,
		})
	}

	snap := &events.TraderPositionsSnapshot{
		TraderAddress: address,
		AccountValue:  accountValue,
		TotalNotional: totalNotional,
		MarginUsed:    marginUsed,
		Positions:     positions,
		Time:          time.Now().UTC(),
	}
	snap.DeriveBTCExposure(targetSymbol)
	return snap, nil
}

// Metrics returns a snapshot of the collector's counters.
func (c *TraderPositionsCollector) Metrics() Metrics { return c.metrics.Snapshot() }

// Tracked reports the current subscribed trader set (read-only snapshot).
func (c *TraderPositionsCollector) Tracked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.tracked))
	for addr := range c.tracked {
		out = append(out, addr)
	}
	return out
}
