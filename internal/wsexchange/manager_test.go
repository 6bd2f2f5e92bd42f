package wsexchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDiscriminatorMatchesConstrainedFieldsOnly(t *testing.T) {
	d := discriminator{Coin: "BTC", Interval: "1m"}

	if !d.matches(ChannelSpec{Type: "candle", Coin: "BTC", Interval: "1m"}) {
		t.Error("expected exact coin+interval match")
	}
	if d.matches(ChannelSpec{Type: "candle", Coin: "ETH", Interval: "1m"}) {
		t.Error("expected mismatch on coin")
	}
	if d.matches(ChannelSpec{Type: "candle", Coin: "BTC", Interval: "5m"}) {
		t.Error("expected mismatch on interval")
	}
	// A spec with no coin constraint (e.g. allMids) matches anything.
	if !d.matches(ChannelSpec{Type: "allMids"}) {
		t.Error("expected an unconstrained spec to match any discriminator")
	}
}

func TestDiscriminatorFallsBackToSymbolField(t *testing.T) {
	d := discriminator{Symbol: "ETH"}
	if !d.matches(ChannelSpec{Type: "candle", Coin: "ETH"}) {
		t.Error("expected the candle 's' field to satisfy a Coin-constrained spec")
	}
}

func TestDiscriminatorUserMatchIsCaseInsensitive(t *testing.T) {
	d := discriminator{User: "0xABCDEF"}
	if !d.matches(ChannelSpec{Type: "user", User: "0xabcdef"}) {
		t.Error("expected case-insensitive user match")
	}
}

// newEchoServer starts a WS server that pushes every fixture frame once,
// right after the connection is upgraded, whatever the client subscribed
// to, letting tests drive readLoop's dispatch end-to-end.
func newEchoServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Drain and ignore subscribe frames sent by the client; push the
		// canned frames once, then keep the connection open so the
		// manager's heartbeat ping doesn't trip a reconnect mid-test.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		<-r.Context().Done()
	}))
	return srv
}

func TestManagerDispatchesFramesToTheMatchingHandlerOnly(t *testing.T) {
	btcCandle := `{"channel":"candle","data":{"s":"BTC","i":"1m","c":"100"}}`
	ethCandle := `{"channel":"candle","data":{"s":"ETH","i":"1m","c":"200"}}`
	allMids := `{"channel":"allMids","data":{"mids":{"BTC":"100"}}}`

	srv := newEchoServer(t, []string{btcCandle, ethCandle, allMids})
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	m := New(Options{
		URL:                  wsURL,
		HeartbeatInterval:    time.Hour,
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    time.Millisecond,
		ReconnectMaxAttempts: 1,
	})

	var mu sync.Mutex
	var btcFrames, ethFrames, allMidsFrames int

	m.Subscribe(ChannelSpec{Type: "candle", Coin: "BTC", Interval: "1m"}, func(raw []byte) {
		mu.Lock()
		btcFrames++
		mu.Unlock()
	})
	m.Subscribe(ChannelSpec{Type: "candle", Coin: "ETH", Interval: "1m"}, func(raw []byte) {
		mu.Lock()
		ethFrames++
		mu.Unlock()
	})
	m.Subscribe(ChannelSpec{Type: "allMids"}, func(raw []byte) {
		mu.Lock()
		allMidsFrames++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := btcFrames == 1 && ethFrames == 1 && allMidsFrames == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if btcFrames != 1 {
		t.Errorf("btcFrames = %d, want exactly 1 (not the ETH candle too)", btcFrames)
	}
	if ethFrames != 1 {
		t.Errorf("ethFrames = %d, want exactly 1", ethFrames)
	}
	if allMidsFrames != 1 {
		t.Errorf("allMidsFrames = %d, want exactly 1", allMidsFrames)
	}
}

func TestSubscribeAndUnsubscribeMaintainBareTypeHandlerList(t *testing.T) {
	m := New(Options{URL: "ws://unused"})

	specBTC := ChannelSpec{Type: "candle", Coin: "BTC", Interval: "1m"}
	specETH := ChannelSpec{Type: "candle", Coin: "ETH", Interval: "1m"}

	m.Subscribe(specBTC, func(raw []byte) {})
	m.Subscribe(specETH, func(raw []byte) {})

	if got := len(m.hand["candle"]); got != 2 {
		t.Fatalf("hand[candle] has %d entries, want 2", got)
	}

	m.Unsubscribe(specBTC)

	entries := m.hand["candle"]
	if len(entries) != 1 {
		t.Fatalf("hand[candle] has %d entries after unsubscribe, want 1", len(entries))
	}
	if entries[0].spec.Coin != "ETH" {
		t.Errorf("remaining entry = %+v, want the ETH subscription", entries[0].spec)
	}

	if _, stillTracked := m.subs[specBTC.Key()]; stillTracked {
		t.Error("expected the composite-keyed subs map to drop the unsubscribed spec too")
	}
}

func TestChannelSpecKeyIsStableForReplayBookkeeping(t *testing.T) {
	a := ChannelSpec{Type: "user", User: "0xabc"}
	b := ChannelSpec{Type: "user", User: "0xabc"}
	if a.Key() != b.Key() {
		t.Error("expected identical specs to produce identical keys")
	}

	c := ChannelSpec{Type: "user", User: "0xdef"}
	if a.Key() == c.Key() {
		t.Error("expected different users to produce different keys")
	}
}
