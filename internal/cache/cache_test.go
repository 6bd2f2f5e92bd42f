package cache

import "testing"

// These exercise only the pure key-format helpers. A *Client round-trip
// needs a live redis instance, which isn't available in this environment;
// the processors treat a nil/disconnected client as cold-cache (spec §9),
// so the helpers are what's safe to pin down here.

func TestPositionKeyIsStableAndDistinctPerCoin(t *testing.T) {
	a := PositionKey("0xabc", "BTC")
	b := PositionKey("0xabc", "BTC")
	if a != b {
		t.Errorf("PositionKey not stable: %q vs %q", a, b)
	}

	c := PositionKey("0xabc", "ETH")
	if a == c {
		t.Error("expected different coins to produce different keys")
	}

	d := PositionKey("0xdef", "BTC")
	if a == d {
		t.Error("expected different traders to produce different keys")
	}
}

func TestWhaleDedupKeyIncludesAllFourComponents(t *testing.T) {
	base := WhaleDedupKey("0xabc", "BTC", "increase", "1000000")

	variants := map[string]string{
		"trader":   WhaleDedupKey("0xdef", "BTC", "increase", "1000000"),
		"coin":     WhaleDedupKey("0xabc", "ETH", "increase", "1000000"),
		"action":   WhaleDedupKey("0xabc", "BTC", "decrease", "1000000"),
		"bucket":   WhaleDedupKey("0xabc", "BTC", "increase", "5000000"),
	}
	for field, v := range variants {
		if v == base {
			t.Errorf("expected varying %s to change the key, got identical %q", field, v)
		}
	}
}

func TestLeaderboardKeyIsConstant(t *testing.T) {
	if LeaderboardKey() != LeaderboardKey() {
		t.Error("expected LeaderboardKey to be a stable constant key")
	}
	if LeaderboardKey() == "" {
		t.Error("expected a non-empty leaderboard key")
	}
}
