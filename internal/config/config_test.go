package config

import (
	"testing"
	"time"
)

func TestGetEnvOrDefaultFallsBackWhenUnset(t *testing.T) {
	if got := getEnvOrDefault("CONFIG_TEST_UNSET_KEY", "fallback"); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
}

func TestGetEnvOrDefaultUsesSetValue(t *testing.T) {
	t.Setenv("CONFIG_TEST_STR", "custom")
	if got := getEnvOrDefault("CONFIG_TEST_STR", "fallback"); got != "custom" {
		t.Errorf("got %q, want custom", got)
	}
}

func TestGetEnvIntParsesOrFallsBack(t *testing.T) {
	t.Setenv("CONFIG_TEST_INT", "42")
	if got := getEnvInt("CONFIG_TEST_INT", 1); got != 42 {
		t.Errorf("got %d, want 42", got)
	}

	t.Setenv("CONFIG_TEST_INT_BAD", "not-a-number")
	if got := getEnvInt("CONFIG_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("got %d, want fallback 7 for invalid input", got)
	}

	if got := getEnvInt("CONFIG_TEST_INT_MISSING", 3); got != 3 {
		t.Errorf("got %d, want fallback 3 for unset key", got)
	}
}

func TestGetEnvFloatParsesOrFallsBack(t *testing.T) {
	t.Setenv("CONFIG_TEST_FLOAT", "1.5")
	if got := getEnvFloat("CONFIG_TEST_FLOAT", 0); got != 1.5 {
		t.Errorf("got %v, want 1.5", got)
	}

	t.Setenv("CONFIG_TEST_FLOAT_BAD", "nope")
	if got := getEnvFloat("CONFIG_TEST_FLOAT_BAD", 2.5); got != 2.5 {
		t.Errorf("got %v, want fallback 2.5", got)
	}
}

func TestGetEnvBoolOnlyTrueStringIsTrue(t *testing.T) {
	t.Setenv("CONFIG_TEST_BOOL_TRUE", "true")
	if got := getEnvBool("CONFIG_TEST_BOOL_TRUE", false); !got {
		t.Error("expected true")
	}

	t.Setenv("CONFIG_TEST_BOOL_OTHER", "yes")
	if got := getEnvBool("CONFIG_TEST_BOOL_OTHER", true); got {
		t.Error("expected anything other than literal \"true\" to resolve false")
	}

	if got := getEnvBool("CONFIG_TEST_BOOL_MISSING", true); !got {
		t.Error("expected fallback true for unset key")
	}
}

func TestGetEnvDurationParsesSecondsAsFloat(t *testing.T) {
	t.Setenv("CONFIG_TEST_DURATION", "2.5")
	want := 2500 * time.Millisecond
	if got := getEnvDuration("CONFIG_TEST_DURATION", time.Second); got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	if got := getEnvDuration("CONFIG_TEST_DURATION_MISSING", 9*time.Second); got != 9*time.Second {
		t.Errorf("got %v, want fallback 9s", got)
	}
}

func TestGetEnvListSplitsAndTrimsCommaSeparatedValues(t *testing.T) {
	t.Setenv("CONFIG_TEST_LIST", " 1m, 5m ,15m")
	got := getEnvList("CONFIG_TEST_LIST", []string{"default"})
	want := []string{"1m", "5m", "15m"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGetEnvListFallsBackWhenUnsetOrEmptyAfterTrim(t *testing.T) {
	def := []string{"a", "b"}
	if got := getEnvList("CONFIG_TEST_LIST_MISSING", def); len(got) != 2 {
		t.Errorf("got %v, want default %v", got, def)
	}

	t.Setenv("CONFIG_TEST_LIST_BLANK", " , , ")
	if got := getEnvList("CONFIG_TEST_LIST_BLANK", def); len(got) != 2 {
		t.Errorf("got %v, want default %v for all-blank entries", got, def)
	}
}

func TestLoadFromEnvAppliesDefaultsWhenEnvironmentIsBare(t *testing.T) {
	cfg := LoadFromEnv()

	if cfg.Symbol.TargetSymbol != "BTC" {
		t.Errorf("TargetSymbol = %q, want BTC", cfg.Symbol.TargetSymbol)
	}
	if cfg.Connection.ExchangeWSURL == "" {
		t.Error("expected a non-empty default WS URL")
	}
	if cfg.Scheduler.TraderSelectionPeriod != time.Hour {
		t.Errorf("TraderSelectionPeriod = %v, want 1h", cfg.Scheduler.TraderSelectionPeriod)
	}
	if len(cfg.Collectors.CandleIntervals) == 0 {
		t.Error("expected default candle intervals to be non-empty")
	}
}

func TestLoadFromEnvHonorsOverrides(t *testing.T) {
	t.Setenv("TARGET_SYMBOL", "ETH")
	t.Setenv("RETENTION_TRADES_DAYS", "14")

	cfg := LoadFromEnv()
	if cfg.Symbol.TargetSymbol != "ETH" {
		t.Errorf("TargetSymbol = %q, want ETH", cfg.Symbol.TargetSymbol)
	}
	if cfg.Retention.Trades != 14 {
		t.Errorf("Retention.Trades = %d, want 14", cfg.Retention.Trades)
	}
}
