package ratelimit

import (
	"testing"
	"time"
)

func TestNewStartsInNormalStateWithDefaultMultiplier(t *testing.T) {
	m := New()
	if got := m.Current(); got != StateNormal {
		t.Errorf("Current() = %v, want StateNormal", got)
	}
	if got := m.DelayMultiplier(); got != 1.0 {
		t.Errorf("DelayMultiplier() = %v, want 1.0", got)
	}
}

func TestReportErrorTransitionsToSlowingThenRecovering(t *testing.T) {
	m := New(WithErrorThreshold(2), WithMaxErrorCount(4))

	m.ReportError()
	if got := m.Current(); got != StateNormal {
		t.Fatalf("after 1 error: Current() = %v, want StateNormal", got)
	}

	m.ReportError()
	if got := m.Current(); got != StateSlowing {
		t.Fatalf("after 2 errors: Current() = %v, want StateSlowing", got)
	}
	if got := m.DelayMultiplier(); got != 2.0 {
		t.Errorf("DelayMultiplier() in slowing = %v, want 2.0", got)
	}

	m.ReportError()
	m.ReportError()
	if got := m.Current(); got != StateRecovering {
		t.Fatalf("after 4 errors: Current() = %v, want StateRecovering", got)
	}
	if got := m.DelayMultiplier(); got != 4.0 {
		t.Errorf("DelayMultiplier() in recovering = %v, want 4.0", got)
	}
}

func TestReportSuccessDoesNotRecoverBeforeRecoveryWindowOrStreak(t *testing.T) {
	m := New(WithErrorThreshold(1), WithMaxErrorCount(2), WithRecoveryTime(time.Hour))

	m.ReportError()
	m.ReportError()
	if got := m.Current(); got != StateRecovering {
		t.Fatalf("Current() = %v, want StateRecovering", got)
	}

	for i := 0; i < 10; i++ {
		m.ReportSuccess()
	}
	if got := m.Current(); got != StateRecovering {
		t.Errorf("Current() = %v, want still StateRecovering (recovery window hasn't elapsed)", got)
	}
}

func TestReportSuccessRecoversAfterWindowAndStreak(t *testing.T) {
	m := New(WithErrorThreshold(1), WithMaxErrorCount(1), WithRecoveryTime(time.Millisecond))

	m.ReportError()
	if got := m.Current(); got != StateRecovering {
		t.Fatalf("Current() = %v, want StateRecovering", got)
	}

	time.Sleep(5 * time.Millisecond)
	for i := 0; i < 5; i++ {
		m.ReportSuccess()
	}
	if got := m.Current(); got != StateNormal {
		t.Errorf("Current() = %v, want StateNormal after recovery window + success streak", got)
	}
}
