package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_Now(t *testing.T) {
	fixedTime := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(fixedTime)

	if !clock.Now().Equal(fixedTime) {
		t.Errorf("got %v, want %v", clock.Now(), fixedTime)
	}

	clock.Advance(time.Minute)
	if want := fixedTime.Add(time.Minute); !clock.Now().Equal(want) {
		t.Errorf("after Advance got %v, want %v", clock.Now(), want)
	}
}

func TestMockTicker_FiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	clock.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}

	clock.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire after its interval elapsed")
	}
}

func TestMockTicker_Tick(t *testing.T) {
	clock := NewMockClock(time.Time{})
	ticker := clock.NewTicker(time.Hour)

	clock.Tick()
	select {
	case <-ticker.C():
	default:
		t.Fatal("Tick did not deliver")
	}

	// a slow receiver drops ticks instead of blocking the clock
	clock.Tick()
	clock.Tick()
	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("expected the second tick to be dropped")
	default:
	}
}

func TestMockTicker_Stop(t *testing.T) {
	clock := NewMockClock(time.Time{})
	ticker := clock.NewTicker(time.Millisecond)

	if got := clock.Tickers(); got != 1 {
		t.Fatalf("Tickers() = %d, want 1", got)
	}
	ticker.Stop()
	if got := clock.Tickers(); got != 0 {
		t.Fatalf("Tickers() after Stop = %d, want 0", got)
	}

	clock.Advance(time.Second)
	clock.Tick()
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
