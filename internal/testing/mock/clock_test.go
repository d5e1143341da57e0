package mock

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}

	before := time.Now()
	clockTime := clock.Now()
	after := time.Now()

	if clockTime.Before(before) || clockTime.After(after) {
		t.Errorf("RealClock.Now() returned time outside expected range")
	}
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if !clock.Now().Equal(start) {
		t.Errorf("Expected time %v, got %v", start, clock.Now())
	}

	clock.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !clock.Now().Equal(want) {
		t.Errorf("Expected time %v after Advance, got %v", want, clock.Now())
	}

	later := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock.Set(later)
	if !clock.Now().Equal(later) {
		t.Errorf("Expected time %v after Set, got %v", later, clock.Now())
	}
}

func TestNewMockClock_ZeroUsesNow(t *testing.T) {
	clock := NewMockClock(time.Time{})
	if clock.Now().IsZero() {
		t.Error("Expected zero time to be replaced by the current time")
	}
}
