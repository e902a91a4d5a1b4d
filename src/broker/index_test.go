package broker

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func TestIsOpenLSE(t *testing.T) {
	h := NewHoursChecker()
	london := mustLoc(t, "Europe/London")

	// Wednesday mid-session.
	if !h.IsOpen("LSE", time.Date(2024, 6, 12, 12, 0, 0, 0, london)) {
		t.Fatalf("LSE must be open Wednesday noon")
	}
	// Before the bell and after the close.
	if h.IsOpen("LSE", time.Date(2024, 6, 12, 7, 59, 0, 0, london)) {
		t.Fatalf("LSE must be closed at 07:59")
	}
	if h.IsOpen("LSE", time.Date(2024, 6, 12, 16, 31, 0, 0, london)) {
		t.Fatalf("LSE must be closed at 16:31")
	}
	// Saturday.
	if h.IsOpen("LSE", time.Date(2024, 6, 15, 12, 0, 0, 0, london)) {
		t.Fatalf("LSE must be closed on Saturday")
	}
}

func TestIsOpenConvertsTimezone(t *testing.T) {
	h := NewHoursChecker()
	// 08:30 UTC in summer is 10:30 in Berlin, inside the XETRA session.
	at := time.Date(2024, 6, 12, 8, 30, 0, 0, time.UTC)
	if !h.IsOpen("XETRA", at) {
		t.Fatalf("XETRA must be open at 10:30 local")
	}
}

func TestIsOpenUnknownExchange(t *testing.T) {
	h := NewHoursChecker()
	if h.IsOpen("NYSE", time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)) {
		t.Fatalf("unknown exchange must read closed")
	}
}

func TestNextOpenSkipsWeekend(t *testing.T) {
	h := NewHoursChecker()
	london := mustLoc(t, "Europe/London")

	// Friday 18:00: next session is Monday 08:00.
	friday := time.Date(2024, 6, 14, 18, 0, 0, 0, london)
	next := h.NextOpen("LSE", friday)
	want := time.Date(2024, 6, 17, 8, 0, 0, 0, london)
	if !next.Equal(want) {
		t.Fatalf("NextOpen = %v, want %v", next, want)
	}
	// During the session NextOpen is now.
	open := time.Date(2024, 6, 12, 12, 0, 0, 0, london)
	if got := h.NextOpen("LSE", open); !got.Equal(open) {
		t.Fatalf("NextOpen during session = %v, want %v", got, open)
	}
}
