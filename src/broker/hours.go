package broker

import (
	"sync"
	"time"
)

// ===============================================================================
// Exchange trading hours
// ===============================================================================

type sessionHours struct {
	tz        string
	openHour  int
	openMin   int
	closeHour int
	closeMin  int
}

// Regular sessions per listing exchange. Holidays are not modelled; weekend
// closure is.
var sessions = map[string]sessionHours{
	"LSE":   {tz: "Europe/London", openHour: 8, closeHour: 16, closeMin: 30},
	"XETRA": {tz: "Europe/Berlin", openHour: 9, closeHour: 17, closeMin: 30},
	"BIT":   {tz: "Europe/Rome", openHour: 9, closeHour: 17, closeMin: 30},
	"SIX":   {tz: "Europe/Zurich", openHour: 9, closeHour: 17, closeMin: 30},
}

// HoursChecker answers whether a listing exchange is currently in its regular
// trading session. Location handles are cached after first load.
type HoursChecker struct {
	mu   sync.Mutex
	locs map[string]*time.Location
}

func NewHoursChecker() *HoursChecker {
	return &HoursChecker{locs: make(map[string]*time.Location)}
}

// IsOpen reports whether the exchange trades at the given instant. Unknown
// exchanges are treated as closed.
func (h *HoursChecker) IsOpen(exchange string, at time.Time) bool {
	sess, ok := sessions[exchange]
	if !ok {
		return false
	}
	loc, err := h.location(sess.tz)
	if err != nil {
		return false
	}
	local := at.In(loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	open := sess.openHour*60 + sess.openMin
	end := sess.closeHour*60 + sess.closeMin
	return minutes >= open && minutes <= end
}

// NextOpen returns the next instant the exchange opens at or after the given
// time, skipping weekends. Returns the zero time for unknown exchanges.
func (h *HoursChecker) NextOpen(exchange string, at time.Time) time.Time {
	sess, ok := sessions[exchange]
	if !ok {
		return time.Time{}
	}
	loc, err := h.location(sess.tz)
	if err != nil {
		return time.Time{}
	}
	if h.IsOpen(exchange, at) {
		return at
	}
	local := at.In(loc)
	for i := 0; i < 8; i++ {
		day := local.AddDate(0, 0, i)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), sess.openHour, sess.openMin, 0, 0, loc)
		if !open.Before(local) {
			return open
		}
	}
	return time.Time{}
}

func (h *HoursChecker) location(tz string) (*time.Location, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if loc, ok := h.locs[tz]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	h.locs[tz] = loc
	return loc, nil
}
