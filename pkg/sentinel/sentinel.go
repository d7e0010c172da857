// Package sentinel decides how far back a channel has to be rescanned.
//
// The sentinel of a channel is the timestamp before which cached reactions are
// treated as final. It assumes nobody reacts to a message once it is both older than
// the last LookbackCount messages and more than LookbackDuration older than the newest
// message. That is a heuristic, not a guarantee.
package sentinel

import (
	"time"
)

const (
	DefaultLookbackCount    = 250
	DefaultLookbackDuration = 7 * 24 * time.Hour
)

// Tracker holds the lookback parameters.
type Tracker struct {
	LookbackCount    int
	LookbackDuration time.Duration
}

func NewTracker(count int, lookback time.Duration) Tracker {
	if count <= 0 {
		count = DefaultLookbackCount
	}
	if lookback < 0 {
		lookback = DefaultLookbackDuration
	}
	return Tracker{LookbackCount: count, LookbackDuration: lookback}
}

// NewWindow returns a window sized for the tracker.
func (t Tracker) NewWindow() *Window {
	count := t.LookbackCount
	if count <= 0 {
		count = DefaultLookbackCount
	}
	return NewWindow(count)
}

// Next computes min(oldest in window, newest - LookbackDuration).
// It reports false when the window is empty, in which case the sentinel must not move.
func (t Tracker) Next(w *Window) (time.Time, bool) {
	if w == nil || w.Len() == 0 {
		return time.Time{}, false
	}
	nth := w.Oldest()
	bound := w.Newest().Add(-t.LookbackDuration)
	if bound.Before(nth) {
		return bound, true
	}
	return nth, true
}

// ComputeNext runs the tracker over timestamps given oldest first.
func ComputeNext(timestamps []time.Time, count int, lookback time.Duration) (time.Time, bool) {
	t := Tracker{LookbackCount: count, LookbackDuration: lookback}
	w := t.NewWindow()
	for _, ts := range timestamps {
		w.Push(ts)
	}
	return t.Next(w)
}

// Clamp keeps sentinels non-decreasing: it returns next unless prev is later.
func Clamp(prev *time.Time, next time.Time) time.Time {
	if prev != nil && prev.After(next) {
		return *prev
	}
	return next
}
