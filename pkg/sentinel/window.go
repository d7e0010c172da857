package sentinel

import "time"

// Window is a fixed-size ring keeping the most recent timestamps pushed into it.
type Window struct {
	buf   []time.Time
	start int
	size  int
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{buf: make([]time.Time, capacity)}
}

// Push appends ts, evicting the oldest entry when full.
func (w *Window) Push(ts time.Time) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = ts
		w.size++
		return
	}
	w.buf[w.start] = ts
	w.start = (w.start + 1) % len(w.buf)
}

func (w *Window) Len() int { return w.size }

func (w *Window) Cap() int { return len(w.buf) }

// Oldest returns the earliest pushed entry still retained.
func (w *Window) Oldest() time.Time {
	if w.size == 0 {
		return time.Time{}
	}
	return w.buf[w.start]
}

// Newest returns the last pushed entry.
func (w *Window) Newest() time.Time {
	if w.size == 0 {
		return time.Time{}
	}
	return w.buf[(w.start+w.size-1)%len(w.buf)]
}
