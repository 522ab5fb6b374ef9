package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid file events so a file being written in
// several chunks triggers one import, not many. Events for the same
// path within the window are merged; the batch is emitted once the
// window passes without new events.
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]time.Time
	timer   *time.Timer
	output  chan []string
	stopped bool
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]time.Time),
		output:  make(chan []string, 8),
	}
}

// Add records a path event and (re)arms the flush timer.
func (d *Debouncer) Add(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending[path] = time.Now()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}
	paths := make([]string, 0, len(d.pending))
	for p := range d.pending {
		paths = append(paths, p)
	}
	d.pending = make(map[string]time.Time)

	select {
	case d.output <- paths:
	default:
		// Receiver is behind; re-queue and retry after another window.
		for _, p := range paths {
			d.pending[p] = time.Now()
		}
		d.timer = time.AfterFunc(d.window, d.flush)
	}
}

// Output returns the channel of debounced path batches.
func (d *Debouncer) Output() <-chan []string {
	return d.output
}

// Stop stops the debouncer and closes the output channel. Safe to call
// multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
