// Package logging wires zerolog for the assessment phases and collects
// non-fatal warnings for end-of-phase emission.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console logger. Verbose enables debug-level output.
func New(w io.Writer, verbose bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Warnings accumulates non-fatal conditions during a calculation phase and
// emits them once, deduplicated by message text. Safe for concurrent use by
// parallel performance-group workers.
type Warnings struct {
	mu      sync.Mutex
	order   []string
	seen    map[string]bool
	emitted map[string]bool
}

func NewWarnings() *Warnings {
	return &Warnings{seen: make(map[string]bool), emitted: make(map[string]bool)}
}

// Add records a warning; duplicates by message text are dropped.
func (w *Warnings) Add(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[msg] {
		return
	}
	w.seen[msg] = true
	w.order = append(w.order, msg)
}

// Emit logs every pending warning that has not been emitted before and
// clears the pending list.
func (w *Warnings) Emit(log zerolog.Logger) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, msg := range w.order {
		if w.emitted[msg] {
			continue
		}
		w.emitted[msg] = true
		log.Warn().Msg(msg)
	}
	w.order = nil
	w.seen = make(map[string]bool)
}

// Pending returns the not-yet-emitted warnings, for tests and reports.
func (w *Warnings) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}
