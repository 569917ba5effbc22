package dedup

import (
	"time"

	"firestige.xyz/shredrelay/internal/core"
)

// DefaultRotateInterval is how often owners rotate their window.
const DefaultRotateInterval = 15 * time.Second

// Window remembers hashes seen during the last one to two rotation periods.
//
// A Window has exactly one owner goroutine; it is not safe for concurrent use.
// Lookups consult the current generation only, inserts go to both, and
// Rotate promotes the preparing generation and starts a fresh one.
type Window struct {
	current   map[uint64]core.Source
	preparing map[uint64]core.Source
}

// NewWindow returns an empty window.
func NewWindow() *Window {
	return &Window{
		current:   make(map[uint64]core.Source),
		preparing: make(map[uint64]core.Source),
	}
}

// Contains reports whether hash is in the current generation.
func (w *Window) Contains(hash uint64) bool {
	_, ok := w.current[hash]
	return ok
}

// Observe records hash as first seen from source. It returns false, without
// modifying the window, when hash is already present.
func (w *Window) Observe(hash uint64, source core.Source) bool {
	if _, ok := w.current[hash]; ok {
		return false
	}
	w.current[hash] = source
	w.preparing[hash] = source
	return true
}

// FirstSeen returns the source that first produced hash in the current generation.
func (w *Window) FirstSeen(hash uint64) (core.Source, bool) {
	s, ok := w.current[hash]
	return s, ok
}

// Rotate swaps the generations and clears the new preparing one.
func (w *Window) Rotate() {
	w.current, w.preparing = w.preparing, w.current
	clear(w.preparing)
}

// Len returns the size of the current generation.
func (w *Window) Len() int {
	return len(w.current)
}
