package config

import "sync/atomic"

// Holder publishes configuration snapshots atomically. Readers call Get once
// per request and keep that snapshot for the request's whole duration; a
// reload stores a new pointer without disturbing readers.
type Holder struct {
	p atomic.Pointer[Snapshot]
}

// NewHolder creates a holder with an initial snapshot.
func NewHolder(s *Snapshot) *Holder {
	h := &Holder{}
	h.p.Store(s)
	return h
}

// Get returns the current snapshot.
func (h *Holder) Get() *Snapshot { return h.p.Load() }

// Store publishes a new snapshot.
func (h *Holder) Store(s *Snapshot) { h.p.Store(s) }
