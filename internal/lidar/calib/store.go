package calib

import "sync/atomic"

// Store publishes the active calibration Table. Decoders read it once per
// packet; Swap replaces it without blocking readers.
type Store struct {
	table atomic.Pointer[Table]
}

// NewStore returns a Store holding t, which may be nil.
func NewStore(t *Table) *Store {
	s := &Store{}
	if t != nil {
		s.table.Store(t)
	}
	return s
}

// Load returns the current table, or nil when none has been loaded.
func (s *Store) Load() *Table {
	return s.table.Load()
}

// Swap installs t and returns the previous table.
func (s *Store) Swap(t *Table) *Table {
	return s.table.Swap(t)
}
