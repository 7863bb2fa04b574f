package dispatch

// sequencer hands out monotonically increasing per-device sequence
// numbers, held in memory only. Wraps silently at 2^64-1: devices MUST
// NOT reject on wrap, and this coordinator never widens beyond 64 bits.
type sequencer struct {
	next map[string]uint64
}

func newSequencer() *sequencer {
	return &sequencer{next: make(map[string]uint64)}
}

// allocate returns the next sequence number for deviceID and advances
// the counter, wrapping from 2^64-1 back to 0.
func (s *sequencer) allocate(deviceID string) uint64 {
	seq := s.next[deviceID]
	s.next[deviceID] = seq + 1 // unsigned wraparound is well-defined in Go
	return seq
}
