package session

import "sync/atomic"

// SeqGen hands out packet IDs for one sender run, starting at 0.
type SeqGen struct {
	val atomic.Int32
}

// Next returns the next ID.
func (s *SeqGen) Next() int32 {
	return s.val.Add(1) - 1
}

// Issued returns how many IDs have been handed out.
func (s *SeqGen) Issued() int {
	return int(s.val.Load())
}
