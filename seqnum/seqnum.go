// Package seqnum provides wrapping arithmetic on 32-bit TCP sequence
// numbers. A naive "<" comparison is wrong once a connection has sent
// more than 2^31 bytes, so every comparison in this module goes through
// the wrapping predicates defined here instead.
package seqnum

// Value is a sequence number taken modulo 2^32.
type Value uint32

// Size is a distance between two sequence numbers, also modulo 2^32.
type Size uint32

// Add returns the sequence number delta past v.
func (v Value) Add(delta Size) Value {
	return Value(uint32(v) + uint32(delta))
}

// Size returns the wrapping distance from v to w, i.e. the number of
// sequence numbers from v up to but not including w.
func (v Value) Size(w Value) Size {
	return Size(uint32(w) - uint32(v))
}

// Sub returns the sequence number delta before v.
func (v Value) Sub(delta Size) Value {
	return Value(uint32(v) - uint32(delta))
}

// LessThan reports whether v is strictly "before" w on the sequence
// ring, assuming the true distance between them is less than 2^31.
// This is the sole means of comparing sequence numbers; a plain "<"
// must never appear in this codebase.
func (v Value) LessThan(w Value) bool {
	return uint32(v-w) > 1<<31
}

// LessThanEq reports whether v equals w or is LessThan w.
func (v Value) LessThanEq(w Value) bool {
	return v == w || v.LessThan(w)
}

// InWindow reports whether x falls in the open interval (start, end) on
// the sequence ring.
func InWindow(start, x, end Value) bool {
	return start.LessThan(x) && x.LessThan(end)
}
