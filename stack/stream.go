package stack

import "errors"

// errFlushPending is returned by Stream.Flush when bytes are still
// sitting in the send buffer: spec §4.F lists this branch as an
// unimplemented known gap rather than a wait-for-drain operation.
var errFlushPending = errors.New("stack: flush of a non-empty send buffer is not implemented")

// Stream is the host-facing byte-stream handle for one accepted
// connection (spec §4.F, TcpStream). Like Listener, it holds only a
// shared reference to the Manager plus the Quad identifying its flow.
type Stream struct {
	mgr  *Manager
	quad Quad
}

// Read copies accepted payload bytes into buf, blocking until some are
// available or the peer has closed the connection. It returns io.EOF
// once the connection is read-closed and Incoming has drained — the
// idiomatic Go spelling of the spec's "return 0" rule.
func (s *Stream) Read(buf []byte) (int, error) {
	return s.mgr.Read(s.quad, buf)
}

// Write queues buf for transmission without blocking.
func (s *Stream) Write(buf []byte) (int, error) {
	return s.mgr.Write(s.quad, buf)
}

// Flush reports success immediately if the send buffer is empty; a
// non-empty buffer is a known, documented gap (spec §4.F, §9).
func (s *Stream) Flush() error {
	return s.mgr.Flush(s.quad)
}

// Shutdown initiates a local close (spec §4.F, TcpStream::shutdown).
func (s *Stream) Shutdown() error {
	return s.mgr.Shutdown(s.quad)
}

// Close implements "Drop of TcpStream": the Connection is removed
// from the table if it has reached a read-closed state, otherwise it
// is left in place (spec §9, known gap).
func (s *Stream) Close() error {
	s.mgr.DropStream(s.quad)
	return nil
}
