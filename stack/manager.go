package stack

import (
	"io"
	"sync"

	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"

	"github.com/rfc793/tuntcp/tcperr"
	"github.com/rfc793/tuntcp/transport/tcp"
)

// Manager is the connection table and listening-port registry
// described by spec §4.D. It owns every Connection; Interface,
// Listener and Stream only ever hold a Quad or a port number plus a
// shared reference to the Manager. All of its exported methods take
// the single coarse mutex internally — callers never need to reason
// about locking (spec §5).
type Manager struct {
	mu          sync.Mutex
	connections map[Quad]*tcp.Connection
	pending     map[uint16][]Quad
	terminate   bool

	pendingCond *sync.Cond
	rcvCond     *sync.Cond

	log *logrus.Entry
}

// NewManager returns an empty Manager ready to have ports bound on it.
func NewManager(log *logrus.Entry) *Manager {
	m := &Manager{
		connections: make(map[Quad]*tcp.Connection),
		pending:     make(map[uint16][]Quad),
		log:         log,
	}
	m.pendingCond = sync.NewCond(&m.mu)
	m.rcvCond = sync.NewCond(&m.mu)
	return m
}

// Bind installs an empty pending-accept queue for port. It fails with
// ErrAddrInUse if the port already has one (spec §4.F).
func (m *Manager) Bind(port uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[port]; ok {
		return tcperr.ErrAddrInUse
	}
	m.pending[port] = nil
	return nil
}

// Unbind removes port's pending-accept queue. Quads already enqueued
// but not yet accepted are left in the connection table: a known gap
// carried from spec §9 ("Listener drop does not RST pending-but-
// unaccepted connections").
func (m *Manager) Unbind(port uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, port)
}

// Accept blocks until port's pending queue is non-empty, then pops and
// returns the oldest enqueued Quad (spec §4.F, TcpListener::accept).
func (m *Manager) Accept(port uint16) (Quad, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		queue, ok := m.pending[port]
		if !ok {
			return Quad{}, tcperr.ErrListenerClosed
		}
		if len(queue) > 0 {
			q := queue[0]
			m.pending[port] = queue[1:]
			return q, nil
		}
		if m.terminate {
			return Quad{}, tcperr.ErrListenerClosed
		}
		m.pendingCond.Wait()
	}
}

// Dispatch is the packet pump's demultiplexing step (spec §4.E item
// 1): it looks up q's Connection, running on_packet if one exists or
// attempting a passive-open accept if the destination port has a
// pending queue. It returns the reply segments to write back to the
// tun device.
func (m *Manager) Dispatch(ip *layers.IPv4, seg *layers.TCP, payload []byte) [][]byte {
	q := toQuad(ip, seg)

	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.connections[q]; ok {
		replies, readable, err := conn.OnPacket(seg, payload)
		if err != nil {
			m.log.WithError(err).WithField("quad", q).Warn("dropping segment after connection error")
			return nil
		}
		if readable {
			m.rcvCond.Broadcast()
		}
		return replies
	}

	queue, boundPort := m.pending[q.DstPort]
	if !boundPort {
		return nil
	}

	conn, reply, err := tcp.Accept(ip, seg, m.log.WithField("quad", q))
	if err != nil {
		m.log.WithError(err).WithField("quad", q).Warn("passive open failed")
		return nil
	}
	if conn == nil {
		// Not a SYN: nothing to accept, nothing to reply with.
		return nil
	}

	m.connections[q] = conn
	m.pending[q.DstPort] = append(queue, q)
	m.pendingCond.Broadcast()

	if reply == nil {
		return nil
	}
	return [][]byte{reply}
}

// TickAll runs Tick on every live connection (spec §4.E item 2) and
// returns every segment produced, in no particular order.
func (m *Manager) TickAll() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	for q, conn := range m.connections {
		replies, err := conn.Tick()
		if err != nil {
			m.log.WithError(err).WithField("quad", q).Warn("tick failed, dropping connection")
			delete(m.connections, q)
			continue
		}
		out = append(out, replies...)
	}
	return out
}

// Terminate sets the shutdown flag (spec §4.F "Drop of Interface") and
// wakes any listener currently blocked in Accept, which then returns
// ErrListenerClosed. The pump does not read this flag; it stops when
// Interface.Close cancels its context.
func (m *Manager) Terminate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminate = true
	m.pendingCond.Broadcast()
	// Known gap (spec §9): Stream.Read waiters on rcvCond are not
	// woken here, matching "Interface teardown does not wake condvar
	// waiters".
}

// Read implements TcpStream::read (spec §4.F): it blocks until the
// connection either has bytes in Incoming or has reached a
// read-closed state, copies up to len(buf) bytes, and returns the
// count. It returns io.EOF (not 0, nil) once the stream is read-closed
// and drained, which is the idiomatic Go rendition of the spec's
// "return 0" rule.
func (m *Manager) Read(q Quad, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		conn, ok := m.connections[q]
		if !ok {
			return 0, tcperr.ErrConnectionAborted
		}
		if conn.Incoming.Len() > 0 {
			a, b := conn.Incoming.Slices()
			n := copy(buf, a)
			if n < len(buf) {
				n += copy(buf[n:], b)
			}
			conn.Incoming.Drop(n)
			return n, nil
		}
		if conn.State.IsRcvClosed() {
			return 0, io.EOF
		}
		m.rcvCond.Wait()
	}
}

// Write implements TcpStream::write (spec §4.F): it queues bytes into
// the connection's send buffer without blocking.
func (m *Manager) Write(q Quad, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[q]
	if !ok {
		return 0, tcperr.ErrConnectionAborted
	}
	return conn.Write(buf)
}

// Flush implements TcpStream::flush: it succeeds immediately if the
// connection's send buffer is empty, and reports the known gap
// otherwise (spec §4.F).
func (m *Manager) Flush(q Quad) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[q]
	if !ok {
		return tcperr.ErrConnectionAborted
	}
	if conn.Unacked.Len() == 0 {
		return nil
	}
	return errFlushPending
}

// Shutdown implements TcpStream::shutdown: it delegates to
// Connection.Close under the manager lock.
func (m *Manager) Shutdown(q Quad) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[q]
	if !ok {
		return tcperr.ErrConnectionAborted
	}
	return conn.Close()
}

// DropStream implements "Drop of TcpStream" (spec §4.F): if the
// connection has reached a read-closed state, it is removed from the
// table. Otherwise it is left in place — a stream dropped before the
// FIN exchange completes leaks its Connection, a known gap carried
// from spec §9.
func (m *Manager) DropStream(q Quad) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.connections[q]; ok && conn.State.IsRcvClosed() {
		delete(m.connections, q)
	}
}
