package tcp

import (
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"

	"github.com/rfc793/tuntcp/buffer"
	"github.com/rfc793/tuntcp/seqnum"
	"github.com/rfc793/tuntcp/tcpseg"
)

// SendBufferSize bounds how many application-written bytes a
// Connection will hold unacknowledged before Write starts returning
// would-block (spec §4.D, "SENDQUEUE_SIZE").
const SendBufferSize = 1024

// SendSequenceSpace is the send-side sequence state from RFC 793 §3.2.
type SendSequenceSpace struct {
	Una seqnum.Value // oldest unacknowledged sequence number
	Nxt seqnum.Value // next sequence number to send
	Wnd uint16       // peer's last-advertised receive window
}

// RecvSequenceSpace is the receive-side sequence state.
type RecvSequenceSpace struct {
	Nxt seqnum.Value // next sequence number expected from the peer
	Wnd uint16        // window we have advertised to the peer
}

// Connection is one TCP protocol control block. It owns no goroutines
// and does no I/O; the packet pump and application goroutines call its
// methods while holding the manager's single mutex (spec §5).
type Connection struct {
	State State
	Send  SendSequenceSpace
	Recv  RecvSequenceSpace

	// ip and tcp are template headers: source/destination addresses and
	// ports are fixed at construction, and every outbound segment is
	// built by mutating the mutable fields (seq, ack, window, flags)
	// and handing the pair to tcpseg.Emit.
	ip  *layers.IPv4
	tcp *layers.TCP

	// Incoming holds bytes accepted from the peer and not yet consumed
	// by Stream.Read. It is unbounded: backpressure toward the peer is
	// expressed purely through the advertised window, never by
	// dropping already-accepted bytes.
	Incoming *buffer.Ring

	// Unacked holds every byte the application has written that the
	// peer has not yet acknowledged, including bytes already
	// transmitted (between Send.Una and Send.Nxt) and bytes still
	// waiting for window room. It doubles as the retransmission
	// buffer: Tick re-emits from here rather than from a separate log.
	Unacked *buffer.Ring

	// ClosedAt is the sequence number the local FIN occupies, once one
	// has been queued. nil until Close (or Tick, for a passive close)
	// decides to shut the send side down.
	ClosedAt *seqnum.Value

	log *logrus.Entry
}

// windowSize returns the receive window to advertise given how much of
// the incoming queue is already occupied, clamped to what a 16-bit TCP
// window field can express.
func windowSize(incomingLen int) uint16 {
	const maxWindow = 65535
	avail := maxWindow - incomingLen
	if avail < 0 {
		avail = 0
	}
	if avail > maxWindow {
		avail = maxWindow
	}
	return uint16(avail)
}

// takeUpTo copies up to n bytes out of the two contiguous slices
// returned by a Ring, in order.
func takeUpTo(a, b []byte, n int) []byte {
	total := len(a) + len(b)
	if n > total {
		n = total
	}
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	k := copy(out, a)
	copy(out[k:], b)
	return out
}

// write is the emit helper described in spec §4.C: it builds a segment
// carrying the data starting at seq, up to limit bytes, updates
// Send.Nxt, and hands the result to tcpseg.Emit. The caller is
// responsible for setting any flags (SYN, FIN, PSH) on c.tcp before
// calling write; tcpseg.Emit clears the one-shot SYN/FIN bits once the
// segment has been serialized.
func (c *Connection) write(seq seqnum.Value, limit int) ([]byte, error) {
	c.tcp.Seq = uint32(seq)
	c.tcp.Ack = uint32(c.Recv.Nxt)
	c.Recv.Wnd = windowSize(c.Incoming.Len())
	c.tcp.Window = c.Recv.Wnd

	offset := int(c.Send.Una.Size(seq))
	if c.ClosedAt != nil && seq == c.ClosedAt.Add(1) {
		// Caller is emitting strictly past the FIN: there is nothing
		// left to carry, regardless of what the offset arithmetic
		// above would otherwise say.
		offset = 0
		limit = 0
	}
	if limit > tcpseg.MaxPayload {
		limit = tcpseg.MaxPayload
	}

	var payload []byte
	if limit > 0 {
		a, b := c.Unacked.SlicesFrom(offset)
		payload = takeUpTo(a, b, limit)
	}

	syn := c.tcp.SYN
	fin := c.tcp.FIN

	raw, err := tcpseg.Emit(c.ip, c.tcp, payload)
	if err != nil {
		return nil, err
	}

	next := seq.Add(seqnum.Size(len(payload)))
	if syn {
		next = next.Add(1)
	}
	if fin {
		next = next.Add(1)
	}
	if c.Send.Nxt.LessThan(next) {
		c.Send.Nxt = next
	}
	return raw, nil
}

// Accept processes a SYN arriving at a listening port with no existing
// Connection and, if it is a well-formed request, returns a freshly
// allocated Connection in SynRcv together with the SYN|ACK reply to
// send. A nil Connection with a nil error means the segment was not a
// SYN and should simply be dropped (spec §4.A, §4.C).
func Accept(ip *layers.IPv4, tcp *layers.TCP, log *logrus.Entry) (*Connection, []byte, error) {
	if !tcp.SYN {
		return nil, nil, nil
	}

	// iss is fixed at 0 rather than randomized (DESIGN.md: resolved
	// Open Question), which makes every trace deterministic.
	iss := seqnum.Value(0)

	connIP := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    dupIP(ip.DstIP),
		DstIP:    dupIP(ip.SrcIP),
	}
	connTCP := &layers.TCP{
		SrcPort: tcp.DstPort,
		DstPort: tcp.SrcPort,
	}

	c := &Connection{
		State: StateSynRcv,
		Send: SendSequenceSpace{
			Una: iss,
			Nxt: iss,
			Wnd: tcp.Window,
		},
		Recv: RecvSequenceSpace{
			Nxt: seqnum.Value(tcp.Seq).Add(1),
			Wnd: tcp.Window,
		},
		ip:       connIP,
		tcp:      connTCP,
		Incoming: buffer.NewUnboundedRing(),
		Unacked:  buffer.NewRing(SendBufferSize),
		log:      log,
	}

	c.tcp.SYN = true
	c.tcp.ACK = true
	reply, err := c.write(iss, 0)
	if err != nil {
		return nil, nil, err
	}
	return c, reply, nil
}

func dupIP(ip []byte) []byte {
	out := make([]byte, len(ip))
	copy(out, ip)
	return out
}

// acceptable runs the RFC 793 §3.3 acceptability test for an incoming
// segment of segLen bytes (payload length plus one for each of SYN and
// FIN) carrying sequence number seq, against the current receive
// window.
func (c *Connection) acceptable(seq seqnum.Value, segLen int) bool {
	wnd := c.Recv.Wnd
	switch {
	case segLen == 0 && wnd == 0:
		return seq == c.Recv.Nxt
	case segLen == 0 && wnd > 0:
		return seqnum.InWindow(c.Recv.Nxt.Sub(1), seq, c.Recv.Nxt.Add(seqnum.Size(wnd)))
	case segLen > 0 && wnd == 0:
		return false
	default:
		first := c.Recv.Nxt.Sub(1)
		last := c.Recv.Nxt.Add(seqnum.Size(wnd))
		lastByte := seq.Add(seqnum.Size(segLen - 1))
		return seqnum.InWindow(first, seq, last) || seqnum.InWindow(first, lastByte, last)
	}
}

// OnPacket feeds one already-demultiplexed segment into the state
// machine. It returns zero or more reply segments to transmit and
// whether newly readable bytes (or peer EOF) became available, which
// the caller uses to decide whether to broadcast on the receive
// condition variable.
func (c *Connection) OnPacket(tcp *layers.TCP, payload []byte) (replies [][]byte, readable bool, err error) {
	segLen := len(payload)
	if tcp.SYN {
		segLen++
	}
	if tcp.FIN {
		segLen++
	}
	seq := seqnum.Value(tcp.Seq)

	if !c.acceptable(seq, segLen) {
		if tcp.ACK {
			reply, werr := c.write(c.Send.Nxt, 0)
			if werr != nil {
				return nil, false, werr
			}
			return [][]byte{reply}, false, nil
		}
		return nil, false, nil
	}

	if tcp.RST {
		switch c.State {
		case StateSynRcv, StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait:
			c.State = StateClosed
			readable = true
		}
		return nil, readable, nil
	}

	if tcp.SYN && c.State.IsSynchronized() {
		c.State = StateClosed
		return nil, true, nil
	}

	if tcp.ACK {
		if !c.onAck(seqnum.Value(tcp.Ack), tcp.Window) {
			return nil, false, nil
		}
	}

	if len(payload) > 0 {
		switch c.State {
		case StateEstablished, StateFinWait1, StateFinWait2:
			if reply, ok, werr := c.onPayload(seq, payload); werr != nil {
				return nil, false, werr
			} else if ok {
				replies = append(replies, reply)
				readable = true
			}
		}
	}

	if tcp.FIN {
		if reply, werr := c.onFin(); werr != nil {
			return nil, false, werr
		} else if reply != nil {
			replies = append(replies, reply)
			readable = true
		}
	}

	return replies, readable, nil
}

// onAck applies the ACK-processing rules of spec §4.C. It reports
// whether the segment's ACK was valid for the current state; an
// invalid ACK causes the whole segment to be dropped by the caller.
func (c *Connection) onAck(ack seqnum.Value, wnd uint16) bool {
	switch c.State {
	case StateSynRcv:
		if !seqnum.InWindow(c.Send.Una.Sub(1), ack, c.Send.Nxt.Add(1)) {
			return false
		}
		c.Send.Una = ack
		c.Send.Wnd = wnd
		c.State = StateEstablished
		return true
	case StateClosed:
		return false
	default:
		if !(c.Send.Una.LessThanEq(ack) && ack.LessThanEq(c.Send.Nxt)) {
			return false
		}
		acked := c.Send.Una.Size(ack)
		c.Send.Una = ack
		c.Send.Wnd = wnd
		c.Unacked.Drop(int(acked))

		if c.ClosedAt != nil && c.Send.Una == c.ClosedAt.Add(1) {
			switch c.State {
			case StateFinWait1:
				c.State = StateFinWait2
			case StateClosing:
				c.State = StateTimeWait
			case StateLastAck:
				c.State = StateClosed
			}
		}
		return true
	}
}

// onPayload applies the data-acceptance rules of spec §4.C. It is only
// called in Established, FinWait1 and FinWait2: CloseWait and later
// states have already seen the peer's FIN and accept no further data.
func (c *Connection) onPayload(seq seqnum.Value, payload []byte) ([]byte, bool, error) {
	switch {
	case seq == c.Recv.Nxt:
		c.Incoming.PushAll(payload)
		c.Recv.Nxt = c.Recv.Nxt.Add(seqnum.Size(len(payload)))
	case seq.LessThan(c.Recv.Nxt):
		skip := int(seq.Size(c.Recv.Nxt))
		if skip < len(payload) {
			fresh := payload[skip:]
			c.Incoming.PushAll(fresh)
			c.Recv.Nxt = c.Recv.Nxt.Add(seqnum.Size(len(fresh)))
		}
		// Either way this is a retransmission the peer is still
		// waiting to hear about; fall through to the ACK below.
	default:
		// Out-of-order segment past recv.nxt: no reassembly buffer,
		// drop it and let the peer's own retransmit timer recover it.
		return nil, false, nil
	}

	reply, err := c.write(c.Send.Nxt, 0)
	if err != nil {
		return nil, false, err
	}
	return reply, true, nil
}

// onFin applies the FIN-processing rules of spec §4.C for an
// in-window FIN that has already passed acceptability and ACK
// processing.
func (c *Connection) onFin() ([]byte, error) {
	switch c.State {
	case StateEstablished:
		c.Recv.Nxt = c.Recv.Nxt.Add(1)
		c.State = StateCloseWait
	case StateFinWait1:
		c.Recv.Nxt = c.Recv.Nxt.Add(1)
		if c.ClosedAt != nil && c.Send.Una == c.ClosedAt.Add(1) {
			c.State = StateTimeWait
		} else {
			c.State = StateClosing
		}
	case StateFinWait2:
		c.Recv.Nxt = c.Recv.Nxt.Add(1)
		c.State = StateTimeWait
	default:
		// CloseWait/Closing/LastAck already saw this FIN; TimeWait
		// would restart its 2MSL timer here if one were implemented
		// (DESIGN.md: known gap, carried over from the spec).
		return nil, nil
	}
	return c.write(c.Send.Nxt, 0)
}

// Tick runs the periodic, state-independent housekeeping described in
// spec §4.C: retransmitting unacknowledged data within the peer's
// window; for a connection still in CloseWait, queuing the local FIN
// itself and moving to LastAck; and flushing any FIN that has been queued
// (here or by Close) but not yet put on the wire. It returns zero or
// more segments to send.
func (c *Connection) Tick() ([][]byte, error) {
	var out [][]byte

	if c.Unacked.Len() > 0 {
		inflight := int(c.Send.Una.Size(c.Send.Nxt))
		available := int(c.Send.Wnd) - inflight
		if available < 0 {
			available = 0
		}
		n := c.Unacked.Len()
		if n > available {
			n = available
		}
		if n > 0 {
			c.tcp.PSH = true
			reply, err := c.write(c.Send.Una, n)
			c.tcp.PSH = false
			if err != nil {
				return nil, err
			}
			out = append(out, reply)
		}
	}

	if c.State == StateCloseWait {
		c.tcp.FIN = true
		closedAt := c.Send.Una.Add(seqnum.Size(c.Unacked.Len()))
		c.ClosedAt = &closedAt
		c.State = StateLastAck
	}

	// A FIN queued by the branch above, or earlier by an application
	// Close call, may already have gone out piggybacked on a reply to
	// some other incoming segment (the FIN bit stays set on the
	// template until an Emit call consumes it). This is the fallback
	// that guarantees it is sent even when nothing else has run
	// write() since it was queued.
	if c.ClosedAt != nil && c.Send.Nxt.LessThan(c.ClosedAt.Add(1)) {
		reply, err := c.write(*c.ClosedAt, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, reply)
	}

	return out, nil
}

// Write queues application data for transmission. It returns the
// number of bytes actually queued, which may be less than len(p) if
// the send buffer does not have room for all of it; if the buffer is
// already completely full, it fails with ErrWouldBlock rather than
// returning zero silently (spec §4.D: writes never block, callers must
// retry). The bytes themselves are not put on the wire until the next
// Tick; ACK-triggered replies carry no data.
func (c *Connection) Write(p []byte) (int, error) {
	if c.State != StateEstablished && c.State != StateCloseWait {
		return 0, errNotWritable(c.State)
	}
	if c.Unacked.Free() <= 0 {
		return 0, errWouldBlock
	}
	return c.Unacked.Push(p), nil
}

// Close initiates an application-driven shutdown of the send side
// (spec §4.D "Application close"). The FIN is queued immediately but
// only transmitted on the next Tick or ACK-triggered send.
func (c *Connection) Close() error {
	switch c.State {
	case StateSynRcv, StateEstablished:
		c.tcp.FIN = true
		closedAt := c.Send.Una.Add(seqnum.Size(c.Unacked.Len()))
		c.ClosedAt = &closedAt
		c.State = StateFinWait1
		return nil
	case StateCloseWait:
		c.tcp.FIN = true
		closedAt := c.Send.Una.Add(seqnum.Size(c.Unacked.Len()))
		c.ClosedAt = &closedAt
		c.State = StateLastAck
		return nil
	case StateFinWait1, StateFinWait2, StateLastAck:
		return nil
	default:
		return errNotConnected
	}
}
