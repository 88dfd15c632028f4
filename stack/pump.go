package stack

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/songgao/water"

	"github.com/rfc793/tuntcp/tcpseg"
)

// tickInterval is the idle-tick period the packet pump uses to drive
// retransmission and pending-FIN emission (spec §4.E, §9: "~10 Hz").
const tickInterval = 100 * time.Millisecond

// pump is the single dispatch loop of spec §4.E. water.Interface.Read
// blocks, so the spec's "attempt a non-blocking receive" step is
// realized the idiomatic Go way: a dedicated reader goroutine feeds a
// buffered channel, and the loop selects on that channel against an
// idle timer instead of calling a non-blocking read directly.
type pump struct {
	dev *water.Interface
	mgr *Manager
	log *logrus.Entry

	packets chan []byte
	readErr chan error
}

func newPump(dev *water.Interface, mgr *Manager, log *logrus.Entry) *pump {
	return &pump{
		dev:     dev,
		mgr:     mgr,
		log:     log,
		packets: make(chan []byte, 64),
		readErr: make(chan error, 1),
	}
}

// run blocks until ctx is canceled or the tun device read loop fails.
// A failure here is the "fatal: tun I/O failure" case of spec §7.
//
// The idle timer is reset on every received packet rather than ticking
// on a fixed cadence, so Tick only runs after the receive path has
// actually been idle for tickInterval (spec §4.E item 2), not on a
// constant schedule regardless of traffic.
func (p *pump) run(ctx context.Context) error {
	go p.readLoop()

	idle := time.NewTimer(tickInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-p.readErr:
			return err
		case raw := <-p.packets:
			p.onPacket(raw)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(tickInterval)
		case <-idle.C:
			p.onTick()
			idle.Reset(tickInterval)
		}
	}
}

func (p *pump) readLoop() {
	buf := make([]byte, tcpseg.MTU)
	for {
		n, err := p.dev.Read(buf)
		if err != nil {
			p.readErr <- err
			return
		}
		raw := append([]byte(nil), buf[:n]...)
		p.packets <- raw
	}
}

func (p *pump) onPacket(raw []byte) {
	ip, seg, payload, err := tcpseg.Decode(raw)
	if err != nil {
		p.log.WithError(err).Debug("dropping unparseable packet")
		return
	}
	p.write(p.mgr.Dispatch(ip, seg, payload))
}

func (p *pump) onTick() {
	p.write(p.mgr.TickAll())
}

func (p *pump) write(segments [][]byte) {
	for _, seg := range segments {
		if _, err := p.dev.Write(seg); err != nil {
			p.log.WithError(err).Warn("tun write failed")
		}
	}
}
