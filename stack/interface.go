package stack

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/songgao/water"
)

// Interface owns the tun device handle and the packet pump goroutine
// driving it (spec §4.F). It is the root of the ownership graph: a
// Listener or Stream created from it holds only a shared reference to
// its Manager, never the device itself.
type Interface struct {
	mgr *Manager
	dev *water.Interface

	cancel context.CancelFunc
	done   chan struct{}

	log *logrus.Entry
}

// NewInterface creates the tun device and spawns the packet pump.
func NewInterface(cfg Config, log *logrus.Entry) (*Interface, error) {
	dev, err := water.New(water.Config{
		DeviceType: water.TUN,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name: cfg.DeviceName,
		},
	})
	if err != nil {
		return nil, err
	}

	mgr := NewManager(log)
	ctx, cancel := context.WithCancel(context.Background())
	p := newPump(dev, mgr, log)

	iface := &Interface{
		mgr:    mgr,
		dev:    dev,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    log,
	}

	go func() {
		defer close(iface.done)
		if err := p.run(ctx); err != nil {
			log.WithError(err).Error("packet pump exited")
		}
	}()

	return iface, nil
}

// Bind installs a listening queue for port and returns a Listener over
// it (spec §4.F, Interface::bind).
func (i *Interface) Bind(port uint16) (*Listener, error) {
	if err := i.mgr.Bind(port); err != nil {
		return nil, err
	}
	return &Listener{mgr: i.mgr, port: port}, nil
}

// Close tears the Interface down: it sets the manager's terminate
// flag, cancels the pump's context, closes the tun device (unblocking
// the pump's blocked Read), and waits for the pump goroutine to exit
// (spec §4.F, "Drop of Interface").
func (i *Interface) Close() error {
	i.mgr.Terminate()
	i.cancel()
	err := i.dev.Close()
	<-i.done
	return err
}
