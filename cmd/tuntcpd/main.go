// Command tuntcpd is a trivial demo driver for the stack package: it
// creates a tun-backed Interface, binds one port, and echoes back
// every byte it reads on each accepted connection. It exists to
// exercise Interface/Listener/Stream end to end; it is explicitly out
// of scope for the core design (spec §1).
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rfc793/tuntcp/stack"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		device   string
		port     uint16
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "tuntcpd",
		Short: "run a tun-backed TCP echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(logLevel)

			iface, err := stack.NewInterface(stack.Config{DeviceName: device}, log)
			if err != nil {
				return fmt.Errorf("create interface: %w", err)
			}
			defer iface.Close()

			listener, err := iface.Bind(port)
			if err != nil {
				return fmt.Errorf("bind port %d: %w", port, err)
			}
			defer listener.Close()

			log.WithField("port", port).Info("listening")
			return serve(listener, log)
		},
	}

	cmd.Flags().StringVar(&device, "device", "", "tun device name (empty lets the OS choose)")
	cmd.Flags().Uint16Var(&port, "port", 8080, "TCP port to bind")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

func newLogger(level string) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if parsed, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(parsed)
	}
	return logrus.NewEntry(log)
}

func serve(listener *stack.Listener, log *logrus.Entry) error {
	for {
		stream, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go echo(stream, log)
	}
}

func echo(stream *stack.Stream, log *logrus.Entry) {
	defer stream.Close()

	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := stream.Write(buf[:n]); werr != nil {
				log.WithError(werr).Warn("write failed")
				return
			}
		}
		if err == io.EOF {
			_ = stream.Shutdown()
			return
		}
		if err != nil {
			log.WithError(err).Warn("read failed")
			return
		}
	}
}
