// Package stack wires the segment codec and the per-connection state
// machine to a tun device: it demultiplexes inbound segments to a
// Connection table, drives the packet pump, and exposes the
// accept/read/write/shutdown surface applications use.
package stack

import (
	"net"
	"strconv"

	"github.com/google/gopacket/layers"
)

// Quad is the 4-tuple identifying a TCP flow, named from the
// perspective of a packet arriving at this stack: Src is the peer,
// Dst is us. It is a plain array of bytes rather than net.IP (a
// slice) so that it can be used as a map key.
type Quad struct {
	SrcAddr [4]byte
	SrcPort uint16
	DstAddr [4]byte
	DstPort uint16
}

func toQuad(ip *layers.IPv4, tcp *layers.TCP) Quad {
	var q Quad
	copy(q.SrcAddr[:], ip.SrcIP.To4())
	copy(q.DstAddr[:], ip.DstIP.To4())
	q.SrcPort = uint16(tcp.SrcPort)
	q.DstPort = uint16(tcp.DstPort)
	return q
}

func (q Quad) srcIP() net.IP { return net.IP(q.SrcAddr[:]) }
func (q Quad) dstIP() net.IP { return net.IP(q.DstAddr[:]) }

// String renders a Quad the way packet-log lines conventionally do,
// e.g. "192.168.0.2:40000->192.168.0.1:8080", so that log.WithField
// output is readable instead of a raw byte-array dump.
func (q Quad) String() string {
	return q.srcIP().String() + ":" + portString(q.SrcPort) + "->" + q.dstIP().String() + ":" + portString(q.DstPort)
}

func portString(p uint16) string {
	return strconv.FormatUint(uint64(p), 10)
}
