// Package tcpseg is the segment codec adapter: it turns raw bytes read
// from the tun device into parsed IPv4+TCP headers and a payload slice,
// and turns a template IPv4+TCP header pair plus a payload back into a
// wire-ready buffer with a correct checksum. All of the header-field
// bit-twiddling and checksum arithmetic is delegated to gopacket, per
// spec §4.B ("delegated to a parser library").
package tcpseg

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// MTU is the fixed frame size this adapter serializes into.
	MTU = 1500

	// ipv4HeaderLen is the size of an IPv4 header with no options, which
	// is all this stack ever emits or expects.
	ipv4HeaderLen = 20

	// tcpHeaderLen is the size of a TCP header with no options.
	tcpHeaderLen = 20

	// MaxPayload is the largest payload that fits in a single segment
	// built by this adapter.
	MaxPayload = MTU - ipv4HeaderLen - tcpHeaderLen
)

var (
	errNotIPv4   = errors.New("tcpseg: not an IPv4 packet")
	errNotTCP    = errors.New("tcpseg: not a TCP segment")
	errTooLarge  = errors.New("tcpseg: serialized segment exceeds MTU")
	errNoPayload = errors.New("tcpseg: payload too large for a single segment")
)

// Decode parses a raw IPv4 datagram read from the tun device. Any error
// returned here means the caller should silently drop the packet (spec
// §4.B, §7: packet-level failures never propagate).
func Decode(raw []byte) (ip *layers.IPv4, tcp *layers.TCP, payload []byte, err error) {
	packet := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return nil, nil, nil, fmt.Errorf("tcpseg: decode: %w", errLayer.Error())
	}

	ipLayer, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok || ipLayer == nil {
		return nil, nil, nil, errNotIPv4
	}
	if ipLayer.Protocol != layers.IPProtocolTCP {
		return nil, nil, nil, errNotTCP
	}

	tcpLayer, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok || tcpLayer == nil {
		return nil, nil, nil, errNotTCP
	}

	return ipLayer, tcpLayer, tcpLayer.Payload, nil
}

// Emit serializes tmplIP+tmplTCP+payload into a wire-ready IPv4 datagram,
// computing total_length and the IPv4-pseudo-header TCP checksum via
// gopacket. After a successful emit, tmplTCP's one-shot SYN and FIN bits
// are cleared, matching spec §4.B ("the template's syn and fin flag bits
// are cleared — they are one-shot").
func Emit(tmplIP *layers.IPv4, tmplTCP *layers.TCP, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, errNoPayload
	}
	if err := tmplTCP.SetNetworkLayerForChecksum(tmplIP); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, tmplIP, tmplTCP, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("tcpseg: emit: %w", err)
	}

	out := buf.Bytes()
	if len(out) > MTU {
		return nil, errTooLarge
	}

	// SYN/FIN are one-shot: once emitted, the template must not carry
	// them into the next segment.
	tmplTCP.SYN = false
	tmplTCP.FIN = false

	// buf.Bytes() aliases the SerializeBuffer's internal storage; return
	// an owned copy of exactly the serialized bytes.
	return append([]byte(nil), out...), nil
}
