// Package discovery implements the UDP server-location protocol.
//
// A probe is two raw bytes: the big-endian port the prober wants the reply
// sent to. A reply is a single datagram holding the standard response
// envelope with the server's identity and sharing list, sent unicast to
// (prober IP, response port) — deliberately not necessarily the port the
// probe arrived from, so the prober can listen on a dedicated socket.
package discovery

import (
	"encoding/binary"
	"fmt"
	"net"
)

// DefaultPort is the well-known UDP port servers listen on for probes.
const DefaultPort = 12019

// maxDatagram bounds a discovery response datagram.
const maxDatagram = 64 * 1024

// probeLen is the exact probe payload length.
const probeLen = 2

// encodeProbe builds the 2-byte probe payload for a response port.
func encodeProbe(responsePort int) []byte {
	var b [probeLen]byte
	binary.BigEndian.PutUint16(b[:], uint16(responsePort))
	return b[:]
}

// decodeProbe extracts the response port from a probe payload.
func decodeProbe(data []byte) (int, error) {
	if len(data) != probeLen {
		return 0, fmt.Errorf("probe must be %d bytes, got %d", probeLen, len(data))
	}
	return int(binary.BigEndian.Uint16(data)), nil
}

// replyAddr derives the unicast reply address from the probe's sender and
// the requested response port.
func replyAddr(sender net.Addr, responsePort int) (*net.UDPAddr, error) {
	udp, ok := sender.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected sender address type %T", sender)
	}
	return &net.UDPAddr{IP: udp.IP, Port: responsePort}, nil
}
