package discovery

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lanshare/wire"
)

// Accumulator receives each discovered server and reports whether to keep
// listening. Returning false stops the collection early.
type Accumulator func(info *wire.ServerInfo) bool

// Discover broadcasts a probe and collects responses for up to timeout.
//
// It binds an ephemeral UDP socket, broadcasts its own port as the 2-byte
// probe payload, then loops on the socket with a monotonically shrinking
// deadline. Every valid response goes to the accumulator; invalid
// datagrams are ignored. The loop ends at the accumulator's first false,
// at the first receive after the budget is spent, or when the budget runs
// out with nothing received.
func Discover(discoveryPort int, timeout time.Duration, accept Accumulator) error {
	return discover(net.IPv4bcast, discoveryPort, timeout, accept)
}

// discover is Discover with an explicit destination, so tests can probe
// loopback instead of the broadcast address.
func discover(destIP net.IP, discoveryPort int, timeout time.Duration, accept Accumulator) error {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("bind probe socket: %w", err)
	}
	defer conn.Close()

	localPort := conn.LocalAddr().(*net.UDPAddr).Port
	dest := &net.UDPAddr{IP: destIP, Port: discoveryPort}
	if _, err := conn.WriteTo(encodeProbe(localPort), dest); err != nil {
		return fmt.Errorf("broadcast probe: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Discover",
		"response_port":  localPort,
		"discovery_port": discoveryPort,
		"timeout":        timeout.String(),
	}).Debug("Probe broadcast")

	buf := make([]byte, maxDatagram)
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return err
		}

		n, sender, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return err
		}

		info, ok := parseResponse(buf[:n], sender)
		if !ok {
			continue
		}
		if !accept(info) {
			return nil
		}
	}
}

// parseResponse decodes one discovery datagram. Anything that is not a
// successful envelope holding a server info payload is dropped.
func parseResponse(data []byte, sender net.Addr) (*wire.ServerInfo, bool) {
	var resp wire.Response
	if err := json.Unmarshal(data, &resp); err != nil || !resp.Success {
		logrus.WithFields(logrus.Fields{
			"function": "parseResponse",
			"sender":   sender.String(),
		}).Debug("Ignoring invalid discovery datagram")
		return nil, false
	}
	var info wire.ServerInfo
	if err := resp.DecodeData(&info); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "parseResponse",
			"sender":   sender.String(),
			"error":    err.Error(),
		}).Debug("Ignoring undecodable discovery payload")
		return nil, false
	}
	// The advertised IP can be empty when the server does not know its
	// own address; fall back to where the datagram came from.
	if info.IP == "" {
		if udp, ok := sender.(*net.UDPAddr); ok {
			info.IP = udp.IP.String()
		}
	}
	return &info, true
}
