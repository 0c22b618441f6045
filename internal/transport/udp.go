package transport

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/quietwire/mdnsd/internal/errors"
	"github.com/quietwire/mdnsd/internal/logx"
	"github.com/quietwire/mdnsd/internal/protocol"
)

var transportLog = logx.Component("transport")

// UDPv4Transport is the production Transport: a UDP socket bound to mDNS
// port 5353, wrapped in an ipv4.PacketConn so multicast group membership
// can be joined explicitly per interface rather than left to whatever the
// OS picks for a bare net.ListenMulticastUDP call.
type UDPv4Transport struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
}

// NewUDPv4Transport creates a UDP multicast transport bound to mDNS port
// 5353 and joins the multicast group 224.0.0.251 on every interface in
// ifaces. A nil or empty ifaces enumerates all up, multicast-capable system
// interfaces — callers that need VPN/Docker/loopback exclusion should
// resolve their interface list with network.ResolveInterfaces first and
// pass it in here.
func NewUDPv4Transport(ifaces []net.Interface) (*UDPv4Transport, error) {
	if len(ifaces) == 0 {
		var err error
		ifaces, err = defaultMulticastInterfaces()
		if err != nil {
			return nil, err
		}
	}

	lc := net.ListenConfig{Control: PlatformControl}
	pc0, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", protocol.Port))
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "create socket",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind to port %d (is another mDNS responder running without SO_REUSEPORT?)", protocol.Port),
		}
	}
	conn := pc0.(*net.UDPConn)

	pc := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251)}

	joined := 0
	for i := range ifaces {
		if err := pc.JoinGroup(&ifaces[i], group); err != nil {
			transportLog.Debug().Str("interface", ifaces[i].Name).Err(err).Msg("failed to join multicast group")
			continue
		}
		joined++
	}
	if joined == 0 {
		_ = conn.Close()
		return nil, &errors.NetworkError{
			Operation: "join multicast group",
			Err:       fmt.Errorf("no interfaces available"),
			Details:   "failed to join 224.0.0.251 on any interface",
		}
	}

	if err := pc.SetMulticastTTL(255); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "set multicast TTL", Err: err, Details: "failed to set TTL=255"}
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "set multicast loopback", Err: err, Details: "failed to enable loopback"}
	}
	if err := conn.SetReadBuffer(65536); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "configure socket", Err: err, Details: "failed to set read buffer size"}
	}

	return &UDPv4Transport{conn: conn, pc: pc}, nil
}

func defaultMulticastInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, &errors.NetworkError{Operation: "enumerate interfaces", Err: err, Details: "failed to get network interfaces for multicast join"}
	}
	filtered := make([]net.Interface, 0, len(all))
	for _, iface := range all {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		filtered = append(filtered, iface)
	}
	return filtered, nil
}

// Send transmits a packet to dest. RFC 6762 §5: queries and responses are
// both sent to 224.0.0.251:5353.
func (t *UDPv4Transport) Send(ctx context.Context, packet []byte, dest net.Addr) error {
	select {
	case <-ctx.Done():
		return &errors.NetworkError{Operation: "send", Err: ctx.Err(), Details: "context canceled before send"}
	default:
	}

	n, err := t.conn.WriteTo(packet, dest)
	if err != nil {
		return &errors.NetworkError{Operation: "send", Err: err, Details: fmt.Sprintf("failed to send %d bytes to %s", len(packet), dest)}
	}
	if n != len(packet) {
		return &errors.NetworkError{Operation: "send", Err: fmt.Errorf("partial write: %d/%d bytes", n, len(packet)), Details: "incomplete transmission"}
	}
	return nil
}

// Receive waits for an incoming packet, respecting ctx's cancellation or
// deadline. The read buffer comes from the shared pool; the only per-call
// allocation is the returned copy of the packet.
func (t *UDPv4Transport) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	select {
	case <-ctx.Done():
		return nil, nil, &errors.NetworkError{Operation: "receive", Err: ctx.Err(), Details: "context canceled before receive"}
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, &errors.NetworkError{Operation: "set read timeout", Err: err, Details: fmt.Sprintf("failed to set deadline %v", deadline)}
		}
	}

	bufPtr := GetBuffer()
	defer PutBuffer(bufPtr)
	buffer := *bufPtr

	n, srcAddr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, nil, &errors.NetworkError{Operation: "receive", Err: err, Details: "timeout"}
		}
		return nil, nil, &errors.NetworkError{Operation: "receive", Err: err, Details: "failed to read from socket"}
	}

	result := make([]byte, n)
	copy(result, buffer[:n])
	return result, srcAddr, nil
}

// Close releases the underlying socket.
func (t *UDPv4Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	if err := t.conn.Close(); err != nil {
		return &errors.NetworkError{Operation: "close socket", Err: err, Details: "failed to close UDP connection"}
	}
	return nil
}

var _ Transport = (*UDPv4Transport)(nil)
