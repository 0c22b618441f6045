package transport

import (
	"context"
	"net"
)

// Transport abstracts packet send/receive so the reactor and responder/
// browser layers never touch a raw socket directly. UDPv4Transport is the
// production implementation; MockTransport and UDPv6Transport (a stub) let
// the rest of the module and its tests stay decoupled from the network.
type Transport interface {
	Send(ctx context.Context, packet []byte, dest net.Addr) error
	Receive(ctx context.Context) ([]byte, net.Addr, error)
	Close() error
}
