package transport

import (
	"context"
	"net"
)

// UDPv6Transport is a stub implementation to validate Transport interface extensibility.
//
// This stub demonstrates that the Transport interface successfully enables IPv6 support
//
//
type UDPv6Transport struct {
	conn net.PacketConn
}

// NewUDPv6Transport creates a UDP IPv6 multicast transport (stub).
//
func NewUDPv6Transport() (*UDPv6Transport, error) {
	return nil, nil
}

// Send transmits a packet over IPv6 (stub).
func (t *UDPv6Transport) Send(_ context.Context, _ []byte, _ net.Addr) error {
	return nil
}

// Receive waits for an incoming IPv6 packet (stub).
func (t *UDPv6Transport) Receive(_ context.Context) ([]byte, net.Addr, error) {
	return nil, nil, nil
}

// Close releases IPv6 resources (stub).
func (t *UDPv6Transport) Close() error {
	return nil
}

// Compile-time verification that UDPv6Transport implements Transport interface
var _ Transport = (*UDPv6Transport)(nil)
