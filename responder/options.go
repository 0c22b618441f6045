package responder

import "github.com/quietwire/mdnsd/internal/transport"

// Option is a functional option for configuring a Responder.
//
// This pattern allows flexible configuration without breaking API compatibility.
//
type Option func(*Responder) error

// WithHostname sets a custom hostname for the responder.
//
// If not provided, the system hostname will be used.
//
// Parameters:
//   - hostname: Custom hostname (e.g., "myhost.local")
//
// Returns:
//   - Option: Configuration function
//
// Example:
//
//	r, err := New(ctx, WithHostname("mydevice.local"))
//
func WithHostname(hostname string) Option {
	return func(r *Responder) error {
		r.hostname = hostname
		return nil
	}
}

// WithTransport attaches an externally-owned transport instead of the
// UDPv4Transport New creates by default. Used by the engine composition
// root so the responder and a ServiceBrowser can share one socket; Close
// will not close a transport supplied this way.
func WithTransport(t transport.Transport) Option {
	return func(r *Responder) error {
		if r.ownsTransport {
			_ = r.transport.Close()
		}
		r.transport = t
		r.ownsTransport = false
		return nil
	}
}
