package querier

import (
	"net"
	"time"

	"github.com/quietwire/mdnsd/internal/errors"
)

// Option is a functional option for configuring a Querier.
//
// This allows flexible, backwards-compatible configuration.
//
// Example:
//
//	q, err := querier.New(
//	    querier.WithTimeout(2 * time.Second),
//	)
type Option func(*Querier) error

// WithTimeout sets the default timeout for mDNS queries.
//
// The timeout determines how long to wait for responses before returning.
//
// Default: 1 second (per SC-002: discover 95% of devices within 1 second)
//
// Example:
//
//	q, err := querier.New(querier.WithTimeout(2 * time.Second))
func WithTimeout(timeout time.Duration) Option {
	return func(q *Querier) error {
		q.defaultTimeout = timeout
		return nil
	}
}

// WithInterfaces records an explicit interface list on the Querier.
//
// New does not pass the list to its transport: the socket joins the
// multicast group on every up, multicast-capable interface whether or not
// this option is given.
//
//
// Example:
//
//	ifaces, _ := net.Interfaces()
//	eth0 := ifaces[0]
//	q, _ := querier.New(querier.WithInterfaces([]net.Interface{eth0}))
//
// If the provided list is empty, New() returns an error.
func WithInterfaces(ifaces []net.Interface) Option {
	return func(q *Querier) error {
		if len(ifaces) == 0 {
			return &errors.ValidationError{
				Field:   "interfaces",
				Value:   ifaces,
				Message: "interface list cannot be empty",
			}
		}

		// Set explicit interface list (overrides filter)
		q.explicitInterfaces = ifaces
		return nil
	}
}

// WithInterfaceFilter records a custom interface selection filter on the Querier.
//
// New does not call the filter: the socket joins the multicast group on
// every up, multicast-capable interface whether or not this option is given.
//
//
// Example (allow only Ethernet interfaces):
//
//	q, _ := querier.New(querier.WithInterfaceFilter(func(iface net.Interface) bool {
//	    return strings.HasPrefix(iface.Name, "eth")
//	}))
//
// Interface selection in New (with or without this option):
//   - Excludes down and non-multicast interfaces
//   - Does not exclude VPN, Docker or loopback interfaces
func WithInterfaceFilter(filter func(net.Interface) bool) Option {
	return func(q *Querier) error {
		if filter == nil {
			return &errors.ValidationError{
				Field:   "interfaceFilter",
				Value:   nil,
				Message: "filter function cannot be nil",
			}
		}

		// Set custom filter (will be ignored if explicit list is set)
		q.interfaceFilter = filter
		return nil
	}
}

// WithRateLimit enables or disables rate limiting.
// Rate limiting protects against multicast storms by tracking per-source-IP query rates.
//
//
// Default: Enabled (true)
//
// When enabled, sources exceeding the threshold (default: 100 qps) are rate-limited
// for a cooldown period (default: 60 seconds).
//
// Example (disable rate limiting for testing):
//
//	q, _ := querier.New(querier.WithRateLimit(false))
func WithRateLimit(enabled bool) Option {
	return func(q *Querier) error {
		q.rateLimitEnabled = enabled
		return nil
	}
}

// WithRateLimitThreshold sets the query rate threshold (queries per second per source IP).
// Sources exceeding this threshold are rate-limited for the cooldown period.
//
//
// Default: 100 queries/second (balances storm protection with legitimate high-volume use)
//
// This option is ignored if rate limiting is disabled via WithRateLimit(false).
//
// Example (stricter threshold for untrusted networks):
//
//	q, _ := querier.New(querier.WithRateLimitThreshold(50))
func WithRateLimitThreshold(threshold int) Option {
	return func(q *Querier) error {
		if threshold <= 0 {
			return &errors.ValidationError{
				Field:   "rateLimitThreshold",
				Value:   threshold,
				Message: "threshold must be greater than 0",
			}
		}

		q.rateLimitThreshold = threshold
		return nil
	}
}

// WithRateLimitCooldown sets the duration to drop packets from a source after
// it exceeds the rate limit threshold.
//
//
// Default: 60 seconds (long enough to detect persistent storms, short enough to recover)
//
// This option is ignored if rate limiting is disabled via WithRateLimit(false).
//
// Example (shorter cooldown for transient storms):
//
//	q, _ := querier.New(querier.WithRateLimitCooldown(30 * time.Second))
func WithRateLimitCooldown(cooldown time.Duration) Option {
	return func(q *Querier) error {
		if cooldown <= 0 {
			return &errors.ValidationError{
				Field:   "rateLimitCooldown",
				Value:   cooldown,
				Message: "cooldown must be greater than 0",
			}
		}

		q.rateLimitCooldown = cooldown
		return nil
	}
}

// This would allow injecting MockTransport for unit testing without real network.
// Current gap: All querier tests use real UDP sockets, making edge cases harder to test.
//
// Proposed implementation:
//   func WithTransport(t transport.Transport) Option {
//       return func(q *Querier) error {
//           q.transport = t
//           return nil
//       }
//   }
//
// Usage in tests:
//   mock := transport.NewMockTransport()
//   q, _ := New(WithTransport(mock))
//
// This enables:
// - Testing without real network
// - Mocking specific network failures
// - Simulating exact mDNS responses
// - Faster test execution
//
