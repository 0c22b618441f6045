package querier

import (
	"context"
	goerrors "errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quietwire/mdnsd/internal/errors"
	"github.com/quietwire/mdnsd/internal/message"
	"github.com/quietwire/mdnsd/internal/protocol"
	"github.com/quietwire/mdnsd/internal/security"
	"github.com/quietwire/mdnsd/internal/transport"
)

// Querier provides high-level mDNS query functionality.
//
// Querier manages a UDP multicast socket and background receiver goroutine
//
// Example:
//
//	q, err := querier.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close()
//
//	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
//	defer cancel()
//
//	response, err := q.Query(ctx, "printer.local", querier.RecordTypeA)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, record := range response.Records {
//	    if ip := record.AsA(); ip != nil {
//	        fmt.Printf("Found printer at %s\n", ip)
//	    }
//	}
//
// NOTE: Fields are ordered for memory alignment (fieldalignment optimization).
// Larger types (interfaces, slices, sync types) come first, then smaller types.
// This reduces struct size from 144 → 120 bytes (16.7% memory savings).
// Related fields are still documented together via comments.
type Querier struct {
	// transport is the network transport abstraction (UDP multicast for mDNS)
	transport transport.Transport

	// ctx is the lifecycle context for the Querier
	ctx context.Context

	// wg tracks background goroutines (receiver)
	// Placed early due to 16-byte alignment requirement of sync.WaitGroup
	wg sync.WaitGroup

	// explicitInterfaces is the user-provided explicit list of interfaces (if set)
	// Takes priority over interfaceFilter if non-nil
	explicitInterfaces []net.Interface

	// defaultTimeout is the default timeout for queries (default: 1 second per SC-002)
	defaultTimeout time.Duration

	// rateLimitCooldown is the duration to drop packets after threshold exceeded (default: 60s)
	rateLimitCooldown time.Duration

	// cancel cancels the lifecycle context
	cancel context.CancelFunc

	// responseChan receives incoming mDNS responses from the receiver goroutine
	responseChan chan []byte

	// interfaceFilter is a custom interface selection function (if set)
	// Used only if explicitInterfaces is nil
	interfaceFilter func(net.Interface) bool

	// rateLimiter is the rate limiter instance (created in New() if enabled)
	rateLimiter *security.RateLimiter

	// rateLimitThreshold is the max queries/second per source IP (default: 100)
	rateLimitThreshold int

	// mu protects concurrent access to Query operations
	mu sync.Mutex

	// rateLimitEnabled indicates whether rate limiting is enabled (default: true)
	rateLimitEnabled bool
}

// New creates a new Querier with optional configuration.
//
// New initializes the UDP multicast socket and starts a background receiver
//
//
// Parameters:
//   - opts: Optional functional options (e.g., WithTimeout)
//
// Returns:
//   - *Querier: Configured querier instance
//   - error: NetworkError if socket creation fails
//
// Example:
//
//	q, err := querier.New(querier.WithTimeout(2 * time.Second))
func New(opts ...Option) (*Querier, error) {
	tr, err := transport.NewUDPv4Transport(nil)
	if err != nil {
		return nil, err // Already wrapped as NetworkError
	}

	// Create lifecycle context
	ctx, cancel := context.WithCancel(context.Background())

	// Create querier with defaults
	q := &Querier{
		transport:          tr,
		defaultTimeout:     1 * time.Second,        // SC-002: discover devices within 1 second
		responseChan:       make(chan []byte, 100), // Buffer for incoming responses
		ctx:                ctx,
		cancel:             cancel,
		rateLimitEnabled:   true,             // FR-033: Default enabled
		rateLimitThreshold: 100,              // FR-027: Default 100 qps
		rateLimitCooldown:  60 * time.Second, // FR-028: Default 60s
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(q); err != nil {
			cancel()       // Clean up context before returning error
			_ = tr.Close() // Ignore error, already returning primary error
			return nil, err
		}
	}

	// Initialize rate limiter if enabled (after options applied)
	if q.rateLimitEnabled {
		q.rateLimiter = security.NewRateLimiter(
			q.rateLimitThreshold,
			q.rateLimitCooldown,
			10000, // Max 10,000 source IPs tracked
		)

		q.wg.Add(1)
		go q.cleanupLoop()
	}

	q.wg.Add(1)
	go q.receiveLoop()

	return q, nil
}

// Query sends an mDNS query and returns all responses received within the timeout.
//
// Query validates inputs, builds the query message, sends it to the multicast group,
//
//
// Parameters:
//   - ctx: Context for timeout/cancellation (use context.WithTimeout for custom timeout)
//   - name: DNS name to query (e.g., "printer.local")
//   - recordType: Type of record to query (RecordTypeA, RecordTypePTR, etc.)
//
// Returns:
//   - *Response: Aggregated response with all discovered records
//   - error: ValidationError for invalid inputs, context.Canceled/context.DeadlineExceeded, or other errors
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
//	defer cancel()
//
//	response, err := q.Query(ctx, "printer.local", querier.RecordTypeA)
//	if err != nil {
//	    return err
//	}
//
//	for _, record := range response.Records {
//	    fmt.Printf("Found: %s → %v\n", record.Name, record.Data)
//	}
func (q *Querier) Query(ctx context.Context, name string, recordType RecordType) (*Response, error) {
	// Protect concurrent query operations
	q.mu.Lock()
	defer q.mu.Unlock()

	// Check context cancellation upfront
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	// Apply the Querier's default timeout when ctx carries no deadline
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.defaultTimeout)
		defer cancel()
	}

	err := protocol.ValidateName(name)
	if err != nil {
		return nil, err // Already wrapped as ValidationError
	}

	err = protocol.ValidateRecordType(uint16(recordType))
	if err != nil {
		return nil, err // Already wrapped as ValidationError
	}

	queryMsg, err := message.BuildQuery(name, uint16(recordType))
	if err != nil {
		return nil, err
	}

	mdnsAddr := &net.UDPAddr{
		IP:   net.IPv4(224, 0, 0, 251),
		Port: 5353,
	}
	err = q.transport.Send(ctx, queryMsg, mdnsAddr)
	if err != nil {
		return nil, err // Already wrapped as NetworkError
	}

	return q.collectResponses(ctx, name, recordType)
}

// collectResponses aggregates mDNS responses within the timeout window.
//
func (q *Querier) collectResponses(ctx context.Context, _ string, queryType RecordType) (*Response, error) {
	response := &Response{
		Records: make([]ResourceRecord, 0),
	}

	seen := make(map[string]bool)

	// Collect responses until timeout or cancellation
	for {
		select {
		case <-ctx.Done():
			return response, nil

		case responseMsg := <-q.responseChan:
			parsedMsg, err := message.ParseMessage(responseMsg)
			if err != nil {
				continue
			}

			err = protocol.ValidateResponse(parsedMsg.Header.Flags)
			if err != nil {
				continue
			}

			for _, answer := range parsedMsg.Answers {
				// Filter by query type (optional - could also return all types)
				if RecordType(answer.TYPE) != queryType {
					// Skip records of different type
					// (Production might include related records)
					continue
				}

				// Parse type-specific RDATA
				data, err := message.ParseRDATA(answer.TYPE, answer.RDATA)
				if err != nil {
					continue
				}
				// Expose SRV data as the querier's own SRVData so AsSRV() can read it
				if srv, ok := data.(message.SRVData); ok {
					data = SRVData{Target: srv.Target, Priority: srv.Priority, Weight: srv.Weight, Port: srv.Port}
				}

				// Key: name + type + data representation
				dedupeKey := fmt.Sprintf("%s|%d|%v", answer.NAME, answer.TYPE, data)
				if seen[dedupeKey] {
					continue // Duplicate - skip
				}
				seen[dedupeKey] = true

				// Convert to public ResourceRecord
				record := ResourceRecord{
					Name:  answer.NAME,
					Type:  RecordType(answer.TYPE),
					Class: answer.CLASS,
					TTL:   answer.TTL,
					Data:  data,
				}

				response.Records = append(response.Records, record)
			}
		}
	}
}

// receiveLoop runs in a background goroutine to continuously receive mDNS responses.
//
//
// nolint:gocyclo // Complexity 22 due to network packet handling with rate limiting, context management, source IP validation, and error recovery
func (q *Querier) receiveLoop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			// Querier closed - exit loop
			return

		default:
			ctx, cancel := context.WithTimeout(q.ctx, 100*time.Millisecond)
			responseMsg, srcAddr, err := q.transport.Receive(ctx)
			cancel()

			if err != nil {
				// Timeout or network error - continue listening
				// Check if it's a timeout (expected) or real error
				var netErr *errors.NetworkError
				if goerrors.As(err, &netErr) {
					// Network timeout is expected - continue
					continue
				}
				// Real network error - might want to log in production
				continue
			}

			// Fail fast - reject oversized packets before parsing
			const maxMDNSPacketSize = 9000 // RFC 6762 §17
			if len(responseMsg) > maxMDNSPacketSize {
				// Packet exceeds RFC limit - drop it
				continue
			}

			// Extract source IP for validation and rate limiting
			var srcIP net.IP
			var srcIPStr string
			if udpAddr, ok := srcAddr.(*net.UDPAddr); ok {
				srcIP = udpAddr.IP
				srcIPStr = udpAddr.IP.String()
			}

			// RFC 6762 §2: mDNS is link-local scope
			// - Accept link-local addresses (169.254.0.0/16) - ALWAYS valid per RFC 3927
			// - Accept private addresses (10.x, 172.16.x, 192.168.x) - likely same subnet
			// - Reject public/routed IPs (8.8.8.8, etc.) - definitely not link-local
			if srcIP != nil {
				ip4 := srcIP.To4()
				if ip4 != nil {
					// Check if it's a public/routed IP (not private, not link-local)
					isLinkLocal := ip4[0] == 169 && ip4[1] == 254
					isPrivate := ip4[0] == 10 ||
						(ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31) ||
						(ip4[0] == 192 && ip4[1] == 168)

					// Reject public/routed IPs (definitely not link-local scope)
					if !isLinkLocal && !isPrivate {
						// Public IP - drop packet (violates RFC 6762 §2 link-local scope)
						continue
					}
				}
			}

			if q.rateLimitEnabled && q.rateLimiter != nil && srcIPStr != "" {
				if !q.rateLimiter.Allow(srcIPStr) {
					// Rate limited - drop packet silently
					continue
				}
			}

			// Send response to channel (non-blocking)
			select {
			case q.responseChan <- responseMsg:
				// Sent successfully
			default:
				// Production might want to expand buffer or log
			}
		}
	}
}

// cleanupLoop periodically cleans up stale rate limiter entries.
func (q *Querier) cleanupLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			// Querier closed - exit loop
			return

		case <-ticker.C:
			// Periodic cleanup
			if q.rateLimiter != nil {
				q.rateLimiter.Cleanup()
			}
		}
	}
}

// Close gracefully shuts down the Querier and releases resources.
//
// Close cancels the lifecycle context, waits for background goroutines to exit,
//
//
// Example:
//
//	q, err := querier.New()
//	if err != nil {
//	    return err
//	}
//	defer q.Close() // Always close to release resources
func (q *Querier) Close() error {
	// Cancel lifecycle context (stops receiver goroutine)
	q.cancel()

	// Wait for receiver goroutine to exit
	q.wg.Wait()

	err := q.transport.Close()
	if err != nil {
		return err
	}

	// Close response channel
	close(q.responseChan)

	return nil
}
