package state

import (
	"context"
	"net"
	"time"

	"github.com/quietwire/mdnsd/internal/message"
	"github.com/quietwire/mdnsd/internal/protocol"
	"github.com/quietwire/mdnsd/internal/transport"
)

// ProbeResult represents the result of probing.
type ProbeResult struct {
	Conflict bool  // true if naming conflict detected
	Error    error // error if probing failed
}

// Prober performs probing per RFC 6762 §8.1.
//
// RFC 6762 §8.1: "Before claiming a unique record, a host MUST send at least
// two probe queries, 250 milliseconds apart." This implementation sends
// protocol.ProbeCount probes for robust conflict detection.
type Prober struct {
	transport transport.Transport
	dest      net.Addr

	// Test hooks for injection, used by unit tests that exercise conflict
	// detection and tie-breaking without a real Transport.
	onSendQuery             func()
	injectConflictAfter     int
	injectSimultaneousProbe bool
	ourProbeData            []byte
	theirProbeData          []byte

	ourRecords       []message.ResourceRecord  // Records we're probing for, sent as proposed authority rrdata
	incomingRecords  []message.ResourceRecord  // Incoming probe responses (test hook; production responses arrive via the reactor)
	conflictDetector ConflictDetectorInterface // For detecting conflicts against incomingRecords

	lastProbeMessage []byte // Last sent probe message (wire format)
}

// ConflictDetectorInterface defines the interface for conflict detection.
// This allows Prober to use the ConflictDetector from the responder package
// without importing it directly.
type ConflictDetectorInterface interface {
	DetectConflict(ourRecord, incomingRecord message.ResourceRecord) (bool, error)
}

// NewProber creates a new prober with no transport attached. Callers that
// need real probe traffic sent must call SetTransport; tests that only
// exercise conflict detection can leave it unset.
func NewProber() *Prober {
	return &Prober{dest: protocol.MulticastGroupIPv4()}
}

// SetTransport attaches the Transport probes are sent over, and the
// destination address to send them to. dest defaults to the mDNS multicast
// group; it is exposed mainly so tests can point at a loopback address.
func (p *Prober) SetTransport(t transport.Transport, dest net.Addr) {
	p.transport = t
	if dest != nil {
		p.dest = dest
	}
}

// Probe sends probe queries to detect naming conflicts.
//
// RFC 6762 §8.1: Probing process
//   - Send protocol.ProbeCount probe queries
//   - protocol.ProbeInterval between probes
//
// Parameters:
//   - ctx: Context for cancellation
//   - serviceName: Full service name (e.g., "My Printer._http._tcp.local")
//
// Returns:
//   - ProbeResult: Result with Conflict flag and any error
func (p *Prober) Probe(ctx context.Context, serviceName string) ProbeResult {
	questions := []message.Question{{
		QNAME:  serviceName,
		QTYPE:  uint16(protocol.RecordTypeANY),
		QCLASS: uint16(protocol.ClassIN),
	}}
	authorities := make([]*message.ResourceRecord, len(p.ourRecords))
	for i := range p.ourRecords {
		authorities[i] = &p.ourRecords[i]
	}

	for i := 0; i < protocol.ProbeCount; i++ {
		select {
		case <-ctx.Done():
			return ProbeResult{Error: ctx.Err()}
		default:
		}

		packet, err := message.BuildProbe(questions, authorities)
		if err != nil {
			return ProbeResult{Error: err}
		}
		p.lastProbeMessage = packet

		if p.transport != nil {
			if err := p.transport.Send(ctx, packet, p.dest); err != nil {
				return ProbeResult{Error: err}
			}
		}

		if p.onSendQuery != nil {
			p.onSendQuery()
		}

		if p.conflictDetector != nil && len(p.incomingRecords) > 0 && len(p.ourRecords) > 0 {
			for _, ourRecord := range p.ourRecords {
				for _, incomingRecord := range p.incomingRecords {
					conflict, err := p.conflictDetector.DetectConflict(ourRecord, incomingRecord)
					if err != nil {
						return ProbeResult{Error: err}
					}
					if conflict {
						return ProbeResult{Conflict: true}
					}
				}
			}
		}

		// Legacy test hooks for simulated conflict/tie-break scenarios that
		// don't go through conflictDetector.
		if p.injectConflictAfter > 0 && i >= p.injectConflictAfter {
			return ProbeResult{Conflict: true}
		}
		if p.injectSimultaneousProbe {
			if !compareBytesLexicographically(p.ourProbeData, p.theirProbeData) {
				return ProbeResult{Conflict: true}
			}
		}

		if i < protocol.ProbeCount-1 {
			timer := time.NewTimer(protocol.ProbeInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ProbeResult{Error: ctx.Err()}
			case <-timer.C:
			}
		}
	}

	return ProbeResult{Conflict: false}
}

// compareBytesLexicographically compares two byte slices lexicographically
// per RFC 6762 §8.2's tie-break rule. Returns true if a > b (we win).
func compareBytesLexicographically(a, b []byte) bool {
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}

	for i := 0; i < minLen; i++ {
		if a[i] > b[i] {
			return true
		} else if a[i] < b[i] {
			return false
		}
	}

	return len(a) > len(b)
}

// SetOurRecords sets the records we're probing for. Their rrdata is sent as
// the probe's authority section per RFC 6762 §8.1.
func (p *Prober) SetOurRecords(records []message.ResourceRecord) {
	p.ourRecords = records
}

// InjectIncomingResponse injects incoming probe responses for testing.
func (p *Prober) InjectIncomingResponse(records []message.ResourceRecord) {
	p.incomingRecords = records
}

// SetConflictDetector sets the conflict detector to use.
func (p *Prober) SetConflictDetector(detector ConflictDetectorInterface) {
	p.conflictDetector = detector
}

// GetLastProbeMessage returns the last sent probe message.
func (p *Prober) GetLastProbeMessage() []byte {
	return p.lastProbeMessage
}

// SetLastProbeMessage sets the last probe message (for testing).
func (p *Prober) SetLastProbeMessage(msg []byte) {
	p.lastProbeMessage = msg
}

// SetOnSendQuery sets the callback to be called when a probe query is sent.
func (p *Prober) SetOnSendQuery(callback func()) {
	p.onSendQuery = callback
}
