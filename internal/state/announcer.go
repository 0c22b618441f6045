package state

import (
	"context"
	"net"
	"time"

	"github.com/quietwire/mdnsd/internal/message"
	"github.com/quietwire/mdnsd/internal/protocol"
	"github.com/quietwire/mdnsd/internal/records"
	"github.com/quietwire/mdnsd/internal/transport"
)

// Announcer performs announcing per RFC 6762 §8.3.
//
// RFC 6762 §8.3: "The Multicast DNS responder MUST send at least two
// unsolicited responses, one second apart." This implementation sends
// len(protocol.AnnounceBackoff) announcements at the offsets in that table.
type Announcer struct {
	transport transport.Transport
	dest      net.Addr

	// Test hooks for injection
	onSendAnnouncement func()
	lastSentData       []byte
	lastDestAddr       string

	lastAnnounceMessage []byte // Last sent announcement message (wire format)

	resourceRecords []*records.ResourceRecord
}

// NewAnnouncer creates a new announcer.
func NewAnnouncer() *Announcer {
	return &Announcer{
		dest:         protocol.MulticastGroupIPv4(),
		lastDestAddr: protocol.MulticastGroupIPv4().String(),
	}
}

// SetTransport attaches the Transport announcements are sent over, and the
// destination address. dest defaults to the mDNS multicast group.
func (a *Announcer) SetTransport(t transport.Transport, dest net.Addr) {
	a.transport = t
	if dest != nil {
		a.dest = dest
		a.lastDestAddr = dest.String()
	}
}

// Announce sends unsolicited multicast announcements carrying the records
// set by SetRecords, per protocol.AnnounceBackoff.
//
// Parameters:
//   - ctx: Context for cancellation
//   - serviceName: unused (kept for interface compatibility with callers
//     that key announcements by name)
//
// Returns:
//   - error: serialization or context error
func (a *Announcer) Announce(ctx context.Context, _ string) error {
	msgRecords := make([]*message.ResourceRecord, len(a.resourceRecords))
	copy(msgRecords, a.resourceRecords)

	announceMsg, err := message.BuildResponse(msgRecords)
	if err != nil {
		return err
	}
	a.lastAnnounceMessage = announceMsg
	a.lastSentData = announceMsg

	var prev time.Duration
	for i, offset := range protocol.AnnounceBackoff {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// AnnounceBackoff holds offsets from the first announcement, so
		// wait only for the gap since the previous one.
		delay := offset - prev
		prev = offset
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if a.transport != nil {
			if err := a.transport.Send(ctx, announceMsg, a.dest); err != nil {
				return err
			}
		}
		if a.onSendAnnouncement != nil {
			a.onSendAnnouncement()
		}
		_ = i
	}

	return nil
}

// Goodbye sends a TTL=0 departure announcement per RFC 6762 §10.1, so peers
// purge the records from their caches immediately instead of waiting out
// the TTL. Sent protocol.GoodbyeCount times, protocol.GoodbyeInterval apart.
func (a *Announcer) Goodbye(ctx context.Context) error {
	goodbyeRecords := make([]*message.ResourceRecord, len(a.resourceRecords))
	for i, rr := range a.resourceRecords {
		g := *rr
		g.TTL = 0
		goodbyeRecords[i] = &g
	}

	goodbyeMsg, err := message.BuildResponse(goodbyeRecords)
	if err != nil {
		return err
	}

	for i := 0; i < protocol.GoodbyeCount; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if a.transport != nil {
			if err := a.transport.Send(ctx, goodbyeMsg, a.dest); err != nil {
				return err
			}
		}

		if i < protocol.GoodbyeCount-1 {
			timer := time.NewTimer(protocol.GoodbyeInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return nil
}

// GetLastAnnounceMessage returns the last sent announcement message.
func (a *Announcer) GetLastAnnounceMessage() []byte {
	return a.lastAnnounceMessage
}

// SetLastAnnounceMessage sets the last announcement message (for testing).
func (a *Announcer) SetLastAnnounceMessage(msg []byte) {
	a.lastAnnounceMessage = msg
}

// SetOnSendAnnouncement sets the callback to be called when an announcement is sent.
func (a *Announcer) SetOnSendAnnouncement(callback func()) {
	a.onSendAnnouncement = callback
}

// GetLastDestAddr returns the last destination address used for announcements.
func (a *Announcer) GetLastDestAddr() string {
	return a.lastDestAddr
}

// SetRecords sets the resource records to be announced.
func (a *Announcer) SetRecords(records []*records.ResourceRecord) {
	a.resourceRecords = records
}
