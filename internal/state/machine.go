// Package state implements the mDNS service registration state machine per
// RFC 6762 §8: probe for name conflicts, announce the claimed records, then
// sit established. Probing and announcing are both decoupled from the
// transport they send over so they can be driven without a live socket.
package state

import (
	"context"
	"net"
	"sync"

	"github.com/quietwire/mdnsd/internal/message"
	"github.com/quietwire/mdnsd/internal/records"
	"github.com/quietwire/mdnsd/internal/transport"
)

func derefAll(recs []*records.ResourceRecord) []message.ResourceRecord {
	out := make([]message.ResourceRecord, len(recs))
	for i, rr := range recs {
		out[i] = *rr
	}
	return out
}

// Machine drives one service's registration through Probing, Announcing,
// and Established. A conflict during probing transitions to
// ConflictDetected instead of Announcing; the caller (Responder.Register)
// is responsible for renaming the service per RFC 6762 §9 and retrying.
//
//	Initial → Probing → Announcing → Established
//	Probing → ConflictDetected (if conflict)
//
// State transitions notify onStateChange without holding mu, so a callback
// that calls back into the Machine can't deadlock against it.
type Machine struct {
	prober         *Prober
	announcer      *Announcer
	mu             sync.RWMutex
	onStateChange  func(State)
	currentState   State
	injectConflict bool
}

// NewMachine creates a new state machine.
//
func NewMachine() *Machine {
	return &Machine{
		currentState: StateInitial,
		prober:       NewProber(),
		announcer:    NewAnnouncer(),
	}
}

// Run drives a service through Probing, Announcing, and Established,
// returning when it reaches Established, hits a conflict (StateConflictDetected,
// not an error), or ctx is canceled.
func (sm *Machine) Run(ctx context.Context, serviceName string) error {
	sm.setState(StateProbing)

	result := sm.prober.Probe(ctx, serviceName)
	if result.Error != nil {
		return result.Error
	}

	if result.Conflict || sm.injectConflict {
		// Conflict detected - stop here
		// Caller (Responder) will handle rename/retry
		sm.setState(StateConflictDetected)
		return nil
	}

	// Transition to Announcing
	sm.setState(StateAnnouncing)

	// Phase 2: Announcing. Records come from SetRecords, set by the caller
	// (Responder.Register, via BuildRecordSet) before Run is invoked.
	if err := sm.announcer.Announce(ctx, serviceName); err != nil {
		return err
	}

	// Transition to Established
	sm.setState(StateEstablished)

	return nil
}

// GetState returns the current state.
//
func (sm *Machine) GetState() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// setState transitions to a new state.
//
func (sm *Machine) setState(newState State) {
	// Manual unlock required: Must release lock before calling user callback to avoid deadlocks.
	// Callback may access state machine, so holding lock would cause deadlock.
	sm.mu.Lock()
	sm.currentState = newState
	sm.mu.Unlock()

	// Notify test hook (called WITHOUT lock to prevent deadlocks)
	if sm.onStateChange != nil {
		sm.onStateChange(newState)
	}
}

// SetInjectConflict is a test hook to inject conflict during probing.
//
func (sm *Machine) SetInjectConflict(inject bool) {
	sm.injectConflict = inject
}

// GetProber returns the internal Prober for integration with Responder.
//
func (sm *Machine) GetProber() *Prober {
	return sm.prober
}

// GetAnnouncer returns the internal Announcer for integration with Responder.
//
func (sm *Machine) GetAnnouncer() *Announcer {
	return sm.announcer
}

// SetRecords provides the resource records Run announces once probing
// succeeds, and the records the prober proposes in its probe messages.
func (sm *Machine) SetRecords(recs []*records.ResourceRecord) {
	sm.prober.SetOurRecords(derefAll(recs))
	sm.announcer.SetRecords(recs)
}

// SetTransport attaches the Transport both the probing and announcing
// phases send over.
func (sm *Machine) SetTransport(t transport.Transport, dest net.Addr) {
	sm.prober.SetTransport(t, dest)
	sm.announcer.SetTransport(t, dest)
}
