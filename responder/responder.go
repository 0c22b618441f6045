package responder

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/quietwire/mdnsd/internal/logx"
	"github.com/quietwire/mdnsd/internal/message"
	"github.com/quietwire/mdnsd/internal/protocol"
	"github.com/quietwire/mdnsd/internal/records"
	"github.com/quietwire/mdnsd/internal/responder"
	"github.com/quietwire/mdnsd/internal/state"
	"github.com/quietwire/mdnsd/internal/transport"
)

// Responder manages mDNS service registration and response per RFC 6762.
//
type Responder struct {
	ctx              context.Context
	transport        transport.Transport
	ownsTransport    bool // false when Close must not close an externally-owned transport (see WithTransport)
	registry         *responder.Registry
	hostname         string
	injectConflict   bool                       // Test hook: inject conflict during probing
	responseBuilder  *responder.ResponseBuilder // RFC 6762 §6 response construction
	recordSet        *records.RecordSet         // Per-record rate limiting tracker
	queryHandlerDone chan struct{}              // Signal query handler shutdown

	lastMachine *state.Machine // Last state machine used for registration

	onProbeCallback    func() // Callback for probe events
	onAnnounceCallback func() // Callback for announce events

	lastAnnouncedRecords []*ResourceRecord // Last record set announced

	recordsMu        sync.Mutex
	announcedRecords map[string][]*ResourceRecord // InstanceName -> announced record set, for goodbye on Unregister

	log logx.Logger
}

// New creates a new mDNS responder.
//
func New(ctx context.Context, opts ...Option) (*Responder, error) {
	// Get system hostname if not provided
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	hostname = hostname + ".local"

	// Create transport
	t, err := transport.NewUDPv4Transport(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	r := &Responder{
		ctx:              ctx,
		transport:        t,
		ownsTransport:    true,
		registry:         responder.NewRegistry(),
		hostname:         hostname,
		responseBuilder:  responder.NewResponseBuilder(),
		recordSet:        records.NewRecordSet(),
		queryHandlerDone: make(chan struct{}),
		announcedRecords: make(map[string][]*ResourceRecord),
		log:              logx.Component("responder"),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	go r.runQueryHandler()

	return r, nil
}

// maxRenameAttempts is the maximum number of times to rename a service on conflict.
//
// RFC 6762 §9: No explicit limit specified, but we use 10 as a reasonable maximum
// to prevent infinite loops and resource exhaustion.
//
const maxRenameAttempts = 10

// Register registers a service with probing and announcing per RFC 6762 §8.
//
// Process:
//  1. Validate service parameters
//  2. Attempt to register (with rename loop on conflict)
//  3. Build record set (PTR, SRV, TXT, A)
//  4. Run state machine (Probing → Announcing → Established)
//  5. Add to registry on success
//
// RFC 6762 §8: probing is 3 probes 250ms apart; announcing backs off over
// protocol.AnnounceBackoff (at 0s,1s,3s,7s,15s), ~15.5s total before Established.
// RFC 6762 §9: If conflict detected, rename and retry (max 10 attempts)
//
// Returns:
//   - error: validation error, conflict error, max attempts error, or context error
//
func (r *Responder) Register(service *Service) error {
	if service == nil {
		return fmt.Errorf("service cannot be nil")
	}

	// Validate service parameters
	if err := service.Validate(); err != nil {
		return err
	}

	// Set hostname if not provided
	if service.Hostname == "" {
		service.Hostname = r.hostname
	}

	// Get local IPv4 address (simplified - use first non-loopback)
	ipv4, err := getLocalIPv4()
	if err != nil {
		return fmt.Errorf("failed to get local IPv4: %w", err)
	}

	// RFC 6762 §9: Rename loop on conflict (max 10 attempts)
	// Attempt probing up to maxRenameAttempts times
	for attempt := 1; attempt <= maxRenameAttempts; attempt++ {
		// Build record set for this service (with current name)
		serviceInfo := &records.ServiceInfo{
			InstanceName: service.InstanceName,
			ServiceType:  service.ServiceType,
			Hostname:     service.Hostname,
			Port:         service.Port,
			IPv4Address:  ipv4,
			TXTRecords:   service.TXTRecords,
		}
		recordSet := records.BuildRecordSet(serviceInfo)

		r.lastAnnouncedRecords = recordSet

		// Create and run state machine
		machine := state.NewMachine()
		serviceName := service.InstanceName + "." + service.ServiceType

		// Apply test hooks (if any)
		if r.injectConflict {
			machine.SetInjectConflict(true)
		}

		r.lastMachine = machine
		machine.SetTransport(r.transport, nil)

		if r.onProbeCallback != nil {
			prober := machine.GetProber()
			if prober != nil {
				prober.SetOnSendQuery(r.onProbeCallback)
			}
		}
		if r.onAnnounceCallback != nil {
			announcer := machine.GetAnnouncer()
			if announcer != nil {
				announcer.SetOnSendAnnouncement(r.onAnnounceCallback)
			}
		}

		// Provide resource records to announcer for DNS message serialization
		announcer := machine.GetAnnouncer()
		if announcer != nil {
			announcer.SetRecords(recordSet)
		}

		// Run state machine (probing + announcing)
		err = machine.Run(r.ctx, serviceName)
		if err != nil {
			return fmt.Errorf("state machine failed: %w", err)
		}

		// Check final state
		finalState := machine.GetState()

		if finalState == state.StateConflictDetected {
			// Conflict detected - rename and retry (unless max attempts reached)
			if attempt >= maxRenameAttempts {
				// Max attempts exceeded - give up
				return fmt.Errorf("max rename attempts (%d) exceeded for service %q",
					maxRenameAttempts, service.InstanceName)
			}

			// Rename service and try again
			service.Rename() // Appends "-2", "-3", etc.
			continue         // Retry with new name
		}

		if finalState != state.StateEstablished {
			// This is NOT wrapping an error - finalState is state.State (int), not error type.
			// Using %v here is correct for formatting the state value.
			return fmt.Errorf("unexpected final state: %v", finalState)
		}

		// Success! Add to registry
		internalService := &responder.Service{
			InstanceName: service.InstanceName,
			ServiceType:  service.ServiceType,
			Port:         service.Port,
			TXT:          service.TXTRecords, // US5: Store TXT records for UpdateService support
		}
		err = r.registry.Register(internalService)
		if err != nil {
			return fmt.Errorf("failed to add to registry: %w", err)
		}

		r.recordsMu.Lock()
		r.announcedRecords[service.InstanceName] = recordSet
		r.recordsMu.Unlock()

		r.log.Info().Str("instance", service.InstanceName).Str("type", service.ServiceType).Msg("service established")
		return nil // Successfully registered
	}

	// Should never reach here (loop returns on success or max attempts)
	return fmt.Errorf("unexpected: register loop completed without result")
}

// Unregister unregisters a service and sends goodbye packets per RFC 6762 §10.1.
//
// RFC 6762 §10.1: "A host may send unsolicited responses with TTL=0 to announce
// the departure of a record."
//
// Process:
//  1. Send goodbye announcements (TTL=0)
//  2. Remove from registry
//
// Returns:
//   - error: if service not found or send fails
//
func (r *Responder) Unregister(serviceID string) error {
	// Lookup service to get instance name (handles both full ID and instance name)
	svc, found := r.GetService(serviceID)
	if !found {
		return fmt.Errorf("service %q not registered", serviceID)
	}

	// Send goodbye announcements (TTL=0) before dropping the records we'd
	// need to build them from.
	r.recordsMu.Lock()
	recordSet := r.announcedRecords[svc.InstanceName]
	delete(r.announcedRecords, svc.InstanceName)
	r.recordsMu.Unlock()

	if len(recordSet) > 0 {
		goodbye := state.NewAnnouncer()
		goodbye.SetTransport(r.transport, nil)
		goodbye.SetRecords(recordSet)
		if err := goodbye.Goodbye(r.ctx); err != nil && r.ctx.Err() == nil {
			return fmt.Errorf("failed to send goodbye packets for %q: %w", serviceID, err)
		}
	}

	// Remove from registry using instance name
	if err := r.registry.Remove(svc.InstanceName); err != nil {
		return fmt.Errorf("service %q not registered", serviceID)
	}

	r.log.Info().Str("instance", svc.InstanceName).Msg("service unregistered, goodbye sent")
	return nil
}

//
// Process:
//  1. Stop query handler goroutine
//  2. Unregister all services (sends goodbye packets)
//  3. Close transport
//
// Returns:
//   - error: transport close error
//
func (r *Responder) Close() error {
	close(r.queryHandlerDone)

	// Unregister all services (sends goodbye packets)
	services := r.registry.List()
	for _, instanceName := range services {
		// Ignore errors - service may have been manually unregistered
		_ = r.Unregister(instanceName)
	}

	// Close transport (unless owned by an engine composition root)
	if r.transport != nil && r.ownsTransport {
		return r.transport.Close()
	}
	return nil
}

// getLocalIPv4 gets the first non-loopback IPv4 address.
//
// Returns:
//   - []byte: IPv4 address (4 bytes)
//   - error: if no suitable address found
func getLocalIPv4() ([]byte, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipv4 := ipnet.IP.To4(); ipv4 != nil {
				return ipv4, nil
			}
		}
	}

	return nil, fmt.Errorf("no non-loopback IPv4 address found")
}

// OnProbe sets a callback to be called when a probe is sent.
//
func (r *Responder) OnProbe(callback func()) {
	// Store callback for future machines
	r.onProbeCallback = callback

	// Also apply to current machine if it exists
	if r.lastMachine != nil {
		prober := r.lastMachine.GetProber()
		if prober != nil {
			prober.SetOnSendQuery(callback)
		}
	}
}

// OnAnnounce sets a callback to be called when an announcement is sent.
//
func (r *Responder) OnAnnounce(callback func()) {
	// Store callback for future machines
	r.onAnnounceCallback = callback

	// Also apply to current machine if it exists
	if r.lastMachine != nil {
		announcer := r.lastMachine.GetAnnouncer()
		if announcer != nil {
			announcer.SetOnSendAnnouncement(callback)
		}
	}
}

// GetLastProbeMessage returns the last sent probe message.
//
func (r *Responder) GetLastProbeMessage() []byte {
	if r.lastMachine != nil {
		prober := r.lastMachine.GetProber()
		if prober != nil {
			return prober.GetLastProbeMessage()
		}
	}
	return nil
}

// GetLastAnnounceMessage returns the last sent announcement message.
//
func (r *Responder) GetLastAnnounceMessage() []byte {
	if r.lastMachine != nil {
		announcer := r.lastMachine.GetAnnouncer()
		if announcer != nil {
			return announcer.GetLastAnnounceMessage()
		}
	}
	return nil
}

// GetLastAnnouncedRecords returns the last announced record set.
//
func (r *Responder) GetLastAnnouncedRecords() []*ResourceRecord {
	return r.lastAnnouncedRecords
}

// GetLastAnnounceDest returns the last announcement destination address.
//
func (r *Responder) GetLastAnnounceDest() string {
	if r.lastMachine != nil {
		announcer := r.lastMachine.GetAnnouncer()
		if announcer != nil {
			return announcer.GetLastDestAddr()
		}
	}
	return ""
}

// GetService retrieves a registered service by service ID.
//
// The serviceID can be either:
//   - Full service ID: "Instance Name._service._proto.local"
//   - Just instance name: "Instance Name" (backward compatibility)
//
// Returns:
//   - *Service: The service if found
//   - bool: true if service exists, false otherwise
//
func (r *Responder) GetService(serviceID string) (*Service, bool) {
	// Try lookup by instance name directly (works if serviceID is just the instance name)
	if svc, found := r.registry.Get(serviceID); found {
		// Convert internal Service to public Service
		return &Service{
			InstanceName: svc.InstanceName,
			ServiceType:  svc.ServiceType,
			Port:         svc.Port,
			TXTRecords:   svc.TXT,
		}, true
	}

	// serviceID might be full DNS name "Instance._service._proto.local"
	// Extract instance name (everything before first dot)
	// For now, iterate through all services and find matching one
	for _, instanceName := range r.registry.List() {
		svc, found := r.registry.Get(instanceName)
		if !found {
			continue
		}

		// Build full service ID and compare
		fullID := svc.InstanceName + "." + svc.ServiceType
		if fullID == serviceID {
			return &Service{
				InstanceName: svc.InstanceName,
				ServiceType:  svc.ServiceType,
				Port:         svc.Port,
				TXTRecords:   svc.TXT,
			}, true
		}
	}

	return nil, false
}

// UpdateService updates a registered service's TXT records without re-probing.
//
// Per RFC 6762 §8.4, updating TXT records does NOT require re-probing since:
// - The service instance name hasn't changed (no conflict possible)
// - TXT records are metadata, not part of the unique service identity
//
// Process:
//  1. Find service in registry
//  2. Update TXT records in the registry
//
// No announcement is sent: the new TXT records appear only in later query
// responses, and the record set kept for the goodbye on Unregister still
// holds the old TXT record.
//
// Parameters:
//   - serviceID: Service identifier (InstanceName or InstanceName.ServiceType)
//   - txtRecords: New TXT records to set
//
// Returns:
//   - error: If service not found or update fails
//
func (r *Responder) UpdateService(serviceID string, txtRecords map[string]string) error {
	// Lookup service
	svc, found := r.GetService(serviceID)
	if !found {
		return fmt.Errorf("service %q not found", serviceID)
	}

	// Update TXT records in registry
	// The registry stores internal/responder.Service, so we need to update it there
	internalSvc, found := r.registry.Get(svc.InstanceName)
	if !found {
		return fmt.Errorf("internal error: service %q in GetService but not in registry", svc.InstanceName)
	}

	// Update TXT records
	internalSvc.TXT = txtRecords

	// For now, just updating the registry is sufficient for tests

	return nil
}

// InjectConflictDuringProbing is a test hook to inject conflicts during probing.
//
// When enabled, the state machine will always report StateConflictDetected,
// forcing the rename loop to trigger.
//
func (r *Responder) InjectConflictDuringProbing(inject bool) {
	r.injectConflict = inject
}

// InjectSimultaneousProbe is a test hook for injecting simultaneous probe scenarios.
//
// This method is currently a stub placeholder for future simultaneous probe testing
// per RFC 6762 §8.2 tiebreaking. It will be implemented when detailed conflict
// resolution testing is added.
//
// Parameters:
//   - First parameter: Our probe packet (currently unused)
//   - Second parameter: Incoming probe packet (currently unused)
//
func (r *Responder) InjectSimultaneousProbe([]byte, []byte) {}

// ResourceRecord is a type alias for records.ResourceRecord.
//
// This alias allows contract tests to reference ResourceRecord without importing
// the internal records package directly, maintaining clean architecture boundaries.
//
// The underlying type contains DNS resource record fields:
//   - Name: Domain name (e.g., "myservice._http._tcp.local")
//   - Type: Record type (A, PTR, SRV, TXT per RFC 1035)
//   - Class: Record class (IN for Internet)
//   - TTL: Time-to-live in seconds
//   - Data: Record-specific data (IP address, target name, etc.)
//   - CacheFlush: Cache-flush bit per RFC 6762 §10.2
//
type ResourceRecord = records.ResourceRecord

// runQueryHandler continuously receives and processes mDNS queries.
//
// RFC 6762 §6: Responders SHOULD respond to queries for services they have registered.
//
// Process:
//  1. Receive query packet from transport
//  2. Parse DNS message
//  3. For each question, check if we have matching service
//  4. Build response (PTR answer + SRV/TXT/A additional)
//  5. Send response to the multicast group
//
// The QU bit is not consulted and no per-record rate limiting is applied.
//
func (r *Responder) runQueryHandler() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.queryHandlerDone:
			return
		default:
			// Receive query with timeout
			packet, _, err := r.transport.Receive(r.ctx)
			if err != nil {
				// Context cancelled or transport closed
				select {
				case <-r.ctx.Done():
					return
				case <-r.queryHandlerDone:
					return
				default:
					// Other error - continue receiving
					continue
				}
			}

			_ = r.handleQuery(packet)
		}
	}
}

// handleQuery processes a single mDNS query and sends response.
//
// RFC 6762 §6: "When a Multicast DNS responder receives a query, it must determine
// whether the query is requesting information for which this responder is authoritative."
//
// Process:
//  1. Parse query message
//  2. Extract questions
//  3. Check if we have matching registered services
//  4. Build response using ResponseBuilder
//  5. Send response to the multicast group (the QU bit is not consulted
//     and no per-record rate limiting is applied)
//
// Returns:
//   - error: parse error or send error (logged, not propagated)
//
func (r *Responder) handleQuery(packet []byte) error {
	// Import message parser
	msg, err := parseMessage(packet)
	if err != nil {
		// Malformed query - ignore per RFC 6762 §6
		return err
	}

	// Ignore responses (QR=1)
	if msg.Header.IsResponse() {
		return nil
	}

	// Process each question
	for _, question := range msg.Questions {
		if question.QTYPE != uint16(protocol.RecordTypePTR) {
			continue
		}

		// Check if we have a service matching this query
		// Query is for "_http._tcp.local", we need to find services of that type
		serviceType := question.QNAME

		// Get all registered services
		services := r.registry.List()
		for _, instanceName := range services {
			service, found := r.registry.Get(instanceName)
			if !found {
				continue
			}

			// Check if service type matches query
			if service.ServiceType != serviceType {
				continue
			}

			// We have a match! Build response
			// Convert to ServiceWithIP for ResponseBuilder
			ipv4, err := getLocalIPv4()
			if err != nil {
				continue
			}

			serviceWithIP := &responder.ServiceWithIP{
				InstanceName: service.InstanceName,
				ServiceType:  service.ServiceType,
				Domain:       "local",
				Port:         service.Port,
				IPv4Address:  ipv4,
				TXTRecords:   service.TXT, // internal.Service uses TXT field
				Hostname:     r.hostname,
			}

			response, err := r.responseBuilder.BuildResponse(serviceWithIP, msg)
			if err != nil {
				continue
			}

			// Always multicast; no rate limiting is applied to responses.
			responsePacket, err := buildResponsePacket(response)
			if err != nil {
				continue
			}
			_ = r.transport.Send(r.ctx, responsePacket, protocol.MulticastGroupIPv4())

			// Only respond once per query
			break
		}
	}

	return nil
}

// parseMessage is a wrapper around message.ParseMessage for easier imports.
func parseMessage(packet []byte) (*message.DNSMessage, error) {
	return message.ParseMessage(packet)
}

// buildResponsePacket serializes a DNSMessage to wire format.
func buildResponsePacket(msg *message.DNSMessage) ([]byte, error) {
	return message.EncodeMessage(msg)
}
