// Package browser implements continuous mDNS service discovery: periodic
// PTR queries with exponential backoff, cache-diffed Added/Removed
// notifications, and on-demand instance resolution and service-type
// enumeration per RFC 6762 §5.2 and RFC 6763 §4/§9.
package browser

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/quietwire/mdnsd/internal/cache"
	"github.com/quietwire/mdnsd/internal/logx"
	"github.com/quietwire/mdnsd/internal/message"
	"github.com/quietwire/mdnsd/internal/protocol"
	"github.com/quietwire/mdnsd/internal/reactor"
	"github.com/quietwire/mdnsd/internal/records"
	"github.com/quietwire/mdnsd/internal/transport"
)

// servicesMetaQuery is the well-known PTR name for RFC 6763 §9 service-type
// enumeration.
const servicesMetaQuery = "_services._dns-sd._udp.local"

// EventType distinguishes an instance appearing from one disappearing.
type EventType int

const (
	// Added fires the first time an instance's records are learned.
	Added EventType = iota
	// Removed fires when an instance's records expire or a goodbye (TTL=0)
	// is received.
	Removed
)

func (e EventType) String() string {
	if e == Added {
		return "Added"
	}
	return "Removed"
}

// Event describes an instance transition for a browsed service type.
type Event struct {
	Type         EventType
	ServiceType  string
	InstanceName string
}

// ServiceInfo is the resolved detail for one service instance, per RFC 6763
// §4 (SRV target/port) and §6 (TXT properties).
type ServiceInfo struct {
	InstanceName string
	ServiceType  string
	Host         string
	Port         uint16
	TXT          records.Properties
	Addrs        []net.IP
}

// ServiceBrowser continuously discovers instances of one service type. It
// attaches non-owning to a shared reactor/transport/cache — the engine
// composition root owns their lifecycle.
type ServiceBrowser struct {
	serviceType string
	transport   transport.Transport
	cache       *cache.Cache
	reactor     *reactor.Reactor
	onEvent     func(Event)
	log         logx.Logger

	mu          sync.Mutex
	known       map[string]bool
	backoff     time.Duration
	unsubscribe func()
	cancelTimer func()
	stopped     bool
}

// New creates a ServiceBrowser for serviceType (e.g. "_http._tcp.local").
// onEvent is invoked synchronously on the reactor's loop goroutine for every
// Added/Removed transition and must not block.
func New(r *reactor.Reactor, t transport.Transport, c *cache.Cache, serviceType string, onEvent func(Event)) *ServiceBrowser {
	return &ServiceBrowser{
		serviceType: serviceType,
		transport:   t,
		cache:       c,
		reactor:     r,
		onEvent:     onEvent,
		log:         logx.Component("browser"),
		known:       make(map[string]bool),
		backoff:     protocol.BrowseMinInterval,
	}
}

// Start subscribes to inbound PTR answers for the browsed type and begins
// the periodic query/backoff cycle. ctx bounds the browser's lifetime; call
// Cancel to stop sooner.
func (b *ServiceBrowser) Start(ctx context.Context) error {
	b.unsubscribe = b.reactor.Subscribe(b.handleMessage)
	return b.queryAndReschedule(ctx)
}

// Cancel stops the browser: no further queries are sent and no further
// events are delivered.
func (b *ServiceBrowser) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
	if b.cancelTimer != nil {
		b.cancelTimer()
	}
}

func (b *ServiceBrowser) queryAndReschedule(ctx context.Context) error {
	queryMsg, err := message.BuildQuery(b.serviceType, uint16(protocol.RecordTypePTR))
	if err != nil {
		return err
	}
	if err := b.transport.Send(ctx, queryMsg, protocol.MulticastGroupIPv4()); err != nil {
		return err
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	delay := b.backoff
	b.backoff *= 2
	if b.backoff > protocol.BrowseMaxInterval {
		b.backoff = protocol.BrowseMaxInterval
	}
	b.cancelTimer = b.reactor.After(delay, func() {
		b.expireStale()
		_ = b.queryAndReschedule(ctx)
	})
	b.mu.Unlock()

	return nil
}

func (b *ServiceBrowser) expireStale() {
	for _, rec := range b.cache.Expire() {
		if rec.Type != protocol.RecordTypePTR || !strings.EqualFold(rec.Name, b.serviceType) {
			continue
		}
		b.markRemoved(rec.Target)
	}
}

func (b *ServiceBrowser) handleMessage(msg *message.DNSMessage, _ net.Addr) {
	if !msg.Header.IsResponse() {
		return
	}
	for _, answer := range msg.Answers {
		if protocol.RecordType(answer.TYPE) != protocol.RecordTypePTR || !strings.EqualFold(answer.NAME, b.serviceType) {
			continue
		}
		rec := cache.FromAnswer(answer)
		isNew := b.cache.Add(rec, answer.TTL)
		if answer.TTL == 0 {
			b.markRemoved(answer.Target)
			continue
		}
		if isNew {
			b.markAdded(answer.Target)
		}
	}
}

func (b *ServiceBrowser) markAdded(instanceName string) {
	b.mu.Lock()
	if b.stopped || b.known[instanceName] {
		b.mu.Unlock()
		return
	}
	b.known[instanceName] = true
	b.mu.Unlock()
	b.onEvent(Event{Type: Added, ServiceType: b.serviceType, InstanceName: instanceName})
}

func (b *ServiceBrowser) markRemoved(instanceName string) {
	b.mu.Lock()
	if b.stopped || !b.known[instanceName] {
		b.mu.Unlock()
		return
	}
	delete(b.known, instanceName)
	b.mu.Unlock()
	b.onEvent(Event{Type: Removed, ServiceType: b.serviceType, InstanceName: instanceName})
}

// GetServiceInfo resolves SRV/TXT/A details for one instance, waiting up to
// timeout for a matching response. It queries live rather than relying
// solely on the cache, since TXT/A records may not have been learned yet.
func GetServiceInfo(ctx context.Context, r *reactor.Reactor, t transport.Transport, instanceName, serviceType string, timeout time.Duration) (*ServiceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	info := &ServiceInfo{InstanceName: instanceName, ServiceType: serviceType}
	var mu sync.Mutex
	haveSRV, haveTXT := false, false
	done := make(chan struct{})

	fqdn := fmt.Sprintf("%s.%s", instanceName, serviceType)

	unsubscribe := r.Subscribe(func(msg *message.DNSMessage, _ net.Addr) {
		if !msg.Header.IsResponse() {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		// A records are named by the SRV target host and usually arrive in
		// the additional section, so both sections are searched.
		answers := make([]message.Answer, 0, len(msg.Answers)+len(msg.Additionals))
		answers = append(append(answers, msg.Answers...), msg.Additionals...)
		for _, answer := range answers {
			name := fqdn
			if protocol.RecordType(answer.TYPE) == protocol.RecordTypeA {
				name = info.Host
			}
			if name == "" || !strings.EqualFold(answer.NAME, name) {
				continue
			}
			switch protocol.RecordType(answer.TYPE) {
			case protocol.RecordTypeSRV:
				if srv, err := message.ParseRDATA(answer.TYPE, answer.RDATA); err == nil {
					if s, ok := srv.(message.SRVData); ok {
						info.Host = s.Target
						info.Port = s.Port
					}
				}
				haveSRV = true
			case protocol.RecordTypeTXT:
				if props, err := records.ParseProperties(answer.RDATA); err == nil {
					info.TXT = props
				}
				haveTXT = true
			case protocol.RecordTypeA:
				if data, err := message.ParseRDATA(answer.TYPE, answer.RDATA); err == nil {
					if ip, ok := data.(net.IP); ok {
						info.Addrs = append(info.Addrs, ip)
					}
				}
			}
		}
		if haveSRV && haveTXT {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	})
	defer unsubscribe()

	queryMsg, err := message.BuildQueryMulti([]message.Question{
		{QNAME: fqdn, QTYPE: uint16(protocol.RecordTypeSRV), QCLASS: uint16(protocol.ClassIN)},
		{QNAME: fqdn, QTYPE: uint16(protocol.RecordTypeTXT), QCLASS: uint16(protocol.ClassIN)},
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := t.Send(ctx, queryMsg, protocol.MulticastGroupIPv4()); err != nil {
		return nil, err
	}

	select {
	case <-done:
		return info, nil
	case <-ctx.Done():
		mu.Lock()
		resolved := haveSRV && haveTXT
		mu.Unlock()
		if resolved {
			return info, nil
		}
		return nil, ctx.Err()
	}
}

// ListServiceTypes enumerates distinct service types advertised on the
// network per RFC 6763 §9, collecting responses until timeout elapses.
func ListServiceTypes(ctx context.Context, r *reactor.Reactor, t transport.Transport, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	seen := make(map[string]bool)
	var mu sync.Mutex

	unsubscribe := r.Subscribe(func(msg *message.DNSMessage, _ net.Addr) {
		if !msg.Header.IsResponse() {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, answer := range msg.Answers {
			if protocol.RecordType(answer.TYPE) != protocol.RecordTypePTR || !strings.EqualFold(answer.NAME, servicesMetaQuery) {
				continue
			}
			seen[answer.Target] = true
		}
	})
	defer unsubscribe()

	queryMsg, err := message.BuildQuery(servicesMetaQuery, uint16(protocol.RecordTypePTR))
	if err != nil {
		return nil, err
	}
	if err := t.Send(ctx, queryMsg, protocol.MulticastGroupIPv4()); err != nil {
		return nil, err
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	types := make([]string, 0, len(seen))
	for st := range seen {
		types = append(types, st)
	}
	return types, nil
}
