// Package engine is the composition root: it owns the one socket, answer
// cache, and receive/dispatch loop that a Responder and any number of
// ServiceBrowsers attach to non-owning, so a single process can both
// advertise and discover over one multicast transport.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/quietwire/mdnsd/browser"
	"github.com/quietwire/mdnsd/internal/cache"
	"github.com/quietwire/mdnsd/internal/logx"
	"github.com/quietwire/mdnsd/internal/network"
	"github.com/quietwire/mdnsd/internal/reactor"
	"github.com/quietwire/mdnsd/internal/transport"
	"github.com/quietwire/mdnsd/responder"
)

// Config controls how the engine binds to the network.
type Config struct {
	// Interfaces selects which network interfaces to multicast on.
	// ["all"] or empty resolves to network.DefaultInterfaces' VPN/Docker/
	// loopback-filtered set; any other value names interfaces explicitly.
	Interfaces []string

	// Hostname overrides the responder's advertised hostname. Empty uses
	// the system hostname.
	Hostname string

	// Verbosity sets the ambient log level ("debug", "info", "warn",
	// "error"); empty defaults to info.
	Verbosity string
}

// Engine owns the shared transport, cache, and reactor loop, and the
// lifecycle of every Responder/ServiceBrowser it was asked to create.
type Engine struct {
	ctx       context.Context
	cancel    context.CancelFunc
	transport transport.Transport
	cache     *cache.Cache
	reactor   *reactor.Reactor
	responder *responder.Responder
	hostname  string
	log       logx.Logger

	browsers []*browser.ServiceBrowser
}

// New resolves the configured interfaces, binds the shared multicast
// transport, and starts the reactor loop. The returned Engine has no
// Responder and no browsers yet — call Responder or Browse to add them.
func New(cfg Config) (*Engine, error) {
	logx.Init(cfg.Verbosity)
	log := logx.Component("engine")

	ifaces, err := network.ResolveInterfaces(cfg.Interfaces)
	if err != nil {
		return nil, fmt.Errorf("engine: resolving interfaces: %w", err)
	}

	t, err := transport.NewUDPv4Transport(ifaces)
	if err != nil {
		return nil, fmt.Errorf("engine: creating transport: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		ctx:       ctx,
		cancel:    cancel,
		transport: t,
		cache:     cache.New(),
		reactor:   reactor.New(t),
		hostname:  cfg.Hostname,
		log:       log,
	}

	go e.reactor.Run(ctx)

	log.Info().Int("interfaces", len(ifaces)).Msg("engine started")
	return e, nil
}

// Responder returns the engine's Responder, creating it on first call. The
// responder shares the engine's transport rather than opening its own
// socket.
func (e *Engine) Responder() (*responder.Responder, error) {
	if e.responder != nil {
		return e.responder, nil
	}

	opts := []responder.Option{responder.WithTransport(e.transport)}
	if e.hostname != "" {
		opts = append(opts, responder.WithHostname(e.hostname))
	}
	r, err := responder.New(e.ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("engine: creating responder: %w", err)
	}
	e.responder = r
	return r, nil
}

// Browse starts a continuous ServiceBrowser for serviceType, sharing the
// engine's transport, cache, and reactor. onEvent is invoked for every
// Added/Removed transition; see browser.ServiceBrowser for delivery
// guarantees.
func (e *Engine) Browse(serviceType string, onEvent func(browser.Event)) (*browser.ServiceBrowser, error) {
	b := browser.New(e.reactor, e.transport, e.cache, serviceType, onEvent)
	if err := b.Start(e.ctx); err != nil {
		return nil, fmt.Errorf("engine: starting browser for %q: %w", serviceType, err)
	}
	e.browsers = append(e.browsers, b)
	return b, nil
}

// GetServiceInfo resolves one instance's SRV/TXT/A details over the
// engine's shared transport and reactor.
func (e *Engine) GetServiceInfo(instanceName, serviceType string, timeout time.Duration) (*browser.ServiceInfo, error) {
	return browser.GetServiceInfo(e.ctx, e.reactor, e.transport, instanceName, serviceType, timeout)
}

// ListServiceTypes enumerates distinct service types currently advertised.
func (e *Engine) ListServiceTypes(timeout time.Duration) ([]string, error) {
	return browser.ListServiceTypes(e.ctx, e.reactor, e.transport, timeout)
}

// Close stops every browser, unregisters and closes the responder (sending
// goodbye packets), stops the reactor loop, and closes the shared
// transport.
func (e *Engine) Close() error {
	for _, b := range e.browsers {
		b.Cancel()
	}

	var responderErr error
	if e.responder != nil {
		responderErr = e.responder.Close()
	}

	e.reactor.Stop()
	e.cancel()

	if err := e.transport.Close(); err != nil {
		return err
	}
	return responderErr
}
