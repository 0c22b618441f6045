// Package reactor runs the single receive/dispatch loop shared by the
// responder and browser halves of the engine: one goroutine reads off the
// transport and fans parsed messages out to subscribers, while a
// container/heap-ordered queue fires scheduled callbacks (probe retries,
// announce backoff steps, browse re-queries) on the same loop instead of
// spawning a timer goroutine per task.
package reactor

import (
	"container/heap"
	"context"
	goerrors "errors"
	"net"
	"sync"
	"time"

	"github.com/quietwire/mdnsd/internal/errors"
	"github.com/quietwire/mdnsd/internal/logx"
	"github.com/quietwire/mdnsd/internal/message"
	"github.com/quietwire/mdnsd/internal/security"
	"github.com/quietwire/mdnsd/internal/transport"
)

// rateLimitThreshold/rateLimitCooldown bound the per-source-IP query rate
// the shared loop accepts before dropping, mirroring the one-shot querier's
// prior defaults.
const (
	rateLimitThreshold = 100
	rateLimitCooldown  = 60 * time.Second
	rateLimitMaxIPs    = 10000

	rateLimiterCleanupInterval = 5 * time.Minute
)

// pollInterval bounds how long a single Receive call blocks, so the loop can
// also check for due scheduled tasks and context cancellation. Mirrors the
// teacher's one-shot receiver's 100ms poll.
const pollInterval = 100 * time.Millisecond

// maxMDNSPacketSize rejects oversized packets before parsing, per RFC 6762 §17.
const maxMDNSPacketSize = 9000

// Handler receives every parsed inbound message. Handlers run synchronously
// on the reactor's loop goroutine, so they must not block.
type Handler func(msg *message.DNSMessage, src net.Addr)

type scheduledTask struct {
	at    time.Time
	fn    func()
	index int // heap.Interface bookkeeping
	id    uint64
}

type taskHeap []*scheduledTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) {
	t := x.(*scheduledTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Reactor is the composition root's single receive/dispatch loop.
type Reactor struct {
	transport transport.Transport
	log       logx.Logger

	mu       sync.Mutex
	handlers map[uint64]Handler
	tasks    taskHeap
	nextID   uint64

	rateLimiter *security.RateLimiter

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Reactor bound to t. Call Run to start the loop.
func New(t transport.Transport) *Reactor {
	return &Reactor{
		transport:   t,
		log:         logx.Component("reactor"),
		handlers:    make(map[uint64]Handler),
		rateLimiter: security.NewRateLimiter(rateLimitThreshold, rateLimitCooldown, rateLimitMaxIPs),
	}
}

// Subscribe registers h to be called with every successfully parsed inbound
// message. The returned func removes the subscription.
func (r *Reactor) Subscribe(h Handler) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.handlers[id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, id)
	}
}

// Schedule runs fn on the reactor loop at or after at. The returned func
// cancels the task if it hasn't fired yet.
func (r *Reactor) Schedule(at time.Time, fn func()) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	t := &scheduledTask{at: at, fn: fn, id: id}
	heap.Push(&r.tasks, t)
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, task := range r.tasks {
			if task.id == id {
				heap.Remove(&r.tasks, i)
				return
			}
		}
	}
}

// After is a convenience wrapper around Schedule for relative delays.
func (r *Reactor) After(d time.Duration, fn func()) (cancel func()) {
	return r.Schedule(time.Now().Add(d), fn)
}

// Run starts the receive/dispatch loop and blocks until ctx is canceled.
func (r *Reactor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	defer r.wg.Done()

	var scheduleCleanup func()
	scheduleCleanup = func() {
		r.After(rateLimiterCleanupInterval, func() {
			r.rateLimiter.Cleanup()
			scheduleCleanup()
		})
	}
	scheduleCleanup()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.runDueTasks()
		r.receiveOnce(ctx)
	}
}

// Stop cancels the loop and waits for it to exit.
func (r *Reactor) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reactor) runDueTasks() {
	now := time.Now()
	for {
		r.mu.Lock()
		if len(r.tasks) == 0 || r.tasks[0].at.After(now) {
			r.mu.Unlock()
			return
		}
		task := heap.Pop(&r.tasks).(*scheduledTask)
		r.mu.Unlock()
		task.fn()
	}
}

func (r *Reactor) receiveOnce(ctx context.Context) {
	recvCtx, cancel := context.WithTimeout(ctx, pollInterval)
	packet, src, err := r.transport.Receive(recvCtx)
	cancel()

	if err != nil {
		var netErr *errors.NetworkError
		if goerrors.As(err, &netErr) {
			return // timeout, expected between polls
		}
		r.log.Debug().Err(err).Msg("receive error")
		return
	}

	if len(packet) > maxMDNSPacketSize {
		r.log.Debug().Int("size", len(packet)).Msg("dropping oversized packet")
		return
	}

	if udpAddr, ok := src.(*net.UDPAddr); ok && udpAddr.IP != nil {
		if !r.rateLimiter.Allow(udpAddr.IP.String()) {
			return
		}
	}

	parsed, err := message.ParseMessage(packet)
	if err != nil {
		return
	}

	r.mu.Lock()
	handlers := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(parsed, src)
	}
}
