// Package hub implements the Receive Hub: it turns the single
// upstream notification stream from a signal-cli account into many
// independent consumer subscriptions (WebSocket, SSE, webhook),
// tracking one subscribeReceive lifecycle per account no matter how
// many consumers are attached. The broadcast mechanism is adapted
// from a non-blocking pub/sub bus pattern, generalized to a
// per-account state machine with drain/reconnect semantics.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/signalgw/internal/signal"
)

// state is where an account's Subscription sits in the lifecycle
// described by the package doc.
type state int

const (
	stateAbsent state = iota
	stateStarting
	stateActive
	stateDraining
	stateStopping
	stateReconnecting
)

// DrainGrace is how long a Subscription waits after its last consumer
// leaves before tearing down the upstream subscribeReceive call, so a
// client that reconnects quickly does not pay the resubscribe cost.
const DrainGrace = 5 * time.Second

// reconnectInitialDelay and reconnectMaxDelay bound the capped
// exponential backoff a Reconnecting subscription uses while
// re-issuing subscribeReceive against a freshly replaced upstream RPC
// connection, per spec.md §4.3's crash-recovery contract.
const (
	reconnectInitialDelay = 1 * time.Second
	reconnectMaxDelay     = 30 * time.Second
)

// MaxConsecutiveDrops is how many consecutive full-queue drops a
// consumer tolerates before the hub evicts it.
const MaxConsecutiveDrops = 100

// consumerQueueSize bounds each consumer's outbound buffer.
const consumerQueueSize = 256

// Consumer receives envelopes for an account it subscribed to, and is
// told to close when the hub evicts it for being too slow.
type Consumer struct {
	ch      chan signal.Envelope
	drops   int
	onEvict func()
}

// Envelopes returns the channel of fanned-out envelopes. It is closed
// when the consumer is evicted or explicitly unsubscribed.
func (c *Consumer) Envelopes() <-chan signal.Envelope {
	return c.ch
}

// Account abstracts the subset of signal.Account the hub depends on,
// so tests can substitute a fake without a real daemon connection.
type Account interface {
	SubscribeReceive(ctx context.Context) error
	UnsubscribeReceive(ctx context.Context) error
}

// subscription is the hub's per-account bookkeeping.
type subscription struct {
	mu        sync.Mutex
	state     state
	consumers map[*Consumer]struct{}
	drainTime time.Time
	cancel    context.CancelFunc
}

// Hub coordinates per-account subscriptions. The zero value is not
// usable; construct with New.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]*subscription
	logger *slog.Logger

	// accountFor resolves an account number to the signal.Account used
	// to issue subscribeReceive/unsubscribeReceive calls.
	accountFor func(number string) (Account, bool)

	// onDrop and onEvict let callers observe hub telemetry (metrics
	// counters) without the hub importing the metrics package.
	onDrop  func(account string)
	onEvict func(account string)
}

// Option configures optional Hub callbacks.
type Option func(*Hub)

// WithDropCallback registers fn to be called every time the hub drops
// an envelope for a slow consumer.
func WithDropCallback(fn func(account string)) Option {
	return func(h *Hub) { h.onDrop = fn }
}

// WithEvictCallback registers fn to be called every time the hub
// evicts a slow consumer.
func WithEvictCallback(fn func(account string)) Option {
	return func(h *Hub) { h.onEvict = fn }
}

// New creates a Hub. accountFor resolves an account number to the
// signal.Account that should receive subscribeReceive calls for it.
func New(logger *slog.Logger, accountFor func(number string) (Account, bool), opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		subs:       make(map[string]*subscription),
		logger:     logger,
		accountFor: accountFor,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a new consumer for account, lazily starting the
// upstream subscribeReceive call if this is the first consumer. The
// returned function unsubscribes the consumer.
func (h *Hub) Subscribe(ctx context.Context, account string) (*Consumer, func(), error) {
	h.mu.Lock()
	sub, ok := h.subs[account]
	if !ok {
		sub = &subscription{consumers: make(map[*Consumer]struct{})}
		h.subs[account] = sub
	}
	h.mu.Unlock()

	consumer := &Consumer{ch: make(chan signal.Envelope, consumerQueueSize)}

	sub.mu.Lock()
	sub.consumers[consumer] = struct{}{}
	needsStart := sub.state == stateAbsent
	if sub.state == stateDraining {
		sub.state = stateActive // a new consumer arrived during grace, cancel the drain.
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	sub.mu.Unlock()

	if needsStart {
		if err := h.start(ctx, account, sub); err != nil {
			h.unsubscribe(account, sub, consumer)
			return nil, nil, err
		}
	}

	unsub := func() { h.unsubscribe(account, sub, consumer) }
	return consumer, unsub, nil
}

// start transitions a subscription from Absent to Active by issuing
// the upstream subscribeReceive call.
func (h *Hub) start(ctx context.Context, account string, sub *subscription) error {
	sub.mu.Lock()
	sub.state = stateStarting
	sub.mu.Unlock()

	return h.issueSubscribe(ctx, account, sub, stateAbsent)
}

// issueSubscribe calls subscribeReceive on account's upstream and
// transitions sub to Active on success or to onFailState on failure.
// Shared by start (Absent -> Starting -> {Active, Absent}) and
// reconnectAccount (Reconnecting -> {Active, Reconnecting}).
func (h *Hub) issueSubscribe(ctx context.Context, account string, sub *subscription, onFailState state) error {
	acct, ok := h.accountFor(account)
	if !ok {
		sub.mu.Lock()
		sub.state = onFailState
		sub.mu.Unlock()
		return errUnknownAccount(account)
	}

	if err := acct.SubscribeReceive(ctx); err != nil {
		sub.mu.Lock()
		sub.state = onFailState
		sub.mu.Unlock()
		return err
	}

	sub.mu.Lock()
	sub.state = stateActive
	sub.mu.Unlock()
	return nil
}

// Reconnected is called once a replaced upstream RPC connection is in
// place (daemon.Supervisor finished its own respawn/redial) so every
// account whose subscription survived the outage re-issues
// subscribeReceive. Consumers stay attached throughout: per spec.md
// §4.3 they "observe no envelopes for the duration of the outage" but
// are never torn down for it.
func (h *Hub) Reconnected() {
	h.mu.Lock()
	subs := make(map[string]*subscription, len(h.subs))
	for account, sub := range h.subs {
		subs[account] = sub
	}
	h.mu.Unlock()

	for account, sub := range subs {
		go h.reconnectAccount(account, sub)
	}
}

// reconnectAccount re-issues subscribeReceive for account with capped
// exponential backoff, as long as the subscription still has
// consumers attached and nothing else has claimed it in the meantime
// (e.g. drain completed, or a second Reconnected call raced this one).
func (h *Hub) reconnectAccount(account string, sub *subscription) {
	sub.mu.Lock()
	if sub.state != stateActive && sub.state != stateStarting {
		sub.mu.Unlock()
		return
	}
	sub.state = stateReconnecting
	sub.mu.Unlock()

	delay := reconnectInitialDelay
	for {
		sub.mu.Lock()
		wanted := sub.state == stateReconnecting && len(sub.consumers) > 0
		sub.mu.Unlock()
		if !wanted {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := h.issueSubscribe(ctx, account, sub, stateReconnecting)
		cancel()
		if err == nil {
			h.logger.Info("hub resubscribed after daemon reconnect", "account", account)
			return
		}

		h.logger.Warn("hub resubscribe attempt failed, retrying", "account", account, "error", err)
		time.Sleep(delay)
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// unsubscribe removes consumer from sub. If it was the last consumer,
// the subscription enters Draining and schedules teardown after
// DrainGrace.
func (h *Hub) unsubscribe(account string, sub *subscription, consumer *Consumer) {
	sub.mu.Lock()
	if _, ok := sub.consumers[consumer]; !ok {
		sub.mu.Unlock()
		return
	}
	delete(sub.consumers, consumer)
	close(consumer.ch)

	if len(sub.consumers) > 0 {
		sub.mu.Unlock()
		return
	}

	sub.state = stateDraining
	drainCtx, cancel := context.WithCancel(context.Background())
	sub.cancel = cancel
	sub.mu.Unlock()

	go h.drain(account, sub, drainCtx)
}

// drain waits out the grace period; if the subscription is still
// empty and still Draining, it tears down the upstream subscription.
func (h *Hub) drain(account string, sub *subscription, ctx context.Context) {
	timer := time.NewTimer(DrainGrace)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return // a new consumer arrived and cancelled the drain.
	case <-timer.C:
	}

	sub.mu.Lock()
	if sub.state != stateDraining || len(sub.consumers) > 0 {
		sub.mu.Unlock()
		return
	}
	sub.state = stateStopping
	sub.mu.Unlock()

	acct, ok := h.accountFor(account)
	if ok {
		unsubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := acct.UnsubscribeReceive(unsubCtx); err != nil {
			h.logger.Warn("unsubscribeReceive failed", "account", account, "error", err)
		}
		cancel()
	}

	h.mu.Lock()
	delete(h.subs, account)
	h.mu.Unlock()
}

// Dispatch fans out env to every live consumer subscribed to its
// account. Slow consumers have their oldest undelivered envelope
// dropped; after MaxConsecutiveDrops they are evicted and their
// channel closed.
func (h *Hub) Dispatch(env signal.Envelope) {
	h.mu.Lock()
	sub, ok := h.subs[env.Account]
	h.mu.Unlock()
	if !ok {
		return
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	for consumer := range sub.consumers {
		select {
		case consumer.ch <- env:
			consumer.drops = 0
		default:
			// Drop the oldest pending envelope to make room, then retry once.
			select {
			case <-consumer.ch:
			default:
			}
			select {
			case consumer.ch <- env:
			default:
			}
			consumer.drops++
			if h.onDrop != nil {
				h.onDrop(env.Account)
			}
			if consumer.drops >= MaxConsecutiveDrops {
				delete(sub.consumers, consumer)
				close(consumer.ch)
				if h.onEvict != nil {
					h.onEvict(env.Account)
				}
			}
		}
	}
}

// ConsumerCount reports how many consumers are attached to account,
// for health/status endpoints and tests.
func (h *Hub) ConsumerCount(account string) int {
	h.mu.Lock()
	sub, ok := h.subs[account]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return len(sub.consumers)
}

type errUnknownAccount string

func (e errUnknownAccount) Error() string {
	return "hub: unknown account " + string(e)
}
