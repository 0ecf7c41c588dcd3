package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nugget/signalgw/internal/signal"
)

type fakeAccount struct {
	mu            sync.Mutex
	subscribes    int
	unsubscribes  int
	subscribeErr  error
}

func (f *fakeAccount) SubscribeReceive(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	return f.subscribeErr
}

func (f *fakeAccount) UnsubscribeReceive(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes++
	return nil
}

func newTestHub(accounts map[string]*fakeAccount) *Hub {
	return New(nil, func(number string) (Account, bool) {
		a, ok := accounts[number]
		return a, ok
	})
}

func TestSubscribe_IssuesUpstreamOnce(t *testing.T) {
	acct := &fakeAccount{}
	h := newTestHub(map[string]*fakeAccount{"+1": acct})

	ctx := context.Background()
	_, unsub1, err := h.Subscribe(ctx, "+1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	_, unsub2, err := h.Subscribe(ctx, "+1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if acct.subscribes != 1 {
		t.Errorf("subscribes = %d, want 1 (shared upstream subscription)", acct.subscribes)
	}
	if h.ConsumerCount("+1") != 2 {
		t.Errorf("ConsumerCount = %d, want 2", h.ConsumerCount("+1"))
	}

	unsub1()
	unsub2()
}

func TestDispatch_DeliversToAllConsumers(t *testing.T) {
	acct := &fakeAccount{}
	h := newTestHub(map[string]*fakeAccount{"+1": acct})

	ctx := context.Background()
	c1, unsub1, _ := h.Subscribe(ctx, "+1")
	defer unsub1()
	c2, unsub2, _ := h.Subscribe(ctx, "+1")
	defer unsub2()

	h.Dispatch(signal.Envelope{Account: "+1", Timestamp: 42})

	for _, c := range []*Consumer{c1, c2} {
		select {
		case env := <-c.Envelopes():
			if env.Timestamp != 42 {
				t.Errorf("timestamp = %d, want 42", env.Timestamp)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for envelope")
		}
	}
}

func TestDispatch_SlowConsumerEvicted(t *testing.T) {
	acct := &fakeAccount{}
	h := newTestHub(map[string]*fakeAccount{"+1": acct})

	ctx := context.Background()
	c, unsub, _ := h.Subscribe(ctx, "+1")
	defer unsub()

	// Never drain c's channel; fill it, then exceed the drop budget.
	for i := 0; i < consumerQueueSize+MaxConsecutiveDrops+5; i++ {
		h.Dispatch(signal.Envelope{Account: "+1", Timestamp: int64(i)})
	}

	select {
	case _, ok := <-c.Envelopes():
		if ok {
			// Channel still has buffered envelopes; drain until closed.
			for ok {
				_, ok = <-c.Envelopes()
			}
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for evicted consumer's channel to close")
	}

	if h.ConsumerCount("+1") != 0 {
		t.Errorf("ConsumerCount = %d, want 0 after eviction", h.ConsumerCount("+1"))
	}
}

func TestUnsubscribe_DrainsAfterGrace(t *testing.T) {
	acct := &fakeAccount{}
	h := newTestHub(map[string]*fakeAccount{"+1": acct})

	ctx := context.Background()
	_, unsub, _ := h.Subscribe(ctx, "+1")
	unsub()

	if h.ConsumerCount("+1") != 0 {
		t.Fatalf("ConsumerCount = %d, want 0 immediately after unsubscribe", h.ConsumerCount("+1"))
	}

	time.Sleep(DrainGrace + 200*time.Millisecond)

	acct.mu.Lock()
	unsubscribes := acct.unsubscribes
	acct.mu.Unlock()
	if unsubscribes != 1 {
		t.Errorf("unsubscribes = %d, want 1 after grace period", unsubscribes)
	}

	h.mu.Lock()
	_, stillTracked := h.subs["+1"]
	h.mu.Unlock()
	if stillTracked {
		t.Error("subscription should be removed from hub after drain completes")
	}
}

func TestReconnected_ResubscribesActiveConsumers(t *testing.T) {
	acct := &fakeAccount{}
	h := newTestHub(map[string]*fakeAccount{"+1": acct})

	ctx := context.Background()
	_, unsub, err := h.Subscribe(ctx, "+1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	acct.mu.Lock()
	if acct.subscribes != 1 {
		t.Fatalf("subscribes = %d, want 1 before reconnect", acct.subscribes)
	}
	acct.mu.Unlock()

	h.Reconnected()

	deadline := time.Now().Add(time.Second)
	for {
		acct.mu.Lock()
		subscribes := acct.subscribes
		acct.mu.Unlock()
		if subscribes == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscribes = %d, want 2 after Reconnected re-issues subscribeReceive", subscribes)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if h.ConsumerCount("+1") != 1 {
		t.Errorf("ConsumerCount = %d, want 1 (consumer stays attached across reconnect)", h.ConsumerCount("+1"))
	}
}

func TestReconnected_RetriesUntilUpstreamSucceeds(t *testing.T) {
	acct := &fakeAccount{subscribeErr: fmt.Errorf("daemon still warming up")}
	h := newTestHub(map[string]*fakeAccount{"+1": acct})

	// Build an Active subscription with one consumer directly, as if
	// Reconnected had fired after an upstream drop.
	c := &Consumer{ch: make(chan signal.Envelope, 1)}
	sub := &subscription{state: stateActive, consumers: map[*Consumer]struct{}{c: {}}}
	h.mu.Lock()
	h.subs["+1"] = sub
	h.mu.Unlock()

	go h.reconnectAccount("+1", sub)

	// Let the first resubscribe attempt fail, then let the daemon
	// "finish warming up" before the retry loop's next attempt.
	time.Sleep(200 * time.Millisecond)
	acct.mu.Lock()
	acct.subscribeErr = nil
	acct.mu.Unlock()

	deadline := time.Now().Add(3 * time.Second)
	for {
		sub.mu.Lock()
		state := sub.state
		sub.mu.Unlock()
		if state == stateActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscription state = %v, want stateActive", state)
		}
		time.Sleep(10 * time.Millisecond)
	}

	acct.mu.Lock()
	subscribes := acct.subscribes
	acct.mu.Unlock()
	if subscribes < 2 {
		t.Errorf("subscribes = %d, want at least 2 (one failed attempt, one success)", subscribes)
	}
}

func TestSubscribe_UnknownAccount(t *testing.T) {
	h := newTestHub(map[string]*fakeAccount{})

	_, _, err := h.Subscribe(context.Background(), "+nope")
	if err == nil {
		t.Fatal("expected error for unknown account")
	}
}
