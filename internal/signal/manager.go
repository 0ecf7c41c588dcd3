package signal

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/nugget/signalgw/internal/rpc"
)

// Manager binds one shared rpc.Client (one TCP connection to the
// signal-cli daemon) to the set of accounts the gateway has touched,
// and routes every "receive" notification to a single dispatch
// callback regardless of which account it names. signal-cli
// multiplexes all linked accounts over one JSON-RPC connection, so
// this is the only place that needs to know that.
//
// The live client is held behind an atomic pointer rather than a
// fixed field: daemon.Supervisor's reconnect loop calls SetClient
// with a freshly dialed rpc.Client after the old one's transport is
// lost, and every existing Account must start using it without the
// caller needing to re-fetch Account handles.
type Manager struct {
	clientPtr atomic.Pointer[rpc.Client]
	onReceive func(Envelope)

	mu       sync.Mutex
	accounts map[string]*Account
}

// NewManager wraps client and installs the receive-notification
// router. onReceive is called for every inbound envelope, across all
// accounts; callers typically wire this to a Receive Hub's Dispatch.
func NewManager(client *rpc.Client, onReceive func(Envelope)) *Manager {
	m := &Manager{onReceive: onReceive, accounts: make(map[string]*Account)}
	m.clientPtr.Store(client)
	m.installReceiveSink(client)
	return m
}

// installReceiveSink registers the "receive" notification router on
// client. Each rpc.Client has its own sink table, so this must be
// repeated on every client SetClient swaps in.
func (m *Manager) installReceiveSink(client *rpc.Client) {
	client.Notify("receive", func(params json.RawMessage) {
		var notif ReceiveNotification
		if err := json.Unmarshal(params, &notif); err != nil {
			return
		}
		if notif.Envelope.Account == "" {
			notif.Envelope.Account = notif.Account
		}
		m.onReceive(notif.Envelope)
	})
}

// SetClient replaces the live RPC connection every existing and
// future Account uses, and re-installs the receive-notification
// router on it. Called by daemon.Supervisor's reconnect loop once a
// new connection to signal-cli is established.
func (m *Manager) SetClient(client *rpc.Client) {
	m.installReceiveSink(client)
	m.clientPtr.Store(client)
}

// currentClient returns the RPC client in current use.
func (m *Manager) currentClient() *rpc.Client {
	return m.clientPtr.Load()
}

// Account returns the Account for number, creating it on first use.
func (m *Manager) Account(number string) *Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[number]; ok {
		return a
	}
	a := NewAccount(number, m)
	m.accounts[number] = a
	return a
}

// RawCall issues an RPC method with no implicit "account" scoping,
// for the handful of endpoints (attachments) that are not
// per-account in signal-cli's daemon interface.
func (m *Manager) RawCall(ctx context.Context, method string, params any, out any) error {
	return m.currentClient().Call(ctx, method, params, out)
}
