package signal

import (
	"context"
	"fmt"

	"github.com/nugget/signalgw/internal/rpc"
)

// Account is a thin, account-scoped view over the Manager's shared
// RPC connection. signal-cli's multi-account JSON-RPC daemon
// multiplexes every account over one connection; each call carries an
// "account" field naming which linked number it applies to. Account
// reads the connection from its Manager on every call rather than
// holding one itself, so a reconnect (Manager.SetClient) takes effect
// for every Account immediately, with no need to recreate them.
type Account struct {
	number  string
	manager *Manager
}

// NewAccount binds number to m, whose current RPC client backs every
// call this Account issues.
func NewAccount(number string, m *Manager) *Account {
	return &Account{number: number, manager: m}
}

// client returns the RPC connection currently in use.
func (a *Account) client() *rpc.Client {
	return a.manager.currentClient()
}

// Number returns the E.164 phone number this account is scoped to.
func (a *Account) Number() string {
	return a.number
}

// Send delivers a text message to recipient and returns the server
// timestamp of the sent message.
func (a *Account) Send(ctx context.Context, recipient, message string) (int64, error) {
	var result SendResult
	err := a.client().Call(ctx, "send", map[string]any{
		"account":   a.number,
		"recipient": []string{recipient},
		"message":   message,
	}, &result)
	if err != nil {
		return 0, fmt.Errorf("signal send: %w", err)
	}
	return result.Timestamp, nil
}

// SendGroup delivers a text message to a group identified by groupID.
func (a *Account) SendGroup(ctx context.Context, groupID, message string) (int64, error) {
	var result SendResult
	err := a.client().Call(ctx, "send", map[string]any{
		"account":  a.number,
		"groupId":  groupID,
		"message":  message,
	}, &result)
	if err != nil {
		return 0, fmt.Errorf("signal send to group: %w", err)
	}
	return result.Timestamp, nil
}

// SendReceipt sends a read receipt for the given message timestamp.
func (a *Account) SendReceipt(ctx context.Context, recipient string, timestamp int64) error {
	err := a.client().Call(ctx, "sendReceipt", map[string]any{
		"account":         a.number,
		"recipient":       recipient,
		"targetTimestamp": timestamp,
		"type":            "read",
	}, nil)
	if err != nil {
		return fmt.Errorf("signal sendReceipt: %w", err)
	}
	return nil
}

// SendTyping starts or stops the typing indicator for recipient.
func (a *Account) SendTyping(ctx context.Context, recipient string, stop bool) error {
	params := map[string]any{
		"account":   a.number,
		"recipient": recipient,
	}
	if stop {
		params["stop"] = true
	}
	if err := a.client().Call(ctx, "sendTyping", params, nil); err != nil {
		return fmt.Errorf("signal sendTyping: %w", err)
	}
	return nil
}

// SendReaction sends or removes an emoji reaction to a message.
func (a *Account) SendReaction(ctx context.Context, recipient, emoji string, targetAuthor string, targetTimestamp int64, remove bool) error {
	err := a.client().Call(ctx, "sendReaction", map[string]any{
		"account":             a.number,
		"recipient":           recipient,
		"emoji":               emoji,
		"targetAuthor":        targetAuthor,
		"targetTimestamp":     targetTimestamp,
		"remove":              remove,
	}, nil)
	if err != nil {
		return fmt.Errorf("signal sendReaction: %w", err)
	}
	return nil
}

// ListGroups returns the groups this account belongs to.
func (a *Account) ListGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := a.client().Call(ctx, "listGroups", map[string]any{"account": a.number}, &groups); err != nil {
		return nil, fmt.Errorf("signal listGroups: %w", err)
	}
	return groups, nil
}

// Call issues an arbitrary RPC method scoped to this account, merging
// extra into the call params alongside "account". Used by the
// gateway's table-driven route dispatch for the long tail of
// endpoints that don't warrant a dedicated method on Account.
func (a *Account) Call(ctx context.Context, method string, extra map[string]any, out any) error {
	params := map[string]any{"account": a.number}
	for k, v := range extra {
		params[k] = v
	}
	return a.client().Call(ctx, method, params, out)
}

// Ping checks that the daemon answers by requesting its version. The
// call is not scoped to this account. Suitable as a connwatch probe.
func (a *Account) Ping(ctx context.Context) error {
	return a.client().Call(ctx, "version", nil, nil)
}

// SubscribeReceive issues the upstream subscribeReceive call that
// tells the daemon to start pushing "receive" notifications for this
// account. The hub calls it when an account's subscription leaves the
// Absent state, and again each time it resubscribes after a daemon
// reconnect.
func (a *Account) SubscribeReceive(ctx context.Context) error {
	if err := a.client().Call(ctx, "subscribeReceive", map[string]any{"account": a.number}, nil); err != nil {
		return fmt.Errorf("signal subscribeReceive: %w", err)
	}
	return nil
}

// UnsubscribeReceive tells the daemon to stop pushing notifications
// for this account, called when the hub drains the account's last
// consumer.
func (a *Account) UnsubscribeReceive(ctx context.Context) error {
	if err := a.client().Call(ctx, "unsubscribeReceive", map[string]any{"account": a.number}, nil); err != nil {
		return fmt.Errorf("signal unsubscribeReceive: %w", err)
	}
	return nil
}

// StartLink begins the device-linking flow, returning a URI the
// caller renders as a QR code for the user to scan with their phone.
func (a *Account) StartLink(ctx context.Context, deviceName string) (string, error) {
	var result LinkResult
	err := a.client().Call(ctx, "startLink", map[string]any{"name": deviceName}, &result)
	if err != nil {
		return "", fmt.Errorf("signal startLink: %w", err)
	}
	return result.DeviceLinkURI, nil
}

// FinishLink completes a device-linking flow begun with StartLink,
// once the phone has scanned the QR code.
func (a *Account) FinishLink(ctx context.Context, deviceName string) error {
	if err := a.client().Call(ctx, "finishLink", map[string]any{"name": deviceName}, nil); err != nil {
		return fmt.Errorf("signal finishLink: %w", err)
	}
	return nil
}
