package signal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/nugget/signalgw/internal/rpc"
)

func TestManager_RoutesReceiveByAccount(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	client := rpc.New(clientConn, nil)
	defer client.Close()
	defer serverConn.Close()

	received := make(chan Envelope, 2)
	mgr := NewManager(client, func(e Envelope) { received <- e })

	a1 := mgr.Account("+1")
	a2 := mgr.Account("+1")
	if a1 != a2 {
		t.Error("Account should return the same instance for the same number")
	}

	go serverConn.Write([]byte(`{"jsonrpc":"2.0","method":"receive","params":{"account":"+2","envelope":{"source":"+9","dataMessage":{"message":"hi"}}}}` + "\n"))

	select {
	case env := <-received:
		if env.Account != "+2" {
			t.Errorf("account = %q, want +2", env.Account)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for routed envelope")
	}
}

// TestManager_SetClient_SurvivesReconnect exercises the disconnect ->
// reconnect -> successful call path: an Account issues a call while
// the first transport is still up, the connection is then dropped and
// replaced via SetClient (as daemon.Supervisor's reconnect loop would
// do), and a subsequent call on the same Account succeeds against the
// new transport without the caller re-fetching Account.
func TestManager_SetClient_SurvivesReconnect(t *testing.T) {
	firstClientConn, firstServerConn := net.Pipe()
	firstClient := rpc.New(firstClientConn, nil)

	mgr := NewManager(firstClient, func(Envelope) {})
	acct := mgr.Account("+1")

	firstSrv := bufio.NewReader(firstServerConn)
	go func() {
		line, err := firstSrv.ReadBytes('\n')
		if err != nil {
			return
		}
		var req map[string]any
		json.Unmarshal(line, &req)
		firstServerConn.Write([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%v,"result":{"timestamp":1}}`, req["id"]) + "\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := acct.Send(ctx, "+2", "before reconnect"); err != nil {
		t.Fatalf("Send before reconnect: %v", err)
	}

	// Simulate a dropped connection: close both ends of the first pipe.
	firstClient.Close()
	firstServerConn.Close()

	secondClientConn, secondServerConn := net.Pipe()
	secondClient := rpc.New(secondClientConn, nil)
	defer secondClient.Close()
	defer secondServerConn.Close()

	mgr.SetClient(secondClient)

	secondSrv := bufio.NewReader(secondServerConn)
	go func() {
		line, err := secondSrv.ReadBytes('\n')
		if err != nil {
			return
		}
		var req map[string]any
		json.Unmarshal(line, &req)
		secondServerConn.Write([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%v,"result":{"timestamp":2}}`, req["id"]) + "\n"))
	}()

	ts, err := acct.Send(ctx, "+2", "after reconnect")
	if err != nil {
		t.Fatalf("Send after reconnect: %v", err)
	}
	if ts != 2 {
		t.Errorf("timestamp = %d, want 2", ts)
	}
}
