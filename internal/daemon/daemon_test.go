package daemon

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/nugget/signalgw/internal/connwatch"
)

func TestSupervisor_ExternalAddress(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	sup := New(Config{
		ExternalAddress: l.Addr().String(),
		StartupTimeout:  2 * time.Second,
	})

	mgr := connwatch.NewManager(nil)
	defer mgr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := sup.Start(ctx, mgr, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sup.Address() != l.Addr().String() {
		t.Errorf("Address() = %q, want %q", sup.Address(), l.Addr().String())
	}

	conn, err := sup.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()
}

func TestSupervisor_StartupTimeout(t *testing.T) {
	sup := New(Config{
		ExternalAddress: "127.0.0.1:1", // nothing listening
		StartupTimeout:  300 * time.Millisecond,
	})

	mgr := connwatch.NewManager(nil)
	defer mgr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := sup.Start(ctx, mgr, nil); !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("Start err = %v, want ErrStartupTimeout", err)
	}
}

func TestSupervisor_NotInstalled(t *testing.T) {
	sup := New(Config{
		BinaryName:     "signal-cli-does-not-exist-in-this-test-environment",
		StartupTimeout: 300 * time.Millisecond,
	})

	mgr := connwatch.NewManager(nil)
	defer mgr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := sup.Start(ctx, mgr, nil); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("Start err = %v, want ErrNotInstalled", err)
	}
}

func TestFreePort(t *testing.T) {
	port, err := freePort(20000, 20100)
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	if port < 20000 || port > 20100 {
		t.Errorf("port %d out of range", port)
	}
}
