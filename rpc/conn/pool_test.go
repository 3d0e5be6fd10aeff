package conn

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/skv/lib/policy"
	"github.com/ValentinKolb/skv/rpc/wire"
)

func testPoolPolicy(capacity int) *policy.ClientPolicy {
	cp := policy.NewClientPolicy()
	cp.ConnectionQueueSize = capacity
	cp.LoginTimeout = time.Second
	// keep exhaustion tests fast
	cp.Timeout = 50 * time.Millisecond
	return cp
}

func TestPoolCapacity(t *testing.T) {
	addr := startFakeNode(t, infoEchoHandler("ok\n"))
	pool := NewPool(addr, testPoolPolicy(2), nil)
	defer pool.Close()

	c1, err := pool.Get()
	if err != nil {
		t.Fatalf("failed to get first connection: %v", err)
	}
	c2, err := pool.Get()
	if err != nil {
		t.Fatalf("failed to get second connection: %v", err)
	}
	if pool.Len() != 2 {
		t.Errorf("expected 2 open connections, got %d", pool.Len())
	}

	if _, err := pool.Get(); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}

	// returning a connection unblocks the next caller
	pool.Put(c1)
	c3, err := pool.Get()
	if err != nil {
		t.Fatalf("failed to get returned connection: %v", err)
	}
	if c3 != c1 {
		t.Error("expected the returned connection to be reused")
	}
	if pool.Len() != 2 {
		t.Errorf("capacity must stay at 2, got %d", pool.Len())
	}

	pool.Put(c2)
	pool.Put(c3)
}

func TestPoolInvalidate(t *testing.T) {
	addr := startFakeNode(t, infoEchoHandler("ok\n"))
	pool := NewPool(addr, testPoolPolicy(1), nil)
	defer pool.Close()

	c1, err := pool.Get()
	if err != nil {
		t.Fatalf("failed to get connection: %v", err)
	}
	pool.Invalidate(c1)
	if pool.Len() != 0 {
		t.Errorf("expected 0 open connections after invalidate, got %d", pool.Len())
	}

	// the freed slot allows a fresh dial
	c2, err := pool.Get()
	if err != nil {
		t.Fatalf("failed to get connection after invalidate: %v", err)
	}
	if c2 == c1 {
		t.Error("invalidated connection must not be handed out again")
	}
	pool.Put(c2)
}

func TestPoolIdleEviction(t *testing.T) {
	addr := startFakeNode(t, infoEchoHandler("ok\n"))
	cp := testPoolPolicy(1)
	cp.IdleTimeout = 10 * time.Millisecond
	pool := NewPool(addr, cp, nil)
	defer pool.Close()

	c1, err := pool.Get()
	if err != nil {
		t.Fatalf("failed to get connection: %v", err)
	}
	pool.Put(c1)

	time.Sleep(30 * time.Millisecond)

	c2, err := pool.Get()
	if err != nil {
		t.Fatalf("failed to get connection: %v", err)
	}
	if c2 == c1 {
		t.Error("idle connection must be replaced, not reused")
	}
	pool.Put(c2)
}

func TestPoolAcquireTimeout(t *testing.T) {
	addr := startFakeNode(t, infoEchoHandler("ok\n"))
	cp := testPoolPolicy(1)
	// the acquire wait must use AcquireTimeout, not the command timeout
	cp.Timeout = 5 * time.Second
	cp.AcquireTimeout = 30 * time.Millisecond
	pool := NewPool(addr, cp, nil)
	defer pool.Close()

	c, err := pool.Get()
	if err != nil {
		t.Fatalf("failed to get connection: %v", err)
	}
	defer pool.Put(c)

	start := time.Now()
	if _, err := pool.Get(); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("exhaustion took %v, acquire timeout was not applied", elapsed)
	}
}

func TestPoolSweep(t *testing.T) {
	addr := startFakeNode(t, infoEchoHandler("ok\n"))
	cp := testPoolPolicy(2)
	cp.IdleTimeout = 10 * time.Millisecond
	pool := NewPool(addr, cp, nil)
	defer pool.Close()

	c1, err := pool.Get()
	if err != nil {
		t.Fatalf("failed to get connection: %v", err)
	}
	pool.Put(c1)

	time.Sleep(30 * time.Millisecond)
	pool.sweep()

	if pool.Len() != 0 {
		t.Errorf("sweep must close idle connections, %d still open", pool.Len())
	}
}

func TestPoolClosed(t *testing.T) {
	addr := startFakeNode(t, infoEchoHandler("ok\n"))
	pool := NewPool(addr, testPoolPolicy(1), nil)

	c, err := pool.Get()
	if err != nil {
		t.Fatalf("failed to get connection: %v", err)
	}
	pool.Close()

	if _, err := pool.Get(); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}

	// connections returned after close are discarded
	pool.Put(c)
	if pool.Len() != 0 {
		t.Errorf("expected 0 open connections, got %d", pool.Len())
	}
}

func TestPoolDialFailure(t *testing.T) {
	// reserve an address and close it again so the dial fails fast
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	pool := NewPool(addr, testPoolPolicy(1), nil)
	defer pool.Close()

	if _, err := pool.Get(); err == nil {
		t.Error("expected error dialing a closed address")
	}
	if pool.Len() != 0 {
		t.Errorf("failed dial must not leak a capacity slot, got %d", pool.Len())
	}
}

func TestPoolAuthenticatesNewConnections(t *testing.T) {
	logins := make(chan uint8, 16)
	addr := startFakeNode(t, func(c net.Conn) {
		defer c.Close()
		hdr, payload, err := readRequestFrame(c)
		if err != nil {
			return
		}
		if hdr.Type != wire.ProtoTypeSecurity {
			return
		}
		logins <- payload[2]
		writeAdminResponse(c, wire.ResultOk)
		// keep serving info requests afterwards
		for {
			if _, _, err := readRequestFrame(c); err != nil {
				return
			}
		}
	})

	auth, err := NewAuthenticator("tester", "secret")
	if err != nil {
		t.Fatalf("failed to create authenticator: %v", err)
	}
	pool := NewPool(addr, testPoolPolicy(2), auth)
	defer pool.Close()

	c1, err := pool.Get()
	if err != nil {
		t.Fatalf("failed to get first connection: %v", err)
	}
	c2, err := pool.Get()
	if err != nil {
		t.Fatalf("failed to get second connection: %v", err)
	}
	defer pool.Put(c1)
	defer pool.Put(c2)

	// the first handshake is a login, the second an authenticate
	if cmd := <-logins; cmd != 20 {
		t.Errorf("expected login command 20 first, got %d", cmd)
	}
	if cmd := <-logins; cmd != 0 {
		t.Errorf("expected authenticate command 0 second, got %d", cmd)
	}
}
