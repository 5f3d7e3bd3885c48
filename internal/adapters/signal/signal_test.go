package signal

import (
	"testing"

	"github.com/echo-project/echo-signal/internal/core"
)

func TestWsConnBackpressure(t *testing.T) {
	c := &wsConn{send: make(chan core.Frame, 2)}

	if err := c.TrySend(core.Frame("a")); err != nil {
		t.Fatalf("TrySend: %v", err)
	}
	if err := c.TrySend(core.Frame("b")); err != nil {
		t.Fatalf("TrySend: %v", err)
	}
	// Channel full: drop, never block.
	if err := c.TrySend(core.Frame("c")); err != ErrBackpressure {
		t.Fatalf("TrySend on full channel = %v; want ErrBackpressure", err)
	}

	<-c.send
	if err := c.TrySend(core.Frame("d")); err != nil {
		t.Fatalf("TrySend after drain: %v", err)
	}
}

func TestWsConnSendAfterClose(t *testing.T) {
	c := &wsConn{send: make(chan core.Frame, 2)}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if err := c.TrySend(core.Frame("a")); err == nil {
		t.Fatal("TrySend succeeded on a closed connection")
	}
}
