package network

import (
	"context"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startTransport(t *testing.T, cfg TransportConfig) *Transport {
	t.Helper()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	tr := NewTransport(cfg)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(tr.Stop)
	return tr
}

func TestTransportDelivers(t *testing.T) {
	a := startTransport(t, TransportConfig{})
	b := startTransport(t, TransportConfig{})

	if err := a.Send(b.LocalAddr(), []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var got []Event
	waitFor(t, "datagram", func() bool {
		got = b.Drain(got)
		return len(got) > 0
	})
	if got[0].Kind != EventDatagram || string(got[0].Data) != "hello" {
		t.Fatalf("event = %+v", got[0])
	}
	if got[0].From != a.LocalAddr() {
		t.Fatalf("from = %v, want %v", got[0].From, a.LocalAddr())
	}
}

func TestTransportDropsOversize(t *testing.T) {
	a := startTransport(t, TransportConfig{})
	b := startTransport(t, TransportConfig{})

	a.Send(b.LocalAddr(), make([]byte, 1000))
	a.Send(b.LocalAddr(), []byte{1})

	var got []Event
	waitFor(t, "small datagram", func() bool {
		got = b.Drain(got)
		return len(got) > 0
	})
	waitFor(t, "oversize drop", func() bool { return b.drops.oversize.Load() == 1 })
	if len(got[0].Data) != 1 {
		t.Fatalf("delivered %d bytes, want 1", len(got[0].Data))
	}
}

func TestTransportRateLimits(t *testing.T) {
	a := startTransport(t, TransportConfig{})
	b := startTransport(t, TransportConfig{MaxPacketsPerSec: 2})

	for i := 0; i < 5; i++ {
		a.Send(b.LocalAddr(), []byte{byte(i)})
	}
	waitFor(t, "rate limit drops", func() bool { return b.drops.rateLimited.Load() == 3 })
	if got := b.Drain(nil); len(got) != 2 {
		t.Fatalf("delivered %d datagrams, want 2", len(got))
	}
}

func TestTransportTimeout(t *testing.T) {
	b := startTransport(t, TransportConfig{Timeout: 60 * time.Millisecond})
	silent := addr(4242)
	b.Watch(silent)

	var got []Event
	waitFor(t, "timeout event", func() bool {
		got = b.Drain(got)
		return len(got) > 0
	})
	if got[0].Kind != EventTimeout || got[0].From != silent {
		t.Fatalf("event = %+v", got[0])
	}
	if b.Watched() != 0 {
		t.Fatalf("remote still watched after timeout")
	}
}

func TestTransportSendBeforeStart(t *testing.T) {
	tr := NewTransport(TransportConfig{ListenAddr: "127.0.0.1:0"})
	if err := tr.Send(addr(1), []byte{1}); err != ErrNotStarted {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
	tr.Stop()
}
