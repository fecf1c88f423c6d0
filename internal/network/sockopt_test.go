package network

import (
	"context"
	"testing"

	"github.com/micromayhem/mayhem/internal/protocol"
)

func TestUDPSocketOptions(t *testing.T) {
	opts := udpSocketOptions(16)
	if !opts.ReuseAddr {
		t.Error("ReuseAddr not set")
	}
	if want := 16 * (protocol.HeaderSize + protocol.MaxPayload); opts.RecvBuffer != want {
		t.Errorf("RecvBuffer = %d, want %d", opts.RecvBuffer, want)
	}
}

func TestListenConfigBinds(t *testing.T) {
	lc := ListenConfig(udpSocketOptions(64))
	pc, err := lc.ListenPacket(context.Background(), "udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	pc.Close()
}
