// Package protocol implements the Micro Mayhem wire format: the packet
// header carrying sequence and acknowledgement state, the typed messages
// riding in its payload and the position quantizer used by State.
// All multi-byte fields are little-endian.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// ProtocolID tags every datagram of this game. Datagrams carrying any
	// other tag are dropped before the rest of the header is read.
	ProtocolID uint16 = 8106

	// DefaultPort is the server's well-known UDP port.
	DefaultPort = 30000

	// HeaderSize is tag(2) + seq(2) + ack(2) + ack_bits(4).
	HeaderSize = 10

	// MaxPayload bounds the message bytes carried by one packet.
	MaxPayload = 256

	// MaxPacketSize is the largest valid datagram.
	MaxPacketSize = HeaderSize + MaxPayload
)

// Packet is one datagram: the reliability header plus an opaque payload.
type Packet struct {
	ProtocolID uint16
	Sequence   uint16
	Ack        uint16
	AckBits    uint32
	Payload    []byte
}

type header struct {
	ProtocolID uint16
	Sequence   uint16
	Ack        uint16
	AckBits    uint32
}

// NewPacket builds a packet, rejecting payloads above MaxPayload.
func NewPacket(tag, seq, ack uint16, ackBits uint32, payload []byte) (Packet, error) {
	if len(payload) > MaxPayload {
		return Packet{}, fmt.Errorf("payload of %d bytes (max %d): %w", len(payload), MaxPayload, ErrPayloadTooLarge)
	}
	return Packet{
		ProtocolID: tag,
		Sequence:   seq,
		Ack:        ack,
		AckBits:    ackBits,
		Payload:    append([]byte(nil), payload...),
	}, nil
}

// Bytes encodes the packet.
// Format: [tag:2][seq:2][ack:2][ack_bits:4][payload...]
func (p Packet) Bytes() []byte {
	b := NewPacketBuilder()
	b.PutUint16(p.ProtocolID).
		PutUint16(p.Sequence).
		PutUint16(p.Ack).
		PutUint32(p.AckBits).
		PutBytes(p.Payload)
	return b.Build()
}

// Decode parses a datagram. The payload is copied out of data.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("got %d bytes: %w", len(data), ErrTruncatedFrame)
	}
	if len(data)-HeaderSize > MaxPayload {
		return Packet{}, fmt.Errorf("got %d payload bytes (max %d): %w", len(data)-HeaderSize, MaxPayload, ErrOversizeFrame)
	}

	var h header
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return Packet{}, fmt.Errorf("failed to read packet header: %w", err)
	}

	return Packet{
		ProtocolID: h.ProtocolID,
		Sequence:   h.Sequence,
		Ack:        h.Ack,
		AckBits:    h.AckBits,
		Payload:    append([]byte(nil), data[HeaderSize:]...),
	}, nil
}

// PeekTag returns the protocol tag of a datagram without decoding it.
func PeekTag(data []byte) (uint16, bool) {
	if len(data) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(data), true
}

// Open checks the protocol tag first and only then decodes the datagram.
func Open(data []byte, tag uint16) (Packet, error) {
	got, ok := PeekTag(data)
	if !ok {
		return Packet{}, fmt.Errorf("got %d bytes: %w", len(data), ErrTruncatedFrame)
	}
	if got != tag {
		return Packet{}, fmt.Errorf("tag %d (want %d): %w", got, tag, ErrProtocolMismatch)
	}
	return Decode(data)
}
