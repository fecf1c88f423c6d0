package protocol

import (
	"encoding/binary"
	"fmt"
)

// PacketBuilder appends little-endian fields to a datagram-sized buffer.
// Building never fails; callers check Len against their budget.
type PacketBuilder struct {
	buf []byte
}

// NewPacketBuilder returns a builder with room for a full datagram.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{buf: make([]byte, 0, HeaderSize+MaxPayload)}
}

// PutByte appends one byte.
func (b *PacketBuilder) PutByte(v byte) *PacketBuilder {
	b.buf = append(b.buf, v)
	return b
}

func (b *PacketBuilder) PutUint16(v uint16) *PacketBuilder {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
	return b
}

func (b *PacketBuilder) PutUint32(v uint32) *PacketBuilder {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	return b
}

// PutPosition appends a quantized position as
// [grid_x:1][grid_y:1][sub_x:1][sub_y:1].
func (b *PacketBuilder) PutPosition(q QuantizedPosition) *PacketBuilder {
	b.buf = append(b.buf, byte(q.GridX), byte(q.GridY), q.SubX, q.SubY)
	return b
}

// PutBytes appends raw bytes.
func (b *PacketBuilder) PutBytes(data []byte) *PacketBuilder {
	b.buf = append(b.buf, data...)
	return b
}

// PutString appends the string bytes with no length prefix or terminator.
func (b *PacketBuilder) PutString(s string) *PacketBuilder {
	b.buf = append(b.buf, s...)
	return b
}

// Build returns the bytes written so far.
func (b *PacketBuilder) Build() []byte {
	return b.buf
}

func (b *PacketBuilder) Len() int {
	return len(b.buf)
}

// String returns a hex dump for debug logs.
func (b *PacketBuilder) String() string {
	return fmt.Sprintf("packet[%d bytes]: %x", len(b.buf), b.buf)
}
