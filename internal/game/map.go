package game

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	MapRows = 8
	MapCols = 16

	// BlockWidth is the edge length of one map cell in world units.
	BlockWidth  = 30
	BlockHeight = 30
	// RowSpacing is the vertical distance between two platform rows.
	RowSpacing    = 90
	PaddingBlocks = 3

	HorizontalPadding = PaddingBlocks * BlockWidth
	VerticalPadding   = PaddingBlocks * BlockWidth

	ArenaWidth  = 2*HorizontalPadding + MapCols*BlockWidth
	ArenaHeight = 2*VerticalPadding + MapRows*RowSpacing

	layerBytes = 16
	// MapEncodingSize is the size of the map section of a Verify message.
	MapEncodingSize = int(blockKindCount) * layerBytes
)

var (
	ErrMapEncodingSize   = errors.New("map encoding has wrong size")
	ErrOverlappingBlocks = errors.New("map cell holds more than one block kind")
	ErrCellOutOfRange    = errors.New("map cell out of range")
)

// BlockKind is the material of a map cell. Planks can be dropped through,
// blocks cannot.
type BlockKind uint8

const (
	WoodPlank BlockKind = iota
	WoodBlock
	IcePlank
	IceBlock
	SlimePlank
	SlimeBlock
	blockKindCount
)

var blockGlyphs = map[BlockKind]byte{
	WoodPlank:  '-',
	WoodBlock:  '#',
	IcePlank:   '~',
	IceBlock:   'I',
	SlimePlank: ',',
	SlimeBlock: 'S',
}

var blockNames = map[BlockKind]string{
	WoodPlank:  "wood_plank",
	WoodBlock:  "wood_block",
	IcePlank:   "ice_plank",
	IceBlock:   "ice_block",
	SlimePlank: "slime_plank",
	SlimeBlock: "slime_block",
}

func (k BlockKind) String() string {
	if n, ok := blockNames[k]; ok {
		return n
	}
	return "unknown"
}

// IsPlank reports whether a player can drop through the block.
func (k BlockKind) IsPlank() bool {
	return k == WoodPlank || k == IcePlank || k == SlimePlank
}

// Bits128 is a 128-bit set, one bit per map cell.
type Bits128 struct {
	Lo uint64
	Hi uint64
}

func (b Bits128) Has(i int) bool {
	if i < 64 {
		return b.Lo&(1<<uint(i)) != 0
	}
	return b.Hi&(1<<uint(i-64)) != 0
}

func (b *Bits128) Set(i int) {
	if i < 64 {
		b.Lo |= 1 << uint(i)
		return
	}
	b.Hi |= 1 << uint(i-64)
}

func (b Bits128) And(o Bits128) Bits128 {
	return Bits128{Lo: b.Lo & o.Lo, Hi: b.Hi & o.Hi}
}

func (b Bits128) IsZero() bool {
	return b.Lo == 0 && b.Hi == 0
}

func cellIndex(row, col int) int {
	return row*MapCols + col
}

// Map is the static block layout of an arena. Each block kind owns one
// bitset; a cell is set in at most one of them.
type Map struct {
	layers [blockKindCount]Bits128
}

// NewMap builds a map from per-kind layers, rejecting overlapping kinds.
// An all-empty map is valid.
func NewMap(layers [blockKindCount]Bits128) (*Map, error) {
	for i := 0; i < int(blockKindCount); i++ {
		for j := i + 1; j < int(blockKindCount); j++ {
			if !layers[i].And(layers[j]).IsZero() {
				return nil, fmt.Errorf("%s and %s: %w", BlockKind(i), BlockKind(j), ErrOverlappingBlocks)
			}
		}
	}
	return &Map{layers: layers}, nil
}

// MapBuilder places blocks one cell at a time.
type MapBuilder struct {
	layers [blockKindCount]Bits128
	err    error
}

// Place puts a block at (row, col). Errors are sticky and reported by Build.
func (b *MapBuilder) Place(row, col int, kind BlockKind) *MapBuilder {
	if b.err != nil {
		return b
	}
	if row < 0 || row >= MapRows || col < 0 || col >= MapCols || kind >= blockKindCount {
		b.err = fmt.Errorf("row %d col %d: %w", row, col, ErrCellOutOfRange)
		return b
	}
	b.layers[kind].Set(cellIndex(row, col))
	return b
}

// Row fills columns [from, to] of a row with one kind.
func (b *MapBuilder) Row(row, from, to int, kind BlockKind) *MapBuilder {
	for col := from; col <= to; col++ {
		b.Place(row, col, kind)
	}
	return b
}

func (b *MapBuilder) Build() (*Map, error) {
	if b.err != nil {
		return nil, b.err
	}
	return NewMap(b.layers)
}

// DefaultMap is the layout served when no other map is configured.
func DefaultMap() *Map {
	m, err := new(MapBuilder).
		Row(MapRows-1, 0, MapCols-1, WoodBlock).
		Row(5, 2, 5, WoodPlank).
		Row(5, 10, 13, WoodPlank).
		Row(3, 5, 10, IcePlank).
		Row(1, 0, 2, SlimePlank).
		Row(1, 13, 15, SlimePlank).
		Build()
	if err != nil {
		panic(err)
	}
	return m
}

// BlockAt returns the block in a cell, if any.
func (m *Map) BlockAt(row, col int) (BlockKind, bool) {
	if row < 0 || row >= MapRows || col < 0 || col >= MapCols {
		return 0, false
	}
	idx := cellIndex(row, col)
	for k := BlockKind(0); k < blockKindCount; k++ {
		if m.layers[k].Has(idx) {
			return k, true
		}
	}
	return 0, false
}

// Encode writes the six layers in block-kind order, 16 bytes each,
// little-endian.
func (m *Map) Encode() []byte {
	out := make([]byte, MapEncodingSize)
	for k := 0; k < int(blockKindCount); k++ {
		off := k * layerBytes
		binary.LittleEndian.PutUint64(out[off:], m.layers[k].Lo)
		binary.LittleEndian.PutUint64(out[off+8:], m.layers[k].Hi)
	}
	return out
}

// DecodeMap parses the encoding produced by Encode.
func DecodeMap(data []byte) (*Map, error) {
	if len(data) != MapEncodingSize {
		return nil, fmt.Errorf("got %d bytes, want %d: %w", len(data), MapEncodingSize, ErrMapEncodingSize)
	}
	var layers [blockKindCount]Bits128
	for k := range layers {
		off := k * layerBytes
		layers[k].Lo = binary.LittleEndian.Uint64(data[off:])
		layers[k].Hi = binary.LittleEndian.Uint64(data[off+8:])
	}
	return NewMap(layers)
}

// String renders the grid, one line per row, '.' for empty cells.
func (m *Map) String() string {
	var sb strings.Builder
	for row := 0; row < MapRows; row++ {
		for col := 0; col < MapCols; col++ {
			if k, ok := m.BlockAt(row, col); ok {
				sb.WriteByte(blockGlyphs[k])
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// rowTop is the world y of the top edge of a platform row.
func rowTop(row int) float32 {
	return float32(VerticalPadding + row*RowSpacing)
}

// colAt maps a world x to a map column; ok is false outside the grid.
func colAt(x float32) (int, bool) {
	rel := x - HorizontalPadding
	if rel < 0 {
		return 0, false
	}
	col := int(rel / BlockWidth)
	if col >= MapCols {
		return 0, false
	}
	return col, true
}
