package protocol

import (
	"math"

	"github.com/micromayhem/mayhem/internal/game"
)

const (
	// CellSize is the quantization grid cell, one block width.
	CellSize = game.BlockWidth
	// SubSteps divides a cell for the sub-cell fraction.
	SubSteps = 256
)

// QuantizedPosition is a position on the wire: a signed grid cell and an
// unsigned fraction of that cell per axis. Field order is wire order.
type QuantizedPosition struct {
	GridX int8
	GridY int8
	SubX  uint8
	SubY  uint8
}

// Quantize converts a world position. Cells outside [-128, 127] saturate,
// and the fraction clamps to [0, 255] against the saturated cell.
func Quantize(p game.Vec2) QuantizedPosition {
	gx, sx := quantizeAxis(p.X)
	gy, sy := quantizeAxis(p.Y)
	return QuantizedPosition{GridX: gx, GridY: gy, SubX: sx, SubY: sy}
}

// Dequantize converts back to world units. For in-range positions the error
// per axis is below CellSize/SubSteps.
func Dequantize(q QuantizedPosition) game.Vec2 {
	return game.Vec2{
		X: dequantizeAxis(q.GridX, q.SubX),
		Y: dequantizeAxis(q.GridY, q.SubY),
	}
}

func quantizeAxis(v float32) (int8, uint8) {
	const step = float64(CellSize) / SubSteps

	cell := math.Floor(float64(v) / CellSize)
	if cell < math.MinInt8 {
		cell = math.MinInt8
	}
	if cell > math.MaxInt8 {
		cell = math.MaxInt8
	}

	sub := math.Floor((float64(v) - cell*CellSize) / step)
	if sub < 0 {
		sub = 0
	}
	if sub > math.MaxUint8 {
		sub = math.MaxUint8
	}
	return int8(cell), uint8(sub)
}

func dequantizeAxis(grid int8, sub uint8) float32 {
	const step = float64(CellSize) / SubSteps
	return float32(float64(grid)*CellSize + float64(sub)*step)
}
