package protocol

import (
	"testing"

	"github.com/micromayhem/mayhem/internal/game"
)

func TestQuantizeRoundTrip(t *testing.T) {
	const tolerance = float32(CellSize) / SubSteps

	for _, p := range []game.Vec2{
		{X: 1.16, Y: -5.42},
		{X: 0, Y: 0},
		{X: 251.95, Y: 312.5},
		{X: -3840, Y: 3809.9},
		{X: 29.999, Y: -0.001},
	} {
		got := Dequantize(Quantize(p))
		for _, axis := range [][2]float32{{p.X, got.X}, {p.Y, got.Y}} {
			d := axis[0] - axis[1]
			if d < 0 || d >= tolerance {
				t.Errorf("Quantize(%v) -> %v: axis error %v outside [0, %v)", p, got, d, tolerance)
			}
		}
	}
}

func TestQuantizeExactValues(t *testing.T) {
	q := Quantize(game.Vec2{X: 1.16, Y: -5.42})
	want := QuantizedPosition{GridX: 0, GridY: -1, SubX: 9, SubY: 209}
	if q != want {
		t.Fatalf("Quantize = %+v, want %+v", q, want)
	}
	if z := Quantize(game.Vec2{}); z != (QuantizedPosition{}) {
		t.Fatalf("Quantize(0,0) = %+v", z)
	}
}

func TestQuantizeSaturates(t *testing.T) {
	tests := []struct {
		name string
		in   game.Vec2
		want QuantizedPosition
	}{
		{"far positive", game.Vec2{X: 1e6, Y: 1e6}, QuantizedPosition{GridX: 127, GridY: 127, SubX: 255, SubY: 255}},
		{"far negative", game.Vec2{X: -1e6, Y: -1e6}, QuantizedPosition{GridX: -128, GridY: -128}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Quantize(tt.in); got != tt.want {
				t.Fatalf("Quantize(%v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
