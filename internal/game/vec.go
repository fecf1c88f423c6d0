// Package game is the reference arena simulation driven by the network core.
// It owns players, projectiles and the block map; the server consumes it
// through the World interface and the client keeps a replica of it.
package game

import "math"

// Vec2 is a 2D position or velocity in world units.
type Vec2 struct {
	X float32
	Y float32
}

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Y: v.Y - o.Y}
}

// Scale returns v * s.
func (v Vec2) Scale(s float32) Vec2 {
	return Vec2{X: v.X * s, Y: v.Y * s}
}

// Length returns the euclidean length of v.
func (v Vec2) Length() float32 {
	return float32(math.Hypot(float64(v.X), float64(v.Y)))
}
