package game

import "strings"

// InputMask is the per-tick action bitmask sent by a client. One bit per
// logical action; it fits the single byte of an Input message.
type InputMask uint8

const (
	InputLeft InputMask = 1 << iota
	InputRight
	InputUp
	InputDown
	InputShoot
	InputBomb
	InputThrow
)

var inputNames = []struct {
	bit  InputMask
	name string
}{
	{InputLeft, "left"},
	{InputRight, "right"},
	{InputUp, "up"},
	{InputDown, "down"},
	{InputShoot, "shoot"},
	{InputBomb, "bomb"},
	{InputThrow, "throw"},
}

// Has reports whether every bit of in is set.
func (m InputMask) Has(in InputMask) bool {
	return m&in == in && in != 0
}

// With returns the mask with in set.
func (m InputMask) With(in InputMask) InputMask {
	return m | in
}

// Without returns the mask with in cleared.
func (m InputMask) Without(in InputMask) InputMask {
	return m &^ in
}

func (m InputMask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	for _, n := range inputNames {
		if m&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseInput turns a "left|shoot" style string into a mask. Unknown names
// are ignored.
func ParseInput(s string) InputMask {
	var m InputMask
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' || r == ' ' }) {
		for _, n := range inputNames {
			if strings.EqualFold(part, n.name) {
				m |= n.bit
			}
		}
	}
	return m
}
