package protocol

import "errors"

// Frame errors.
var (
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum size")
	ErrTruncatedFrame   = errors.New("frame shorter than packet header")
	ErrOversizeFrame    = errors.New("frame payload exceeds maximum size")
	ErrProtocolMismatch = errors.New("protocol id mismatch")
)

// Message decode errors. Each names the field that failed.
var (
	ErrEmptyMessage          = errors.New("empty message")
	ErrUnknownHeader         = errors.New("unknown message header")
	ErrInvalidName           = errors.New("name is not valid utf-8")
	ErrMissingID             = errors.New("missing client id")
	ErrMissingInput          = errors.New("missing input mask")
	ErrMissingPlayerCount    = errors.New("missing player count")
	ErrMissingPlayerID       = errors.New("missing player id")
	ErrTruncatedPosition     = errors.New("truncated position")
	ErrTruncatedProjectile   = errors.New("truncated projectile record")
	ErrUnknownProjectileType = errors.New("unknown projectile type")
	ErrTooManyPlayers        = errors.New("too many players for one state message")
)
