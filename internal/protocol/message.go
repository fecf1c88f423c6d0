package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/micromayhem/mayhem/internal/game"
)

// HeaderKind is the first payload byte and selects the message variant.
type HeaderKind byte

const (
	HeaderConnect HeaderKind = iota
	HeaderDisconnect
	HeaderVerify
	HeaderRequest
	HeaderState
	HeaderInput
)

var headerNames = map[HeaderKind]string{
	HeaderConnect:    "connect",
	HeaderDisconnect: "disconnect",
	HeaderVerify:     "verify",
	HeaderRequest:    "request",
	HeaderState:      "state",
	HeaderInput:      "input",
}

func (k HeaderKind) String() string {
	if n, ok := headerNames[k]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", byte(k))
}

const (
	// MaxNameLength bounds player names in bytes; longer names are cut at a
	// rune boundary when encoded.
	MaxNameLength = 32

	playerRecordSize     = 1 + 4
	projectileRecordSize = 2 + 1 + 4

	// MaxStatePlayers is how many player records fit in one State payload
	// after the kind and count bytes.
	MaxStatePlayers = (MaxPayload - 2) / playerRecordSize
)

// Message is a decoded packet payload: its kind and the bytes after the
// kind byte.
type Message struct {
	Kind HeaderKind
	Data []byte
}

// Bytes encodes the message as a packet payload.
// Format: [kind:1][data...]
func (m Message) Bytes() []byte {
	return NewPacketBuilder().PutByte(byte(m.Kind)).PutBytes(m.Data).Build()
}

// DecodeMessage splits a packet payload into kind and data.
func DecodeMessage(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return Message{}, ErrEmptyMessage
	}
	kind := HeaderKind(payload[0])
	if _, ok := headerNames[kind]; !ok {
		return Message{}, fmt.Errorf("header byte %d: %w", payload[0], ErrUnknownHeader)
	}
	return Message{Kind: kind, Data: payload[1:]}, nil
}

func trimName(name string) string {
	if len(name) <= MaxNameLength {
		return name
	}
	cut := MaxNameLength
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

func readName(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", ErrInvalidName
	}
	return string(data), nil
}

// Connect opens a session. Sent by the client until Verify arrives.
// Format: [name...]
type Connect struct {
	Name string
}

func (c Connect) Message() Message {
	return Message{Kind: HeaderConnect, Data: []byte(trimName(c.Name))}
}

func ReadConnect(m Message) (Connect, error) {
	name, err := readName(m.Data)
	if err != nil {
		return Connect{}, fmt.Errorf("connect: %w", err)
	}
	return Connect{Name: name}, nil
}

// Disconnect ends a session. It carries no data; trailing bytes are ignored.
type Disconnect struct{}

func (Disconnect) Message() Message {
	return Message{Kind: HeaderDisconnect}
}

func ReadDisconnect(Message) (Disconnect, error) {
	return Disconnect{}, nil
}

// Verify assigns a client id and ships the map.
// Format: [id:1][map...]
type Verify struct {
	ID  uint8
	Map []byte
}

func (v Verify) Message() Message {
	return Message{
		Kind: HeaderVerify,
		Data: NewPacketBuilder().PutByte(v.ID).PutBytes(v.Map).Build(),
	}
}

func ReadVerify(m Message) (Verify, error) {
	if len(m.Data) < 1 {
		return Verify{}, fmt.Errorf("verify: %w", ErrMissingID)
	}
	return Verify{ID: m.Data[0], Map: append([]byte(nil), m.Data[1:]...)}, nil
}

// Request confirms the id from Verify and asks to join the game.
// Format: [id:1][name...]
type Request struct {
	ID   uint8
	Name string
}

func (r Request) Message() Message {
	return Message{
		Kind: HeaderRequest,
		Data: NewPacketBuilder().PutByte(r.ID).PutString(trimName(r.Name)).Build(),
	}
}

func ReadRequest(m Message) (Request, error) {
	if len(m.Data) < 1 {
		return Request{}, fmt.Errorf("request: %w", ErrMissingID)
	}
	name, err := readName(m.Data[1:])
	if err != nil {
		return Request{}, fmt.Errorf("request: %w", err)
	}
	return Request{ID: m.Data[0], Name: name}, nil
}

// Input carries one tick of client input.
// Format: [mask:1]
type Input struct {
	Mask game.InputMask
}

func (i Input) Message() Message {
	return Message{Kind: HeaderInput, Data: []byte{byte(i.Mask)}}
}

func ReadInput(m Message) (Input, error) {
	if len(m.Data) < 1 {
		return Input{}, fmt.Errorf("input: %w", ErrMissingInput)
	}
	return Input{Mask: game.InputMask(m.Data[0])}, nil
}

// PlayerState is one player record of a State message.
type PlayerState struct {
	ID  uint8
	Pos QuantizedPosition
}

// ProjectileState is one projectile record of a State message.
type ProjectileState struct {
	ID   uint16
	Kind game.BulletKind
	Pos  QuantizedPosition
}

// State is the authoritative snapshot broadcast every tick.
// Format: [count:1] count*[id:1][pos:4] then [id:2][type:1][pos:4] records
// until the end of the payload. The projectile count is implicit.
type State struct {
	Players     []PlayerState
	Projectiles []ProjectileState
}

// StateBudget returns how many projectile records fit next to the given
// number of players in one packet.
func StateBudget(players int) int {
	room := MaxPayload - 1 - 1 - players*playerRecordSize
	if room < 0 {
		return 0
	}
	return room / projectileRecordSize
}

func (s State) Message() (Message, error) {
	if len(s.Players) > MaxStatePlayers {
		return Message{}, fmt.Errorf("state with %d players: %w", len(s.Players), ErrTooManyPlayers)
	}
	b := NewPacketBuilder()
	b.PutByte(byte(len(s.Players)))
	for _, p := range s.Players {
		b.PutByte(p.ID).PutPosition(p.Pos)
	}
	for _, p := range s.Projectiles {
		b.PutUint16(p.ID).PutByte(byte(p.Kind)).PutPosition(p.Pos)
	}
	return Message{Kind: HeaderState, Data: b.Build()}, nil
}

func ReadState(m Message) (State, error) {
	r := bytes.NewReader(m.Data)

	count, err := r.ReadByte()
	if err != nil {
		return State{}, fmt.Errorf("state: %w", ErrMissingPlayerCount)
	}

	s := State{Players: make([]PlayerState, 0, count)}
	for i := 0; i < int(count); i++ {
		id, err := r.ReadByte()
		if err != nil {
			return State{}, fmt.Errorf("state player %d: %w", i, ErrMissingPlayerID)
		}
		pos, err := readPosition(r)
		if err != nil {
			return State{}, fmt.Errorf("state player %d: %w", id, err)
		}
		s.Players = append(s.Players, PlayerState{ID: id, Pos: pos})
	}

	for r.Len() > 0 {
		if r.Len() < projectileRecordSize {
			return State{}, fmt.Errorf("state: %d trailing bytes: %w", r.Len(), ErrTruncatedProjectile)
		}
		var id uint16
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return State{}, fmt.Errorf("state projectile: %w", ErrTruncatedProjectile)
		}
		kind, _ := r.ReadByte()
		if !game.BulletKind(kind).Valid() {
			return State{}, fmt.Errorf("state projectile %d type %d: %w", id, kind, ErrUnknownProjectileType)
		}
		pos, err := readPosition(r)
		if err != nil {
			return State{}, fmt.Errorf("state projectile %d: %w", id, err)
		}
		s.Projectiles = append(s.Projectiles, ProjectileState{ID: id, Kind: game.BulletKind(kind), Pos: pos})
	}

	return s, nil
}

func readPosition(r *bytes.Reader) (QuantizedPosition, error) {
	var q QuantizedPosition
	if err := binary.Read(r, binary.LittleEndian, &q); err != nil {
		return QuantizedPosition{}, ErrTruncatedPosition
	}
	return q, nil
}

// Body is a typed message value.
type Body interface {
	Kind() HeaderKind
}

func (Connect) Kind() HeaderKind    { return HeaderConnect }
func (Disconnect) Kind() HeaderKind { return HeaderDisconnect }
func (Verify) Kind() HeaderKind     { return HeaderVerify }
func (Request) Kind() HeaderKind    { return HeaderRequest }
func (Input) Kind() HeaderKind      { return HeaderInput }
func (State) Kind() HeaderKind      { return HeaderState }

// Parse decodes the typed body of m.
func Parse(m Message) (Body, error) {
	switch m.Kind {
	case HeaderConnect:
		return ReadConnect(m)
	case HeaderDisconnect:
		return ReadDisconnect(m)
	case HeaderVerify:
		return ReadVerify(m)
	case HeaderRequest:
		return ReadRequest(m)
	case HeaderInput:
		return ReadInput(m)
	case HeaderState:
		return ReadState(m)
	default:
		return nil, fmt.Errorf("header byte %d: %w", byte(m.Kind), ErrUnknownHeader)
	}
}
