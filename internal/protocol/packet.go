// Package protocol defines the wire messages exchanged between the game
// client and the server, plus a message-oriented codec over a byte stream.
//
// Every message is one JSON envelope per line: {"type": "...", "data": {...}}.
// The payload shape is fixed per type, so each kind gets its own struct and
// the set of packets forms a closed sum type over the Packet interface.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/findit-game/findit-server/internal/catalog"
)

type Kind string

const (
	// Client -> server
	KindJoin             Kind = "JOIN"
	KindReadyStatus      Kind = "READY_STATUS"
	KindSettingsUpdate   Kind = "SETTINGS_UPDATE"
	KindStartGameRequest Kind = "START_GAME_REQUEST"
	KindClick            Kind = "CLICK"
	KindTimerEnd         Kind = "TIMER_END"

	// Both directions
	KindMessage   Kind = "MESSAGE"
	KindMouseMove Kind = "MOUSE_MOVE"

	// Server -> clients
	KindLobbyUpdate Kind = "LOBBY_UPDATE"
	KindRoundStart  Kind = "ROUND_START"
	KindResult      Kind = "RESULT"
	KindScore       Kind = "SCORE"
	KindGameOver    Kind = "GAME_OVER"
)

// Packet is one discrete protocol message. Implementations are immutable
// once constructed and always sent as a whole unit.
type Packet interface{ Kind() Kind }

// Join opens a session. Room is either a room name or the single-player
// sentinel ("single:<difficulty>").
type Join struct {
	Sender string `json:"sender"`
	Room   string `json:"room"`
}

type ReadyStatus struct {
	Sender  string `json:"sender"`
	IsReady bool   `json:"isReady"`
}

type SettingsUpdate struct {
	Sender     string `json:"sender"`
	Difficulty string `json:"difficulty"`
	GameMode   string `json:"gameMode"`
}

type StartGameRequest struct {
	Sender     string `json:"sender"`
	Difficulty string `json:"difficulty"`
	GameMode   string `json:"gameMode"`
}

type Click struct {
	Sender      string `json:"sender"`
	AnswerIndex int    `json:"answerIndex"`
}

type TimerEnd struct {
	Sender string `json:"sender"`
}

// Message doubles as chat relay and server-side notices.
type Message struct {
	Sender string `json:"sender,omitempty"`
	Text   string `json:"text"`
}

// MouseMove is cursor telemetry, relayed verbatim with no server
// interpretation.
type MouseMove struct {
	Sender      string `json:"sender"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	CursorIndex int    `json:"cursorIndex"`
}

type LobbyUpdate struct {
	Host       string          `json:"host"`
	Ready      map[string]bool `json:"ready"`
	Difficulty string          `json:"difficulty"`
	GameMode   string          `json:"gameMode"`
}

type RoundStart struct {
	Round       int               `json:"round"`
	ImagePath   string            `json:"imagePath"`
	Rects       []catalog.Rect    `json:"rects"`
	Dimension   catalog.Dimension `json:"dimension"`
	PlayerIndex map[string]int    `json:"playerIndex"`
	GameMode    string            `json:"gameMode"`
}

type Result struct {
	Sender      string `json:"sender"`
	AnswerIndex int    `json:"answerIndex"`
	Correct     bool   `json:"correct"`
	Message     string `json:"message,omitempty"`
}

type Score struct {
	Text   string         `json:"text"`
	Scores map[string]int `json:"scores"`
}

type GameOver struct {
	Message string `json:"message"`
}

func (Join) Kind() Kind             { return KindJoin }
func (ReadyStatus) Kind() Kind      { return KindReadyStatus }
func (SettingsUpdate) Kind() Kind   { return KindSettingsUpdate }
func (StartGameRequest) Kind() Kind { return KindStartGameRequest }
func (Click) Kind() Kind            { return KindClick }
func (TimerEnd) Kind() Kind         { return KindTimerEnd }
func (Message) Kind() Kind          { return KindMessage }
func (MouseMove) Kind() Kind        { return KindMouseMove }
func (LobbyUpdate) Kind() Kind      { return KindLobbyUpdate }
func (RoundStart) Kind() Kind       { return KindRoundStart }
func (Result) Kind() Kind           { return KindResult }
func (Score) Kind() Kind            { return KindScore }
func (GameOver) Kind() Kind         { return KindGameOver }

type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Marshal encodes p into a single-line JSON envelope (no trailing newline).
func Marshal(p Packet) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	return json.Marshal(envelope{Type: p.Kind(), Data: data})
}

// Unmarshal decodes one envelope line into its concrete packet type.
// Decode failures wrap ErrMalformed (or ErrUnknownKind) so readers can
// distinguish a bad message, which is logged and skipped, from a dead
// connection.
func Unmarshal(line []byte) (Packet, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var p Packet
	switch env.Type {
	case KindJoin:
		p = &Join{}
	case KindReadyStatus:
		p = &ReadyStatus{}
	case KindSettingsUpdate:
		p = &SettingsUpdate{}
	case KindStartGameRequest:
		p = &StartGameRequest{}
	case KindClick:
		p = &Click{}
	case KindTimerEnd:
		p = &TimerEnd{}
	case KindMessage:
		p = &Message{}
	case KindMouseMove:
		p = &MouseMove{}
	case KindLobbyUpdate:
		p = &LobbyUpdate{}
	case KindRoundStart:
		p = &RoundStart{}
	case KindResult:
		p = &Result{}
	case KindScore:
		p = &Score{}
	case KindGameOver:
		p = &GameOver{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
		}
	}
	return deref(p), nil
}

// deref returns the value pointed at so callers can type-switch on
// value types, matching how packets are constructed for sending.
func deref(p Packet) Packet {
	switch v := p.(type) {
	case *Join:
		return *v
	case *ReadyStatus:
		return *v
	case *SettingsUpdate:
		return *v
	case *StartGameRequest:
		return *v
	case *Click:
		return *v
	case *TimerEnd:
		return *v
	case *Message:
		return *v
	case *MouseMove:
		return *v
	case *LobbyUpdate:
		return *v
	case *RoundStart:
		return *v
	case *Result:
		return *v
	case *Score:
		return *v
	case *GameOver:
		return *v
	}
	return p
}
