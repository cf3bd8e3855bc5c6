package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrUnknownCodec = errors.New("unknown codec")
	ErrUnknownKind  = errors.New("unknown message type")
	ErrMalformed    = errors.New("malformed message")
)

// Codec turns messages into frames and back. Binary codecs go out as
// binary websocket frames, the others as text frames.
type Codec interface {
	Name() string
	Binary() bool
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// msgpackCodec reuses the json struct tags so both codecs agree on names.
type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

var inbound = map[Kind]func() any{
	KindJoinRoom:           func() any { return new(JoinRoom) },
	KindLeaveRoom:          func() any { return new(Empty) },
	KindOffer:              func() any { return new(Offer) },
	KindAnswer:             func() any { return new(Answer) },
	KindICECandidate:       func() any { return new(ICECandidate) },
	KindToggleVideo:        func() any { return new(Toggle) },
	KindToggleAudio:        func() any { return new(Toggle) },
	KindToggleScreenShare:  func() any { return new(Toggle) },
	KindParticipantMedia:   func() any { return new(MediaState) },
	KindPinParticipant:     func() any { return new(Pin) },
	KindUnpinParticipant:   func() any { return new(Pin) },
	KindRaiseHand:          func() any { return new(Empty) },
	KindLowerHand:          func() any { return new(Empty) },
	KindChatMessage:        func() any { return new(Chat) },
	KindReaction:           func() any { return new(Reaction) },
	KindModeratorMute:      func() any { return new(Moderation) },
	KindModeratorVideo:     func() any { return new(Moderation) },
	KindModeratorRemove:    func() any { return new(Moderation) },
	KindAdmitParticipant:   func() any { return new(WaitingDecision) },
	KindDenyParticipant:    func() any { return new(WaitingDecision) },
	KindUpdateRoomSettings: func() any { return new(UpdateRoomSettings) },
	KindToggleRecording:    func() any { return new(ToggleRecording) },
	KindCreateBreakoutRoom: func() any { return new(CreateBreakoutRoom) },
	KindMoveToBreakout:     func() any { return new(MoveToBreakout) },
	KindCloseBreakoutRooms: func() any { return new(Empty) },
	KindPing:               func() any { return new(Empty) },
}

// Decode reads one client frame. The returned message is a pointer to the
// kind's payload struct, or a Canvas for whiteboard kinds.
func Decode(c Codec, data []byte) (Kind, any, error) {
	var env Envelope
	if err := c.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.Type.IsCanvas() {
		var cv Canvas
		if err := c.Unmarshal(data, &cv); err != nil {
			return env.Type, nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return env.Type, cv, nil
	}
	mk, ok := inbound[env.Type]
	if !ok {
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	msg := mk()
	if err := c.Unmarshal(data, msg); err != nil {
		return env.Type, nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return env.Type, msg, nil
}
