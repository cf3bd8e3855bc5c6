package orch

import (
	"errors"
	"strings"

	"github.com/dkeye/classmeet/internal/app"
	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/domain"
	"github.com/dkeye/classmeet/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotInRoom       = errors.New("not in a room")
	ErrFeatureDisabled = errors.New("disabled by room settings")
	ErrEmptyMessage    = errors.New("empty message")
	ErrMessageTooLong  = errors.New("message too long")
)

const (
	// joinAttempts bounds retries of a join that raced a room teardown.
	joinAttempts     = 5
	defaultChatLimit = 1000
	maxEmojiLen      = 32
)

// Orchestrator drives a connection through its lifecycle:
// connected, joining, in a room or its waiting room, gone.
// Each connection's events are expected in order from one goroutine.
type Orchestrator struct {
	Registry  *app.Registry
	Rooms     *app.RoomManager
	Admission *app.AdmissionController
	Relay     *app.Relay

	ChatMaxLength int
}

func (o *Orchestrator) OnConnect(sid core.SessionID, conn core.SignalConnection, token string) {
	o.Registry.Attach(sid, conn, token)
}

// OnDisconnect runs once the transport is gone. It is a no-op for a
// connection that never joined anything.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	d, ok := o.Registry.Detach(sid)
	if !ok {
		return
	}
	if d.Identity != nil {
		o.removeFromRoom(*d.Identity)
	}
	if d.Waiting != "" {
		o.dropWaiting(d.Waiting, sid.ParticipantID(), protocol.ReasonLeft)
	}
}

// Leave has the effect of a disconnect but keeps the connection open.
// Calling it twice, or before a disconnect, is safe.
func (o *Orchestrator) Leave(sid core.SessionID) {
	pid := sid.ParticipantID()
	if roomID, ok := o.Registry.WaitingRoom(sid); ok {
		if o.Registry.ClearWaiting(sid, roomID) {
			o.dropWaiting(roomID, pid, protocol.ReasonLeft)
			o.Relay.SendTo(pid, &protocol.RoomLeft{Type: protocol.KindRoomLeft, RoomID: roomID})
		}
		return
	}
	id, err := o.Registry.Lookup(sid)
	if err != nil {
		return
	}
	o.Registry.Unbind(sid)
	o.removeFromRoom(id)
	o.Relay.SendTo(pid, &protocol.RoomLeft{Type: protocol.KindRoomLeft, RoomID: id.RoomID})
}

func (o *Orchestrator) removeFromRoom(id domain.Identity) {
	room, ok := o.Rooms.Get(id.RoomID)
	if !ok {
		log.Debug().Str("module", "orch").Str("room", string(id.RoomID)).Str("participant", string(id.ParticipantID)).Msg("remove: room already gone")
		return
	}
	p, left, ok := room.Remove(id.ParticipantID)
	if ok {
		o.Relay.SendAll(left, protocol.NewUserLeft(p))
	}
	o.destroyIfEmpty(id.RoomID)
}

func (o *Orchestrator) dropWaiting(roomID domain.RoomID, pid domain.ParticipantID, reason string) {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}
	if room.RemoveWaiting(pid) {
		log.Info().Str("module", "orch").Str("room", string(roomID)).Str("participant", string(pid)).Msg("waiting request withdrawn")
		o.Relay.SendAll(room.Moderators(), &protocol.WaitingRemoved{Type: protocol.KindWaitingRemoved, ParticipantID: pid, Reason: reason})
	}
}

// destroyIfEmpty tears the room down once nobody is left in it. Requests
// still waiting are told the room closed.
func (o *Orchestrator) destroyIfEmpty(roomID domain.RoomID) {
	waiters, ok := o.Rooms.DestroyIfEmpty(roomID)
	if !ok {
		return
	}
	for _, w := range waiters {
		if o.Registry.ClearWaiting(core.SessionID(w.ID), roomID) {
			o.Relay.SendTo(w.ID, &protocol.JoinDenied{Type: protocol.KindJoinDenied, RoomID: roomID, Reason: protocol.ReasonRoomClosed})
		}
	}
}

// actor resolves a bound connection to its room and participant record.
func (o *Orchestrator) actor(sid core.SessionID) (domain.Identity, *core.Room, domain.Participant, error) {
	id, err := o.Registry.Lookup(sid)
	if err != nil {
		return domain.Identity{}, nil, domain.Participant{}, ErrNotInRoom
	}
	room, ok := o.Rooms.Get(id.RoomID)
	if !ok {
		return domain.Identity{}, nil, domain.Participant{}, ErrNotInRoom
	}
	p, ok := room.Participant(id.ParticipantID)
	if !ok {
		return domain.Identity{}, nil, domain.Participant{}, ErrNotInRoom
	}
	return id, room, p, nil
}

func (o *Orchestrator) isModerator(room *core.Room, p domain.Participant) bool {
	if p.IsTeacher {
		return true
	}
	c, ok := room.Creator()
	return ok && c.ParticipantID == p.ID
}

func (o *Orchestrator) chatLimit() int {
	if o.ChatMaxLength > 0 {
		return o.ChatMaxLength
	}
	return defaultChatLimit
}

func normalizeText(s string, limit int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyMessage
	}
	if len(s) > limit {
		return "", ErrMessageTooLong
	}
	return s, nil
}
