package app

import (
	"errors"

	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/domain"
	"github.com/dkeye/classmeet/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrSenderNotInRoom = errors.New("sender not in room")
	ErrTargetNotFound  = errors.New("target not found")
)

// Relay routes messages between connections of the same room scope.
// Delivery never blocks: messages are queued on the receiver's
// connection or handed to the backpressure policy.
type Relay struct {
	Registry *Registry
	Rooms    *RoomManager
	Policy   Policy
}

func NewRelay(reg *Registry, rooms *RoomManager, policy Policy) *Relay {
	return &Relay{Registry: reg, Rooms: rooms, Policy: policy}
}

func (r *Relay) sender(sid core.SessionID) (domain.Identity, *core.Room, error) {
	id, err := r.Registry.Lookup(sid)
	if err != nil {
		return domain.Identity{}, nil, ErrSenderNotInRoom
	}
	room, ok := r.Rooms.Get(id.RoomID)
	if !ok {
		return domain.Identity{}, nil, ErrSenderNotInRoom
	}
	if _, ok := room.Participant(id.ParticipantID); !ok {
		return domain.Identity{}, nil, ErrSenderNotInRoom
	}
	return id, room, nil
}

// Forward delivers msg to one participant sharing the sender's scope,
// stamped with the sender's id.
func (r *Relay) Forward(sid core.SessionID, to domain.ParticipantID, msg any) error {
	id, room, err := r.sender(sid)
	if err != nil {
		return err
	}
	logger := log.With().Str("module", "app.relay").Str("from", string(id.ParticipantID)).Str("to", string(to)).Logger()
	if !room.SameScope(id.ParticipantID, to) {
		logger.Debug().Msg("forward: target not in scope")
		return ErrTargetNotFound
	}
	conn, ok := r.Registry.Conn(to)
	if !ok {
		logger.Debug().Msg("forward: target has no connection")
		return ErrTargetNotFound
	}
	if s, ok := msg.(protocol.Stamper); ok {
		s.Stamp(id.ParticipantID)
	}
	r.deliver(to, conn, msg)
	return nil
}

// Broadcast delivers msg to everyone in the sender's scope. The sender
// gets a copy only when includeSender is set.
func (r *Relay) Broadcast(sid core.SessionID, msg any, includeSender bool) error {
	id, room, err := r.sender(sid)
	if err != nil {
		return err
	}
	peers, ok := room.Peers(id.ParticipantID)
	if !ok {
		return ErrSenderNotInRoom
	}
	if s, ok := msg.(protocol.Stamper); ok {
		s.Stamp(id.ParticipantID)
	}
	if includeSender {
		peers = append(peers, id.ParticipantID)
	}
	r.SendAll(peers, msg)
	return nil
}

// SendTo delivers msg to pid if it still has a connection.
func (r *Relay) SendTo(pid domain.ParticipantID, msg any) bool {
	conn, ok := r.Registry.Conn(pid)
	if !ok {
		log.Debug().Str("module", "app.relay").Str("to", string(pid)).Msg("send: no connection")
		return false
	}
	return r.deliver(pid, conn, msg)
}

func (r *Relay) SendAll(pids []domain.ParticipantID, msg any) {
	for _, pid := range pids {
		r.SendTo(pid, msg)
	}
}

func (r *Relay) deliver(pid domain.ParticipantID, conn core.SignalConnection, msg any) bool {
	err := conn.TrySend(msg)
	if err == nil {
		return true
	}
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Err(err).Str("module", "app.relay").Str("to", string(pid)).Msg("send failed")
		return false
	}
	if r.Policy == nil {
		return false
	}
	switch r.Policy.OnBackPressure(pid) {
	case CloseConnection:
		log.Warn().Str("module", "app.relay").Str("to", string(pid)).Msg("send queue full, closing connection")
		conn.Close()
	case DropMessage, NoAction:
		log.Debug().Str("module", "app.relay").Str("to", string(pid)).Msg("send queue full, message dropped")
	}
	return false
}
