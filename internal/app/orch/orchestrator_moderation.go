package orch

import (
	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/domain"
	"github.com/dkeye/classmeet/internal/protocol"
	"github.com/rs/zerolog/log"
)

// ModeratorMute asks target's client to mute itself. The server cannot
// force it; the client reports its new state like any other toggle.
func (o *Orchestrator) ModeratorMute(sid core.SessionID, target domain.ParticipantID) error {
	return o.moderatorRequest(sid, target, protocol.KindModeratorMuteReq)
}

// ModeratorToggleVideo asks target's client to turn its camera off.
func (o *Orchestrator) ModeratorToggleVideo(sid core.SessionID, target domain.ParticipantID) error {
	return o.moderatorRequest(sid, target, protocol.KindModeratorVideoReq)
}

func (o *Orchestrator) moderatorRequest(sid core.SessionID, target domain.ParticipantID, kind protocol.Kind) error {
	_, room, p, err := o.actor(sid)
	if err != nil {
		return err
	}
	if !p.Permissions.CanMuteOthers {
		return core.ErrNotAuthorized
	}
	if _, ok := room.Participant(target); !ok {
		log.Debug().Str("module", "orch").Str("room", string(room.ID())).Str("target", string(target)).Msg("moderation target gone")
		return nil
	}
	log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("moderator", string(p.ID)).
		Str("target", string(target)).Str("action", string(kind)).Msg("moderator request")
	o.Relay.SendTo(target, &protocol.Moderation{Type: kind, ModeratorID: p.ID})
	return nil
}

// ModeratorRemove kicks target out of the room. The target's connection
// stays open so it can join again.
func (o *Orchestrator) ModeratorRemove(sid core.SessionID, target domain.ParticipantID) error {
	_, room, p, err := o.actor(sid)
	if err != nil {
		return err
	}
	if !p.Permissions.CanKickParticipants || target == p.ID {
		return core.ErrNotAuthorized
	}
	if _, ok := room.Participant(target); !ok {
		return nil
	}
	log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("moderator", string(p.ID)).
		Str("target", string(target)).Msg("participant removed by moderator")
	o.Relay.SendTo(target, &protocol.Kicked{Type: protocol.KindKicked, RoomID: room.ID(), By: p.ID})
	o.Leave(core.SessionID(target))
	return nil
}
