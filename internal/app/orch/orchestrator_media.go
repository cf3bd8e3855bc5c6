package orch

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/classmeet/internal/app"
	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/domain"
	"github.com/dkeye/classmeet/internal/protocol"
)

// Signal forwards an offer, answer or ICE candidate to one peer.
// A peer that is already gone is not reported back to the sender.
func (o *Orchestrator) Signal(sid core.SessionID, to domain.ParticipantID, msg any) error {
	err := o.Relay.Forward(sid, to, msg)
	if errors.Is(err, app.ErrTargetNotFound) {
		return nil
	}
	if errors.Is(err, app.ErrSenderNotInRoom) {
		return ErrNotInRoom
	}
	return err
}

// PushMediaState answers a request-media-state: the sender's current
// flags go to the participant that asked for them.
func (o *Orchestrator) PushMediaState(sid core.SessionID, m *protocol.MediaState) error {
	_, room, p, err := o.actor(sid)
	if err != nil {
		return err
	}
	room.Update(p.ID, func(p *domain.Participant) {
		p.Media.HasVideo = m.VideoEnabled
		p.Media.HasAudio = m.AudioEnabled
		p.Media.IsScreenSharing = m.IsScreenSharing
	})
	m.Type = protocol.KindParticipantMedia
	return o.Signal(sid, m.To, m)
}

var toggleNotice = map[protocol.Kind]protocol.Kind{
	protocol.KindToggleVideo:       protocol.KindVideoToggled,
	protocol.KindToggleAudio:       protocol.KindAudioToggled,
	protocol.KindToggleScreenShare: protocol.KindScreenShareToggled,
}

// ToggleMedia records a video, audio or screen-share change and tells the
// sender's scope.
func (o *Orchestrator) ToggleMedia(sid core.SessionID, kind protocol.Kind, enabled bool) error {
	notice, ok := toggleNotice[kind]
	if !ok {
		return fmt.Errorf("%w: %q", protocol.ErrUnknownKind, kind)
	}
	_, room, p, err := o.actor(sid)
	if err != nil {
		return err
	}
	if kind == protocol.KindToggleScreenShare && enabled {
		if !p.Permissions.CanShare || !(room.Settings().ScreenShareAllowed || p.IsTeacher) {
			return fmt.Errorf("screen share: %w", ErrFeatureDisabled)
		}
	}
	room.Update(p.ID, func(p *domain.Participant) {
		switch kind {
		case protocol.KindToggleVideo:
			p.Media.HasVideo = enabled
		case protocol.KindToggleAudio:
			p.Media.HasAudio = enabled
			p.UI.ExplicitlyMuted = !enabled
		case protocol.KindToggleScreenShare:
			p.Media.IsScreenSharing = enabled
		}
	})
	return o.broadcast(sid, &protocol.Toggle{Type: notice, ParticipantID: p.ID, Enabled: enabled}, false)
}

// Pin marks target as pinned for everybody in the sender's scope.
func (o *Orchestrator) Pin(sid core.SessionID, target domain.ParticipantID, pinned bool) error {
	_, room, p, err := o.actor(sid)
	if err != nil {
		return err
	}
	if target != p.ID && !room.SameScope(p.ID, target) {
		return nil
	}
	room.Update(target, func(t *domain.Participant) { t.UI.IsPinned = pinned })
	kind := protocol.KindParticipantPinned
	if !pinned {
		kind = protocol.KindParticipantUnpinned
	}
	return o.broadcast(sid, &protocol.Pin{Type: kind, ParticipantID: target, By: p.ID}, false)
}

func (o *Orchestrator) Hand(sid core.SessionID, raised bool) error {
	_, room, p, err := o.actor(sid)
	if err != nil {
		return err
	}
	room.Update(p.ID, func(p *domain.Participant) { p.UI.HasRaisedHand = raised })
	kind := protocol.KindHandRaised
	if !raised {
		kind = protocol.KindHandLowered
	}
	return o.broadcast(sid, &protocol.Hand{Type: kind, ParticipantID: p.ID, UserName: p.Username}, false)
}

// Chat echoes the message back to the sender with the server timestamp.
func (o *Orchestrator) Chat(sid core.SessionID, text string) error {
	_, room, p, err := o.actor(sid)
	if err != nil {
		return err
	}
	if !p.Permissions.CanChat || !(room.Settings().ChatAllowed || p.IsTeacher) {
		return fmt.Errorf("chat: %w", ErrFeatureDisabled)
	}
	text, err = normalizeText(text, o.chatLimit())
	if err != nil {
		return err
	}
	return o.broadcast(sid, &protocol.Chat{
		Type:            protocol.KindChatMessage,
		ParticipantID:   p.ID,
		ParticipantName: p.Username,
		Message:         text,
		Timestamp:       time.Now().UnixMilli(),
	}, true)
}

func (o *Orchestrator) React(sid core.SessionID, emoji string) error {
	_, _, p, err := o.actor(sid)
	if err != nil {
		return err
	}
	emoji, err = normalizeText(emoji, maxEmojiLen)
	if err != nil {
		return err
	}
	return o.broadcast(sid, &protocol.Reaction{Type: protocol.KindReaction, ParticipantID: p.ID, Emoji: emoji}, false)
}

// Canvas relays a whiteboard event. Clear and undo are echoed so the
// sender sees them confirmed.
func (o *Orchestrator) Canvas(sid core.SessionID, kind protocol.Kind, cv protocol.Canvas) error {
	_, room, p, err := o.actor(sid)
	if err != nil {
		return err
	}
	if !p.Permissions.CanDraw || !(room.Settings().CanvasAllowed || p.IsTeacher) {
		return fmt.Errorf("canvas: %w", ErrFeatureDisabled)
	}
	cv["type"] = string(kind)
	echo := kind == protocol.KindCanvasClear || kind == protocol.KindCanvasUndo
	return o.broadcast(sid, cv, echo)
}

func (o *Orchestrator) broadcast(sid core.SessionID, msg any, includeSender bool) error {
	if err := o.Relay.Broadcast(sid, msg, includeSender); err != nil {
		if errors.Is(err, app.ErrSenderNotInRoom) {
			return ErrNotInRoom
		}
		return err
	}
	return nil
}
