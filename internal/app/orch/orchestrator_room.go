package orch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dkeye/classmeet/internal/app"
	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/domain"
	"github.com/dkeye/classmeet/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Join puts the connection into roomID, or into its waiting room.
// The acknowledgement is sent before Join returns.
func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, roomID, userName string, isTeacher bool) error {
	if _, err := o.Registry.Lookup(sid); err == nil {
		return app.ErrAlreadyBound
	}
	if _, ok := o.Registry.WaitingRoom(sid); ok {
		return app.ErrAlreadyBound
	}
	id, err := domain.NewIdentity(roomID, sid.ParticipantID(), userName, isTeacher)
	if err != nil {
		return err
	}

	var (
		room     *core.Room
		decision domain.Decision
		p        domain.Participant
	)
	for attempt := 1; ; attempt++ {
		room, err = o.Rooms.GetOrCreate(ctx, id.RoomID)
		if err != nil {
			return err
		}
		decision, p, err = o.Admission.Enter(room, id)
		if errors.Is(err, core.ErrRoomClosed) && attempt < joinAttempts {
			log.Debug().Str("module", "orch").Str("room", string(id.RoomID)).Int("attempt", attempt).Msg("join raced teardown, retrying")
			continue
		}
		break
	}
	if err != nil {
		// a room created just for this join must not linger
		o.destroyIfEmpty(id.RoomID)
		return err
	}

	if decision == domain.Wait {
		return o.awaitApproval(sid, room, id)
	}

	if err := o.Registry.Bind(sid, id); err != nil {
		room.Remove(id.ParticipantID)
		o.destroyIfEmpty(id.RoomID)
		return err
	}
	o.openMedia(room, p.ID)
	o.announceJoin(room, p)
	return nil
}

// awaitApproval marks sid as waiting in room. Enter has already queued
// the request, so a moderator or a teardown may have settled it before
// the mark lands; the requester is told either way.
func (o *Orchestrator) awaitApproval(sid core.SessionID, room *core.Room, id domain.Identity) error {
	pid := id.ParticipantID
	if err := o.Registry.MarkWaiting(sid, room.ID()); err != nil {
		if bound, lerr := o.Registry.Lookup(sid); lerr == nil && bound.RoomID == room.ID() {
			// admitted before the mark
			return nil
		}
		room.RemoveWaiting(pid)
		return err
	}
	o.Relay.SendTo(pid, &protocol.WaitingForApproval{Type: protocol.KindWaitingForApproval, RoomID: room.ID()})

	if !room.IsWaiting(pid) {
		if _, admitted := room.Participant(pid); admitted {
			// Admit promotes the connection and clears the mark
			return nil
		}
		if o.Registry.ClearWaiting(sid, room.ID()) {
			reason := protocol.ReasonDenied
			if room.Closed() {
				reason = protocol.ReasonRoomClosed
			}
			log.Debug().Str("module", "orch").Str("room", string(room.ID())).Str("participant", string(pid)).Str("reason", reason).Msg("waiting request settled before it was marked")
			o.Relay.SendTo(pid, &protocol.JoinDenied{Type: protocol.KindJoinDenied, RoomID: room.ID(), Reason: reason})
		}
		return nil
	}

	o.Relay.SendAll(room.Moderators(), &protocol.WaitingParticipant{
		Type:          protocol.KindWaitingParticipant,
		ParticipantID: pid,
		UserName:      id.Username,
		IsTeacher:     id.IsTeacher,
		RequestedAt:   time.Now(),
	})
	return nil
}

// openMedia registers the participant with the room's media router.
func (o *Orchestrator) openMedia(room *core.Room, pid domain.ParticipantID) {
	h, err := room.Router().Open(pid)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(room.ID())).Str("participant", string(pid)).Msg("open media handle")
		return
	}
	if err := room.AttachHandle(pid, h); err != nil {
		// left before the handle was attached
		_ = h.Close()
	}
}

// announceJoin sends the newcomer its view of the room and tells the
// others, asking them to push their media state to the newcomer.
func (o *Orchestrator) announceJoin(room *core.Room, p domain.Participant) {
	joined := &protocol.RoomJoined{
		Type:         protocol.KindRoomJoined,
		YourID:       p.ID,
		RoomID:       room.ID(),
		Participants: room.ScopeSnapshot(p.ID),
		Settings:     room.Settings(),
		Recording:    room.Recording(),
		ICEServers:   room.Router().ICEServers(),
	}
	if c, ok := room.Creator(); ok && c.ParticipantID == p.ID {
		joined.IsCreator = true
	}
	if o.isModerator(room, p) {
		joined.Waiting = room.Waiting()
	}
	o.Relay.SendTo(p.ID, joined)

	peers, _ := room.Peers(p.ID)
	o.Relay.SendAll(peers, protocol.NewUserJoined(p))
	o.Relay.SendAll(peers, &protocol.RequestMediaState{Type: protocol.KindRequestMediaState, NewParticipantID: p.ID})
}

// Admit lets a waiting request in. A request that is already gone is not
// an error.
func (o *Orchestrator) Admit(sid core.SessionID, waitingID domain.ParticipantID) error {
	mod, err := o.Registry.Lookup(sid)
	if err != nil {
		return ErrNotInRoom
	}
	room, ok := o.Rooms.Get(mod.RoomID)
	if !ok {
		return ErrNotInRoom
	}
	p, err := o.Admission.Admit(room, waitingID, mod)
	switch {
	case errors.Is(err, core.ErrNotWaiting), errors.Is(err, core.ErrRoomClosed):
		return nil
	case err != nil:
		return err
	}

	wsid := core.SessionID(waitingID)
	if err := o.Registry.Promote(wsid, room.ID(), p.Identity(room.ID())); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("participant", string(waitingID)).Msg("admitted connection vanished")
		room.Remove(waitingID)
		o.destroyIfEmpty(room.ID())
		return nil
	}
	o.Relay.SendAll(room.Moderators(), &protocol.WaitingRemoved{Type: protocol.KindWaitingRemoved, ParticipantID: waitingID, Reason: protocol.ReasonAdmitted})
	o.openMedia(room, p.ID)
	o.announceJoin(room, p)
	return nil
}

func (o *Orchestrator) Deny(sid core.SessionID, waitingID domain.ParticipantID) error {
	mod, err := o.Registry.Lookup(sid)
	if err != nil {
		return ErrNotInRoom
	}
	room, ok := o.Rooms.Get(mod.RoomID)
	if !ok {
		return ErrNotInRoom
	}
	w, err := o.Admission.Deny(room, waitingID, mod)
	switch {
	case errors.Is(err, core.ErrNotWaiting):
		return nil
	case err != nil:
		return err
	}
	if o.Registry.ClearWaiting(core.SessionID(w.ID), room.ID()) {
		o.Relay.SendTo(w.ID, &protocol.JoinDenied{Type: protocol.KindJoinDenied, RoomID: room.ID(), Reason: protocol.ReasonDenied})
	}
	o.Relay.SendAll(room.Moderators(), &protocol.WaitingRemoved{Type: protocol.KindWaitingRemoved, ParticipantID: w.ID, Reason: protocol.ReasonDenied})
	return nil
}

func (o *Orchestrator) UpdateSettings(sid core.SessionID, patch domain.SettingsPatch) error {
	_, room, p, err := o.actor(sid)
	if err != nil {
		return err
	}
	if !o.isModerator(room, p) {
		return core.ErrNotAuthorized
	}
	s := room.UpdateSettings(patch)
	log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("by", string(p.ID)).Msg("room settings updated")
	o.Relay.SendAll(room.Members(), &protocol.SettingsUpdated{Type: protocol.KindSettingsUpdated, Settings: s, By: p.ID})
	return nil
}

// ToggleRecording flips the room's recording flag. Nothing is recorded
// server side; clients use the flag to show an indicator.
func (o *Orchestrator) ToggleRecording(sid core.SessionID, on bool) error {
	_, room, p, err := o.actor(sid)
	if err != nil {
		return err
	}
	if !p.Permissions.CanRecord {
		return core.ErrNotAuthorized
	}
	room.SetRecording(on)
	o.Relay.SendAll(room.Members(), &protocol.RecordingState{Type: protocol.KindRecordingState, Recording: on, By: p.ID})
	return nil
}

func (o *Orchestrator) CreateBreakout(sid core.SessionID, name string) (core.BreakoutInfo, error) {
	_, room, p, err := o.actor(sid)
	if err != nil {
		return core.BreakoutInfo{}, err
	}
	if !p.Permissions.CanCreateBreakout {
		return core.BreakoutInfo{}, core.ErrNotAuthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Breakout room"
	}
	if len(name) > domain.MaxRoomIDLen {
		return core.BreakoutInfo{}, domain.ErrRoomIDTooLong
	}
	b := room.CreateBreakout(domain.RoomID(uuid.NewString()), name, time.Now())
	log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("breakout", string(b.ID)).Msg("breakout room created")
	o.Relay.SendAll(room.Members(), &protocol.BreakoutCreated{Type: protocol.KindBreakoutCreated, Breakout: b})
	return b, nil
}

// MoveToBreakout moves target into breakoutID, or back to the main room
// when breakoutID is empty.
func (o *Orchestrator) MoveToBreakout(sid core.SessionID, target domain.ParticipantID, breakoutID domain.RoomID) error {
	_, room, p, err := o.actor(sid)
	if err != nil {
		return err
	}
	if !p.Permissions.CanCreateBreakout {
		return core.ErrNotAuthorized
	}
	oldPeers, ok := room.Peers(target)
	if !ok {
		return nil
	}
	from, err := room.MoveTo(target, breakoutID)
	if err != nil {
		if errors.Is(err, core.ErrParticipantNotFound) {
			return nil
		}
		return err
	}
	if from == breakoutID {
		return nil
	}
	moved, ok := room.Participant(target)
	if !ok {
		return nil
	}
	o.Relay.SendAll(oldPeers, protocol.NewUserLeft(moved))
	newPeers, _ := room.Peers(target)
	o.Relay.SendAll(newPeers, protocol.NewUserJoined(moved))
	o.Relay.SendTo(target, &protocol.BreakoutJoined{
		Type:         protocol.KindBreakoutJoined,
		BreakoutID:   breakoutID,
		Participants: room.ScopeSnapshot(target),
	})
	return nil
}

// CloseBreakouts sends everybody back to the main room.
func (o *Orchestrator) CloseBreakouts(sid core.SessionID) error {
	_, room, p, err := o.actor(sid)
	if err != nil {
		return err
	}
	if !p.Permissions.CanCreateBreakout {
		return core.ErrNotAuthorized
	}
	moved := room.CloseBreakouts()
	returned := make(map[domain.ParticipantID]bool, len(moved))
	for _, pid := range moved {
		returned[pid] = true
	}
	for _, pid := range room.Members() {
		if returned[pid] {
			o.Relay.SendTo(pid, &protocol.BreakoutsClosed{Type: protocol.KindBreakoutsClosed, Participants: room.ScopeSnapshot(pid)})
			continue
		}
		for _, mid := range moved {
			if mp, ok := room.Participant(mid); ok {
				o.Relay.SendTo(pid, protocol.NewUserJoined(mp))
			}
		}
	}
	return nil
}
