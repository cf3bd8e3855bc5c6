package signal

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(c.frameType(), data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, token string, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.OnDisconnect(sid)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(ctx, sid, token, c, data)
	}
}

// handleSignal decodes and dispatches one frame. A panic in a handler is
// contained to this frame.
func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, token string, c *WsSignalConn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("sid", string(sid)).Interface("panic", r).
				Str("stack", string(debug.Stack())).Msg("handler panic")
			ctl.sendError(c, errInternal)
		}
	}()

	kind, msg, err := protocol.Decode(c.codec, data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", string(kind)).Msg("rejected frame")
		ctl.sendError(c, err)
		return
	}

	switch kind {
	case protocol.KindJoinRoom:
		err = ctl.handleJoin(ctx, sid, token, msg.(*protocol.JoinRoom))
	case protocol.KindLeaveRoom:
		ctl.handleLeave(sid)
	case protocol.KindAdmitParticipant:
		err = ctl.Orch.Admit(sid, msg.(*protocol.WaitingDecision).WaitingParticipantID)
	case protocol.KindDenyParticipant:
		err = ctl.Orch.Deny(sid, msg.(*protocol.WaitingDecision).WaitingParticipantID)
	case protocol.KindUpdateRoomSettings:
		err = ctl.Orch.UpdateSettings(sid, msg.(*protocol.UpdateRoomSettings).Settings)
	case protocol.KindToggleRecording:
		err = ctl.Orch.ToggleRecording(sid, msg.(*protocol.ToggleRecording).Recording)
	case protocol.KindCreateBreakoutRoom:
		_, err = ctl.Orch.CreateBreakout(sid, msg.(*protocol.CreateBreakoutRoom).Name)
	case protocol.KindMoveToBreakout:
		m := msg.(*protocol.MoveToBreakout)
		err = ctl.Orch.MoveToBreakout(sid, m.ParticipantID, m.BreakoutID)
	case protocol.KindCloseBreakoutRooms:
		err = ctl.Orch.CloseBreakouts(sid)
	case protocol.KindOffer:
		err = ctl.handleOffer(sid, msg.(*protocol.Offer))
	case protocol.KindAnswer:
		err = ctl.handleAnswer(sid, msg.(*protocol.Answer))
	case protocol.KindICECandidate:
		err = ctl.handleCandidate(sid, msg.(*protocol.ICECandidate))
	case protocol.KindParticipantMedia:
		err = ctl.Orch.PushMediaState(sid, msg.(*protocol.MediaState))
	case protocol.KindToggleVideo, protocol.KindToggleAudio, protocol.KindToggleScreenShare:
		err = ctl.Orch.ToggleMedia(sid, kind, msg.(*protocol.Toggle).Enabled)
	case protocol.KindPinParticipant:
		err = ctl.Orch.Pin(sid, msg.(*protocol.Pin).ParticipantID, true)
	case protocol.KindUnpinParticipant:
		err = ctl.Orch.Pin(sid, msg.(*protocol.Pin).ParticipantID, false)
	case protocol.KindRaiseHand:
		err = ctl.Orch.Hand(sid, true)
	case protocol.KindLowerHand:
		err = ctl.Orch.Hand(sid, false)
	case protocol.KindChatMessage:
		err = ctl.handleChat(sid, token, msg.(*protocol.Chat))
	case protocol.KindReaction:
		err = ctl.Orch.React(sid, msg.(*protocol.Reaction).Emoji)
	case protocol.KindModeratorMute:
		err = ctl.Orch.ModeratorMute(sid, msg.(*protocol.Moderation).TargetParticipantID)
	case protocol.KindModeratorVideo:
		err = ctl.Orch.ModeratorToggleVideo(sid, msg.(*protocol.Moderation).TargetParticipantID)
	case protocol.KindModeratorRemove:
		err = ctl.Orch.ModeratorRemove(sid, msg.(*protocol.Moderation).TargetParticipantID)
	case protocol.KindPing:
		ctl.handlePing(c)
	default:
		if kind.IsCanvas() {
			err = ctl.Orch.Canvas(sid, kind, msg.(protocol.Canvas))
		}
	}
	if err != nil {
		logRejected(sid, kind, err)
		ctl.sendError(c, err)
	}
}

func (ctl *SignalWSController) send(c *WsSignalConn, v any) {
	if err := c.TrySend(v); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("reply not sent")
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, err error) {
	ctl.send(c, protocol.NewError(clientMessage(err)))
}
