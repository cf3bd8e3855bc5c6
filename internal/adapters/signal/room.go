package signal

import (
	"context"

	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/protocol"
	"github.com/rs/zerolog/log"
)

func limiterKey(sid core.SessionID, token string) string {
	if token != "" {
		return token
	}
	return string(sid)
}

func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	sid core.SessionID,
	token string,
	p *protocol.JoinRoom,
) error {
	if !ctl.joinLimiter.Allow(limiterKey(sid, token)) {
		return ErrRateLimited
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", p.RoomID).Bool("teacher", p.IsTeacher).Msg("join")
	return ctl.Orch.Join(ctx, sid, p.RoomID, p.UserName, p.IsTeacher)
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Orch.Leave(sid)
}
