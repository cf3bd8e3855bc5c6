package signal

import (
	"time"

	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/protocol"
)

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	ctl.send(c, &protocol.Pong{Type: protocol.KindPong, Timestamp: time.Now().UnixMilli()})
}

func (ctl *SignalWSController) handleChat(sid core.SessionID, token string, p *protocol.Chat) error {
	if !ctl.chatLimiter.Allow(limiterKey(sid, token)) {
		return ErrRateLimited
	}
	return ctl.Orch.Chat(sid, p.Message)
}
