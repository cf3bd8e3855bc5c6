package signal

import (
	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Handshake payloads are relayed untouched; the browsers negotiate
// directly with each other.

func (ctl *SignalWSController) handleOffer(sid core.SessionID, p *protocol.Offer) error {
	log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("to", string(p.To)).Msg("offer")
	return ctl.Orch.Signal(sid, p.To, p)
}

func (ctl *SignalWSController) handleAnswer(sid core.SessionID, p *protocol.Answer) error {
	log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("to", string(p.To)).Msg("answer")
	return ctl.Orch.Signal(sid, p.To, p)
}

func (ctl *SignalWSController) handleCandidate(sid core.SessionID, p *protocol.ICECandidate) error {
	return ctl.Orch.Signal(sid, p.To, p)
}
