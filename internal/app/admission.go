package app

import (
	"errors"
	"time"

	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/domain"
	"github.com/rs/zerolog/log"
)

// AdmissionController implements the waiting-room gate.
type AdmissionController struct {
	now func() time.Time
}

func NewAdmissionController() *AdmissionController {
	return &AdmissionController{now: time.Now}
}

// Evaluate admits right away when the waiting room is off, when nobody
// was ever admitted, or when a teacher arrives in a room without a creator.
func (a *AdmissionController) Evaluate(s core.AdmissionState, id domain.Identity) domain.Decision {
	switch {
	case !s.WaitingRoomEnabled:
		return domain.AdmitImmediately
	case !s.EverAdmitted:
		return domain.AdmitImmediately
	case id.IsTeacher && !s.HasCreator:
		return domain.AdmitImmediately
	}
	return domain.Wait
}

// Authorize allows the creator, or a teacher who is in the room.
func Authorize(v core.ModeratorView) bool {
	return v.IsCreator || (v.Present && v.IsTeacher)
}

func (a *AdmissionController) Enter(room *core.Room, id domain.Identity) (domain.Decision, domain.Participant, error) {
	return room.Enter(id, a, a.now())
}

// Admit promotes a waiting request. ErrRoomFull leaves it waiting.
func (a *AdmissionController) Admit(room *core.Room, waitingID domain.ParticipantID, moderator domain.Identity) (domain.Participant, error) {
	p, err := room.Promote(waitingID, moderator, Authorize, a.now())
	if err != nil {
		a.logRejected(room, waitingID, moderator, "admit", err)
		return domain.Participant{}, err
	}
	log.Info().Str("module", "app.admission").Str("room", string(room.ID())).Str("participant", string(waitingID)).
		Str("moderator", string(moderator.ParticipantID)).Msg("admitted")
	return p, nil
}

func (a *AdmissionController) Deny(room *core.Room, waitingID domain.ParticipantID, moderator domain.Identity) (domain.WaitingParticipant, error) {
	w, err := room.Reject(waitingID, moderator, Authorize)
	if err != nil {
		a.logRejected(room, waitingID, moderator, "deny", err)
		return domain.WaitingParticipant{}, err
	}
	return w, nil
}

func (a *AdmissionController) logRejected(room *core.Room, waitingID domain.ParticipantID, moderator domain.Identity, op string, err error) {
	ev := log.Warn()
	if errors.Is(err, core.ErrNotWaiting) || errors.Is(err, core.ErrRoomClosed) {
		ev = log.Debug()
	}
	ev.Err(err).Str("module", "app.admission").Str("op", op).Str("room", string(room.ID())).
		Str("participant", string(waitingID)).Str("moderator", string(moderator.ParticipantID)).Msg("decision not applied")
}
