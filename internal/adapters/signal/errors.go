package signal

import (
	"errors"

	"github.com/dkeye/classmeet/internal/app"
	"github.com/dkeye/classmeet/internal/app/orch"
	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/domain"
	"github.com/dkeye/classmeet/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrRateLimited = errors.New("too many requests")
	errInternal    = errors.New("internal error")
)

// public errors are shown to the client as they are.
var public = []error{
	protocol.ErrUnknownKind,
	core.ErrNotAuthorized,
	core.ErrRoomFull,
	core.ErrBreakoutNotFound,
	orch.ErrNotInRoom,
	orch.ErrFeatureDisabled,
	orch.ErrEmptyMessage,
	orch.ErrMessageTooLong,
	domain.ErrUsernameEmpty,
	domain.ErrUsernameTooLong,
	domain.ErrRoomIDEmpty,
	domain.ErrRoomIDTooLong,
	ErrRateLimited,
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		return protocol.ErrMalformed.Error()
	case errors.Is(err, app.ErrAlreadyBound), errors.Is(err, core.ErrDuplicateParticipant):
		return "already in a room"
	}
	for _, pe := range public {
		if errors.Is(err, pe) {
			return err.Error()
		}
	}
	return errInternal.Error()
}

func logRejected(sid core.SessionID, kind protocol.Kind, err error) {
	var ev *zerolog.Event
	switch {
	case errors.Is(err, core.ErrNotAuthorized), errors.Is(err, ErrRateLimited):
		ev = log.Warn()
	case clientMessage(err) == errInternal.Error():
		ev = log.Error()
	default:
		ev = log.Info()
	}
	ev.Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", string(kind)).Msg("request rejected")
}
