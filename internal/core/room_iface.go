package core

import (
	"errors"
	"time"

	"github.com/dkeye/classmeet/internal/domain"
)

var (
	ErrRoomClosed           = errors.New("room closed")
	ErrRoomFull             = errors.New("room is full")
	ErrDuplicateParticipant = errors.New("participant already in room")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrNotWaiting           = errors.New("no such waiting participant")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrBreakoutNotFound     = errors.New("breakout room not found")
)

// AdmissionState is what a join decision may look at.
type AdmissionState struct {
	WaitingRoomEnabled bool
	HasCreator         bool
	EverAdmitted       bool
}

type Admission interface {
	Evaluate(state AdmissionState, id domain.Identity) domain.Decision
}

// ModeratorView describes the actor of an admit/deny decision.
type ModeratorView struct {
	IsCreator bool
	Present   bool
	IsTeacher bool
}

type Authorizer func(ModeratorView) bool

// ParticipantInfo is a read-only view for APIs (no transport fields).
type ParticipantInfo struct {
	ID              domain.ParticipantID `json:"id"`
	Name            string               `json:"name"`
	IsTeacher       bool                 `json:"isTeacher"`
	HasVideo        bool                 `json:"hasVideo"`
	HasAudio        bool                 `json:"hasAudio"`
	IsScreenSharing bool                 `json:"isScreenSharing"`
	IsPinned        bool                 `json:"isPinned"`
	HasRaisedHand   bool                 `json:"hasRaisedHand"`
	BreakoutID      domain.RoomID        `json:"breakoutId,omitempty"`
	JoinedAt        time.Time            `json:"joinedAt"`
}

type WaitingInfo struct {
	ID          domain.ParticipantID `json:"participantId"`
	Name        string               `json:"userName"`
	IsTeacher   bool                 `json:"isTeacher"`
	RequestedAt time.Time            `json:"requestedAt"`
}

type BreakoutInfo struct {
	ID               domain.RoomID `json:"id"`
	Name             string        `json:"name"`
	ParticipantCount int           `json:"participantCount"`
}

type RoomInfo struct {
	ID               domain.RoomID        `json:"id"`
	CreatedAt        time.Time            `json:"createdAt"`
	Settings         domain.Settings      `json:"settings"`
	Recording        bool                 `json:"recording"`
	Creator          domain.ParticipantID `json:"creator,omitempty"`
	Participants     []ParticipantInfo    `json:"participants"`
	ParticipantCount int                  `json:"participantCount"`
	WaitingCount     int                  `json:"waitingCount"`
	Breakouts        []BreakoutInfo       `json:"breakouts,omitempty"`
}

func participantInfo(p *domain.Participant) ParticipantInfo {
	return ParticipantInfo{
		ID:              p.ID,
		Name:            p.Username,
		IsTeacher:       p.IsTeacher,
		HasVideo:        p.Media.HasVideo,
		HasAudio:        p.Media.HasAudio,
		IsScreenSharing: p.Media.IsScreenSharing,
		IsPinned:        p.UI.IsPinned,
		HasRaisedHand:   p.UI.HasRaisedHand,
		BreakoutID:      p.BreakoutID,
		JoinedAt:        p.JoinedAt,
	}
}
