package domain

import "time"

// MediaState mirrors what the participant's browser reports.
type MediaState struct {
	HasVideo        bool `json:"hasVideo"`
	HasAudio        bool `json:"hasAudio"`
	IsScreenSharing bool `json:"isScreenSharing"`
}

type UIState struct {
	IsPinned         bool    `json:"isPinned"`
	HasRaisedHand    bool    `json:"hasRaisedHand"`
	Volume           float64 `json:"volume"`
	ExplicitlyMuted  bool    `json:"explicitlyMuted"`
	ExplicitlyHidden bool    `json:"explicitlyHidden"`
}

type Permissions struct {
	CanShare            bool `json:"canShare"`
	CanChat             bool `json:"canChat"`
	CanDraw             bool `json:"canDraw"`
	CanRecord           bool `json:"canRecord"`
	CanCreateBreakout   bool `json:"canCreateBreakout"`
	CanMuteOthers       bool `json:"canMuteOthers"`
	CanKickParticipants bool `json:"canKickParticipants"`
}

// PermissionsFor is evaluated once, when the participant is created.
func PermissionsFor(isTeacher bool) Permissions {
	return Permissions{
		CanShare:            true,
		CanChat:             true,
		CanDraw:             true,
		CanRecord:           isTeacher,
		CanCreateBreakout:   isTeacher,
		CanMuteOthers:       isTeacher,
		CanKickParticipants: isTeacher,
	}
}

// Participant is an admitted member of a room.
// It is owned by the room that holds it; callers get copies.
type Participant struct {
	ID          ParticipantID
	Username    string
	IsTeacher   bool
	JoinedAt    time.Time
	Media       MediaState
	UI          UIState
	Permissions Permissions
	BreakoutID  RoomID
}

func NewParticipant(id Identity, settings Settings, now time.Time) *Participant {
	return &Participant{
		ID:        id.ParticipantID,
		Username:  id.Username,
		IsTeacher: id.IsTeacher,
		JoinedAt:  now,
		Media: MediaState{
			HasVideo: !settings.VideoOffOnJoin,
			HasAudio: !settings.MuteOnJoin,
		},
		UI:          UIState{Volume: 1},
		Permissions: PermissionsFor(id.IsTeacher),
	}
}

func (p Participant) Identity(roomID RoomID) Identity {
	return Identity{RoomID: roomID, ParticipantID: p.ID, Username: p.Username, IsTeacher: p.IsTeacher}
}

// WaitingParticipant is a join request held until a moderator decides.
type WaitingParticipant struct {
	ID          ParticipantID
	Username    string
	IsTeacher   bool
	RequestedAt time.Time
}

func NewWaitingParticipant(id Identity, now time.Time) *WaitingParticipant {
	return &WaitingParticipant{
		ID:          id.ParticipantID,
		Username:    id.Username,
		IsTeacher:   id.IsTeacher,
		RequestedAt: now,
	}
}

func (w *WaitingParticipant) Identity(roomID RoomID) Identity {
	return Identity{RoomID: roomID, ParticipantID: w.ID, Username: w.Username, IsTeacher: w.IsTeacher}
}

// Decision is the outcome of evaluating a join request.
type Decision int

const (
	AdmitImmediately Decision = iota
	Wait
)

func (d Decision) String() string {
	if d == Wait {
		return "wait"
	}
	return "admit"
}
