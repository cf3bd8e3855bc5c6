// Package protocol defines every message that crosses the signaling socket.
// Field names are the wire names for both codecs.
package protocol

import (
	"time"

	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/domain"
)

type Kind string

// Client to server.
const (
	KindJoinRoom            Kind = "join-room"
	KindLeaveRoom           Kind = "leave-room"
	KindToggleVideo         Kind = "toggle-video"
	KindToggleAudio         Kind = "toggle-audio"
	KindToggleScreenShare   Kind = "toggle-screen-share"
	KindPinParticipant      Kind = "pin-participant"
	KindUnpinParticipant    Kind = "unpin-participant"
	KindRaiseHand           Kind = "raise-hand"
	KindLowerHand           Kind = "lower-hand"
	KindModeratorMute       Kind = "moderatorMuteParticipant"
	KindModeratorVideo      Kind = "moderatorToggleParticipantVideo"
	KindModeratorRemove     Kind = "moderatorRemoveParticipant"
	KindAdmitParticipant    Kind = "admit-participant"
	KindDenyParticipant     Kind = "deny-participant"
	KindUpdateRoomSettings  Kind = "update-room-settings"
	KindToggleRecording     Kind = "toggle-recording"
	KindCreateBreakoutRoom  Kind = "create-breakout-room"
	KindMoveToBreakout      Kind = "move-to-breakout"
	KindCloseBreakoutRooms  Kind = "close-breakout-rooms"
	KindPing                Kind = "ping"
	KindOffer               Kind = "offer"
	KindAnswer              Kind = "answer"
	KindICECandidate        Kind = "ice-candidate"
	KindParticipantMedia    Kind = "participant-media-state"
	KindChatMessage         Kind = "chat-message"
	KindReaction            Kind = "reaction"
	KindCanvasDraw          Kind = "canvas-draw"
	KindCanvasClear         Kind = "canvas-clear"
	KindCanvasUndo          Kind = "canvas-undo"
	KindCanvasText          Kind = "canvas-text"
	KindCanvasShape         Kind = "canvas-shape"
	KindCanvasCursor        Kind = "canvas-cursor"
	KindRoomJoined          Kind = "room-joined"
	KindUserJoined          Kind = "user-joined"
	KindUserLeft            Kind = "user-left"
	KindVideoToggled        Kind = "participant-video-toggle"
	KindAudioToggled        Kind = "participant-audio-toggle"
	KindScreenShareToggled  Kind = "participant-screen-share-toggle"
	KindRequestMediaState   Kind = "request-media-state"
	KindParticipantPinned   Kind = "participant-pinned"
	KindParticipantUnpinned Kind = "participant-unpinned"
	KindHandRaised          Kind = "hand-raised"
	KindHandLowered         Kind = "hand-lowered"
	KindWaitingForApproval  Kind = "waiting-for-approval"
	KindWaitingParticipant  Kind = "waiting-participant"
	KindWaitingRemoved      Kind = "waiting-participant-removed"
	KindJoinDenied          Kind = "join-denied"
	KindModeratorMuteReq    Kind = "moderator-mute"
	KindModeratorVideoReq   Kind = "moderator-toggle-video"
	KindKicked              Kind = "kicked"
	KindRoomLeft            Kind = "room-left"
	KindSettingsUpdated     Kind = "room-settings-updated"
	KindRecordingState      Kind = "recording-state"
	KindBreakoutCreated     Kind = "breakout-room-created"
	KindBreakoutJoined      Kind = "breakout-joined"
	KindBreakoutsClosed     Kind = "breakout-rooms-closed"
	KindError               Kind = "error"
	KindPong                Kind = "pong"
)

// IsCanvas reports whether k is one of the whiteboard kinds.
func (k Kind) IsCanvas() bool {
	switch k {
	case KindCanvasDraw, KindCanvasClear, KindCanvasUndo, KindCanvasText, KindCanvasShape, KindCanvasCursor:
		return true
	}
	return false
}

// Stamper is implemented by messages that carry the sender's id.
// The relay stamps them; whatever the client put there is overwritten.
type Stamper interface {
	Stamp(from domain.ParticipantID)
}

type Envelope struct {
	Type Kind `json:"type"`
}

// Empty is the payload of kinds that carry nothing but their type.
type Empty struct {
	Type Kind `json:"type"`
}

type JoinRoom struct {
	Type      Kind   `json:"type"`
	RoomID    string `json:"roomId"`
	UserName  string `json:"userName"`
	IsTeacher bool   `json:"isTeacher"`
}

// Offer, Answer and ICECandidate payloads are opaque to the server.

type Offer struct {
	Type  Kind                 `json:"type"`
	To    domain.ParticipantID `json:"to,omitempty"`
	From  domain.ParticipantID `json:"from,omitempty"`
	Offer any                  `json:"offer"`
}

func (m *Offer) Stamp(from domain.ParticipantID) { m.From = from }

type Answer struct {
	Type   Kind                 `json:"type"`
	To     domain.ParticipantID `json:"to,omitempty"`
	From   domain.ParticipantID `json:"from,omitempty"`
	Answer any                  `json:"answer"`
}

func (m *Answer) Stamp(from domain.ParticipantID) { m.From = from }

type ICECandidate struct {
	Type      Kind                 `json:"type"`
	To        domain.ParticipantID `json:"to,omitempty"`
	From      domain.ParticipantID `json:"from,omitempty"`
	Candidate any                  `json:"candidate"`
}

func (m *ICECandidate) Stamp(from domain.ParticipantID) { m.From = from }

// MediaState is a direct push of one participant's media flags to another.
type MediaState struct {
	Type            Kind                 `json:"type"`
	To              domain.ParticipantID `json:"to,omitempty"`
	From            domain.ParticipantID `json:"from,omitempty"`
	ParticipantID   domain.ParticipantID `json:"participantId,omitempty"`
	VideoEnabled    bool                 `json:"videoEnabled"`
	AudioEnabled    bool                 `json:"audioEnabled"`
	IsScreenSharing bool                 `json:"isScreenSharing,omitempty"`
}

func (m *MediaState) Stamp(from domain.ParticipantID) {
	m.From = from
	m.ParticipantID = from
}

// Toggle is both the client's toggle request and the room notification.
type Toggle struct {
	Type          Kind                 `json:"type"`
	ParticipantID domain.ParticipantID `json:"participantId,omitempty"`
	Enabled       bool                 `json:"enabled"`
}

type Pin struct {
	Type          Kind                 `json:"type"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	By            domain.ParticipantID `json:"pinnedBy,omitempty"`
}

type Hand struct {
	Type          Kind                 `json:"type"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	UserName      string               `json:"userName"`
}

type Chat struct {
	Type            Kind                 `json:"type"`
	ParticipantID   domain.ParticipantID `json:"participantId,omitempty"`
	ParticipantName string               `json:"participantName,omitempty"`
	Message         string               `json:"message"`
	Timestamp       int64                `json:"timestamp,omitempty"`
}

type Reaction struct {
	Type          Kind                 `json:"type"`
	ParticipantID domain.ParticipantID `json:"participantId,omitempty"`
	Emoji         string               `json:"emoji"`
}

// Canvas carries tool-specific whiteboard fields as they came in.
type Canvas map[string]any

func (c Canvas) Stamp(from domain.ParticipantID) { c["participantId"] = string(from) }

func (c Canvas) Kind() Kind {
	k, _ := c["type"].(string)
	return Kind(k)
}

// Moderation is a moderator request and, re-typed, the instruction the
// target receives.
type Moderation struct {
	Type                Kind                 `json:"type"`
	TargetParticipantID domain.ParticipantID `json:"targetParticipantId,omitempty"`
	ModeratorID         domain.ParticipantID `json:"moderatorId,omitempty"`
}

type WaitingDecision struct {
	Type                 Kind                 `json:"type"`
	WaitingParticipantID domain.ParticipantID `json:"waitingParticipantId"`
}

type UpdateRoomSettings struct {
	Type     Kind                 `json:"type"`
	Settings domain.SettingsPatch `json:"settings"`
}

type ToggleRecording struct {
	Type      Kind `json:"type"`
	Recording bool `json:"recording"`
}

type CreateBreakoutRoom struct {
	Type Kind   `json:"type"`
	Name string `json:"name"`
}

// MoveToBreakout with an empty BreakoutID moves back to the main room.
type MoveToBreakout struct {
	Type          Kind                 `json:"type"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	BreakoutID    domain.RoomID        `json:"breakoutRoomId"`
}

type RoomJoined struct {
	Type         Kind                   `json:"type"`
	YourID       domain.ParticipantID   `json:"yourId"`
	RoomID       domain.RoomID          `json:"roomId"`
	Participants []core.ParticipantInfo `json:"participants"`
	Settings     domain.Settings        `json:"settings"`
	IsCreator    bool                   `json:"isCreator"`
	Recording    bool                   `json:"recording"`
	ICEServers   []core.ICEServer       `json:"iceServers,omitempty"`
	Waiting      []core.WaitingInfo     `json:"waitingParticipants,omitempty"`
}

type UserJoined struct {
	Type          Kind                 `json:"type"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	UserName      string               `json:"userName"`
	IsTeacher     bool                 `json:"isTeacher"`
	HasVideo      bool                 `json:"hasVideo"`
	HasAudio      bool                 `json:"hasAudio"`
}

func NewUserJoined(p domain.Participant) *UserJoined {
	return &UserJoined{
		Type:          KindUserJoined,
		ParticipantID: p.ID,
		UserName:      p.Username,
		IsTeacher:     p.IsTeacher,
		HasVideo:      p.Media.HasVideo,
		HasAudio:      p.Media.HasAudio,
	}
}

type UserLeft struct {
	Type          Kind                 `json:"type"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	UserName      string               `json:"userName"`
}

func NewUserLeft(p domain.Participant) *UserLeft {
	return &UserLeft{Type: KindUserLeft, ParticipantID: p.ID, UserName: p.Username}
}

type RequestMediaState struct {
	Type             Kind                 `json:"type"`
	NewParticipantID domain.ParticipantID `json:"newParticipantId"`
}

type WaitingForApproval struct {
	Type   Kind          `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type WaitingParticipant struct {
	Type          Kind                 `json:"type"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	UserName      string               `json:"userName"`
	IsTeacher     bool                 `json:"isTeacher"`
	RequestedAt   time.Time            `json:"requestedAt"`
}

// Reasons carried by waiting-participant-removed and join-denied.
const (
	ReasonAdmitted   = "admitted"
	ReasonDenied     = "denied"
	ReasonLeft       = "left"
	ReasonRoomClosed = "room-closed"
)

type WaitingRemoved struct {
	Type          Kind                 `json:"type"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	Reason        string               `json:"reason"`
}

type JoinDenied struct {
	Type   Kind          `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	Reason string        `json:"reason"`
}

type Kicked struct {
	Type   Kind                 `json:"type"`
	RoomID domain.RoomID        `json:"roomId"`
	By     domain.ParticipantID `json:"by"`
}

type RoomLeft struct {
	Type   Kind          `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type SettingsUpdated struct {
	Type     Kind                 `json:"type"`
	Settings domain.Settings      `json:"settings"`
	By       domain.ParticipantID `json:"updatedBy"`
}

type RecordingState struct {
	Type      Kind                 `json:"type"`
	Recording bool                 `json:"recording"`
	By        domain.ParticipantID `json:"by"`
}

type BreakoutCreated struct {
	Type     Kind              `json:"type"`
	Breakout core.BreakoutInfo `json:"breakoutRoom"`
}

type BreakoutJoined struct {
	Type         Kind                   `json:"type"`
	BreakoutID   domain.RoomID          `json:"breakoutRoomId"`
	Participants []core.ParticipantInfo `json:"participants"`
}

type BreakoutsClosed struct {
	Type         Kind                   `json:"type"`
	Participants []core.ParticipantInfo `json:"participants"`
}

type Error struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

func NewError(msg string) *Error { return &Error{Type: KindError, Message: msg} }

type Pong struct {
	Type      Kind  `json:"type"`
	Timestamp int64 `json:"timestamp"`
}
