package core

import (
	"context"

	"github.com/dkeye/classmeet/internal/domain"
)

// MediaHandle is a producer or consumer owned by the media plane.
// The room only keeps it so it can be closed when the participant goes away.
type MediaHandle interface {
	Close() error
}

// ICEServer is what browsers need to reach the media plane.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// MediaRouter is the per-room transport context. It is attached once,
// when the room is created, and closed when the room is destroyed.
type MediaRouter interface {
	ICEServers() []ICEServer
	// Open registers a participant with the media plane. The handle is
	// closed when the participant leaves the room.
	Open(pid domain.ParticipantID) (MediaHandle, error)
	Close() error
}

// MediaStats counts what the media plane currently holds.
type MediaStats struct {
	Routers int `json:"routers"`
	Handles int `json:"handles"`
}

type MediaTransport interface {
	NewRouter(ctx context.Context, roomID domain.RoomID) (MediaRouter, error)
	ICEServers() []ICEServer
	Stats() MediaStats
	// Fatal yields once if the media subsystem is gone for good.
	Fatal() <-chan error
}
