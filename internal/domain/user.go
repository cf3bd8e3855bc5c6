// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxRoomIDLen   = 64
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrRoomIDEmpty     = errors.New("room id empty")
	ErrRoomIDTooLong   = errors.New("room id too long")
)

// ParticipantID is the public id of a participant. It is the id of the
// connection that joined, so presence is answered by connection existence.
type ParticipantID string

// Identity is what a connection is bound to once it joins a room.
type Identity struct {
	RoomID        RoomID
	ParticipantID ParticipantID
	Username      string
	IsTeacher     bool
}

// NewIdentity validates user supplied values before anything touches a room.
func NewIdentity(roomID string, pid ParticipantID, username string, isTeacher bool) (Identity, error) {
	rid, err := ParseRoomID(roomID)
	if err != nil {
		return Identity{}, err
	}
	name, err := NormalizeUsername(username)
	if err != nil {
		return Identity{}, err
	}
	return Identity{RoomID: rid, ParticipantID: pid, Username: name, IsTeacher: isTeacher}, nil
}

func NormalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return "", ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	return username, nil
}

func ParseRoomID(raw string) (RoomID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrRoomIDEmpty
	}
	if len(raw) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	return RoomID(raw), nil
}
