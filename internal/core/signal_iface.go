package core

import (
	"errors"

	"github.com/dkeye/classmeet/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SessionID identifies one live signaling connection.
type SessionID string

// ParticipantID is the participant id a session gets when it joins.
// Identity and connection are the same value; reconnecting with a
// kept identity would need these two split apart.
func (s SessionID) ParticipantID() domain.ParticipantID { return domain.ParticipantID(s) }

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
// TrySend must not block: it enqueues msg on the connection's ordered
// send queue or fails with ErrBackpressure or ErrConnClosed.
type SignalConnection interface {
	TrySend(msg any) error
	Close()
}
