package app

import (
	"errors"
	"sync"

	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyBound      = errors.New("connection already bound")
	ErrUnknownConnection = errors.New("unknown connection")
)

type sessionEntry struct {
	Conn     core.SignalConnection
	Identity *domain.Identity
	// Waiting is set while the connection sits in a room's waiting room.
	Waiting domain.RoomID
	Token   string
}

// Registry maps live connections to who they are. Since participant id
// and connection id are the same value it also answers presence.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

// Attach registers a fresh, idle connection. token is the client token
// of the browser that opened it and is only used for logging.
func (r *Registry) Attach(sid core.SessionID, conn core.SignalConnection, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Conn: conn, Token: token}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("client", token).Msg("attached connection")
}

func (r *Registry) Bind(sid core.SessionID, id domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ErrUnknownConnection
	}
	if e.Identity != nil || e.Waiting != "" {
		return ErrAlreadyBound
	}
	e.Identity = &id
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(id.RoomID)).Msg("bound session")
	return nil
}

func (r *Registry) Lookup(sid core.SessionID) (domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Identity == nil {
		return domain.Identity{}, ErrUnknownConnection
	}
	return *e.Identity, nil
}

// Unbind clears the identity but keeps the connection attached.
func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok && e.Identity != nil {
		e.Identity = nil
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	}
}

func (r *Registry) MarkWaiting(sid core.SessionID, room domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ErrUnknownConnection
	}
	if e.Identity != nil || e.Waiting != "" {
		return ErrAlreadyBound
	}
	e.Waiting = room
	return nil
}

// Promote binds a connection admitted from room's waiting room. The
// connection may or may not have been marked waiting yet.
func (r *Registry) Promote(sid core.SessionID, room domain.RoomID, id domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ErrUnknownConnection
	}
	if e.Identity != nil || (e.Waiting != "" && e.Waiting != room) {
		return ErrAlreadyBound
	}
	e.Waiting = ""
	e.Identity = &id
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(id.RoomID)).Msg("promoted session")
	return nil
}

// ClearWaiting reports whether sid was waiting in room.
func (r *Registry) ClearWaiting(sid core.SessionID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Waiting != room {
		return false
	}
	e.Waiting = ""
	return true
}

func (r *Registry) WaitingRoom(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Waiting == "" {
		return "", false
	}
	return e.Waiting, true
}

// Detached is what a connection held when it went away.
type Detached struct {
	Identity *domain.Identity
	Waiting  domain.RoomID
}

func (r *Registry) Detach(sid core.SessionID) (Detached, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return Detached{}, false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("detached connection")
	return Detached{Identity: e.Identity, Waiting: e.Waiting}, true
}

// Conn returns the live connection of a participant.
func (r *Registry) Conn(pid domain.ParticipantID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[core.SessionID(pid)]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
