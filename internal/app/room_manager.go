package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/domain"
	"github.com/rs/zerolog/log"
)

type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*core.Room

	media    core.MediaTransport
	defaults domain.Settings
	now      func() time.Time
}

func NewRoomManager(media core.MediaTransport, defaults domain.Settings) *RoomManager {
	return &RoomManager{
		rooms:    make(map[domain.RoomID]*core.Room),
		media:    media,
		defaults: defaults,
		now:      time.Now,
	}
}

// GetOrCreate returns the live room for id, creating it with default
// settings and a fresh media router if needed.
func (m *RoomManager) GetOrCreate(ctx context.Context, id domain.RoomID) (*core.Room, error) {
	m.mu.RLock()
	room, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok {
		return room, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok = m.rooms[id]; ok {
		return room, nil
	}
	router, err := m.media.NewRouter(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("media router for room %s: %w", id, err)
	}
	room = core.NewRoom(id, m.defaults, router, m.now())
	m.rooms[id] = room
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	return room, nil
}

func (m *RoomManager) Get(id domain.RoomID) (*core.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	return room, ok
}

// DestroyIfEmpty removes the room when nobody is left in it. Waiting
// requests still pending are returned so their owners can be told.
func (m *RoomManager) DestroyIfEmpty(id domain.RoomID) ([]domain.WaitingParticipant, bool) {
	m.mu.Lock()
	room, ok := m.rooms[id]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	waiters, closed := room.CloseIfEmpty()
	if closed {
		delete(m.rooms, id)
	}
	m.mu.Unlock()
	if !closed {
		return nil, false
	}
	if err := room.Router().Close(); err != nil {
		log.Warn().Err(err).Str("module", "app.rooms").Str("room", string(id)).Msg("close media router")
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Int("waiters", len(waiters)).Msg("room destroyed")
	return waiters, true
}

func (m *RoomManager) List() []core.RoomInfo {
	m.mu.RLock()
	rooms := make([]*core.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]core.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *RoomManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// ICEServers is what a browser needs before it has joined any room.
func (m *RoomManager) ICEServers() []core.ICEServer {
	return m.media.ICEServers()
}

func (m *RoomManager) MediaStats() core.MediaStats {
	return m.media.Stats()
}
