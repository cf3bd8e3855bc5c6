package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/classmeet/internal/core/coretest"
	"github.com/dkeye/classmeet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager() (*RoomManager, *coretest.Transport) {
	tr := coretest.NewTransport()
	return NewRoomManager(tr, domain.DefaultSettings()), tr
}

func TestGetOrCreateReturnsSameRoom(t *testing.T) {
	m, tr := newManager()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.GetOrCreate(ctx, "alpha")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, m.Len())
	assert.Len(t, tr.Routers["alpha"], 1, "router is attached only on creation")
}

func TestGetOrCreateRouterFailure(t *testing.T) {
	m, tr := newManager()
	tr.Err = errors.New("no workers")
	_, err := m.GetOrCreate(context.Background(), "alpha")
	assert.ErrorIs(t, err, tr.Err)
	assert.Equal(t, 0, m.Len())
}

func TestDestroyIfEmpty(t *testing.T) {
	m, tr := newManager()
	adm := NewAdmissionController()
	room, err := m.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)

	_, _, err = adm.Enter(room, domain.Identity{RoomID: "alpha", ParticipantID: "amy", Username: "Amy"})
	require.NoError(t, err)

	_, ok := m.DestroyIfEmpty("alpha")
	assert.False(t, ok)

	room.Remove("amy")
	_, ok = m.DestroyIfEmpty("alpha")
	assert.True(t, ok)
	assert.Equal(t, 0, m.Len())
	assert.True(t, tr.Routers["alpha"][0].Closed())

	_, ok = m.DestroyIfEmpty("alpha")
	assert.False(t, ok)

	fresh, err := m.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)
	assert.NotSame(t, room, fresh)
}

func TestListIsSorted(t *testing.T) {
	m, _ := newManager()
	for _, id := range []domain.RoomID{"gamma", "alpha", "beta"} {
		_, err := m.GetOrCreate(context.Background(), id)
		require.NoError(t, err)
	}
	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, domain.RoomID("alpha"), list[0].ID)
	assert.Equal(t, domain.RoomID("gamma"), list[2].ID)
}
