package rtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/classmeet/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartProbesPeerConnection(t *testing.T) {
	tr, err := NewTransport(Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tr.Start(ctx))
	assert.Equal(t, DefaultICEServers(), tr.ICEServers())
}

func TestRouterLifecycle(t *testing.T) {
	ice := []core.ICEServer{{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "p"}}
	tr, err := NewTransport(Options{ICEServers: ice})
	require.NoError(t, err)

	r, err := tr.NewRouter(context.Background(), "math")
	require.NoError(t, err)
	assert.Equal(t, ice, r.ICEServers())

	amy, err := r.Open("amy")
	require.NoError(t, err)
	_, err = r.Open("bob")
	require.NoError(t, err)
	assert.Equal(t, core.MediaStats{Routers: 1, Handles: 2}, tr.Stats())

	require.NoError(t, amy.Close())
	require.NoError(t, amy.Close())
	assert.Equal(t, core.MediaStats{Routers: 1, Handles: 1}, tr.Stats())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, core.MediaStats{}, tr.Stats())

	_, err = r.Open("cara")
	assert.ErrorIs(t, err, ErrRouterClosed)
}

func TestNewRouterCanceled(t *testing.T) {
	tr, err := NewTransport(Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.NewRouter(ctx, "math")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFailingProbeIsFatal(t *testing.T) {
	tr, err := NewTransport(Options{HealthInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	boom := errors.New("no sockets")
	calls := 0
	tr.probe = func() error {
		calls++
		if calls == 1 {
			return nil
		}
		return boom
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tr.Start(ctx))

	select {
	case err := <-tr.Fatal():
		assert.ErrorIs(t, err, ErrMediaUnavailable)
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error")
	}

	_, err = tr.NewRouter(context.Background(), "math")
	assert.ErrorIs(t, err, ErrMediaUnavailable)
}

func TestStartFailsFast(t *testing.T) {
	tr, err := NewTransport(Options{})
	require.NoError(t, err)
	tr.probe = func() error { return errors.New("broken") }

	err = tr.Start(context.Background())
	assert.ErrorIs(t, err, ErrMediaUnavailable)
}
