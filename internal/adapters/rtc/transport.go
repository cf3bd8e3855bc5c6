package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrMediaUnavailable = errors.New("media layer unavailable")
	ErrRouterClosed     = errors.New("router closed")
)

// maxProbeFailures consecutive failed probes mark the media layer dead.
const maxProbeFailures = 3

type Options struct {
	ICEServers     []core.ICEServer
	HealthInterval time.Duration
	UDPPortMin     uint16
	UDPPortMax     uint16
}

// Transport owns the pion API shared by every room and keeps checking
// that peer connections can still be created.
type Transport struct {
	api      *webrtc.API
	config   webrtc.Configuration
	ice      []core.ICEServer
	interval time.Duration
	probe    func() error

	fatal chan error

	mu      sync.Mutex
	routers map[domain.RoomID]*Router
	dead    error
}

func DefaultICEServers() []core.ICEServer {
	return []core.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

func NewTransport(opts Options) (*Transport, error) {
	se := webrtc.SettingEngine{}
	if opts.UDPPortMin > 0 && opts.UDPPortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(opts.UDPPortMin, opts.UDPPortMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}
	ice := opts.ICEServers
	if len(ice) == 0 {
		ice = DefaultICEServers()
	}
	interval := opts.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	t := &Transport{
		api:      webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		config:   webrtc.Configuration{ICEServers: toPion(ice)},
		ice:      ice,
		interval: interval,
		fatal:    make(chan error, 1),
		routers:  make(map[domain.RoomID]*Router),
	}
	t.probe = t.probePeerConnection
	return t, nil
}

func toPion(servers []core.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		ps := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			ps.Credential = s.Credential
		}
		out = append(out, ps)
	}
	return out
}

// probePeerConnection builds a throwaway peer connection and an offer.
func (t *Transport) probePeerConnection() error {
	pc, err := t.api.NewPeerConnection(t.config)
	if err != nil {
		return err
	}
	defer func() {
		if err := pc.Close(); err != nil {
			log.Debug().Err(err).Str("module", "webrtc").Msg("probe close")
		}
	}()
	if _, err := pc.CreateDataChannel("probe", nil); err != nil {
		return err
	}
	_, err = pc.CreateOffer(nil)
	return err
}

// Start probes once and then keeps probing in the background until ctx is
// done. A failure of the first probe is returned directly.
func (t *Transport) Start(ctx context.Context) error {
	if err := t.probe(); err != nil {
		return fmt.Errorf("%w: %w", ErrMediaUnavailable, err)
	}
	log.Info().Str("module", "webrtc").Int("ice_servers", len(t.ice)).Msg("media layer ready")
	go t.watch(ctx)
	return nil
}

func (t *Transport) watch(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := t.probe()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			log.Warn().Err(err).Str("module", "webrtc").Int("failures", failures).Msg("media probe failed")
			if failures >= maxProbeFailures {
				t.fail(fmt.Errorf("%w: %w", ErrMediaUnavailable, err))
				return
			}
		}
	}
}

func (t *Transport) fail(err error) {
	t.mu.Lock()
	t.dead = err
	t.mu.Unlock()
	log.Error().Err(err).Str("module", "webrtc").Msg("media layer died")
	select {
	case t.fatal <- err:
	default:
	}
}

// Fatal delivers at most one error, after the media layer has died.
func (t *Transport) Fatal() <-chan error { return t.fatal }

func (t *Transport) ICEServers() []core.ICEServer {
	return append([]core.ICEServer(nil), t.ice...)
}

func (t *Transport) NewRouter(ctx context.Context, roomID domain.RoomID) (core.MediaRouter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead != nil {
		return nil, t.dead
	}
	r := &Router{roomID: roomID, transport: t}
	t.routers[roomID] = r
	log.Debug().Str("module", "webrtc").Str("room", string(roomID)).Msg("router created")
	return r, nil
}

// Stats reports the routers of live rooms and the participants they hold.
func (t *Transport) Stats() core.MediaStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := core.MediaStats{Routers: len(t.routers)}
	for _, r := range t.routers {
		st.Handles += r.open()
	}
	return st
}

func (t *Transport) release(r *Router) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.routers[r.roomID] == r {
		delete(t.routers, r.roomID)
	}
}

// Router is the media side of one room.
type Router struct {
	roomID    domain.RoomID
	transport *Transport
	once      sync.Once

	mu      sync.Mutex
	closed  bool
	handles map[*participantHandle]struct{}
}

func (r *Router) ICEServers() []core.ICEServer { return r.transport.ICEServers() }

func (r *Router) Open(pid domain.ParticipantID) (core.MediaHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRouterClosed
	}
	if r.handles == nil {
		r.handles = make(map[*participantHandle]struct{})
	}
	h := &participantHandle{router: r, pid: pid}
	r.handles[h] = struct{}{}
	log.Debug().Str("module", "webrtc").Str("room", string(r.roomID)).Str("participant", string(pid)).Msg("media handle opened")
	return h, nil
}

func (r *Router) open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *Router) drop(h *participantHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, h)
}

func (r *Router) Close() error {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.handles = nil
		r.mu.Unlock()
		r.transport.release(r)
		log.Debug().Str("module", "webrtc").Str("room", string(r.roomID)).Msg("router closed")
	})
	return nil
}

type participantHandle struct {
	router *Router
	pid    domain.ParticipantID
	once   sync.Once
}

func (h *participantHandle) Close() error {
	h.once.Do(func() {
		h.router.drop(h)
		log.Debug().Str("module", "webrtc").Str("room", string(h.router.roomID)).Str("participant", string(h.pid)).Msg("media handle closed")
	})
	return nil
}
