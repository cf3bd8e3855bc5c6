package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/classmeet/internal/app/orch"
	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Options are the per-connection transport limits.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	opts Options

	joinLimiter *RoomRateLimiter
	chatLimiter *RoomRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, opts Options, joinLimiter, chatLimiter *RoomRateLimiter) *SignalWSController {
	return &SignalWSController{
		Orch:        o,
		opts:        opts.withDefaults(),
		joinLimiter: joinLimiter,
		chatLimiter: chatLimiter,
	}
}

// WsSignalConn encodes with the codec the client asked for and queues
// frames for the write pump.
type WsSignalConn struct {
	conn  *websocket.Conn
	codec protocol.Codec
	send  chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(msg any) error {
	data, err := c.codec.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- data:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *WsSignalConn) frameType() int {
	if c.codec.Binary() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until either
// side goes away. Every connection gets a fresh session id, which is also
// its participant id once it joins a room.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	codec, err := protocol.CodecByName(c.Query("codec"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token := c.GetString("client_token")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	sid := core.SessionID(uuid.NewString())
	conn := &WsSignalConn{
		conn:  ws,
		codec: codec,
		send:  make(chan []byte, ctl.opts.SendBuffer),
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client", token).Str("codec", codec.Name()).Msg("new WS connection")

	ctl.Orch.OnConnect(sid, conn, token)
	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, token, conn)
}

// Janitor drops stale rate limiter entries until ctx is done.
func (ctl *SignalWSController) Janitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctl.joinLimiter != nil {
				ctl.joinLimiter.Prune()
			}
			if ctl.chatLimiter != nil {
				ctl.chatLimiter.Prune()
			}
		}
	}
}
