// Package ws supervises WebSocket connections: upgrade, greeting, message
// dispatch, liveness probing, and teardown.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/threadhub/realtime/internal/bot"
	"github.com/threadhub/realtime/internal/domain/history"
	"github.com/threadhub/realtime/internal/domain/presence"
	"github.com/threadhub/realtime/internal/infrastructure/config"
	"github.com/threadhub/realtime/internal/infrastructure/logging"
	"github.com/threadhub/realtime/internal/infrastructure/monitoring"
)

// aliveFlag is the boolean liveness flag shared between the read loop and
// the prober. Any inbound activity sets it; each probe tick clears it and
// inspects what it was.
type aliveFlag struct {
	v int32
}

func newAliveFlag() *aliveFlag {
	f := &aliveFlag{}
	f.set()
	return f
}

func (f *aliveFlag) set() {
	atomic.StoreInt32(&f.v, 1)
}

func (f *aliveFlag) clear() bool {
	return atomic.SwapInt32(&f.v, 0) == 1
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler owns the lifecycle of every WebSocket connection.
type Handler struct {
	groups   *presence.GroupRegistry
	direct   *presence.DirectRegistry
	history  *history.Store
	bot      bot.Completer
	liveness config.LivenessConfig
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// NewHandler creates a WebSocket handler.
func NewHandler(
	groups *presence.GroupRegistry,
	direct *presence.DirectRegistry,
	hist *history.Store,
	completer bot.Completer,
	liveness config.LivenessConfig,
	logger *logging.Logger,
) *Handler {
	return &Handler{
		groups:   groups,
		direct:   direct,
		history:  hist,
		bot:      completer,
		liveness: liveness,
		logger:   logger.Component("ws-handler"),
	}
}

// WithMetrics attaches a metrics collector.
func (h *Handler) WithMetrics(m *monitoring.Metrics) *Handler {
	h.metrics = m
	return h
}

// HandleConnection upgrades the request and runs the connection until the
// peer goes away. The greeting frame is sent before anything else so
// clients can treat it as the open signal.
func (h *Handler) HandleConnection(c *gin.Context) {
	raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sock := presence.NewSocket(raw)
	log := h.logger.With(zap.String("conn_id", sock.ID().String()))
	log.Info("connection established")

	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
	defer func() {
		h.teardown(sock, log)
	}()

	if err := sock.SendJSON(Connected()); err != nil {
		log.Warn("greeting failed", zap.Error(err))
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWSMessage("out", TypeConnected)
	}

	// Liveness flag protocol: each probe interval the prober demands that
	// some inbound activity happened since the last tick. A pong or any
	// frame sets the flag; a tick with the flag down terminates.
	alive := newAliveFlag()
	raw.SetPongHandler(func(string) error {
		sock.Touch()
		alive.set()
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go h.probeLoop(sock, alive, done, log)

	h.readLoop(c.Request.Context(), sock, raw, alive, log)
}

// readLoop consumes inbound frames until the connection errors out.
func (h *Handler) readLoop(ctx context.Context, sock *presence.Socket, raw *websocket.Conn, alive *aliveFlag, log *logging.Logger) {
	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("read failed", zap.Error(err))
			} else {
				log.Info("connection closed", zap.Error(err))
			}
			return
		}

		sock.Touch()
		alive.set()

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn("malformed frame", zap.Error(err))
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", env.Type)
		}

		h.dispatch(ctx, sock, env, log)
	}
}

// dispatch routes one decoded envelope. Bad payloads are logged and
// dropped; the connection itself stays up.
func (h *Handler) dispatch(ctx context.Context, sock *presence.Socket, env Envelope, log *logging.Logger) {
	switch env.Type {
	case TypeNewUser:
		var p PresencePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn("bad NEW_USER payload", zap.Error(err))
			return
		}
		h.groups.AddUser(p.GroupID, p.UserID, sock)
		h.history.AddUser(p.UserID)

	case TypeRemoveUser:
		var p PresencePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn("bad REMOVE_USER payload", zap.Error(err))
			return
		}
		h.groups.RemoveUser(p.GroupID, p.UserID)

	case TypeJoinChat:
		var p ChatUserPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn("bad JOIN_CHAT payload", zap.Error(err))
			return
		}
		h.direct.AddUser(p.UserID, sock)

	case TypeLeaveChat:
		var p ChatUserPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn("bad LEAVE_CHAT payload", zap.Error(err))
			return
		}
		h.direct.RemoveUser(p.UserID)

	case TypeBotChat:
		var p BotPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn("bad BOT_CHAT payload", zap.Error(err))
			return
		}
		go h.answerBot(ctx, sock, p, log)

	default:
		log.Warn("unknown message type", zap.String("type", env.Type))
	}
}

// answerBot asks the assistant for a reply and pushes it back on the same
// connection. Runs on its own goroutine so a slow completion never blocks
// the read loop; if the connection closed while waiting, the reply is
// dropped.
func (h *Handler) answerBot(ctx context.Context, sock *presence.Socket, p BotPayload, log *logging.Logger) {
	reply := h.bot.Complete(ctx, p.UserID, p.Message)

	if !sock.IsOpen() {
		log.Debug("assistant reply dropped, connection gone", zap.String("user_id", p.UserID))
		return
	}

	err := sock.SendJSON(Event{
		Type:    TypeBotChat,
		Payload: BotPayload{UserID: p.UserID, Message: reply},
	})
	if err != nil {
		log.Warn("assistant reply send failed", zap.Error(err))
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWSMessage("out", TypeBotChat)
	}
}

// probeLoop pings the peer every interval and terminates it when a full
// interval passes with no inbound activity.
func (h *Handler) probeLoop(sock *presence.Socket, alive *aliveFlag, done <-chan struct{}, log *logging.Logger) {
	ticker := time.NewTicker(h.liveness.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !alive.clear() {
				log.Info("liveness probe timed out, terminating")
				sock.Terminate()
				return
			}
			if err := sock.Ping(time.Now().Add(h.liveness.WriteTimeout)); err != nil {
				log.Info("liveness ping failed", zap.Error(err))
				sock.Terminate()
				return
			}
		}
	}
}

// teardown removes every registration bound to the connection. Group and
// direct registries are cleaned symmetrically through their connection
// indexes, so users who never announced an ID still vanish cleanly.
func (h *Handler) teardown(sock *presence.Socket, log *logging.Logger) {
	sock.Terminate()

	h.groups.RemoveByConn(sock)
	if userID, ok := h.direct.RemoveByConn(sock); ok {
		log.Info("chat registration cleared", zap.String("user_id", userID))
	}

	if h.metrics != nil {
		h.metrics.DecWSConnections()
	}
	log.Info("connection torn down")
}
