package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"roomchat/internal/chat"
	"roomchat/internal/middleware"
)

// MessageAdder persists a pending message on behalf of a user.
type MessageAdder interface {
	AddMessage(ctx context.Context, userID int64, pending chat.PendingMessage) (chat.Message, error)
}

type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration // must be less than PongWait
	MaxMessageSize int64
	SendBuffer     int
	OpTimeout      time.Duration
	RatePerSecond  float64 // zero disables rate limiting
	RateBurst      int
	AllowedOrigin  string // empty allows any origin
}

func DefaultOptions() Options {
	return Options{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
		OpTimeout:      10 * time.Second,
		RatePerSecond:  10,
		RateBurst:      20,
	}
}

type Handler struct {
	// base is the parent of every connection's context; cancelling it
	// closes all of them.
	base     context.Context
	stop     context.CancelFunc
	conns    sync.WaitGroup
	registry *Registry
	messages MessageAdder
	notifier chat.Notifier
	opts     Options
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewHandler(registry *Registry, messages MessageAdder, notifier chat.Notifier, opts Options, log *zap.Logger) *Handler {
	base, stop := context.WithCancel(context.Background())
	h := &Handler{
		base:     base,
		stop:     stop,
		registry: registry,
		messages: messages,
		notifier: notifier,
		opts:     opts,
		log:      log.Named("ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.AllowedOrigin == "" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == h.opts.AllowedOrigin
}

// ServeWs upgrades an authenticated request. The connection only receives
// pushes once the client sends the ack handshake.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if h.base.Err() != nil {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}
	username, _ := middleware.Username(r.Context())

	// Counted before the hijack so http.Server.Shutdown cannot return
	// between the upgrade and the Add.
	h.conns.Add(1)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.conns.Done()
		h.log.Warn("upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	client := newClient(h, conn, userID, username)
	client.log.Info("connection opened")

	go client.writePump()
	go client.readPump()
}

// Shutdown sends a close frame to every open connection and waits until
// their read loops have released the registry, or until ctx is done.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.stop()

	drained := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
