package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"roomchat/internal/apperr"
	"roomchat/internal/chat"
)

type connState int

const (
	stateOpen connState = iota
	stateBound
	stateClosed
)

// Client is a middleman between one websocket connection and the registry.
// Inbound frames are handled one at a time, in arrival order, by readPump.
type Client struct {
	h    *Handler
	conn *websocket.Conn
	// Buffered channel of outbound frames, drained by writePump.
	send chan []byte
	done chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	userID  int64
	state   connState // owned by readPump
	limiter *rate.Limiter
	log     *zap.Logger
}

func newClient(h *Handler, conn *websocket.Conn, userID int64, username string) *Client {
	ctx, cancel := context.WithCancel(h.base)
	limit := rate.Inf
	if h.opts.RatePerSecond > 0 {
		limit = rate.Limit(h.opts.RatePerSecond)
	}
	return &Client{
		h:       h,
		conn:    conn,
		send:    make(chan []byte, h.opts.SendBuffer),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		userID:  userID,
		state:   stateOpen,
		limiter: rate.NewLimiter(limit, h.opts.RateBurst),
		log:     h.log.With(zap.Int64("user_id", userID), zap.String("username", username)),
	}
}

// Send queues payload without blocking. A client whose buffer is full is
// too slow to keep up and gets disconnected.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		c.log.Warn("send buffer full, closing connection")
		c.close()
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
}

// readPump pumps frames from the websocket connection into the handler.
func (c *Client) readPump() {
	defer c.h.conns.Done()
	defer func() {
		if c.state == stateBound {
			c.h.registry.Release(c.userID, c)
		}
		c.state = stateClosed
		c.close()
		c.conn.Close()
		c.log.Info("connection closed")
	}()

	c.conn.SetReadLimit(c.h.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.h.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.h.opts.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("read failed", zap.Error(err))
			}
			return
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	switch f := ParseFrame(data).(type) {
	case AckFrame:
		c.h.registry.Register(c.userID, c)
		if c.state == stateOpen {
			c.state = stateBound
			c.log.Info("connection bound")
		}

	case MessageFrame:
		if c.state != stateBound {
			c.log.Debug("message before handshake dropped")
			return
		}
		c.submit(f.Message)

	case InvalidFrame:
		c.log.Debug("invalid frame dropped", zap.String("reason", f.Reason))
		if c.state == stateBound {
			c.sendError(f.TempID, apperr.ErrInvalidMessage)
		}
	}
}

func (c *Client) submit(pending chat.PendingMessage) {
	if !c.limiter.Allow() {
		c.sendError(pending.TempID, apperr.ErrRateLimited)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.h.opts.OpTimeout)
	defer cancel()

	msg, err := c.h.messages.AddMessage(ctx, c.userID, pending)
	if err != nil {
		if apperr.Known(err) {
			c.log.Info("message rejected", zap.Int64("room_id", pending.RoomID), zap.Error(err))
		} else {
			c.log.Error("add message", zap.Int64("room_id", pending.RoomID), zap.Error(err))
		}
		c.sendError(pending.TempID, err)
		return
	}

	c.h.notifier.BroadcastMessage(ctx, msg)
}

// sendError answers the originating connection only.
func (c *Client) sendError(tempID json.Number, err error) {
	payload, encErr := encodeError(tempID, apperr.Message(err))
	if encErr != nil {
		c.log.Error("encode error frame", zap.Error(encErr))
		return
	}
	c.Send(payload)
}

// writePump pumps frames from the send buffer to the websocket connection,
// one JSON document per frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.h.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.h.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.h.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.ctx.Done():
			// Also reached when the handler shuts down.
			c.close()
			c.conn.SetWriteDeadline(time.Now().Add(c.h.opts.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
