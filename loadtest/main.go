package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type envelope[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message"`
}

type authResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

type roomResponse struct {
	ID int64 `json:"id"`
}

type frame struct {
	Type string `json:"type"`
}

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
}

type runner struct {
	baseURL  string
	wsURL    string
	messages int
	wait     time.Duration
	stats    stats
	log      *zap.SugaredLogger
}

func main() {
	baseURL := flag.String("base", "http://localhost:3030", "server base URL")
	pairs := flag.Int("pairs", 50, "number of user pairs; each pair shares one direct room")
	messages := flag.Int("messages", 20, "messages sent by each user")
	wait := flag.Duration("wait", 10*time.Second, "how long each connection waits for its deliveries")
	flag.Parse()

	zl, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer zl.Sync()

	r := &runner{
		baseURL:  strings.TrimRight(*baseURL, "/"),
		wsURL:    "ws" + strings.TrimPrefix(strings.TrimRight(*baseURL, "/"), "http") + "/ws",
		messages: *messages,
		wait:     *wait,
		log:      zl.Sugar(),
	}

	r.log.Infof("starting load test: %d users, %d messages each", *pairs*2, *messages)
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			r.runPair(pairID)
		}(i)
	}
	wg.Wait()

	r.log.Infow("load test complete",
		"duration", time.Since(start),
		"sent", r.stats.sent.Load(),
		"received", r.stats.received.Load(),
		"rejected", r.stats.rejected.Load(),
		"failed", r.stats.failed.Load(),
	)
}

func (r *runner) runPair(pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	tokenA := r.authenticate(userA, pass)
	tokenB := r.authenticate(userB, pass)
	if tokenA == "" || tokenB == "" {
		r.stats.failed.Add(1)
		return
	}

	roomID := r.createDirectRoom(tokenA, userB)
	if roomID == 0 {
		r.stats.failed.Add(1)
		return
	}

	connA := r.connect(tokenA, userA)
	connB := r.connect(tokenB, userB)
	if connA == nil || connB == nil {
		r.stats.failed.Add(1)
		for _, c := range []*websocket.Conn{connA, connB} {
			if c != nil {
				c.Close()
			}
		}
		return
	}
	// The ack is processed asynchronously; give both handshakes time to land
	// so neither side misses the other's first messages.
	time.Sleep(200 * time.Millisecond)

	// Every message reaches both members: the sender's echo and the peer.
	expected := 2 * r.messages

	var wg sync.WaitGroup
	for _, s := range []struct {
		conn *websocket.Conn
		user string
	}{{connA, userA}, {connB, userB}} {
		wg.Add(2)
		go func(conn *websocket.Conn, user string) {
			defer wg.Done()
			r.drain(conn, user, expected)
		}(s.conn, s.user)
		go func(conn *websocket.Conn, user string) {
			defer wg.Done()
			r.spam(conn, roomID, user)
		}(s.conn, s.user)
	}
	wg.Wait()
}

// authenticate registers (ignoring an existing account) and logs in.
func (r *runner) authenticate(username, password string) string {
	creds := map[string]string{"username": username, "password": password}
	if resp, err := r.postJSON("/register", "", creds); err == nil {
		resp.Body.Close()
	}

	resp, err := r.postJSON("/login", "", creds)
	if err != nil {
		r.log.Warnw("login failed", "user", username, "error", err)
		return ""
	}
	defer resp.Body.Close()

	var body envelope[authResponse]
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || resp.StatusCode != http.StatusOK {
		r.log.Warnw("login rejected", "user", username, "status", resp.StatusCode, "message", body.Message)
		return ""
	}
	return body.Data.Token
}

func (r *runner) createDirectRoom(token, peer string) int64 {
	resp, err := r.postJSON("/rooms/direct", token, map[string]string{"username": peer})
	if err != nil {
		r.log.Warnw("create room failed", "error", err)
		return 0
	}
	defer resp.Body.Close()

	var body envelope[roomResponse]
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || resp.StatusCode != http.StatusOK {
		r.log.Warnw("create room rejected", "status", resp.StatusCode, "message", body.Message)
		return 0
	}
	return body.Data.ID
}

func (r *runner) connect(token, user string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(r.wsURL+"?token="+url.QueryEscape(token), nil)
	if err != nil {
		r.log.Warnw("ws connect failed", "user", user, "error", err)
		return nil
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ack")); err != nil {
		r.log.Warnw("ws handshake failed", "user", user, "error", err)
		conn.Close()
		return nil
	}
	return conn
}

func (r *runner) spam(conn *websocket.Conn, roomID int64, user string) {
	for i := 0; i < r.messages; i++ {
		msg := map[string]any{
			"tempId": i,
			"roomId": roomID,
			"text":   fmt.Sprintf("LoadTest Msg %d from %s", i, user),
		}
		if err := conn.WriteJSON(msg); err != nil {
			r.log.Warnw("send failed", "user", user, "error", err)
			return
		}
		r.stats.sent.Add(1)
		// Simulate a real network instead of flooding localhost.
		time.Sleep(10 * time.Millisecond)
	}
}

// drain reads frames until expected message frames arrived or the wait
// runs out, then closes the connection.
func (r *runner) drain(conn *websocket.Conn, user string, expected int) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(r.wait))

	got := 0
	for got < expected {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.log.Warnw("read stopped", "user", user, "received", got, "expected", expected, "error", err)
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Type {
		case "message":
			got++
			r.stats.received.Add(1)
		case "error":
			r.stats.rejected.Add(1)
		}
	}
	r.log.Debugw("all messages delivered", "user", user, "received", got)
}

func (r *runner) postJSON(endpoint, token string, data any) (*http.Response, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, r.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}
