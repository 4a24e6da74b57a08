// Package chat implements the chat-protocol frontend: it dials out to the
// configured chat server over a WebSocket bridge, forwards each inbound
// line to the evaluation service, and writes the response back chunked
// to the transport's line limits.
//
// Grounded in the WhatsApp bridge channel's connect/listenLoop/reconnect
// shape (internal/channels/whatsapp/whatsapp.go in the example pack):
// dial, read loop with automatic reconnect and exponential backoff, a
// mutex-guarded connection handle.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/scriptkeeper/internal/config"
	"github.com/nextlevelbuilder/scriptkeeper/internal/format"
	"github.com/nextlevelbuilder/scriptkeeper/internal/roommap"
	"github.com/nextlevelbuilder/scriptkeeper/pkg/protocol"
)

const (
	lineByteLimit    = 440
	lineVisibleLimit = 400
	maxReconnectWait = 30 * time.Second
)

// Service is the subset of internal/service.Service the frontend drives.
type Service interface {
	Eval(code string, ctx protocol.EvalContext) protocol.EvalResponse
	IsAdmin(mask string) bool
}

// inboundMessage is the bridge's wire shape. Type "message" carries a
// spoken line; "join"/"part" carry a single nick entering or leaving
// Channel; "names" carries the full roster of Channel as Nicks, the way
// an IRC bridge replays it after a channel join.
type inboundMessage struct {
	Type    string   `json:"type"`
	From    string   `json:"from"`
	Mask    string   `json:"mask"`
	Channel string   `json:"channel"`
	Text    string   `json:"text"`
	Nicks   []string `json:"nicks"`
}

// outboundMessage is what this frontend sends back to the bridge.
type outboundMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// Frontend dials the configured chat server and brokers eval requests.
type Frontend struct {
	cfg   *config.ServerConfig
	svc   Service
	rooms *roommap.Map

	mu   sync.Mutex
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a chat frontend; it does not dial until Start is called.
// rooms is the shared membership table this frontend keeps current as
// join/part/names events arrive from the bridge; the worker's chanlist
// verb reads it back out.
func New(cfg *config.ServerConfig, svc Service, rooms *roommap.Map) *Frontend {
	return &Frontend{cfg: cfg, svc: svc, rooms: rooms}
}

func (f *Frontend) dialURL() string {
	scheme := "ws"
	if f.cfg.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/ws", scheme, f.cfg.Hostname, f.cfg.Port)
}

// Start connects to the chat server and begins the read loop in a
// background goroutine. It returns once the first connection attempt has
// been made; a failed first attempt is not fatal, the reconnect loop
// keeps trying.
func (f *Frontend) Start(ctx context.Context) {
	f.ctx, f.cancel = context.WithCancel(ctx)

	if err := f.connect(); err != nil {
		slog.Warn("chat frontend: initial connection failed, will retry", "error", err)
	}
	go f.listenLoop()
}

// Stop closes the connection and ends the read loop.
func (f *Frontend) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}

func (f *Frontend) connect() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(f.dialURL(), nil)
	if err != nil {
		return fmt.Errorf("dial chat server %s: %w", f.dialURL(), err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	if err := f.join(conn); err != nil {
		slog.Warn("chat frontend: failed to send join message", "error", err)
	}

	slog.Info("chat frontend connected", "url", f.dialURL())
	return nil
}

func (f *Frontend) join(conn *websocket.Conn) error {
	for _, ch := range f.cfg.Channels {
		msg := outboundMessage{Type: "join", Channel: ch}
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

func (f *Frontend) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()

		if conn == nil {
			slog.Info("chat frontend: attempting reconnect", "backoff", backoff)
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := f.connect(); err != nil {
				slog.Warn("chat frontend: reconnect failed", "error", err)
				backoff = min(backoff*2, maxReconnectWait)
				continue
			}
			backoff = time.Second
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("chat frontend: read error, will reconnect", "error", err)
			f.mu.Lock()
			if f.conn != nil {
				_ = f.conn.Close()
				f.conn = nil
			}
			f.mu.Unlock()
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("chat frontend: invalid inbound JSON", "error", err)
			continue
		}
		switch msg.Type {
		case "message":
			if strings.TrimSpace(msg.Text) == "" {
				continue
			}
			f.handleLine(conn, msg)
		case "join", "part", "names":
			f.handleMembership(msg)
		}
	}
}

// handleMembership keeps rooms current with the bridge's view of who is
// in each channel. A nil rooms map means no frontend owns chanlist for
// this deployment, so updates are simply dropped.
func (f *Frontend) handleMembership(msg inboundMessage) {
	if f.rooms == nil || msg.Channel == "" {
		return
	}
	switch msg.Type {
	case "join":
		if msg.From != "" {
			f.rooms.Join(msg.Channel, msg.From)
		}
	case "part":
		if msg.From != "" {
			f.rooms.Part(msg.Channel, msg.From)
		}
	case "names":
		f.rooms.Replace(msg.Channel, msg.Nicks)
	}
}

func (f *Frontend) handleLine(conn *websocket.Conn, msg inboundMessage) {
	ctx := protocol.EvalContext{
		User:    msg.From,
		Origin:  f.cfg.Hostname,
		Channel: msg.Channel,
		IsAdmin: f.svc.IsAdmin(msg.Mask),
	}

	resp := f.svc.Eval(msg.Text, ctx)
	f.reply(conn, msg.Channel, resp)
}

func (f *Frontend) reply(conn *websocket.Conn, channel string, resp protocol.EvalResponse) {
	for _, line := range resp.Lines {
		for _, chunk := range format.Split(line, lineByteLimit, lineVisibleLimit) {
			out := outboundMessage{Type: "message", Channel: channel, Text: chunk}
			data, err := json.Marshal(out)
			if err != nil {
				slog.Error("chat frontend: failed to marshal outbound message", "error", err)
				continue
			}
			f.mu.Lock()
			writeErr := conn.WriteMessage(websocket.TextMessage, data)
			f.mu.Unlock()
			if writeErr != nil {
				slog.Warn("chat frontend: write failed", "error", writeErr)
				return
			}
		}
	}
	if resp.MoreAvailable {
		hint := outboundMessage{Type: "message", Channel: channel, Text: "(more output available - type `more`)"}
		data, _ := json.Marshal(hint)
		f.mu.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, data)
		f.mu.Unlock()
	}
}
