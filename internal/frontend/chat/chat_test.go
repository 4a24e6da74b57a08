package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/scriptkeeper/internal/config"
	"github.com/nextlevelbuilder/scriptkeeper/internal/roommap"
	"github.com/nextlevelbuilder/scriptkeeper/pkg/protocol"
)

type fakeService struct {
	lastCode string
	lastCtx  protocol.EvalContext
	resp     protocol.EvalResponse
}

func (f *fakeService) Eval(code string, ctx protocol.EvalContext) protocol.EvalResponse {
	f.lastCode = code
	f.lastCtx = ctx
	return f.resp
}

func (f *fakeService) IsAdmin(mask string) bool {
	return mask == "nick!admin@trusted.example"
}

func newBridgeServer(t *testing.T, onMessage func(*websocket.Conn, []byte)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			onMessage(conn, msg)
		}
	}))
	return srv
}

func serverConfigFor(t *testing.T, srv *httptest.Server) *config.ServerConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return &config.ServerConfig{Hostname: u.Hostname(), Port: port, Channels: []string{"#general"}}
}

func TestChatFrontendForwardsMessageAndRepliesWithLines(t *testing.T) {
	svc := &fakeService{resp: protocol.EvalResponse{Lines: []string{"hello"}}}

	received := make(chan []byte, 10)
	srv := newBridgeServer(t, func(conn *websocket.Conn, msg []byte) {
		received <- msg
	})
	defer srv.Close()

	f := New(serverConfigFor(t, srv), svc, roommap.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Stop()

	// Wait for the join messages to arrive, then drain them.
	deadline := time.After(2 * time.Second)
	joinsSeen := 0
	for joinsSeen < 1 {
		select {
		case raw := <-received:
			var m map[string]any
			json.Unmarshal(raw, &m)
			if m["type"] == "join" {
				joinsSeen++
			}
		case <-deadline:
			t.Fatal("timed out waiting for join message")
		}
	}

	// The bridge can't push to the client in this harness without a
	// server-side conn handle loop, so directly exercise handleLine.
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		t.Fatal("expected frontend to be connected")
	}

	f.handleLine(conn, inboundMessage{From: "alice", Mask: "nick!admin@trusted.example", Channel: "#general", Text: "return 1+1"})

	if svc.lastCode != "return 1+1" {
		t.Errorf("service saw code %q, want %q", svc.lastCode, "return 1+1")
	}
	if !svc.lastCtx.IsAdmin {
		t.Error("expected admin mask to set IsAdmin")
	}

	select {
	case raw := <-received:
		var m map[string]any
		json.Unmarshal(raw, &m)
		if m["text"] != "hello" {
			t.Errorf("reply text = %v, want hello", m["text"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestHandleMembershipUpdatesRoomMap(t *testing.T) {
	rooms := roommap.New()
	f := &Frontend{rooms: rooms}

	f.handleMembership(inboundMessage{Type: "join", From: "alice", Channel: "#general"})
	f.handleMembership(inboundMessage{Type: "join", From: "bob", Channel: "#general"})
	if got := rooms.Members("#general"); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("members after joins = %v, want [alice bob]", got)
	}

	f.handleMembership(inboundMessage{Type: "part", From: "alice", Channel: "#general"})
	if got := rooms.Members("#general"); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("members after part = %v, want [bob]", got)
	}

	f.handleMembership(inboundMessage{Type: "names", Channel: "#general", Nicks: []string{"carol", "dave"}})
	if got := rooms.Members("#general"); len(got) != 2 || got[0] != "carol" || got[1] != "dave" {
		t.Fatalf("members after names = %v, want [carol dave]", got)
	}
}

func TestHandleMembershipIgnoresNilRoomMap(t *testing.T) {
	f := &Frontend{}
	f.handleMembership(inboundMessage{Type: "join", From: "alice", Channel: "#general"})
}
