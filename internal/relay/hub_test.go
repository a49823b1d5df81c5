package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loopchat/backend/internal/auth"
	"github.com/loopchat/backend/internal/models"
)

type allowAllChecker struct{}

func (allowAllChecker) IsParticipant(context.Context, string, string) (bool, error) {
	return true, nil
}

type denyAllChecker struct{}

func (denyAllChecker) IsParticipant(context.Context, string, string) (bool, error) {
	return false, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type relayFixture struct {
	hub    *Hub
	tokens *auth.TokenManager
	server *httptest.Server
}

func newRelayFixture(t *testing.T, checker ParticipantChecker) *relayFixture {
	t.Helper()

	tokens := auth.NewTokenManager("test-secret", time.Hour)
	hub := NewHub(NewMemoryPresence(), checker, quietLogger())
	server := httptest.NewServer(Handler{Hub: hub, Tokens: tokens})
	t.Cleanup(server.Close)

	return &relayFixture{hub: hub, tokens: tokens, server: server}
}

func (f *relayFixture) dial(t *testing.T, userID, username string) *websocket.Conn {
	t.Helper()

	token, _, err := f.tokens.Issue(models.User{ID: userID, Username: username, Email: username + "@example.com"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	frame, err := encodeEvent(event, data)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return env
}

// waitForRoom blocks until the chat room holds the expected number of
// connections. join-chat is not acknowledged on the wire, so tests peek at
// the hub instead.
func waitForRoom(t *testing.T, hub *Hub, chatID string, size int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		n := len(hub.rooms[chatID])
		hub.mu.RUnlock()
		if n == size {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %s never reached %d members", chatID, size)
}

func waitForPresence(t *testing.T, hub *Hub, userID string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := hub.presence.Get(userID); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %s never appeared in presence", userID)
}

func TestRelayRejectsBadToken(t *testing.T) {
	f := newRelayFixture(t, allowAllChecker{})

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	f := newRelayFixture(t, allowAllChecker{})
	const chatID = "cccccccc-0000-0000-0000-000000000003"

	alice := f.dial(t, "user-alice", "alice")
	bob := f.dial(t, "user-bob", "bob")

	send(t, alice, EventJoin, joinPayload{UserID: "user-alice"})
	send(t, bob, EventJoin, joinPayload{UserID: "user-bob"})
	send(t, alice, EventJoinChat, joinChatPayload{ChatID: chatID})
	send(t, bob, EventJoinChat, joinChatPayload{ChatID: chatID})
	waitForRoom(t, f.hub, chatID, 2)

	send(t, alice, EventSendMessage, messagePayload{
		ChatID: chatID,
		Message: models.Message{
			ChatID: chatID,
			Seq:    1,
			Sender: models.Profile{ID: "user-alice", Username: "alice"},
			Text:   "hi bob",
			Status: models.MessageStatusSent,
		},
	})

	// The sender hears a delivered receipt first.
	env := readEnvelope(t, alice)
	if env.Event != EventMessageStatus {
		t.Fatalf("expected %s for sender, got %s", EventMessageStatus, env.Event)
	}
	var status statusPayload
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Status != models.MessageStatusDelivered || status.MessageID != 1 {
		t.Fatalf("unexpected status payload: %+v", status)
	}

	// The other participant receives the message tagged delivered.
	env = readEnvelope(t, bob)
	if env.Event != EventReceiveMessage {
		t.Fatalf("expected %s for recipient, got %s", EventReceiveMessage, env.Event)
	}
	var received messagePayload
	if err := json.Unmarshal(env.Data, &received); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if received.Message.Text != "hi bob" {
		t.Fatalf("expected text hi bob, got %q", received.Message.Text)
	}
	if received.Message.Status != models.MessageStatusDelivered {
		t.Fatalf("expected delivered, got %s", received.Message.Status)
	}

	// Everyone gets the chat-list refresh, sender included.
	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		env = readEnvelope(t, conn)
		if env.Event != EventChatUpdated {
			t.Fatalf("%s: expected %s, got %s", name, EventChatUpdated, env.Event)
		}
		var updated chatUpdatedPayload
		if err := json.Unmarshal(env.Data, &updated); err != nil {
			t.Fatalf("decode chat-updated: %v", err)
		}
		if updated.ChatID != chatID || updated.LastMessage != "hi bob" {
			t.Fatalf("%s: unexpected chat-updated payload: %+v", name, updated)
		}
	}
}

func TestSeenNotificationReachesRoom(t *testing.T) {
	f := newRelayFixture(t, allowAllChecker{})
	const chatID = "cccccccc-0000-0000-0000-000000000003"

	alice := f.dial(t, "user-alice", "alice")
	bob := f.dial(t, "user-bob", "bob")

	send(t, alice, EventJoinChat, joinChatPayload{ChatID: chatID})
	send(t, bob, EventJoinChat, joinChatPayload{ChatID: chatID})
	waitForRoom(t, f.hub, chatID, 2)

	send(t, bob, EventSeenMessage, seenPayload{ChatID: chatID, MessageID: 1, SeenBy: "user-bob"})

	env := readEnvelope(t, alice)
	if env.Event != EventMessageStatus {
		t.Fatalf("expected %s, got %s", EventMessageStatus, env.Event)
	}
	var status statusPayload
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Status != models.MessageStatusSeen || status.SeenBy != "user-bob" {
		t.Fatalf("unexpected seen payload: %+v", status)
	}
}

func TestJoinChatDeniedForNonParticipant(t *testing.T) {
	f := newRelayFixture(t, denyAllChecker{})
	const chatID = "cccccccc-0000-0000-0000-000000000003"

	alice := f.dial(t, "user-alice", "alice")
	send(t, alice, EventJoinChat, joinChatPayload{ChatID: chatID})

	// The room must stay empty; give the hub a moment to (not) act.
	time.Sleep(50 * time.Millisecond)
	f.hub.mu.RLock()
	n := len(f.hub.rooms[chatID])
	f.hub.mu.RUnlock()
	if n != 0 {
		t.Fatalf("expected empty room, got %d members", n)
	}
}

func TestCallSignalling(t *testing.T) {
	f := newRelayFixture(t, allowAllChecker{})

	alice := f.dial(t, "user-alice", "alice")
	bob := f.dial(t, "user-bob", "bob")

	send(t, alice, EventJoin, joinPayload{UserID: "user-alice"})
	send(t, bob, EventJoin, joinPayload{UserID: "user-bob"})
	waitForPresence(t, f.hub, "user-alice")
	waitForPresence(t, f.hub, "user-bob")

	offer := json.RawMessage(`{"sdp":"offer"}`)
	send(t, alice, EventCallUser, callPayload{To: "user-bob", Signal: offer})

	env := readEnvelope(t, bob)
	if env.Event != EventCallMade {
		t.Fatalf("expected %s, got %s", EventCallMade, env.Event)
	}
	var call callPayload
	if err := json.Unmarshal(env.Data, &call); err != nil {
		t.Fatalf("decode call: %v", err)
	}
	if call.From != "user-alice" {
		t.Fatalf("expected from user-alice, got %s", call.From)
	}
	if string(call.Signal) != string(offer) {
		t.Fatalf("signal payload altered: %s", call.Signal)
	}

	answer := json.RawMessage(`{"sdp":"answer"}`)
	send(t, bob, EventAnswerCall, callPayload{To: "user-alice", Signal: answer})

	env = readEnvelope(t, alice)
	if env.Event != EventCallAccepted {
		t.Fatalf("expected %s, got %s", EventCallAccepted, env.Event)
	}
	if err := json.Unmarshal(env.Data, &call); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if call.From != "user-bob" {
		t.Fatalf("expected from user-bob, got %s", call.From)
	}
}

func TestDisconnectClearsPresence(t *testing.T) {
	f := newRelayFixture(t, allowAllChecker{})

	alice := f.dial(t, "user-alice", "alice")
	send(t, alice, EventJoin, joinPayload{UserID: "user-alice"})
	waitForPresence(t, f.hub, "user-alice")

	_ = alice.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := f.hub.presence.Get("user-alice"); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("presence entry survived disconnect")
}

// TestEnqueueDuringCloseDropsFrames hammers enqueue while the client shuts
// down. Broadcasts snapshot their targets before fanning out, so frames can
// still arrive for a client whose teardown has started; they must be dropped,
// never sent on the closed channel.
func TestEnqueueDuringCloseDropsFrames(t *testing.T) {
	f := newRelayFixture(t, allowAllChecker{})

	alice := f.dial(t, "user-alice", "alice")
	send(t, alice, EventJoin, joinPayload{UserID: "user-alice"})
	waitForPresence(t, f.hub, "user-alice")

	f.hub.mu.RLock()
	var client *Client
	for _, c := range f.hub.conns {
		client = c
	}
	f.hub.mu.RUnlock()
	if client == nil {
		t.Fatal("expected a registered client")
	}

	frame, err := encodeEvent(EventChatUpdated, chatUpdatedPayload{ChatID: "cccccccc-0000-0000-0000-000000000003"})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				client.enqueue(frame)
			}
		}()
	}
	client.close()
	wg.Wait()

	if _, ok := f.hub.presence.Get("user-alice"); ok {
		t.Fatal("expected presence cleared after close")
	}
}
