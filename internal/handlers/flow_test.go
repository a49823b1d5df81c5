package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loopchat/backend/internal/auth"
	"github.com/loopchat/backend/internal/models"
)

// TestContactToChatFlow walks the happy path end to end: two users register,
// one invites the other, the invite is accepted, and a message lands in the
// resulting chat.
func TestContactToChatFlow(t *testing.T) {
	users := newMemUserStore()
	chats := newMemChatStore()
	invites := newMemInviteStore(chats, users)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	denylist := auth.NewInMemoryDenylist()

	mux := http.NewServeMux()
	RegisterRoutes(mux, Dependencies{
		Users:    users,
		Sessions: tokens,
		Denylist: denylist,
		Invites:  invites,
		Chats:    chats,
	})

	do := func(method, target, token, body string) *httptest.ResponseRecorder {
		t.Helper()
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, target, nil)
		} else {
			req = httptest.NewRequest(method, target, strings.NewReader(body))
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	register := func(username, email string) {
		t.Helper()
		body := `{"username":"` + username + `","email":"` + email + `","password":"Passw0rd!","confirmPassword":"Passw0rd!"}`
		rec := do(http.MethodPost, "/api/auth/register", "", body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("register %s: expected 201, got %d: %s", username, rec.Code, rec.Body.String())
		}
	}

	login := func(email string) string {
		t.Helper()
		rec := do(http.MethodPost, "/api/auth/login", "", `{"email":"`+email+`","password":"Passw0rd!"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("login %s: expected 200, got %d: %s", email, rec.Code, rec.Body.String())
		}
		var resp struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode login response: %v", err)
		}
		return resp.Token
	}

	register("alice", "alice@example.com")
	register("bob", "bob@example.com")
	aliceToken := login("alice@example.com")
	bobToken := login("bob@example.com")

	// Alice invites Bob.
	rec := do(http.MethodPost, "/api/invites/send", aliceToken, `{"email":"bob@example.com","inviteType":"direct"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send invite: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Bob sees it among his received invites.
	rec = do(http.MethodGet, "/api/invites", bobToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list invites: expected 200, got %d", rec.Code)
	}
	var inviteList struct {
		Received []models.Invite `json:"receivedInvites"`
		Sent     []models.Invite `json:"sentInvites"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &inviteList); err != nil {
		t.Fatalf("decode invite list: %v", err)
	}
	if len(inviteList.Received) != 1 {
		t.Fatalf("expected 1 received invite, got %d", len(inviteList.Received))
	}
	inviteID := inviteList.Received[0].ID

	// Bob accepts; a chat appears.
	rec = do(http.MethodPost, "/api/invites/accept/"+inviteID, bobToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("accept invite: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var accepted struct {
		Chat models.Chat `json:"chat"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("decode accept response: %v", err)
	}
	chatID := accepted.Chat.ID

	// Alice sends a message.
	rec = do(http.MethodPost, "/api/chats/"+chatID+"/message", aliceToken, `{"text":"hi"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send message: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Bob fetches the chat and sees the message.
	rec = do(http.MethodGet, "/api/chats/"+chatID, bobToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get chat: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var fetched struct {
		Chat models.Chat `json:"chat"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if len(fetched.Chat.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fetched.Chat.Messages))
	}
	if fetched.Chat.Messages[0].Text != "hi" {
		t.Fatalf("expected message text hi, got %q", fetched.Chat.Messages[0].Text)
	}
	if fetched.Chat.Messages[0].Status != models.MessageStatusSent {
		t.Fatalf("expected stored status sent, got %s", fetched.Chat.Messages[0].Status)
	}

	// Alice logs out; her token stops working.
	rec = do(http.MethodPost, "/api/auth/logout", aliceToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}
	rec = do(http.MethodGet, "/api/chats", aliceToken, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}
