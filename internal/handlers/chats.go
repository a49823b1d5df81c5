package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loopchat/backend/internal/logging"
	"github.com/loopchat/backend/internal/models"
	"github.com/loopchat/backend/internal/repositories"
)

// ChatHandler implements the chat REST endpoints.
type ChatHandler struct {
	Chats   ChatStore
	Users   UserStore
	NowFunc func() time.Time
}

// Route dispatches the /api/chats/ subtree. The direct-chat path and the
// message path both sit one wildcard segment below /api/chats/, which
// ServeMux cannot rank against each other, so the segments are matched here
// with the literal "direct" taking precedence.
func (h ChatHandler) Route(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 2 && parts[0] == "direct":
		r.SetPathValue("userId", parts[1])
		h.CreateDirect(w, r)
	case len(parts) == 1 && parts[0] != "":
		r.SetPathValue("chatId", parts[0])
		h.Get(w, r)
	case len(parts) == 2 && parts[1] == "message":
		r.SetPathValue("chatId", parts[0])
		h.SendMessage(w, r)
	default:
		respondError(r.Context(), w, http.StatusNotFound, "not found")
	}
}

// List handles GET /api/chats requests.
func (h ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	user, ok := CurrentUser(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "not authenticated")
		return
	}

	chats, err := h.Chats.ListForUser(ctx, user.ID)
	if err != nil {
		logging.FromContext(ctx).Error("list chats", "error", err, "userId", user.ID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load chats")
		return
	}
	if chats == nil {
		chats = []models.ChatSummary{}
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"chats": chats})
}

// Get handles GET /api/chats/{chatId} requests. Chats the caller does not
// participate in are reported as not found rather than forbidden.
func (h ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	user, ok := CurrentUser(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "not authenticated")
		return
	}

	chatID := r.PathValue("chatId")
	if _, err := uuid.Parse(chatID); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid chat id")
		return
	}

	chat, err := h.Chats.FindForUser(ctx, chatID, user.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "chat not found")
			return
		}
		logging.FromContext(ctx).Error("load chat", "error", err, "chatId", chatID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load chat")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"chat": chat})
}

// SendMessage handles POST /api/chats/{chatId}/message requests.
func (h ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, span := logging.StartSpan(r.Context(), "chats.send_message")
	defer span.End()

	logger := logging.FromContext(ctx)
	user, ok := CurrentUser(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "not authenticated")
		return
	}

	chatID := r.PathValue("chatId")
	if _, err := uuid.Parse(chatID); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid chat id")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid message payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		respondError(ctx, w, http.StatusBadRequest, "message text is required")
		return
	}

	msg := models.Message{
		ChatID:    chatID,
		Sender:    user.Profile(),
		Text:      req.Text,
		Status:    models.MessageStatusSent,
		CreatedAt: h.now(),
	}

	if err := h.Chats.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "chat not found")
			return
		}
		logger.Error("append message", "error", err, "chatId", chatID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to send message")
		return
	}

	chat, err := h.Chats.FindForUser(ctx, chatID, user.ID)
	if err != nil {
		logger.Error("reload chat after message", "error", err, "chatId", chatID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load chat")
		return
	}

	respondJSON(ctx, w, http.StatusCreated, map[string]any{"chat": chat})
}

// CreateDirect handles POST /api/chats/direct/{userId} requests. The two users
// must already be contacts; otherwise an invite is the way in.
func (h ChatHandler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	user, ok := CurrentUser(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "not authenticated")
		return
	}

	other, status, msg := h.resolveDirectTarget(r, user)
	if status != 0 {
		respondError(ctx, w, status, msg)
		return
	}

	switch r.Method {
	case http.MethodPost:
		chat, err := h.startDirectChat(r, user, other)
		if err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				respondError(ctx, w, http.StatusConflict, "chat already exists")
				return
			}
			logger.Error("create direct chat", "error", err, "otherUserId", other.ID)
			respondError(ctx, w, http.StatusInternalServerError, "failed to create chat")
			return
		}
		respondJSON(ctx, w, http.StatusCreated, map[string]any{"chat": chat})

	case http.MethodGet:
		existing, err := h.Chats.FindDirectBetween(ctx, user.ID, other.ID)
		if err == nil {
			respondJSON(ctx, w, http.StatusOK, map[string]any{"chat": existing, "existed": true})
			return
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			logger.Error("lookup direct chat", "error", err, "otherUserId", other.ID)
			respondError(ctx, w, http.StatusInternalServerError, "failed to load chat")
			return
		}

		chat, err := h.startDirectChat(r, user, other)
		if err != nil {
			logger.Error("create direct chat", "error", err, "otherUserId", other.ID)
			respondError(ctx, w, http.StatusInternalServerError, "failed to create chat")
			return
		}
		respondJSON(ctx, w, http.StatusOK, map[string]any{"chat": chat, "existed": false})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// resolveDirectTarget validates the {userId} path segment and the contact
// relationship. A zero status means the target is usable.
func (h ChatHandler) resolveDirectTarget(r *http.Request, user models.User) (models.User, int, string) {
	ctx := r.Context()

	otherID := r.PathValue("userId")
	if _, err := uuid.Parse(otherID); err != nil {
		return models.User{}, http.StatusBadRequest, "invalid user id"
	}
	if otherID == user.ID {
		return models.User{}, http.StatusBadRequest, "cannot start a chat with yourself"
	}

	other, err := h.Users.FindByID(ctx, otherID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, http.StatusNotFound, "user not found"
		}
		logging.FromContext(ctx).Error("load chat target", "error", err, "otherUserId", otherID)
		return models.User{}, http.StatusInternalServerError, "failed to load user"
	}

	isContact, err := h.Users.IsContact(ctx, user.ID, other.ID)
	if err != nil {
		logging.FromContext(ctx).Error("check contact", "error", err, "otherUserId", otherID)
		return models.User{}, http.StatusInternalServerError, "failed to verify contacts"
	}
	if !isContact {
		return models.User{}, http.StatusBadRequest, "user is not a contact. Send an invite first"
	}

	return other, 0, ""
}

func (h ChatHandler) startDirectChat(r *http.Request, user, other models.User) (models.Chat, error) {
	ctx := r.Context()
	now := h.now()

	chat := models.Chat{
		ID:           uuid.NewString(),
		Type:         models.ChatTypeDirect,
		Participants: []models.Profile{user.Profile(), other.Profile()},
		LastMessage:  "Chat started!",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.Chats.CreateDirect(ctx, chat); err != nil {
		return models.Chat{}, err
	}

	return h.Chats.FindForUser(ctx, chat.ID, user.ID)
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (h ChatHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
