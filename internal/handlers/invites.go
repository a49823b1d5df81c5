package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loopchat/backend/internal/logging"
	"github.com/loopchat/backend/internal/models"
	"github.com/loopchat/backend/internal/repositories"
)

// InviteHandler implements the contact and group invite endpoints.
type InviteHandler struct {
	Invites InviteStore
	Users   UserStore
	Chats   ChatStore
	NowFunc func() time.Time
}

// Send handles POST /api/invites/send requests. Direct invites propose a new
// contact relationship; group invites pull an existing contact into a group
// chat the sender administers.
func (h InviteHandler) Send(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)
	user, ok := CurrentUser(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req sendInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid invite payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if req.InviteType == "" {
		req.InviteType = models.InviteTypeDirect
	}
	if req.InviteType != models.InviteTypeDirect && req.InviteType != models.InviteTypeGroup {
		respondError(ctx, w, http.StatusBadRequest, "invalid invite type")
		return
	}

	receiver, err := h.Users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "no user with that email")
			return
		}
		logger.Error("resolve invite receiver", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to look up user")
		return
	}
	if receiver.ID == user.ID {
		respondError(ctx, w, http.StatusBadRequest, "cannot invite yourself")
		return
	}

	invite := models.Invite{
		ID:        uuid.NewString(),
		Sender:    user.Profile(),
		Receiver:  receiver.Profile(),
		Type:      req.InviteType,
		Status:    models.InviteStatusPending,
		CreatedAt: h.now(),
	}

	switch req.InviteType {
	case models.InviteTypeDirect:
		if status, msg := h.checkDirectInvite(r, user, receiver); status != 0 {
			respondError(ctx, w, status, msg)
			return
		}

	case models.InviteTypeGroup:
		chatID, status, msg := h.checkGroupInvite(r, user, receiver, req.ChatID)
		if status != 0 {
			respondError(ctx, w, status, msg)
			return
		}
		invite.ChatID = chatID
	}

	if err := h.Invites.Create(ctx, invite); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			respondError(ctx, w, http.StatusConflict, "invite already pending")
			return
		}
		logger.Error("create invite", "error", err, "receiverId", receiver.ID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to send invite")
		return
	}

	respondJSON(ctx, w, http.StatusCreated, map[string]any{
		"message": "Invite sent",
		"invite":  invite,
	})
}

// checkDirectInvite validates a contact invite. A zero status means it may
// proceed.
func (h InviteHandler) checkDirectInvite(r *http.Request, user, receiver models.User) (int, string) {
	ctx := r.Context()

	isContact, err := h.Users.IsContact(ctx, user.ID, receiver.ID)
	if err != nil {
		logging.FromContext(ctx).Error("check contact", "error", err, "receiverId", receiver.ID)
		return http.StatusInternalServerError, "failed to verify contacts"
	}
	if isContact {
		return http.StatusBadRequest, "user is already a contact"
	}

	pending, err := h.Invites.ExistsPending(ctx, user.ID, receiver.ID, models.InviteTypeDirect)
	if err != nil {
		logging.FromContext(ctx).Error("check pending invite", "error", err, "receiverId", receiver.ID)
		return http.StatusInternalServerError, "failed to verify invites"
	}
	if pending {
		return http.StatusConflict, "invite already pending"
	}

	return 0, ""
}

// checkGroupInvite validates a group invite and returns the chat it targets.
func (h InviteHandler) checkGroupInvite(r *http.Request, user, receiver models.User, chatID string) (string, int, string) {
	ctx := r.Context()

	if _, err := uuid.Parse(chatID); err != nil {
		return "", http.StatusBadRequest, "invalid chat id"
	}

	chat, err := h.Chats.FindForUser(ctx, chatID, user.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return "", http.StatusNotFound, "chat not found"
		}
		logging.FromContext(ctx).Error("load group chat", "error", err, "chatId", chatID)
		return "", http.StatusInternalServerError, "failed to load chat"
	}
	if chat.Type != models.ChatTypeGroup {
		return "", http.StatusBadRequest, "chat is not a group chat"
	}
	if chat.AdminID != user.ID {
		return "", http.StatusBadRequest, "only the group admin can invite members"
	}
	for _, p := range chat.Participants {
		if p.ID == receiver.ID {
			return "", http.StatusBadRequest, "user is already in the chat"
		}
	}

	pending, err := h.Invites.ExistsPending(ctx, user.ID, receiver.ID, models.InviteTypeGroup)
	if err != nil {
		logging.FromContext(ctx).Error("check pending invite", "error", err, "receiverId", receiver.ID)
		return "", http.StatusInternalServerError, "failed to verify invites"
	}
	if pending {
		return "", http.StatusConflict, "invite already pending"
	}

	return chat.ID, 0, ""
}

// List handles GET /api/invites requests, partitioning the caller's pending
// invites into received and sent.
func (h InviteHandler) List(w http.ResponseWriter, r *http.Request) {
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

	invites, err := h.Invites.ListPendingForUser(ctx, user.ID)
	if err != nil {
		logging.FromContext(ctx).Error("list invites", "error", err, "userId", user.ID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load invites")
		return
	}

	received := []models.Invite{}
	sent := []models.Invite{}
	for _, invite := range invites {
		if invite.Receiver.ID == user.ID {
			received = append(received, invite)
		} else {
			sent = append(sent, invite)
		}
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{
		"receivedInvites": received,
		"sentInvites":     sent,
	})
}

// Get handles GET /api/invites/{inviteId} requests. Only the sender and the
// receiver may view an invite.
func (h InviteHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	invite, status, msg := h.loadInvite(r, user)
	if status != 0 {
		respondError(ctx, w, status, msg)
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"invite": invite})
}

// Accept handles POST /api/invites/accept/{inviteId} requests. Accepting a
// direct invite creates the chat and the mutual contact entries atomically;
// accepting a group invite joins the existing chat.
func (h InviteHandler) Accept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, span := logging.StartSpan(r.Context(), "invites.accept")
	defer span.End()

	logger := logging.FromContext(ctx)
	user, ok := CurrentUser(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "not authenticated")
		return
	}

	invite, status, msg := h.loadInvite(r, user)
	if status != 0 {
		respondError(ctx, w, status, msg)
		return
	}
	if invite.Receiver.ID != user.ID {
		respondError(ctx, w, http.StatusForbidden, "only the receiver can accept an invite")
		return
	}
	if invite.Status != models.InviteStatusPending {
		respondError(ctx, w, http.StatusBadRequest, "invite is no longer pending")
		return
	}

	var chatID string
	switch invite.Type {
	case models.InviteTypeDirect:
		now := h.now()
		chat := models.Chat{
			ID:           uuid.NewString(),
			Type:         models.ChatTypeDirect,
			Participants: []models.Profile{invite.Sender, invite.Receiver},
			LastMessage:  "Chat started!",
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := h.Invites.AcceptDirect(ctx, invite.ID, chat); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				respondError(ctx, w, http.StatusBadRequest, "chat already exists")
				return
			}
			logger.Error("accept direct invite", "error", err, "inviteId", invite.ID)
			respondError(ctx, w, http.StatusInternalServerError, "failed to accept invite")
			return
		}
		chatID = chat.ID

	case models.InviteTypeGroup:
		if err := h.Invites.AcceptGroup(ctx, invite.ID, invite.ChatID, user.ID); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				respondError(ctx, w, http.StatusNotFound, "chat no longer exists")
				return
			}
			logger.Error("accept group invite", "error", err, "inviteId", invite.ID)
			respondError(ctx, w, http.StatusInternalServerError, "failed to accept invite")
			return
		}
		chatID = invite.ChatID

	default:
		respondError(ctx, w, http.StatusBadRequest, "invalid invite type")
		return
	}

	chat, err := h.Chats.FindForUser(ctx, chatID, user.ID)
	if err != nil {
		logger.Error("load chat after acceptance", "error", err, "chatId", chatID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to load chat")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{
		"message":    "Invite accepted",
		"chat":       chat,
		"inviteType": invite.Type,
	})
}

// Reject handles POST /api/invites/reject/{inviteId} requests.
func (h InviteHandler) Reject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	user, ok := CurrentUser(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "not authenticated")
		return
	}

	invite, status, msg := h.loadInvite(r, user)
	if status != 0 {
		respondError(ctx, w, status, msg)
		return
	}
	if invite.Receiver.ID != user.ID {
		respondError(ctx, w, http.StatusForbidden, "only the receiver can reject an invite")
		return
	}
	if invite.Status != models.InviteStatusPending {
		respondError(ctx, w, http.StatusBadRequest, "invite is no longer pending")
		return
	}

	if err := h.Invites.UpdateStatus(ctx, invite.ID, models.InviteStatusRejected); err != nil {
		logging.FromContext(ctx).Error("reject invite", "error", err, "inviteId", invite.ID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to reject invite")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]string{"message": "Invite rejected"})
}

// Cancel handles DELETE /api/invites/cancel/{inviteId} requests, removing a
// pending invite the caller sent.
func (h InviteHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	user, ok := CurrentUser(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "not authenticated")
		return
	}

	invite, status, msg := h.loadInvite(r, user)
	if status != 0 {
		respondError(ctx, w, status, msg)
		return
	}
	if invite.Sender.ID != user.ID {
		respondError(ctx, w, http.StatusForbidden, "only the sender can cancel an invite")
		return
	}
	if invite.Status != models.InviteStatusPending {
		respondError(ctx, w, http.StatusBadRequest, "invite is no longer pending")
		return
	}

	if err := h.Invites.Delete(ctx, invite.ID); err != nil {
		logging.FromContext(ctx).Error("cancel invite", "error", err, "inviteId", invite.ID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to cancel invite")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]string{"message": "Invite cancelled"})
}

// loadInvite resolves {inviteId} and enforces that the caller is a party to
// the invite. A zero status means the invite may be acted on.
func (h InviteHandler) loadInvite(r *http.Request, user models.User) (models.Invite, int, string) {
	ctx := r.Context()

	inviteID := r.PathValue("inviteId")
	if _, err := uuid.Parse(inviteID); err != nil {
		return models.Invite{}, http.StatusBadRequest, "invalid invite id"
	}

	invite, err := h.Invites.FindByID(ctx, inviteID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Invite{}, http.StatusNotFound, "invite not found"
		}
		logging.FromContext(ctx).Error("load invite", "error", err, "inviteId", inviteID)
		return models.Invite{}, http.StatusInternalServerError, "failed to load invite"
	}

	if invite.Sender.ID != user.ID && invite.Receiver.ID != user.ID {
		return models.Invite{}, http.StatusForbidden, "not a party to this invite"
	}

	return invite, 0, ""
}

type sendInviteRequest struct {
	Email      string `json:"email"`
	InviteType string `json:"inviteType"`
	ChatID     string `json:"chatId"`
}

func (h InviteHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
