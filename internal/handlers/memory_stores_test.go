package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loopchat/backend/internal/models"
	"github.com/loopchat/backend/internal/repositories"
)

// In-memory stores mirroring the PostgreSQL repositories' contracts.

type memUserStore struct {
	mu       sync.Mutex
	byID     map[string]models.User
	contacts map[string]map[string]bool
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		byID:     make(map[string]models.User),
		contacts: make(map[string]map[string]bool),
	}
}

func (s *memUserStore) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.Email == user.Email {
			return repositories.ErrConflict
		}
	}
	s.byID[user.ID] = user
	return nil
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.byID {
		if user.Email == email {
			return user, nil
		}
	}
	return models.User{}, repositories.ErrNotFound
}

func (s *memUserStore) FindByID(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return user, nil
}

func (s *memUserStore) IsContact(_ context.Context, userID, contactID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contacts[userID][contactID], nil
}

func (s *memUserStore) link(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkLocked(a, b)
}

func (s *memUserStore) linkLocked(a, b string) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		set := s.contacts[pair[0]]
		if set == nil {
			set = make(map[string]bool)
			s.contacts[pair[0]] = set
		}
		set[pair[1]] = true
	}
}

type memChatStore struct {
	mu   sync.Mutex
	byID map[string]models.Chat
}

func newMemChatStore() *memChatStore {
	return &memChatStore{byID: make(map[string]models.Chat)}
}

func (s *memChatStore) ListForUser(_ context.Context, userID string) ([]models.ChatSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summaries []models.ChatSummary
	for _, chat := range s.byID {
		if !chatHasParticipant(chat, userID) {
			continue
		}
		summaries = append(summaries, models.ChatSummary{
			ID:           chat.ID,
			Type:         chat.Type,
			Name:         chat.Name,
			Participants: chat.Participants,
			LastMessage:  chat.LastMessage,
			MessageCount: len(chat.Messages),
			UpdatedAt:    chat.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (s *memChatStore) FindForUser(_ context.Context, chatID, userID string) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.byID[chatID]
	if !ok || !chatHasParticipant(chat, userID) {
		return models.Chat{}, repositories.ErrNotFound
	}
	if chat.Messages == nil {
		chat.Messages = []models.Message{}
	}
	return chat, nil
}

func (s *memChatStore) CreateDirect(_ context.Context, chat models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createDirectLocked(chat)
}

func (s *memChatStore) createDirectLocked(chat models.Chat) error {
	a, b := chat.Participants[0].ID, chat.Participants[1].ID
	for _, existing := range s.byID {
		if existing.Type == models.ChatTypeDirect && existing.IsActive &&
			chatHasParticipant(existing, a) && chatHasParticipant(existing, b) {
			return repositories.ErrConflict
		}
	}
	s.byID[chat.ID] = chat
	return nil
}

func (s *memChatStore) FindDirectBetween(_ context.Context, userA, userB string) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chat := range s.byID {
		if chat.Type == models.ChatTypeDirect && chat.IsActive &&
			chatHasParticipant(chat, userA) && chatHasParticipant(chat, userB) {
			return chat, nil
		}
	}
	return models.Chat{}, repositories.ErrNotFound
}

func (s *memChatStore) AppendMessage(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.byID[msg.ChatID]
	if !ok || !chatHasParticipant(chat, msg.Sender.ID) {
		return repositories.ErrNotFound
	}

	msg.Seq = int64(len(chat.Messages) + 1)
	chat.Messages = append(chat.Messages, msg)
	chat.LastMessage = msg.Text
	chat.UpdatedAt = msg.CreatedAt
	s.byID[msg.ChatID] = chat
	return nil
}

func (s *memChatStore) put(chat models.Chat) {
	s.mu.Lock()
	s.byID[chat.ID] = chat
	s.mu.Unlock()
}

func chatHasParticipant(chat models.Chat, userID string) bool {
	for _, p := range chat.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

type memInviteStore struct {
	mu    sync.Mutex
	byID  map[string]models.Invite
	chats *memChatStore
	users *memUserStore
}

func newMemInviteStore(chats *memChatStore, users *memUserStore) *memInviteStore {
	return &memInviteStore{
		byID:  make(map[string]models.Invite),
		chats: chats,
		users: users,
	}
}

func (s *memInviteStore) Create(_ context.Context, invite models.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if invite.Type == models.InviteTypeDirect {
		for _, existing := range s.byID {
			if existing.Status == models.InviteStatusPending &&
				existing.Type == models.InviteTypeDirect &&
				existing.Sender.ID == invite.Sender.ID &&
				existing.Receiver.ID == invite.Receiver.ID {
				return repositories.ErrConflict
			}
		}
	}
	s.byID[invite.ID] = invite
	return nil
}

func (s *memInviteStore) FindByID(_ context.Context, id string) (models.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.byID[id]
	if !ok {
		return models.Invite{}, repositories.ErrNotFound
	}
	return invite, nil
}

func (s *memInviteStore) ExistsPending(_ context.Context, senderID, receiverID, inviteType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, invite := range s.byID {
		if invite.Status == models.InviteStatusPending &&
			invite.Type == inviteType &&
			invite.Sender.ID == senderID &&
			invite.Receiver.ID == receiverID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memInviteStore) ListPendingForUser(_ context.Context, userID string) ([]models.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var invites []models.Invite
	for _, invite := range s.byID {
		if invite.Status != models.InviteStatusPending {
			continue
		}
		if invite.Sender.ID == userID || invite.Receiver.ID == userID {
			invites = append(invites, invite)
		}
	}
	sort.Slice(invites, func(i, j int) bool {
		return invites[i].CreatedAt.After(invites[j].CreatedAt)
	})
	return invites, nil
}

func (s *memInviteStore) AcceptDirect(_ context.Context, inviteID string, chat models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	invite, ok := s.byID[inviteID]
	if !ok || invite.Status != models.InviteStatusPending {
		return repositories.ErrNotFound
	}

	s.chats.mu.Lock()
	err := s.chats.createDirectLocked(chat)
	s.chats.mu.Unlock()
	if err != nil {
		return err
	}

	s.users.link(chat.Participants[0].ID, chat.Participants[1].ID)

	now := time.Now().UTC()
	invite.Status = models.InviteStatusAccepted
	invite.ChatID = chat.ID
	invite.RespondedAt = &now
	s.byID[inviteID] = invite
	return nil
}

func (s *memInviteStore) AcceptGroup(_ context.Context, inviteID, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	invite, ok := s.byID[inviteID]
	if !ok || invite.Status != models.InviteStatusPending {
		return repositories.ErrNotFound
	}

	user, err := s.users.FindByID(context.Background(), userID)
	if err != nil {
		return repositories.ErrNotFound
	}

	s.chats.mu.Lock()
	chat, chatOK := s.chats.byID[chatID]
	if chatOK && !chatHasParticipant(chat, userID) {
		chat.Participants = append(chat.Participants, user.Profile())
		s.chats.byID[chatID] = chat
	}
	s.chats.mu.Unlock()
	if !chatOK {
		return repositories.ErrNotFound
	}

	now := time.Now().UTC()
	invite.Status = models.InviteStatusAccepted
	invite.RespondedAt = &now
	s.byID[inviteID] = invite
	return nil
}

func (s *memInviteStore) UpdateStatus(_ context.Context, inviteID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.byID[inviteID]
	if !ok {
		return repositories.ErrNotFound
	}
	now := time.Now().UTC()
	invite.Status = status
	invite.RespondedAt = &now
	s.byID[inviteID] = invite
	return nil
}

func (s *memInviteStore) Delete(_ context.Context, inviteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[inviteID]; !ok {
		return repositories.ErrNotFound
	}
	delete(s.byID, inviteID)
	return nil
}
