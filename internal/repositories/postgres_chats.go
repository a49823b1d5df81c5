package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loopchat/backend/internal/db"
	"github.com/loopchat/backend/internal/models"
)

// PostgresChatRepository provides PostgreSQL-backed persistence for chats and
// their message logs.
type PostgresChatRepository struct {
	pool db.Pool
}

// NewPostgresChatRepository constructs a chat repository backed by PostgreSQL.
func NewPostgresChatRepository(pool db.Pool) *PostgresChatRepository {
	return &PostgresChatRepository{pool: pool}
}

// DirectKey derives the unordered-pair key used to enforce the single active
// direct chat invariant.
func DirectKey(userA, userB string) string {
	if strings.Compare(userA, userB) > 0 {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

// ListForUser returns summaries of all active chats the user participates in,
// most recently updated first.
func (r *PostgresChatRepository) ListForUser(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT c.id, c.chat_type, c.name, c.last_message, c.updated_at,
               (SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id)
        FROM chats c
        JOIN chat_participants p ON p.chat_id = c.id
        WHERE p.user_id = $1 AND c.is_active
        ORDER BY c.updated_at DESC
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var summaries []models.ChatSummary
	var ids []string
	for rows.Next() {
		var summary models.ChatSummary
		if err := rows.Scan(&summary.ID, &summary.Type, &summary.Name, &summary.LastMessage, &summary.UpdatedAt, &summary.MessageCount); err != nil {
			return nil, fmt.Errorf("scan chat summary: %w", err)
		}
		summaries = append(summaries, summary)
		ids = append(ids, summary.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}

	if len(summaries) == 0 {
		return summaries, nil
	}

	participants, err := loadParticipants(ctx, conn, ids)
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		summaries[i].Participants = participants[summaries[i].ID]
	}

	return summaries, nil
}

// FindForUser loads a full chat with messages, returning ErrNotFound when the
// chat is inactive, absent, or the user is not a participant.
func (r *PostgresChatRepository) FindForUser(ctx context.Context, chatID, userID string) (models.Chat, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Chat{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT c.id, c.chat_type, c.name, c.description, COALESCE(c.admin_id::text, ''),
               c.last_message, c.is_active, c.created_at, c.updated_at
        FROM chats c
        JOIN chat_participants p ON p.chat_id = c.id
        WHERE c.id = $1 AND p.user_id = $2 AND c.is_active
    `, chatID, userID)

	chat, err := scanChat(row)
	if err != nil {
		return models.Chat{}, err
	}

	return r.populateChat(ctx, conn, chat)
}

// FindDirectBetween loads the active direct chat for the unordered user pair.
func (r *PostgresChatRepository) FindDirectBetween(ctx context.Context, userA, userB string) (models.Chat, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Chat{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT c.id, c.chat_type, c.name, c.description, COALESCE(c.admin_id::text, ''),
               c.last_message, c.is_active, c.created_at, c.updated_at
        FROM chats c
        WHERE c.direct_key = $1 AND c.chat_type = 'direct' AND c.is_active
    `, DirectKey(userA, userB))

	chat, err := scanChat(row)
	if err != nil {
		return models.Chat{}, err
	}

	return r.populateChat(ctx, conn, chat)
}

// CreateDirect persists a new direct chat and its two participants. ErrConflict
// is returned when an active direct chat for the pair already exists.
func (r *PostgresChatRepository) CreateDirect(ctx context.Context, chat models.Chat) error {
	if len(chat.Participants) != 2 {
		return fmt.Errorf("direct chat requires exactly 2 participants, got %d", len(chat.Participants))
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertChatTx(ctx, tx, chat); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit direct chat: %w", err)
	}

	return nil
}

// appendRetries bounds how many times a message append is replayed when
// concurrent senders race for the same seq. Each round settles one winner, so
// the bound also caps how much fan-in a single chat can absorb at once.
const appendRetries = 5

// AppendMessage appends to the chat's message log and refreshes the preview.
// Concurrent senders can reserve the same seq; the losing transaction fails on
// the (chat_id, seq) primary key (or a serialization error) and is replayed so
// both messages land.
func (r *PostgresChatRepository) AppendMessage(ctx context.Context, msg models.Message) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 10 * time.Millisecond)
		}
		lastErr = appendMessageTx(ctx, conn, msg)
		if lastErr == nil || !retryableAppendError(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("append message retries exhausted: %w", lastErr)
}

func appendMessageTx(ctx context.Context, conn *pgxpool.Conn, msg models.Message) error {
	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var visible bool
	row := tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1
            FROM chats c
            JOIN chat_participants p ON p.chat_id = c.id
            WHERE c.id = $1 AND p.user_id = $2 AND c.is_active
        )
    `, msg.ChatID, msg.Sender.ID)
	if err := row.Scan(&visible); err != nil {
		return fmt.Errorf("check chat membership: %w", err)
	}
	if !visible {
		return ErrNotFound
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO messages (chat_id, seq, sender_id, body, status, created_at)
        SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5
        FROM messages
        WHERE chat_id = $1
    `, msg.ChatID, msg.Sender.ID, msg.Text, msg.Status, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx, `
        UPDATE chats SET last_message = $2, updated_at = $3 WHERE id = $1
    `, msg.ChatID, msg.Text, msg.CreatedAt); err != nil {
		return fmt.Errorf("update chat preview: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}

	return nil
}

// retryableAppendError reports whether a failed append should be replayed:
// 23505 is the seq collision, 40001 a serialization failure on the same race.
func retryableAppendError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" || pgErr.Code == "40001"
}

// IsParticipant reports whether the user belongs to the active chat.
func (r *PostgresChatRepository) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var exists bool
	row := conn.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1
            FROM chats c
            JOIN chat_participants p ON p.chat_id = c.id
            WHERE c.id = $1 AND p.user_id = $2 AND c.is_active
        )
    `, chatID, userID)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}

	return exists, nil
}

func (r *PostgresChatRepository) populateChat(ctx context.Context, conn *pgxpool.Conn, chat models.Chat) (models.Chat, error) {
	participants, err := loadParticipants(ctx, conn, []string{chat.ID})
	if err != nil {
		return models.Chat{}, err
	}
	chat.Participants = participants[chat.ID]

	rows, err := conn.Query(ctx, `
        SELECT m.chat_id, m.seq, m.body, m.status, m.created_at, u.id, u.username, u.email
        FROM messages m
        JOIN users u ON u.id = m.sender_id
        WHERE m.chat_id = $1
        ORDER BY m.seq
    `, chat.ID)
	if err != nil {
		return models.Chat{}, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	chat.Messages = []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ChatID, &msg.Seq, &msg.Text, &msg.Status, &msg.CreatedAt,
			&msg.Sender.ID, &msg.Sender.Username, &msg.Sender.Email); err != nil {
			return models.Chat{}, fmt.Errorf("scan message: %w", err)
		}
		chat.Messages = append(chat.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return models.Chat{}, fmt.Errorf("iterate messages: %w", err)
	}

	return chat, nil
}

func scanChat(row pgx.Row) (models.Chat, error) {
	var chat models.Chat
	if err := row.Scan(&chat.ID, &chat.Type, &chat.Name, &chat.Description, &chat.AdminID,
		&chat.LastMessage, &chat.IsActive, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Chat{}, ErrNotFound
		}
		return models.Chat{}, fmt.Errorf("select chat: %w", err)
	}
	return chat, nil
}

func loadParticipants(ctx context.Context, conn *pgxpool.Conn, chatIDs []string) (map[string][]models.Profile, error) {
	rows, err := conn.Query(ctx, `
        SELECT p.chat_id, u.id, u.username, u.email
        FROM chat_participants p
        JOIN users u ON u.id = p.user_id
        WHERE p.chat_id = ANY($1)
        ORDER BY p.joined_at
    `, chatIDs)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	participants := make(map[string][]models.Profile, len(chatIDs))
	for rows.Next() {
		var chatID string
		var profile models.Profile
		if err := rows.Scan(&chatID, &profile.ID, &profile.Username, &profile.Email); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants[chatID] = append(participants[chatID], profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}

	return participants, nil
}

// insertChatTx inserts a chat row and its participants inside an open
// transaction. Shared with the invite repository's accept path.
func insertChatTx(ctx context.Context, tx pgx.Tx, chat models.Chat) error {
	var directKey any
	if chat.Type == models.ChatTypeDirect {
		directKey = DirectKey(chat.Participants[0].ID, chat.Participants[1].ID)
	}

	var adminID any
	if chat.AdminID != "" {
		adminID = chat.AdminID
	}

	_, err := tx.Exec(ctx, `
        INSERT INTO chats (id, chat_type, name, description, admin_id, last_message, direct_key, is_active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, chat.ID, chat.Type, chat.Name, chat.Description, adminID, chat.LastMessage, directKey, chat.IsActive, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrConflict
			case "23503":
				return ErrNotFound
			}
		}
		return fmt.Errorf("insert chat: %w", err)
	}

	for _, participant := range chat.Participants {
		if _, err := tx.Exec(ctx, `
            INSERT INTO chat_participants (chat_id, user_id, joined_at)
            VALUES ($1, $2, $3)
        `, chat.ID, participant.ID, chat.CreatedAt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return ErrNotFound
			}
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	return nil
}

var _ ChatRepository = (*PostgresChatRepository)(nil)
