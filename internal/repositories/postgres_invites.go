package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/loopchat/backend/internal/db"
	"github.com/loopchat/backend/internal/models"
)

// PostgresInviteRepository provides PostgreSQL-backed persistence for invites.
type PostgresInviteRepository struct {
	pool db.Pool
}

// NewPostgresInviteRepository constructs an invite repository backed by PostgreSQL.
func NewPostgresInviteRepository(pool db.Pool) *PostgresInviteRepository {
	return &PostgresInviteRepository{pool: pool}
}

const inviteColumns = `
        i.id, i.invite_type, i.status, COALESCE(i.chat_id::text, ''), i.created_at, i.responded_at,
        s.id, s.username, s.email,
        r.id, r.username, r.email
`

// Create persists a new pending invite. ErrConflict is returned when a pending
// direct invite for the same ordered (sender, receiver) pair already exists.
func (r *PostgresInviteRepository) Create(ctx context.Context, invite models.Invite) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var chatID any
	if invite.ChatID != "" {
		chatID = invite.ChatID
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO invites (id, sender_id, receiver_id, chat_id, invite_type, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, invite.ID, invite.Sender.ID, invite.Receiver.ID, chatID, invite.Type, invite.Status, invite.CreatedAt)
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
		return fmt.Errorf("insert invite: %w", err)
	}

	return nil
}

// FindByID fetches an invite with sender and receiver profiles resolved.
func (r *PostgresInviteRepository) FindByID(ctx context.Context, id string) (models.Invite, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Invite{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT `+inviteColumns+`
        FROM invites i
        JOIN users s ON s.id = i.sender_id
        JOIN users r ON r.id = i.receiver_id
        WHERE i.id = $1
    `, id)

	invite, err := scanInvite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Invite{}, ErrNotFound
		}
		return models.Invite{}, fmt.Errorf("select invite: %w", err)
	}

	return invite, nil
}

// ExistsPending reports whether a pending invite already exists for the
// ordered (sender, receiver) pair and invite type.
func (r *PostgresInviteRepository) ExistsPending(ctx context.Context, senderID, receiverID, inviteType string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var exists bool
	row := conn.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM invites
            WHERE sender_id = $1 AND receiver_id = $2 AND invite_type = $3 AND status = 'pending'
        )
    `, senderID, receiverID, inviteType)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("select pending invite: %w", err)
	}

	return exists, nil
}

// ListPendingForUser returns pending invites where the user is sender or
// receiver, newest first.
func (r *PostgresInviteRepository) ListPendingForUser(ctx context.Context, userID string) ([]models.Invite, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+inviteColumns+`
        FROM invites i
        JOIN users s ON s.id = i.sender_id
        JOIN users r ON r.id = i.receiver_id
        WHERE (i.sender_id = $1 OR i.receiver_id = $1) AND i.status = 'pending'
        ORDER BY i.created_at DESC
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query invites: %w", err)
	}
	defer rows.Close()

	var invites []models.Invite
	for rows.Next() {
		invite, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		invites = append(invites, invite)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invites: %w", err)
	}

	return invites, nil
}

// AcceptDirect creates the direct chat, records the mutual contacts, and marks
// the invite accepted, all in one transaction.
func (r *PostgresInviteRepository) AcceptDirect(ctx context.Context, inviteID string, chat models.Chat) error {
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

	first, second := chat.Participants[0].ID, chat.Participants[1].ID
	for _, pair := range [][2]string{{first, second}, {second, first}} {
		if _, err := tx.Exec(ctx, `
            INSERT INTO user_contacts (user_id, contact_id, created_at)
            VALUES ($1, $2, $3)
            ON CONFLICT (user_id, contact_id) DO NOTHING
        `, pair[0], pair[1], chat.CreatedAt); err != nil {
			return fmt.Errorf("insert contact: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `
        UPDATE invites
        SET status = 'accepted', chat_id = $2, responded_at = $3
        WHERE id = $1 AND status = 'pending'
    `, inviteID, chat.ID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update invite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit invite acceptance: %w", err)
	}

	return nil
}

// AcceptGroup adds the receiver to the chat's participants and marks the
// invite accepted in one transaction.
func (r *PostgresInviteRepository) AcceptGroup(ctx context.Context, inviteID, chatID, userID string) error {
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

	if _, err := tx.Exec(ctx, `
        INSERT INTO chat_participants (chat_id, user_id, joined_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (chat_id, user_id) DO NOTHING
    `, chatID, userID, time.Now().UTC()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("insert participant: %w", err)
	}

	tag, err := tx.Exec(ctx, `
        UPDATE invites
        SET status = 'accepted', responded_at = $2
        WHERE id = $1 AND status = 'pending'
    `, inviteID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update invite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit group acceptance: %w", err)
	}

	return nil
}

// UpdateStatus updates the status (and responded_at) for an invite.
func (r *PostgresInviteRepository) UpdateStatus(ctx context.Context, inviteID, status string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	respondedAt := sql.NullTime{}
	if status != models.InviteStatusPending {
		respondedAt = sql.NullTime{Valid: true, Time: time.Now().UTC()}
	}

	tag, err := conn.Exec(ctx, `
        UPDATE invites
        SET status = $2, responded_at = $3
        WHERE id = $1
    `, inviteID, status, respondedAt)
	if err != nil {
		return fmt.Errorf("update invite: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes an invite record outright (sender cancellation).
func (r *PostgresInviteRepository) Delete(ctx context.Context, inviteID string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM invites
        WHERE id = $1
    `, inviteID)
	if err != nil {
		return fmt.Errorf("delete invite: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanInvite(row pgx.Row) (models.Invite, error) {
	var invite models.Invite
	var respondedAt sql.NullTime

	if err := row.Scan(&invite.ID, &invite.Type, &invite.Status, &invite.ChatID, &invite.CreatedAt, &respondedAt,
		&invite.Sender.ID, &invite.Sender.Username, &invite.Sender.Email,
		&invite.Receiver.ID, &invite.Receiver.Username, &invite.Receiver.Email); err != nil {
		return models.Invite{}, err
	}

	if respondedAt.Valid {
		t := respondedAt.Time.UTC()
		invite.RespondedAt = &t
	}

	return invite, nil
}

var _ InviteRepository = (*PostgresInviteRepository)(nil)
