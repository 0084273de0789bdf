package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/guest-messaging/internal/domain"
)

// MessageRepository manages conversation messages.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	// ListByConversation returns messages in insertion order.
	ListByConversation(ctx context.Context, conversationID string, offset, limit int) ([]domain.Message, error)
	// ListRecent returns the newest limit messages, oldest first.
	ListRecent(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	// MarkRead flips every unread message not written by reader. It returns
	// the number of messages that changed.
	MarkRead(ctx context.Context, conversationID string, reader domain.Identity) (int64, error)
}

const messageColumns = `id, seq, conversation_id, sender_id, sender_type, sender_name, content, is_read, created_at`

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository builds repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

func (r *messageRepository) Create(ctx context.Context, msg *domain.Message) error {
	const query = `
        INSERT INTO messages (conversation_id, sender_id, sender_type, sender_name, content)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, seq, is_read, created_at`
	err := r.pool.QueryRow(ctx, query,
		msg.ConversationID,
		msg.SenderID,
		msg.SenderType,
		msg.SenderName,
		msg.Content,
	).Scan(&msg.ID, &msg.Seq, &msg.IsRead, &msg.CreatedAt)
	return translate(err)
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string, offset, limit int) ([]domain.Message, error) {
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE conversation_id=$1 ORDER BY seq ASC OFFSET $2 LIMIT $3`
	rows, err := r.pool.Query(ctx, query, conversationID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *messageRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM (
            SELECT ` + messageColumns + ` FROM messages
            WHERE conversation_id=$1 ORDER BY seq DESC LIMIT $2
        ) recent ORDER BY seq ASC`
	rows, err := r.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *messageRepository) MarkRead(ctx context.Context, conversationID string, reader domain.Identity) (int64, error) {
	const query = `
        UPDATE messages SET is_read = TRUE
        WHERE conversation_id=$1 AND NOT is_read
          AND NOT (sender_id=$2 AND sender_type=$3)`
	cmd, err := r.pool.Exec(ctx, query, conversationID, reader.ID, reader.SenderType())
	if err != nil {
		return 0, translate(err)
	}
	return cmd.RowsAffected(), nil
}

func scanMessages(rows pgx.Rows) ([]domain.Message, error) {
	result := make([]domain.Message, 0)
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.Seq,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.SenderType,
			&msg.SenderName,
			&msg.Content,
			&msg.IsRead,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
