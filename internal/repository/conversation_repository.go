package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/guest-messaging/internal/domain"
)

// ConversationFilter captures listing parameters.
type ConversationFilter struct {
	CustomerID *int64
	Status     *domain.ConversationStatus
	Limit      int
	Offset     int
	// Viewer determines which messages count as unread.
	Viewer domain.Identity
}

// ConversationRepository encapsulates conversation persistence.
type ConversationRepository interface {
	// CreateOpen inserts conv as the customer's open conversation, or loads
	// the existing one. created reports which of the two happened.
	CreateOpen(ctx context.Context, conv *domain.Conversation) (created bool, err error)
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	GetOpenByCustomer(ctx context.Context, customerID int64) (*domain.Conversation, error)
	List(ctx context.Context, filter ConversationFilter) ([]domain.Conversation, error)
	UpdateStatus(ctx context.Context, id string, status domain.ConversationStatus) error
	// TouchLastMessage refreshes the last-message cache without ever moving
	// it backwards in time. A non-nil staffID is stamped as assignee.
	TouchLastMessage(ctx context.Context, id, content string, at time.Time, staffID *int64) error
}

const createOpenAttempts = 3

const conversationColumns = `id, customer_id, customer_email, customer_name, assigned_staff_id,
        status, last_message, last_message_at, created_at, updated_at`

type conversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository instantiates repository.
func NewConversationRepository(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepository{pool: pool}
}

func (r *conversationRepository) CreateOpen(ctx context.Context, conv *domain.Conversation) (bool, error) {
	const insert = `
        INSERT INTO conversations (customer_id, customer_email, customer_name, status)
        VALUES ($1,$2,$3,'open')
        ON CONFLICT (customer_id) WHERE status = 'open' DO NOTHING
        RETURNING ` + conversationColumns

	for attempt := 0; attempt < createOpenAttempts; attempt++ {
		created, err := scanConversation(r.pool.QueryRow(ctx, insert,
			conv.CustomerID,
			conv.CustomerEmail,
			conv.CustomerName,
		))
		if err == nil {
			*conv = *created
			return true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, translate(err)
		}

		// another open conversation won the race; it may close before we read it
		existing, err := r.GetOpenByCustomer(ctx, conv.CustomerID)
		if err == nil {
			*conv = *existing
			return false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return false, err
		}
	}
	return false, fmt.Errorf("create open conversation for customer %d: %w", conv.CustomerID, ErrConflict)
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id=$1`
	conv, err := scanConversation(r.pool.QueryRow(ctx, query, id))
	return conv, translate(err)
}

func (r *conversationRepository) GetOpenByCustomer(ctx context.Context, customerID int64) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE customer_id=$1 AND status='open'`
	conv, err := scanConversation(r.pool.QueryRow(ctx, query, customerID))
	return conv, translate(err)
}

func (r *conversationRepository) List(ctx context.Context, filter ConversationFilter) ([]domain.Conversation, error) {
	args := []any{filter.Viewer.ID, filter.Viewer.SenderType()}
	clauses := []string{"1=1"}

	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("c.customer_id=$%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("c.status=$%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
        SELECT c.id, c.customer_id, c.customer_email, c.customer_name, c.assigned_staff_id,
               c.status, c.last_message, c.last_message_at, c.created_at, c.updated_at,
               (SELECT COUNT(*) FROM messages m
                 WHERE m.conversation_id = c.id AND NOT m.is_read
                   AND NOT (m.sender_id = $1 AND m.sender_type = $2)) AS unread_count
        FROM conversations c
        WHERE %s
        ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id
        LIMIT %d OFFSET %d`, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Conversation, 0, limit)
	for rows.Next() {
		var conv domain.Conversation
		if err := rows.Scan(
			&conv.ID,
			&conv.CustomerID,
			&conv.CustomerEmail,
			&conv.CustomerName,
			&conv.AssignedStaffID,
			&conv.Status,
			&conv.LastMessage,
			&conv.LastMessageAt,
			&conv.CreatedAt,
			&conv.UpdatedAt,
			&conv.UnreadCount,
		); err != nil {
			return nil, err
		}
		result = append(result, conv)
	}
	return result, rows.Err()
}

func (r *conversationRepository) UpdateStatus(ctx context.Context, id string, status domain.ConversationStatus) error {
	const query = `UPDATE conversations SET status=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return translate(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *conversationRepository) TouchLastMessage(ctx context.Context, id, content string, at time.Time, staffID *int64) error {
	const query = `
        UPDATE conversations SET
            last_message = CASE WHEN last_message_at IS NULL OR last_message_at <= $3 THEN $2 ELSE last_message END,
            last_message_at = GREATEST(last_message_at, $3),
            assigned_staff_id = COALESCE($4, assigned_staff_id),
            updated_at = NOW()
        WHERE id = $1`
	cmd, err := r.pool.Exec(ctx, query, id, content, at, staffID)
	if err != nil {
		return translate(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := row.Scan(
		&conv.ID,
		&conv.CustomerID,
		&conv.CustomerEmail,
		&conv.CustomerName,
		&conv.AssignedStaffID,
		&conv.Status,
		&conv.LastMessage,
		&conv.LastMessageAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &conv, nil
}
