package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/guest-messaging/internal/domain"
)

// MemoryStore keeps conversations and messages in process memory. It backs
// the service when no POSTGRES_DSN is configured and in tests, and honours
// the same uniqueness and ordering rules as the postgres schema.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*domain.Conversation
	messages      map[string][]*domain.Message
	seq           int64
	now           func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*domain.Conversation),
		messages:      make(map[string][]*domain.Message),
		now:           time.Now,
	}
}

// Conversations exposes the store as a ConversationRepository.
func (s *MemoryStore) Conversations() ConversationRepository {
	return &memoryConversations{s: s}
}

// Messages exposes the store as a MessageRepository.
func (s *MemoryStore) Messages() MessageRepository {
	return &memoryMessages{s: s}
}

type memoryConversations struct {
	s *MemoryStore
}

func (r *memoryConversations) CreateOpen(_ context.Context, conv *domain.Conversation) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if existing := r.s.openForLocked(conv.CustomerID); existing != nil {
		*conv = *existing
		return false, nil
	}

	now := r.s.now()
	stored := &domain.Conversation{
		ID:            uuid.NewString(),
		CustomerID:    conv.CustomerID,
		CustomerEmail: conv.CustomerEmail,
		CustomerName:  conv.CustomerName,
		Status:        domain.ConversationStatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.s.conversations[stored.ID] = stored
	*conv = *stored
	return true, nil
}

func (r *memoryConversations) GetByID(_ context.Context, id string) (*domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	conv, ok := r.s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (r *memoryConversations) GetOpenByCustomer(_ context.Context, customerID int64) (*domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	conv := r.s.openForLocked(customerID)
	if conv == nil {
		return nil, ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (r *memoryConversations) List(_ context.Context, filter ConversationFilter) ([]domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Conversation, 0)
	for _, conv := range r.s.conversations {
		if filter.CustomerID != nil && conv.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.Status != nil && conv.Status != *filter.Status {
			continue
		}
		cp := *conv
		for _, msg := range r.s.messages[conv.ID] {
			if !msg.IsRead && !msg.SentBy(filter.Viewer) {
				cp.UnreadCount++
			}
		}
		result = append(result, cp)
	}

	sort.Slice(result, func(i, j int) bool {
		ai, aj := result[i].ActivityAt(), result[j].ActivityAt()
		if ai.Equal(aj) {
			return result[i].ID < result[j].ID
		}
		return ai.After(aj)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	return window(result, filter.Offset, limit), nil
}

func (r *memoryConversations) UpdateStatus(_ context.Context, id string, status domain.ConversationStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	conv, ok := r.s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if status == domain.ConversationStatusOpen && conv.Status != domain.ConversationStatusOpen {
		if other := r.s.openForLocked(conv.CustomerID); other != nil {
			return ErrConflict
		}
	}
	conv.Status = status
	conv.UpdatedAt = r.s.now()
	return nil
}

func (r *memoryConversations) TouchLastMessage(_ context.Context, id, content string, at time.Time, staffID *int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	conv, ok := r.s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if conv.LastMessageAt == nil || !at.Before(*conv.LastMessageAt) {
		text, ts := content, at
		conv.LastMessage = &text
		conv.LastMessageAt = &ts
	}
	if staffID != nil {
		assignee := *staffID
		conv.AssignedStaffID = &assignee
	}
	conv.UpdatedAt = r.s.now()
	return nil
}

func (s *MemoryStore) openForLocked(customerID int64) *domain.Conversation {
	for _, conv := range s.conversations {
		if conv.CustomerID == customerID && conv.Status == domain.ConversationStatusOpen {
			return conv
		}
	}
	return nil
}

type memoryMessages struct {
	s *MemoryStore
}

func (r *memoryMessages) Create(_ context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}
	r.s.seq++
	msg.ID = uuid.NewString()
	msg.Seq = r.s.seq
	msg.IsRead = false
	msg.CreatedAt = r.s.now()

	stored := *msg
	r.s.messages[msg.ConversationID] = append(r.s.messages[msg.ConversationID], &stored)
	return nil
}

func (r *memoryMessages) ListByConversation(_ context.Context, conversationID string, offset, limit int) ([]domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return window(r.s.copyMessagesLocked(conversationID), offset, limit), nil
}

func (r *memoryMessages) ListRecent(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	all := r.s.copyMessagesLocked(conversationID)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (r *memoryMessages) MarkRead(_ context.Context, conversationID string, reader domain.Identity) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var changed int64
	for _, msg := range r.s.messages[conversationID] {
		if !msg.IsRead && !msg.SentBy(reader) {
			msg.IsRead = true
			changed++
		}
	}
	return changed, nil
}

func (s *MemoryStore) copyMessagesLocked(conversationID string) []domain.Message {
	stored := s.messages[conversationID]
	out := make([]domain.Message, 0, len(stored))
	for _, msg := range stored {
		out = append(out, *msg)
	}
	return out
}

func window[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
