package tutor

import (
	"context"
	"sync"

	"github.com/pathforge/pkg/models"
)

// ConversationStore holds tutoring conversations. Handles are threaded
// explicitly by the caller; there is no ambient session state.
type ConversationStore interface {
	Get(ctx context.Context, id string) (models.Conversation, bool, error)
	Put(ctx context.Context, conv models.Conversation) error
}

// MemoryConversationStore is the in-process ConversationStore.
type MemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation
}

func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{conversations: make(map[string]models.Conversation)}
}

func (s *MemoryConversationStore) Get(_ context.Context, id string) (models.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	return conv, ok, nil
}

func (s *MemoryConversationStore) Put(_ context.Context, conv models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return nil
}
