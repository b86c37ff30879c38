package store

import (
	"sort"
	"sync"
	"time"

	"studypal/pkg/domain"
)

// MemoryStore keeps conversations and messages in-process. Used by tests and
// local development; semantics mirror GormStore.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message // conversation ID -> chronological
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
	}
}

// CreateConversation stores a conversation record.
func (m *MemoryStore) CreateConversation(c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return c, ok, nil
}

// ListConversationsByUser returns a user's conversations, newest update first.
func (m *MemoryStore) ListConversationsByUser(userID string, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Conversation, 0)
	for _, c := range m.conversations {
		if c.UserID == userID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UpdatedAt.After(res[j].UpdatedAt)
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// RenameConversation updates the title.
func (m *MemoryStore) RenameConversation(id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil
	}
	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	m.conversations[id] = c
	return nil
}

// TouchConversation refreshes timestamps; updated_at never moves backwards.
func (m *MemoryStore) TouchConversation(id string, at time.Time) error {
	at = at.UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok || c.UpdatedAt.After(at) {
		return nil
	}
	c.LastMessageAt = &at
	c.UpdatedAt = at
	m.conversations[id] = c
	return nil
}

// DeleteConversation removes the conversation and its messages.
func (m *MemoryStore) DeleteConversation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

// AppendMessage records a message.
func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

// ListMessages returns messages in chronological order.
func (m *MemoryStore) ListMessages(conversationID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		// Most recent limit entries, still ascending.
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// NewestMessage returns the latest message, optionally filtered by role.
func (m *MemoryStore) NewestMessage(conversationID, role string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if role == "" || msgs[i].Role == role {
			return msgs[i], true, nil
		}
	}
	return domain.Message{}, false, nil
}

// GetMessage returns one message scoped to its conversation.
func (m *MemoryStore) GetMessage(id, conversationID string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages[conversationID] {
		if msg.ID == id {
			return msg, true, nil
		}
	}
	return domain.Message{}, false, nil
}

// CountMessages returns the number of messages in a conversation.
func (m *MemoryStore) CountMessages(conversationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[conversationID]), nil
}

// DeleteMessage removes one message by ID.
func (m *MemoryStore) DeleteMessage(id, conversationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[conversationID]
	for i, msg := range msgs {
		if msg.ID == id {
			m.messages[conversationID] = append(msgs[:i:i], msgs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
