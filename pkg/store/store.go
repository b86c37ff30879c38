package store

import (
	"time"

	"studypal/pkg/domain"
)

// Store defines persistence operations for conversations and messages.
type Store interface {
	// conversations
	CreateConversation(c domain.Conversation) error
	GetConversation(id string) (domain.Conversation, bool, error)
	ListConversationsByUser(userID string, limit int) ([]domain.Conversation, error)
	RenameConversation(id, title string) error
	TouchConversation(id string, at time.Time) error
	DeleteConversation(id string) error

	// messages
	AppendMessage(msg domain.Message) error
	ListMessages(conversationID string, limit int) ([]domain.Message, error)
	NewestMessage(conversationID, role string) (domain.Message, bool, error)
	GetMessage(id, conversationID string) (domain.Message, bool, error)
	CountMessages(conversationID string) (int, error)
	DeleteMessage(id, conversationID string) (bool, error)
}
