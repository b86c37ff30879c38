package domain

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Generation providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Conversation is a titled message thread owned by one user.
type Conversation struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Title         string     `json:"title"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// AttachmentRef is a stored file reference attached to a message.
type AttachmentRef struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
	StorageKey  string `json:"storageKey,omitempty"`
}

// Message is one entry in a conversation, totally ordered by CreatedAt.
// ProcessingSeconds is only meaningful for assistant messages.
type Message struct {
	ID                string          `json:"id"`
	ConversationID    string          `json:"conversationId"`
	UserID            string          `json:"userId"`
	Role              string          `json:"role"`
	Content           string          `json:"content"`
	Provider          string          `json:"provider,omitempty"`
	Model             string          `json:"model,omitempty"`
	ProcessingSeconds float64         `json:"processingSeconds,omitempty"`
	Attachments       []AttachmentRef `json:"attachments,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// SubmissionResult is what the submission API returns. The inbound message is
// always present once persisted; the reply is present only when the caller
// waited long enough for it. ReplyPending marks a reply still being generated
// by the background continuation.
type SubmissionResult struct {
	Message      Message  `json:"message"`
	Reply        *Message `json:"reply,omitempty"`
	ReplyPending bool     `json:"replyPending,omitempty"`
	ReplyError   string   `json:"replyError,omitempty"`
}
