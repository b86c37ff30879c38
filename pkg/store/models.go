package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ConversationModel struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"not null;index:idx_conversations_user_updated,priority:1"`
	Title         string `gorm:"not null"`
	LastMessageAt *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null;index:idx_conversations_user_updated,priority:2"`
}

type MessageModel struct {
	ID                string    `gorm:"primaryKey"`
	ConversationID    string    `gorm:"not null;index:idx_messages_conversation_created,priority:1"`
	UserID            string    `gorm:"not null"`
	Role              string    `gorm:"not null"`
	Content           string    `gorm:"type:text;not null"`
	Provider          string
	Model             string
	ProcessingSeconds float64
	Attachments       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt         time.Time      `gorm:"not null;index:idx_messages_conversation_created,priority:2"`
}
