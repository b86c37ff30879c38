package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"studypal/pkg/domain"
)

const migrateLockID int64 = 52015201

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ConversationModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM message_models m
				WHERE NOT EXISTS (SELECT 1 FROM conversation_models c WHERE c.id = m.conversation_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_conversation_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure conversation foreign key: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateConversation creates a new conversation record.
func (s *GormStore) CreateConversation(c domain.Conversation) error {
	model := conversationToModel(c)
	return s.db.Create(&model).Error
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversationsByUser returns latest conversations of a user.
func (s *GormStore) ListConversationsByUser(userID string, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ConversationModel
	if err := s.db.Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// RenameConversation updates the title.
func (s *GormStore) RenameConversation(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title required")
	}
	return s.db.Model(&ConversationModel{}).Where("id = ?", id).Updates(map[string]any{
		"title":      title,
		"updated_at": time.Now().UTC(),
	}).Error
}

// TouchConversation refreshes the last-message and update timestamps.
// updated_at never moves backwards.
func (s *GormStore) TouchConversation(id string, at time.Time) error {
	at = at.UTC()
	return s.db.Model(&ConversationModel{}).
		Where("id = ? AND updated_at <= ?", id, at).
		Updates(map[string]any{
			"last_message_at": at,
			"updated_at":      at,
		}).Error
}

// DeleteConversation removes a conversation; messages go via FK cascade.
func (s *GormStore) DeleteConversation(id string) error {
	return s.db.Delete(&ConversationModel{}, "id = ?", id).Error
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// ListMessages returns messages for a conversation in chronological order.
func (s *GormStore) ListMessages(conversationID string, limit int) ([]domain.Message, error) {
	query := s.db.Where("conversation_id = ?", conversationID)
	if limit > 0 {
		// Take the most recent limit rows, then restore ascending order.
		query = query.Order("created_at DESC").Limit(limit)
	} else {
		query = query.Order("created_at ASC")
	}
	var models []MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	if limit > 0 {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

// NewestMessage returns the latest message, optionally filtered by role.
func (s *GormStore) NewestMessage(conversationID, role string) (domain.Message, bool, error) {
	query := s.db.Where("conversation_id = ?", conversationID)
	if role != "" {
		query = query.Where("role = ?", role)
	}
	var model MessageModel
	if err := query.Order("created_at DESC").First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// GetMessage returns one message scoped to its conversation.
func (s *GormStore) GetMessage(id, conversationID string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.First(&model, "id = ? AND conversation_id = ?", id, conversationID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// CountMessages returns the number of messages in a conversation.
func (s *GormStore) CountMessages(conversationID string) (int, error) {
	var count int64
	if err := s.db.Model(&MessageModel{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeleteMessage removes one message; reports whether a row was deleted.
func (s *GormStore) DeleteMessage(id, conversationID string) (bool, error) {
	res := s.db.Delete(&MessageModel{}, "id = ? AND conversation_id = ?", id, conversationID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:            c.ID,
		UserID:        c.UserID,
		Title:         c.Title,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:            m.ID,
		UserID:        m.UserID,
		Title:         m.Title,
		LastMessageAt: m.LastMessageAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	var rawAttachments []byte
	if len(msg.Attachments) > 0 {
		rawAttachments, _ = json.Marshal(msg.Attachments)
	}
	return MessageModel{
		ID:                msg.ID,
		ConversationID:    msg.ConversationID,
		UserID:            msg.UserID,
		Role:              msg.Role,
		Content:           msg.Content,
		Provider:          msg.Provider,
		Model:             msg.Model,
		ProcessingSeconds: msg.ProcessingSeconds,
		Attachments:       rawAttachments,
		CreatedAt:         msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	var attachments []domain.AttachmentRef
	if len(m.Attachments) > 0 {
		_ = json.Unmarshal(m.Attachments, &attachments)
	}
	return domain.Message{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		UserID:            m.UserID,
		Role:              m.Role,
		Content:           m.Content,
		Provider:          m.Provider,
		Model:             m.Model,
		ProcessingSeconds: m.ProcessingSeconds,
		Attachments:       attachments,
		CreatedAt:         m.CreatedAt,
	}
}
