// Package app implements the conversation and submission workflows on top
// of the storage, dedup, lease, and generation layers.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"studypal/internal/attach"
	"studypal/internal/convlock"
	"studypal/internal/dedup"
	"studypal/internal/notify"
	"studypal/internal/tasks"
	"studypal/internal/util"
	"studypal/pkg/ai"
	"studypal/pkg/domain"
	"studypal/pkg/store"
)

const (
	defaultTitle            = "新对话"
	defaultHistoryLimit     = 10
	defaultWaitTimeout      = 55 * time.Second
	defaultConversationsMax = 100
	titleMaxRunes           = 24
)

// Config carries the tunable behavior of the workflows. Zero values fall
// back to the defaults above.
type Config struct {
	HistoryLimit int
	WaitTimeout  time.Duration
	DedupWindow  time.Duration

	DefaultProvider string
	DefaultModel    string
}

// App wires the submission pipeline together. All exported methods are safe
// for concurrent use.
type App struct {
	cfg        Config
	store      store.Store
	cache      dedup.ResultCache
	locker     convlock.Locker
	registry   *tasks.Registry
	notifier   notify.Notifier
	resolver   *attach.Resolver
	generators map[string]ai.TextGenerator

	now func() time.Time
}

// New builds an App. resolver may be nil when attachment support is
// disabled; notifier may be nil to skip delivery events.
func New(cfg Config, st store.Store, cache dedup.ResultCache, locker convlock.Locker, registry *tasks.Registry, notifier notify.Notifier, resolver *attach.Resolver, generators map[string]ai.TextGenerator) *App {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = dedup.DefaultWindow
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = domain.ProviderOllama
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &App{
		cfg:        cfg,
		store:      st,
		cache:      cache,
		locker:     locker,
		registry:   registry,
		notifier:   notifier,
		resolver:   resolver,
		generators: generators,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Intended for tests.
func (a *App) SetClock(now func() time.Time) { a.now = now }

// CreateConversation opens a new thread for the user. An empty title gets
// the placeholder until the first question derives a real one.
func (a *App) CreateConversation(ctx context.Context, userID, title string) (domain.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle
	}
	now := a.now()
	conv := domain.Conversation{
		ID:        util.NewID(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateConversation(conv); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the user's threads, most recently active first.
func (a *App) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	return a.store.ListConversationsByUser(userID, defaultConversationsMax)
}

// GetConversation loads one thread, hiding other users' threads behind
// ErrConversationNotFound.
func (a *App) GetConversation(ctx context.Context, userID, conversationID string) (domain.Conversation, error) {
	return a.ownedConversation(userID, conversationID)
}

// RenameConversation sets a user-chosen title.
func (a *App) RenameConversation(ctx context.Context, userID, conversationID, title string) (domain.Conversation, error) {
	conv, err := a.ownedConversation(userID, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Conversation{}, fmt.Errorf("%w: title required", ErrEmptyContent)
	}
	if err := a.store.RenameConversation(conversationID, title); err != nil {
		return domain.Conversation{}, fmt.Errorf("rename conversation: %w", err)
	}
	conv.Title = title
	return conv, nil
}

// DeleteConversation removes the thread and its messages and cancels any
// in-flight reply generation for it.
func (a *App) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if _, err := a.ownedConversation(userID, conversationID); err != nil {
		return err
	}
	canceled := a.registry.CancelPrefix(replyTaskPrefix(conversationID))
	if canceled > 0 {
		util.LoggerFromContext(ctx).Info("canceled in-flight replies for deleted conversation",
			"conversation_id", conversationID, "count", canceled)
	}
	if err := a.store.DeleteConversation(conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// ListMessages returns the conversation's messages oldest first. limit <= 0
// returns all of them.
func (a *App) ListMessages(ctx context.Context, userID, conversationID string, limit int) ([]domain.Message, error) {
	if _, err := a.ownedConversation(userID, conversationID); err != nil {
		return nil, err
	}
	return a.store.ListMessages(conversationID, limit)
}

// DeleteMessage removes one message from the user's conversation. Stored
// attachment objects are cleaned up best effort after the row is gone.
func (a *App) DeleteMessage(ctx context.Context, userID, conversationID, messageID string) error {
	if _, err := a.ownedConversation(userID, conversationID); err != nil {
		return err
	}
	msg, found, err := a.store.GetMessage(messageID, conversationID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if !found {
		return ErrMessageNotFound
	}
	deleted, err := a.store.DeleteMessage(messageID, conversationID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if !deleted {
		return ErrMessageNotFound
	}
	if a.resolver != nil && len(msg.Attachments) > 0 {
		if err := a.resolver.Remove(ctx, msg.Attachments); err != nil {
			util.LoggerFromContext(ctx).Warn("attachment cleanup failed",
				"message_id", messageID, "error", err)
		}
	}
	return nil
}

func (a *App) ownedConversation(userID, conversationID string) (domain.Conversation, error) {
	conv, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if !ok || conv.UserID != userID {
		return domain.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

// deriveTitle turns the first question into a conversation title. Leading
// filler phrases are stripped and the remainder is clipped to a short
// rune-bounded prefix.
func deriveTitle(question string) string {
	title := strings.TrimSpace(question)
	for _, prefix := range []string{"请问", "你好，", "你好", "老师，", "老师"} {
		if rest := strings.TrimPrefix(title, prefix); rest != title {
			title = strings.TrimSpace(rest)
			break
		}
	}
	if idx := strings.IndexAny(title, "\r\n"); idx >= 0 {
		title = title[:idx]
	}
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes])
	}
	if title == "" {
		title = defaultTitle
	}
	return title
}

func replyTaskPrefix(conversationID string) string {
	return "reply:" + conversationID + ":"
}
