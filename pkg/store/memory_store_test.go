package store

import (
	"testing"
	"time"

	"studypal/pkg/domain"
)

func seedConversation(t *testing.T, s *MemoryStore, id, userID string, updatedAt time.Time) {
	t.Helper()
	if err := s.CreateConversation(domain.Conversation{
		ID:        id,
		UserID:    userID,
		Title:     "t-" + id,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}); err != nil {
		t.Fatalf("create conversation %s: %v", id, err)
	}
}

func TestMemoryStoreConversations(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	seedConversation(t, s, "c1", "u-1", base)
	seedConversation(t, s, "c2", "u-1", base.Add(time.Minute))
	seedConversation(t, s, "c3", "u-2", base)

	list, err := s.ListConversationsByUser("u-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "c2" || list[1].ID != "c1" {
		t.Fatalf("wrong order: %+v", list)
	}

	if err := s.RenameConversation("c1", "renamed"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	c, ok, err := s.GetConversation("c1")
	if err != nil || !ok || c.Title != "renamed" {
		t.Fatalf("get after rename: %+v ok=%v err=%v", c, ok, err)
	}

	if err := s.DeleteConversation("c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetConversation("c1"); ok {
		t.Fatalf("c1 should be gone")
	}
}

func TestMemoryStoreTouchIsMonotonic(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	seedConversation(t, s, "c1", "u-1", base)

	later := base.Add(time.Minute)
	if err := s.TouchConversation("c1", later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	// An out-of-order touch from a slow background task must not move
	// updated_at backwards.
	if err := s.TouchConversation("c1", base.Add(time.Second)); err != nil {
		t.Fatalf("stale touch: %v", err)
	}
	c, _, _ := s.GetConversation("c1")
	if !c.UpdatedAt.Equal(later) {
		t.Fatalf("updated_at moved backwards: %v", c.UpdatedAt)
	}
	if c.LastMessageAt == nil || !c.LastMessageAt.Equal(later) {
		t.Fatalf("last_message_at wrong: %v", c.LastMessageAt)
	}
}

func TestMemoryStoreMessages(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	seedConversation(t, s, "c1", "u-1", base)

	for i, role := range []string{domain.RoleUser, domain.RoleAssistant, domain.RoleUser} {
		if err := s.AppendMessage(domain.Message{
			ID:             []string{"m1", "m2", "m3"}[i],
			ConversationID: "c1",
			UserID:         "u-1",
			Role:           role,
			Content:        "msg",
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	all, err := s.ListMessages("c1", 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: %v len=%d", err, len(all))
	}
	limited, err := s.ListMessages("c1", 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("list limited: %v len=%d", err, len(limited))
	}
	if limited[0].ID != "m2" || limited[1].ID != "m3" {
		t.Fatalf("limit should keep the newest, ascending: %+v", limited)
	}

	newest, ok, err := s.NewestMessage("c1", domain.RoleAssistant)
	if err != nil || !ok || newest.ID != "m2" {
		t.Fatalf("newest assistant: %+v ok=%v err=%v", newest, ok, err)
	}

	got, ok, err := s.GetMessage("m2", "c1")
	if err != nil || !ok || got.Role != domain.RoleAssistant {
		t.Fatalf("get message: %+v ok=%v err=%v", got, ok, err)
	}
	if _, ok, _ := s.GetMessage("m2", "other"); ok {
		t.Fatalf("get message should be conversation-scoped")
	}

	count, err := s.CountMessages("c1")
	if err != nil || count != 3 {
		t.Fatalf("count: %d err=%v", count, err)
	}

	deleted, err := s.DeleteMessage("m2", "c1")
	if err != nil || !deleted {
		t.Fatalf("delete: %v deleted=%v", err, deleted)
	}
	if deleted, _ := s.DeleteMessage("m2", "c1"); deleted {
		t.Fatalf("second delete should be a miss")
	}
	if deleted, _ := s.DeleteMessage("m3", "other"); deleted {
		t.Fatalf("wrong conversation should not delete")
	}
}
