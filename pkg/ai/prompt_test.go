package ai

import (
	"strings"
	"testing"
)

func TestBuildUserPromptWithHistory(t *testing.T) {
	history := []HistoryEntry{
		{Role: "user", Content: "什么是导数？"},
		{Role: "assistant", Content: "导数描述函数的变化率。"},
	}
	prompt := BuildUserPrompt("那积分呢？", history, false)

	if !strings.Contains(prompt, "对话历史") {
		t.Fatalf("history header missing: %q", prompt)
	}
	if !strings.Contains(prompt, "用户: 什么是导数？") {
		t.Fatalf("user turn missing: %q", prompt)
	}
	if !strings.Contains(prompt, "助手: 导数描述函数的变化率。") {
		t.Fatalf("assistant turn missing: %q", prompt)
	}
	if !strings.Contains(prompt, `当前问题: "那积分呢？"`) {
		t.Fatalf("question missing: %q", prompt)
	}
	if strings.Contains(prompt, "思考") {
		t.Fatalf("think-mode steps should be absent: %q", prompt)
	}
}

func TestBuildUserPromptThinkMode(t *testing.T) {
	prompt := BuildUserPrompt("解这个方程", nil, true)
	if !strings.Contains(prompt, "思考") || !strings.Contains(prompt, "回答") {
		t.Fatalf("think-mode instruction missing: %q", prompt)
	}
	if strings.Contains(prompt, "对话历史") {
		t.Fatalf("empty history should not render a header: %q", prompt)
	}
}

func TestClampHistory(t *testing.T) {
	history := make([]HistoryEntry, 15)
	for i := range history {
		history[i] = HistoryEntry{Role: "user", Content: strings.Repeat("x", i+1)}
	}
	clamped := ClampHistory(history, 10)
	if len(clamped) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(clamped))
	}
	if clamped[0].Content != history[5].Content {
		t.Fatalf("clamp should keep the most recent entries")
	}
	if got := ClampHistory(history, 0); len(got) != 15 {
		t.Fatalf("limit 0 keeps everything")
	}
}
