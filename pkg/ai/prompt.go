package ai

import (
	"fmt"
	"strings"
)

// SystemPrompt is the study-assistant persona sent to every backend.
const SystemPrompt = `你是一个名为"智学伴侣"的AI学习助手，专门为高中生提供学习支持。
使用清晰、简洁、适合高中生理解的语言解答学科问题、解释概念、提供解题思路。
严格禁止生成色情、暴力、仇恨或其他不当内容；不提供医疗、法律、金融等专业建议；
对与学习无关的闲聊，简短回应后引导回学习主题。遵守学术诚信，鼓励独立思考。`

const thinkModeInstruction = `请按照以下步骤回答：
1. 思考：先对问题进行分析，梳理解题思路和关键点。
2. 回答：基于思考给出简洁明了、符合高中生理解水平的答案。`

// HistoryEntry is one prior turn included as prompt context.
type HistoryEntry struct {
	Role    string
	Content string
}

// BuildUserPrompt assembles the user-facing prompt from recent history and
// the current question. history must already be limited to the context
// window; entries are rendered oldest first.
func BuildUserPrompt(question string, history []HistoryEntry, thinkMode bool) string {
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("以下是对话历史：\n\n")
		for _, entry := range history {
			role := strings.ToLower(strings.TrimSpace(entry.Role))
			switch role {
			case "user":
				role = "用户"
			case "assistant":
				role = "助手"
			default:
				role = "消息"
			}
			sb.WriteString(role)
			sb.WriteString(": ")
			sb.WriteString(entry.Content)
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString(fmt.Sprintf("当前问题: %q\n", question))
	if thinkMode {
		sb.WriteString("\n")
		sb.WriteString(thinkModeInstruction)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ClampHistory keeps the most recent limit entries.
func ClampHistory(history []HistoryEntry, limit int) []HistoryEntry {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
