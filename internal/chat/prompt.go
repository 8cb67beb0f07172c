package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/GobindChoudhary/AI-Chatbot/internal/genai"
	"github.com/GobindChoudhary/AI-Chatbot/internal/memory"
	"github.com/GobindChoudhary/AI-Chatbot/internal/store"
)

// FallbackReply is delivered verbatim when generation fails or is
// rate-limited. The client always gets a reply for an accepted message.
const FallbackReply = "I'm having trouble generating a response right now. Please try again in a moment."

const personaPrompt = "You are ByteBot, an accurate, polite, and efficient AI assistant. " +
	"Answer clearly and concisely, prefer precision over speculation, and adapt your tone to the question. " +
	"When the conversation includes live web context, treat it as the freshest available information."

// buildPrompt assembles the ordered context for generation. Precedence is
// fixed: external context first, short-term history in chronological
// order, one long-term memory note last.
func buildPrompt(now time.Time, external string, history []store.Message, matches []memory.Match, excludeEntryID string) []genai.Segment {
	segments := make([]genai.Segment, 0, len(history)+3)

	segments = append(segments, genai.Segment{
		Role: genai.RoleSystem,
		Text: fmt.Sprintf("%s\nCurrent date and time: %s.", personaPrompt, now.Format("Monday, 2 January 2006, 15:04 MST")),
	})

	if external != "" {
		segments = append(segments, genai.Segment{
			Role: genai.RoleSystem,
			Text: "Live web context for the latest user message:\n" + external,
		})
	}

	for _, msg := range history {
		role := genai.RoleUser
		if msg.Role == store.RoleAssistant {
			role = genai.RoleAssistant
		}
		segments = append(segments, genai.Segment{Role: role, Text: msg.Content})
	}

	if note := memoryNote(matches, excludeEntryID); note != "" {
		segments = append(segments, genai.Segment{Role: genai.RoleSystem, Text: note})
	}

	return segments
}

// memoryNote folds the top similarity matches into a single context note,
// skipping the entry derived from the message being answered.
func memoryNote(matches []memory.Match, excludeEntryID string) string {
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Entry.ID == excludeEntryID {
			continue
		}
		if text := strings.TrimSpace(m.Entry.Text); text != "" {
			lines = append(lines, "- "+text)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "Relevant details remembered from earlier conversations:\n" + strings.Join(lines, "\n")
}
