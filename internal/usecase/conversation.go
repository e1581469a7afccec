package usecase

import (
	"strings"

	"scenesense/internal/domain"
)

// maxQATurns caps follow-up questions per capture.
const maxQATurns = 3

// conversation holds the turn-limited Q&A transcript for the current capture.
// It is append-only between resets; the transcript is cleared whenever the
// visual subject changes.
type conversation struct {
	turns   []domain.ChatTurn
	qaTurns int
}

func (c *conversation) Reset() {
	c.turns = nil
	c.qaTurns = 0
}

// Open starts a fresh conversation with the automatic scene description.
func (c *conversation) Open(description, translated string) {
	c.turns = []domain.ChatTurn{{
		Role:           domain.RoleSceneDescription,
		Text:           description,
		TranslatedText: translated,
	}}
	c.qaTurns = 0
}

func (c *conversation) CanAsk() bool {
	return c.qaTurns < maxQATurns
}

func (c *conversation) AppendQuestion(text, translated string) {
	c.turns = append(c.turns, domain.ChatTurn{
		Role:           domain.RoleUserQuestion,
		Text:           text,
		TranslatedText: translated,
	})
	c.qaTurns++
}

func (c *conversation) AppendAnswer(text, translated string) {
	c.turns = append(c.turns, domain.ChatTurn{
		Role:           domain.RoleAssistantAnswer,
		Text:           text,
		TranslatedText: translated,
	})
}

// BuildPrompt concatenates all prior turns, role-labeled, plus the new
// question and an instruction to answer from the image and conversation.
// The new question is not yet part of the transcript when this is called.
func (c *conversation) BuildPrompt(question string) string {
	var sb strings.Builder
	sb.WriteString("Previous conversation about this image:\n")
	for _, turn := range c.turns {
		if turn.Role == domain.RoleUserQuestion {
			sb.WriteString("User: ")
		} else {
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(turn.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("User: ")
	sb.WriteString(question)
	sb.WriteString("\n")
	sb.WriteString("Answer the user's question based on what you see in the image and the conversation above.")
	return sb.String()
}

// SetTranslation fills in the translation of an existing turn. Out-of-range
// indexes are ignored.
func (c *conversation) SetTranslation(index int, translated string) {
	if index < 0 || index >= len(c.turns) {
		return
	}
	c.turns[index].TranslatedText = translated
}

func (c *conversation) QATurns() int {
	return c.qaTurns
}

// Turns returns a copy that does not alias the internal slice.
func (c *conversation) Turns() []domain.ChatTurn {
	out := make([]domain.ChatTurn, len(c.turns))
	copy(out, c.turns)
	return out
}
