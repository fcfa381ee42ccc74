package prompt

import (
	"strings"

	"csv-analyst-be/pkg/conversation"
	"csv-analyst-be/pkg/llm"
)

// DataPlaceholder marks where the dataset text goes in a persona.
const DataPlaceholder = "{data}"

// Budget bounds how much of the dataset and the conversation is sent with
// every request. Zero values mean unlimited.
type Budget struct {
	MaxRows             int
	MaxHistoryExchanges int
}

// Template is the fixed system segment for one dataset plus the history and
// input slots filled at call time. It is immutable after NewTemplate.
type Template struct {
	system    string
	rows      int
	truncated bool
	budget    Budget
}

// NewTemplate embeds rows into persona. Rows are kept in order and verbatim.
func NewTemplate(persona string, rows []string, budget Budget) *Template {
	truncated := false
	if budget.MaxRows > 0 && len(rows) > budget.MaxRows {
		rows = rows[:budget.MaxRows]
		truncated = true
	}

	data := strings.Join(rows, "\n\n")

	var system string
	if strings.Contains(persona, DataPlaceholder) {
		system = strings.Replace(persona, DataPlaceholder, data, 1)
	} else {
		var b strings.Builder
		b.WriteString(persona)
		b.WriteString("\n\n<data>\n")
		b.WriteString(data)
		b.WriteString("\n</data>\n")
		system = b.String()
	}

	return &Template{
		system:    system,
		rows:      len(rows),
		truncated: truncated,
		budget:    budget,
	}
}

func (t *Template) System() string {
	return t.system
}

// Rows is the number of dataset rows embedded in the system segment.
func (t *Template) Rows() int {
	return t.rows
}

// Truncated reports whether MaxRows dropped part of the dataset.
func (t *Template) Truncated() bool {
	return t.truncated
}

// Format fills the history and input slots: system, then prior turns, then
// the current input.
func (t *Template) Format(history []conversation.Turn, input string) []llm.Message {
	history = t.window(history)

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: t.system})
	for _, turn := range history {
		role := llm.RoleUser
		if turn.Role == conversation.RoleAI {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: input})
	return messages
}

// window keeps the most recent exchanges, starting on a human turn.
func (t *Template) window(history []conversation.Turn) []conversation.Turn {
	max := t.budget.MaxHistoryExchanges
	if max <= 0 || len(history) <= 2*max {
		return history
	}
	start := len(history) - 2*max
	for start < len(history) && history[start].Role != conversation.RoleHuman {
		start++
	}
	return history[start:]
}
