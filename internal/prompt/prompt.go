// Package prompt builds the role-tagged message sequence handed to provider
// adapters: system instruction, injected contextual knowledge, conversation
// history, then the new user input.
package prompt

import "strings"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Input struct {
	System  string
	Context string
	History []Message
	Prompt  string
}

// Assemble produces the ordered message sequence for one generate call.
// Vendors that take the system instruction out-of-band peel off leading
// system messages themselves; the assembler always emits them in-band.
func Assemble(in Input) []Message {
	msgs := make([]Message, 0, len(in.History)+3)

	if sys := strings.TrimSpace(in.System); sys != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: sys})
	}
	if ctx := strings.TrimSpace(in.Context); ctx != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: "[Relevant Context]\n" + ctx})
	}

	for _, m := range in.History {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		msgs = append(msgs, Message{Role: normalizeRole(m.Role), Content: content})
	}

	if p := strings.TrimSpace(in.Prompt); p != "" {
		msgs = append(msgs, Message{Role: RoleUser, Content: p})
	}

	return msgs
}

func normalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleAssistant, "model", "bot":
		return RoleAssistant
	case RoleSystem:
		return RoleSystem
	default:
		return RoleUser
	}
}
