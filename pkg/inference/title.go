package inference

import (
	"context"
	"strings"
	"unicode"
)

// DefaultTitle is used when nothing better is available.
const DefaultTitle = "New Conversation"

const (
	titleMaxWords   = 5
	titleMaxTokens  = 20
	titleInputLimit = 200
)

const titlePrompt = "Write a short, descriptive title for this conversation. " +
	"Use at most 5 words, start with a capital letter, and avoid quotes or special characters. " +
	"Reply with the title only."

// Title asks p for a short conversation title. On failure it falls back to
// the first words of the first user message.
func Title(ctx context.Context, p Provider, history []Message) string {
	var b strings.Builder
	for _, m := range history {
		if m.Role == RoleSystem {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Content)
	}
	input := b.String()
	if len(input) > titleInputLimit {
		input = input[:titleInputLimit]
	}
	if strings.TrimSpace(input) == "" {
		return DefaultTitle
	}

	resp, err := p.Chat(ctx, &ChatRequest{
		Messages: []Message{
			NewSystemMessage(titlePrompt),
			NewUserMessage(input),
		},
		MaxTokens: titleMaxTokens,
	})
	if err == nil {
		if t := cleanTitle(resp.Message.Content); t != "" {
			return t
		}
	}
	return FallbackTitle(history)
}

// FallbackTitle derives a title from the first user message.
func FallbackTitle(history []Message) string {
	for _, m := range history {
		if m.Role != RoleUser {
			continue
		}
		words := strings.Fields(m.Content)
		if len(words) == 0 {
			continue
		}
		if len(words) > titleMaxWords {
			return strings.Join(words[:titleMaxWords], " ") + "..."
		}
		return strings.Join(words, " ")
	}
	return DefaultTitle
}

// cleanTitle strips quotes and punctuation and enforces the word limit.
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	s = strings.TrimPrefix(s, "Title: ")

	words := strings.Fields(s)
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	return strings.Join(words, " ")
}
