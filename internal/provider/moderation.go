package provider

import (
	"fmt"
	"strings"

	"github.com/nightowlhq/aigate/internal/prompt"
	"github.com/tidwall/gjson"
)

const moderationPrompt = `You are a content moderation system. Analyze the following content and respond with ONLY a JSON object, no other text:
{"flagged": <true|false>, "categories": [<zero or more of "hate", "harassment", "self-harm", "sexual", "violence", "spam">]}

Content to analyze:
%s`

// buildModerationRequest is the shared constrained prompt every adapter
// issues for moderate.
func buildModerationRequest(content string) Request {
	temp := 0.0
	return Request{
		Messages: []prompt.Message{
			{Role: prompt.RoleUser, Content: fmt.Sprintf(moderationPrompt, content)},
		},
		Temperature:     &temp,
		MaxOutputTokens: 256,
	}
}

// parseModeration pulls the verdict out of a model reply. Models often wrap
// the JSON in prose; the substring between the first '{' and the last '}' is
// what gets parsed. Anything unparseable is treated as not flagged.
func parseModeration(reply string) Moderation {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return Moderation{Categories: []string{}}
	}

	blob := reply[start : end+1]
	if !gjson.Valid(blob) {
		return Moderation{Categories: []string{}}
	}

	parsed := gjson.Parse(blob)
	out := Moderation{
		Flagged:    parsed.Get("flagged").Bool(),
		Categories: []string{},
	}
	for _, cat := range parsed.Get("categories").Array() {
		if s := strings.TrimSpace(cat.String()); s != "" {
			out.Categories = append(out.Categories, s)
		}
	}
	return out
}
