package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/bugflow/internal/models"
)

// Client wraps the Anthropic API for bug triage.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates a triage client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildTriagePrompt constructs the system and user prompts for bug triage.
func buildTriagePrompt(title, description string) (system string, user string) {
	system = `You triage incoming reports for a bug tracker. Return ONLY a JSON object with these fields:
- "type": one of "bug", "feature", "improvement", "task"
- "priority": one of "low", "medium", "high", "critical"
- "severity": one of "minor", "major", "critical", "blocker"
- "summary": one sentence restating the problem for the developer who picks it up

Rules:
- Severity is user impact, priority is scheduling urgency; they may differ
- "blocker" severity means users cannot complete a core task at all
- Default to "medium" priority and "major" severity when the report gives no signal
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// stripFencing removes a surrounding markdown code fence, if any.
func stripFencing(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// parseResult decodes a model reply. Unknown enum values fall back to the
// heuristic classification of the same report.
func parseResult(text, title, description string) (*Result, error) {
	var raw struct {
		Type     string `json:"type"`
		Priority string `json:"priority"`
		Severity string `json:"severity"`
		Summary  string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(stripFencing(text)), &raw); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}

	fallback := Heuristic(title, description)
	res := &Result{
		Type:     models.BugType(strings.ToLower(raw.Type)),
		Priority: models.BugPriority(strings.ToLower(raw.Priority)),
		Severity: models.BugSeverity(strings.ToLower(raw.Severity)),
		Summary:  strings.TrimSpace(raw.Summary),
	}
	if !res.Type.Valid() {
		res.Type = fallback.Type
	}
	if !res.Priority.Valid() {
		res.Priority = fallback.Priority
	}
	if !res.Severity.Valid() {
		res.Severity = fallback.Severity
	}
	return res, nil
}

// Triage asks the model to classify a bug report.
func (c *Client) Triage(ctx context.Context, title, description string) (*Result, error) {
	systemPrompt, userPrompt := buildTriagePrompt(title, description)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return parseResult(text, title, description)
}
