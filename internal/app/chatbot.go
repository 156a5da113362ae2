package app

import (
	"context"
	"fmt"
)

// Ask answers a free-text question grounded in the semantic index. Unlike
// the search path the retrieval context is not owner-filtered: the chatbot
// speaks over the whole catalog. A missing template degrades to a literal
// error string in the reply, matching the tracker's long-standing behavior.
func (a *App) Ask(ctx context.Context, message string) (string, error) {
	contextText, err := a.fetchSemanticContext(ctx, message, "")
	if err != nil {
		return "", err
	}
	tmpl, err := a.prompts.Load(chatbotPromptName)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	rendered := tmpl.Render(map[string]string{
		"userQuery": message,
		"context":   contextText,
	})
	reply, err := a.generator.GenerateText(ctx, "", rendered)
	if err != nil {
		return "", fmt.Errorf("generate chat reply: %w", err)
	}
	return reply, nil
}
