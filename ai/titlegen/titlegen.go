// Package titlegen derives short chat titles from the first user message.
package titlegen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chatloom/chatloom/internal/util"
)

const (
	titleTimeout      = 15 * time.Second
	titleInputMaxLen  = 500
	titleMaxRuneCount = 80

	// FallbackTitle is used when generation fails or no model is configured.
	FallbackTitle = "New chat"
)

const titleSystemPrompt = `You generate a short title for a chat based on the first user message.

Rules:
- At most 80 characters.
- Summarize the core topic, no filler like "Chat about".
- No quotes, no colons, plain text only.`

// Generator is satisfied by the model gateway's one-shot call.
type Generator interface {
	GenerateTitle(ctx context.Context, prompt string) (string, error)
}

// FromUserMessage returns a title for a new chat. Failures degrade to the
// fallback title so turn submission never blocks on title generation.
func FromUserMessage(ctx context.Context, gen Generator, userMessage string) string {
	if gen == nil || strings.TrimSpace(userMessage) == "" {
		return FallbackTitle
	}

	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	input := util.TruncateRunes(userMessage, titleInputMaxLen)
	prompt := fmt.Sprintf("%s\n\nFirst user message:\n%s", titleSystemPrompt, input)

	start := time.Now()
	title, err := gen.GenerateTitle(ctx, prompt)
	if err != nil {
		slog.Warn("title generation failed", "error", err, "latency_ms", time.Since(start).Milliseconds())
		return FallbackTitle
	}

	title = sanitize(title)
	if title == "" {
		return FallbackTitle
	}
	slog.Debug("title generated", "title", title, "latency_ms", time.Since(start).Milliseconds())
	return title
}

// sanitize strips quoting and newlines models like to add, then clamps length.
func sanitize(title string) string {
	title = strings.TrimSpace(title)
	title = strings.Trim(title, `"'`)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	return util.TruncateRunes(strings.TrimSpace(title), titleMaxRuneCount)
}
