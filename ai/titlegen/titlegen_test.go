package titlegen

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

type fakeGenerator struct {
	title string
	err   error
}

func (f *fakeGenerator) GenerateTitle(context.Context, string) (string, error) {
	return f.title, f.err
}

func TestFromUserMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("plain title passes through", func(t *testing.T) {
		gen := &fakeGenerator{title: "Photosynthesis basics"}
		assert.Equal(t, "Photosynthesis basics", FromUserMessage(ctx, gen, "why is grass green"))
	})

	t.Run("strips surrounding quotes", func(t *testing.T) {
		gen := &fakeGenerator{title: "  \"Photosynthesis basics\"  "}
		assert.Equal(t, "Photosynthesis basics", FromUserMessage(ctx, gen, "why is grass green"))
	})

	t.Run("keeps only the first line", func(t *testing.T) {
		gen := &fakeGenerator{title: "Photosynthesis basics\nHere is a title for you."}
		assert.Equal(t, "Photosynthesis basics", FromUserMessage(ctx, gen, "why is grass green"))
	})

	t.Run("clamps long titles", func(t *testing.T) {
		gen := &fakeGenerator{title: strings.Repeat("é", 200)}
		got := FromUserMessage(ctx, gen, "hello")
		assert.LessOrEqual(t, utf8.RuneCountInString(got), 80)
		assert.NotEqual(t, FallbackTitle, got)
	})

	t.Run("generator error falls back", func(t *testing.T) {
		gen := &fakeGenerator{err: fmt.Errorf("model unavailable")}
		assert.Equal(t, FallbackTitle, FromUserMessage(ctx, gen, "hello"))
	})

	t.Run("blank output falls back", func(t *testing.T) {
		gen := &fakeGenerator{title: "  \"\"  "}
		assert.Equal(t, FallbackTitle, FromUserMessage(ctx, gen, "hello"))
	})

	t.Run("empty user message falls back without calling the model", func(t *testing.T) {
		assert.Equal(t, FallbackTitle, FromUserMessage(ctx, &fakeGenerator{err: fmt.Errorf("should not be called")}, "   "))
	})

	t.Run("nil generator falls back", func(t *testing.T) {
		assert.Equal(t, FallbackTitle, FromUserMessage(ctx, nil, "hello"))
	})
}
