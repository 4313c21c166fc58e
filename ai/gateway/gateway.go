// Package gateway adapts OpenAI-compatible model providers to the turn
// orchestrator: streaming completions with tool calls, plus one-shot calls
// for background jobs like title generation.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/chatloom/chatloom/internal/profile"
)

// Message is one entry of model input history.
type Message struct {
	Role       string // system, user, assistant, tool
	Content    string
	ToolCalls  []ToolCall // assistant messages that requested tool calls
	ToolCallID string     // tool messages answering a specific call
}

// ToolCall is a completed function call request from the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDescriptor declares a callable function to the model.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
}

// Usage reports token counts for one model call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// EventType discriminates streaming events.
type EventType string

const (
	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	EventToolCallDelta  EventType = "tool-call-delta"
)

// StreamEvent is one incremental piece of model output.
type StreamEvent struct {
	Type EventType
	Text string

	// Tool call deltas carry the accumulated call so far; Arguments grows
	// across events until the result marks the call complete.
	ToolCallIndex int
	ToolCall      ToolCall
}

// Result is the terminal outcome of one streamed model call.
type Result struct {
	Content      string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// StreamRequest is one model call.
type StreamRequest struct {
	Model    *Model
	Messages []Message
	Tools    []ToolDescriptor
}

// Gateway issues calls against the configured provider.
type Gateway struct {
	client     *openai.Client
	provider   string
	timeout    time.Duration
	titleModel string
}

// New builds a Gateway from the profile. All supported providers speak the
// OpenAI wire protocol, so one client covers them.
func New(p *profile.Profile) *Gateway {
	cfg := openai.DefaultConfig(p.LLMAPIKey)
	if p.LLMBaseURL != "" {
		cfg.BaseURL = p.LLMBaseURL
	}
	cfg.HTTPClient = newHTTPClient()

	timeout := time.Duration(p.LLMTimeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	titleModel := p.TitleModel
	if titleModel == "" {
		titleModel = LookupModel(DefaultModelID).UpstreamName(p.LLMProvider)
	}

	return &Gateway{
		client:     openai.NewClientWithConfig(cfg),
		provider:   p.LLMProvider,
		timeout:    timeout,
		titleModel: titleModel,
	}
}

// Stream runs one streaming completion. Events arrive on the first channel;
// exactly one Result or one error follows on the others, then all channels
// close. Cancelling ctx aborts the upstream call.
func (g *Gateway) Stream(ctx context.Context, req *StreamRequest) (<-chan StreamEvent, <-chan *Result, <-chan error) {
	eventChan := make(chan StreamEvent, 16)
	resultChan := make(chan *Result, 1)
	errChan := make(chan error, 1)

	go func() {
		defer close(eventChan)
		defer close(resultChan)
		defer close(errChan)

		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		apiReq := openai.ChatCompletionRequest{
			Model:         req.Model.UpstreamName(g.provider),
			Messages:      convertMessages(req.Messages),
			StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		}
		if req.Model.SupportsTools && len(req.Tools) > 0 {
			apiReq.Tools = convertTools(req.Tools)
		}

		slog.Debug("model stream starting", "model", apiReq.Model, "messages", len(req.Messages), "tools", len(apiReq.Tools))
		stream, err := g.client.CreateChatCompletionStream(ctx, apiReq)
		if err != nil {
			sendErr(ctx, errChan, fmt.Errorf("create stream failed: %w", err))
			return
		}
		defer func() { _ = stream.Close() }()

		var (
			content   strings.Builder
			reasoning strings.Builder
			calls     []ToolCall
			finish    string
			usage     Usage
		)

		for {
			resp, err := stream.Recv()
			if err != nil {
				if !strings.Contains(err.Error(), "EOF") {
					sendErr(ctx, errChan, fmt.Errorf("stream recv failed: %w", err))
					return
				}
				resultChan <- &Result{
					Content:      content.String(),
					Reasoning:    reasoning.String(),
					ToolCalls:    calls,
					FinishReason: finish,
					Usage:        usage,
				}
				return
			}

			if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
				usage = Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]

			if delta := choice.Delta.ReasoningContent; delta != "" {
				reasoning.WriteString(delta)
				if !send(ctx, eventChan, StreamEvent{Type: EventReasoningDelta, Text: delta}) {
					return
				}
			}
			if delta := choice.Delta.Content; delta != "" {
				content.WriteString(delta)
				for _, word := range splitWords(delta) {
					if !send(ctx, eventChan, StreamEvent{Type: EventTextDelta, Text: word}) {
						return
					}
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				for len(calls) <= idx {
					calls = append(calls, ToolCall{})
				}
				if tc.ID != "" {
					calls[idx].ID = tc.ID
				}
				if tc.Function.Name != "" {
					calls[idx].Name = tc.Function.Name
				}
				calls[idx].Arguments += tc.Function.Arguments
				if !send(ctx, eventChan, StreamEvent{Type: EventToolCallDelta, ToolCallIndex: idx, ToolCall: calls[idx]}) {
					return
				}
			}
			if choice.FinishReason != "" {
				finish = string(choice.FinishReason)
			}
		}
	}()

	return eventChan, resultChan, errChan
}

// GenerateOnce runs a non-streaming completion and returns the text.
func (g *Gateway) GenerateOnce(ctx context.Context, model *Model, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model.UpstreamName(g.provider),
		Messages: convertMessages(messages),
	})
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateTitle runs a cheap one-shot completion against the title model.
func (g *Gateway) GenerateTitle(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.titleModel,
		MaxTokens:   40,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("title completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	return resp.Choices[0].Message.Content, nil
}

func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sendErr(ctx context.Context, ch chan<- error, err error) {
	select {
	case ch <- err:
	case <-ctx.Done():
	}
}

// splitWords breaks a delta into word-sized pieces so downstream consumers
// see smooth output even when the provider batches large chunks. Whitespace
// stays attached to the word it follows.
func splitWords(s string) []string {
	var out []string
	start := 0
	inSpace := false
	for i, r := range s {
		isSpace := r == ' ' || r == '\n' || r == '\t'
		if inSpace && !isSpace {
			out = append(out, s[start:i])
			start = i
		}
		inSpace = isSpace
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func convertTools(tools []ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
