// Package chat drives generation turns end to end: validate, enforce quota,
// persist the user message, stream the model with tool calls, persist the
// assistant message exactly once, and fan events out to subscribers.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/chatloom/chatloom/ai/gateway"
	"github.com/chatloom/chatloom/ai/titlegen"
	"github.com/chatloom/chatloom/ai/tools"
	"github.com/chatloom/chatloom/internal/profile"
	"github.com/chatloom/chatloom/objectstore"
	"github.com/chatloom/chatloom/server/metrics"
	"github.com/chatloom/chatloom/store"
)

const (
	// maxSteps caps model turns within one generation. Each step may request
	// tool calls whose output feeds the next step.
	maxSteps = 5

	quotaWindow = 24 * time.Hour

	// presignTTL bounds attachment access handed to the model backend.
	presignTTL = 15 * time.Minute
)

// TurnRequest is one validated submission.
type TurnRequest struct {
	ChatID     string
	UserID     string
	UserType   store.UserType
	Message    *store.Message
	Model      *gateway.Model
	Visibility store.Visibility
}

// ModelStreamer is the slice of the model gateway the orchestrator needs.
type ModelStreamer interface {
	Stream(ctx context.Context, req *gateway.StreamRequest) (<-chan gateway.StreamEvent, <-chan *gateway.Result, <-chan error)
	GenerateTitle(ctx context.Context, prompt string) (string, error)
}

// Orchestrator owns the generation pipeline. All collaborators are injected;
// there is no ambient global state.
type Orchestrator struct {
	store   *store.Store
	gateway ModelStreamer
	tools   *tools.Registry
	broker  *Broker
	objects objectstore.Client
	metrics *metrics.Exporter
	profile *profile.Profile
}

func NewOrchestrator(
	st *store.Store,
	gw ModelStreamer,
	reg *tools.Registry,
	broker *Broker,
	objects objectstore.Client,
	exporter *metrics.Exporter,
	p *profile.Profile,
) *Orchestrator {
	return &Orchestrator{
		store:   st,
		gateway: gw,
		tools:   reg,
		broker:  broker,
		objects: objects,
		metrics: exporter,
		profile: p,
	}
}

// Broker exposes the event fanout for transports.
func (o *Orchestrator) Broker() *Broker { return o.broker }

// SubmitTurn runs one user turn. On success the caller holds a subscription
// to the generation stream; the generation itself continues on a background
// goroutine detached from the request context.
func (o *Orchestrator) SubmitTurn(ctx context.Context, req *TurnRequest) (<-chan Event, func(), error) {
	if err := o.checkQuota(ctx, req.UserID, req.UserType); err != nil {
		return nil, nil, err
	}

	chat, isNew, err := o.resolveChat(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	// Reserve the chat before any write: a concurrent submit is rejected
	// here, leaving the mid-generation transcript and stream records of the
	// first turn untouched. The generation outlives the HTTP request; its
	// lifetime is bounded by the turn timeout, not the client connection.
	streamID := shortuuid.New()
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(o.profile.TurnTimeout)*time.Second)
	if err := o.broker.Open(streamID, chat.ID, cancel); err != nil {
		cancel()
		return nil, nil, err
	}

	// The user's input is durable before any model call.
	req.Message.ChatID = chat.ID
	req.Message.Role = store.RoleUser
	req.Message.CreatedTs = time.Now().UnixMicro()
	if err := o.store.AppendMessages(ctx, []*store.Message{req.Message}); err != nil {
		cancel()
		o.broker.Close(streamID)
		return nil, nil, &PersistError{Stage: "user-message", Err: err}
	}

	if _, err := o.store.CreateStreamRecord(ctx, &store.StreamRecord{
		ID:        streamID,
		ChatID:    chat.ID,
		CreatedTs: time.Now().UnixMicro(),
	}); err != nil {
		cancel()
		o.broker.Close(streamID)
		return nil, nil, &PersistError{Stage: "stream-record", Err: err}
	}

	events, unsubscribe, err := o.broker.Subscribe(streamID)
	if err != nil {
		cancel()
		o.broker.Close(streamID)
		return nil, nil, err
	}

	if isNew {
		go o.generateTitle(chat.ID, streamID, req.Message.PlainText())
	}

	go o.run(genCtx, cancel, streamID, chat.ID, req)

	return events, unsubscribe, nil
}

// Resume reattaches to the chat's in-flight generation. Completed or failed
// generations yield ErrNoActiveStream; the client falls back to the
// persisted transcript.
func (o *Orchestrator) Resume(ctx context.Context, chatID, userID string) (<-chan Event, func(), error) {
	chat, err := o.store.GetChat(ctx, &store.FindChat{ID: &chatID})
	if err != nil {
		return nil, nil, err
	}
	if chat == nil {
		return nil, nil, ErrChatNotFound
	}
	if chat.OwnerID != userID && chat.Visibility != store.VisibilityPublic {
		return nil, nil, ErrUnauthorized
	}

	record, err := o.store.GetLatestStreamRecord(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		return nil, nil, ErrNoActiveStream
	}
	return o.broker.Subscribe(record.ID)
}

// Stop cancels the chat's in-flight generation. Forwarding stops and the
// upstream model call is aborted; a tool already executing runs to
// completion to avoid partial side effects.
func (o *Orchestrator) Stop(ctx context.Context, chatID, userID string) error {
	chat, err := o.store.GetChat(ctx, &store.FindChat{ID: &chatID})
	if err != nil {
		return err
	}
	if chat == nil {
		return ErrChatNotFound
	}
	if chat.OwnerID != userID {
		return ErrUnauthorized
	}

	streamID, ok := o.broker.ActiveStreamID(chatID)
	if !ok {
		return ErrNoActiveStream
	}
	o.broker.Cancel(streamID)
	return nil
}

// EditAndRegenerate truncates the chat at the edited message and re-submits
// the edited content as the new last user turn.
func (o *Orchestrator) EditAndRegenerate(ctx context.Context, req *TurnRequest, editedMessageID string) (<-chan Event, func(), error) {
	msg, err := o.store.GetMessage(ctx, &store.FindMessage{ID: &editedMessageID})
	if err != nil {
		return nil, nil, err
	}
	if msg == nil || msg.ChatID != req.ChatID {
		return nil, nil, ErrChatNotFound
	}

	chat, err := o.store.GetChat(ctx, &store.FindChat{ID: &req.ChatID})
	if err != nil {
		return nil, nil, err
	}
	if chat == nil {
		return nil, nil, ErrChatNotFound
	}
	if chat.OwnerID != req.UserID {
		return nil, nil, ErrUnauthorized
	}
	if _, busy := o.broker.ActiveStreamID(req.ChatID); busy {
		return nil, nil, ErrChatBusy
	}

	if err := o.store.TruncateMessagesAfter(ctx, req.ChatID, msg.CreatedTs); err != nil {
		return nil, nil, &PersistError{Stage: "truncation", Err: err}
	}
	return o.SubmitTurn(ctx, req)
}

func (o *Orchestrator) checkQuota(ctx context.Context, userID string, userType store.UserType) error {
	since := time.Now().Add(-quotaWindow).UnixMicro()
	count, err := o.store.CountUserMessagesSince(ctx, userID, since)
	if err != nil {
		return err
	}
	if count >= store.EntitlementFor(userType).MaxMessagesPerDay {
		return ErrRateLimited
	}
	return nil
}

func (o *Orchestrator) resolveChat(ctx context.Context, req *TurnRequest) (*store.Chat, bool, error) {
	// Soft-deleted chats still occupy their id; look them up too so a
	// resubmission surfaces as a validation error instead of colliding with
	// the existing row on create.
	chat, err := o.store.GetChat(ctx, &store.FindChat{ID: &req.ChatID, IncludeHidden: true})
	if err != nil {
		return nil, false, err
	}
	if chat != nil {
		if chat.OwnerID != req.UserID {
			return nil, false, ErrUnauthorized
		}
		if chat.Hidden {
			return nil, false, &ValidationError{Field: "chatId", Detail: "chat was deleted"}
		}
		return chat, false, nil
	}

	visibility := req.Visibility
	if !visibility.IsValid() {
		visibility = store.VisibilityPrivate
	}
	chat, err = o.store.CreateChat(ctx, &store.Chat{
		ID:         req.ChatID,
		OwnerID:    req.UserID,
		Title:      titlegen.FallbackTitle,
		Visibility: visibility,
		CreatedTs:  time.Now().UnixMicro(),
	})
	if err != nil {
		return nil, false, &PersistError{Stage: "chat", Err: err}
	}
	return chat, true, nil
}

// generateTitle runs off the turn's critical path. Failures keep the
// fallback title.
func (o *Orchestrator) generateTitle(chatID, streamID, firstUserMessage string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	title := titlegen.FromUserMessage(ctx, o.gateway, firstUserMessage)
	if title == titlegen.FallbackTitle {
		return
	}
	if _, err := o.store.UpdateChat(ctx, &store.UpdateChat{ID: chatID, Title: &title}); err != nil {
		slog.Warn("failed to save generated title", "chat_id", chatID, "error", err)
		return
	}
	o.broker.Publish(streamID, dataEvent("title", map[string]string{"chatId": chatID, "title": title}))
}

// run is the generation loop. It owns the stream's terminal event and the
// single assistant-message append.
func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, streamID, chatID string, req *TurnRequest) {
	defer cancel()
	defer o.broker.Close(streamID)

	o.metrics.StreamStarted()
	defer o.metrics.StreamFinished()
	start := time.Now()

	status := "success"
	defer func() {
		o.metrics.RecordTurn(req.Model.ID, time.Since(start), status)
	}()

	history, err := o.loadHistory(ctx, chatID)
	if err != nil {
		// A stop that lands before the stream loop surfaces here as a
		// context error; report it as a cancellation, not a failure.
		if ctx.Err() != nil {
			status = "cancelled"
			o.publishTerminal(streamID, Event{Type: EventDone, Reason: "cancelled"})
			return
		}
		status = "error"
		o.publishError(streamID, "history_load_failed", err)
		return
	}

	toolset := o.tools.ForModel(req.Model)
	descriptors := tools.Descriptors(toolset)
	chatCtx := &tools.ChatContext{UserID: req.UserID, ChatID: chatID}

	var (
		textParts      []string
		reasoningParts []string
		toolParts      []store.ToolCallPart
		usage          gateway.Usage
	)

	for step := 0; step < maxSteps; step++ {
		stepStart := time.Now()
		events, results, errs := o.gateway.Stream(ctx, &gateway.StreamRequest{
			Model:    req.Model,
			Messages: history,
			Tools:    descriptors,
		})

		var result *gateway.Result
		for events != nil || results != nil || errs != nil {
			select {
			case <-ctx.Done():
				status = "cancelled"
				o.publishTerminal(streamID, Event{Type: EventDone, Reason: "cancelled"})
				return
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				o.forwardGatewayEvent(streamID, ev)
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				if ctx.Err() != nil {
					status = "cancelled"
					o.publishTerminal(streamID, Event{Type: EventDone, Reason: "cancelled"})
					return
				}
				status = "error"
				o.publishError(streamID, "upstream_model_error", err)
				return
			case r, ok := <-results:
				if !ok {
					results = nil
					continue
				}
				// Keep draining events until the gateway closes them so no
				// buffered delta is lost behind the result.
				result = r
				results = nil
			}
		}
		if result == nil {
			if ctx.Err() != nil {
				status = "cancelled"
				o.publishTerminal(streamID, Event{Type: EventDone, Reason: "cancelled"})
				return
			}
			status = "error"
			o.publishError(streamID, "upstream_model_error", fmt.Errorf("model stream ended without a result"))
			return
		}
		o.metrics.RecordModelLatency(req.Model.ID, time.Since(stepStart))
		if result.Usage.TotalTokens > 0 {
			usage.PromptTokens += result.Usage.PromptTokens
			usage.CompletionTokens += result.Usage.CompletionTokens
			usage.TotalTokens += result.Usage.TotalTokens
			o.metrics.RecordModelUsage(req.Model.ID, result.Usage.PromptTokens, result.Usage.CompletionTokens)
		}
		if result.Content != "" {
			textParts = append(textParts, result.Content)
		}
		if result.Reasoning != "" {
			reasoningParts = append(reasoningParts, result.Reasoning)
		}

		if len(result.ToolCalls) == 0 {
			break
		}

		// The model asked for tools: execute inline, feed outputs back, and
		// continue with another step.
		history = append(history, gateway.Message{
			Role:      "assistant",
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})
		for _, call := range result.ToolCalls {
			part := store.ToolCallPart{
				ToolName:   call.Name,
				ToolCallID: call.ID,
				State:      store.ToolCallInputAvailable,
				Input:      json.RawMessage(call.Arguments),
			}
			output := o.executeTool(ctx, streamID, toolset, call, chatCtx)
			part.Advance(store.ToolCallOutputAvailable)
			part.Output = output
			toolParts = append(toolParts, part)
			history = append(history, gateway.Message{
				Role:       "tool",
				Content:    string(output),
				ToolCallID: call.ID,
			})
		}

		if step == maxSteps-1 {
			slog.Warn("generation hit step limit", "chat_id", chatID, "stream_id", streamID)
		}
	}

	if ctx.Err() != nil {
		status = "cancelled"
		o.publishTerminal(streamID, Event{Type: EventDone, Reason: "cancelled"})
		return
	}

	assistantMsg := o.assembleAssistantMessage(chatID, req.Model.ID, textParts, reasoningParts, toolParts, usage)
	if err := o.store.AppendMessages(ctx, []*store.Message{assistantMsg}); err != nil {
		status = "error"
		o.publishError(streamID, "assistant_persist_failed", &PersistError{Stage: "assistant-message", Err: err})
		return
	}

	usageRaw, _ := json.Marshal(map[string]any{"modelId": req.Model.ID, "usage": usage})
	o.broker.Publish(streamID, Event{Type: EventData, Kind: "usage", Payload: usageRaw})
	o.publishTerminal(streamID, Event{Type: EventDone, MessageID: assistantMsg.ID, Reason: "completed"})
}

// loadHistory converts the persisted transcript into gateway input. Managed
// attachments are swapped for short-lived presigned links scoped to this
// call; the stored URLs never reach the model.
func (o *Orchestrator) loadHistory(ctx context.Context, chatID string) ([]gateway.Message, error) {
	msgs, err := o.store.ListMessages(ctx, &store.FindMessage{ChatID: &chatID})
	if err != nil {
		return nil, err
	}

	history := make([]gateway.Message, 0, len(msgs))
	for _, msg := range msgs {
		content := msg.PlainText()
		for _, ref := range msg.Attachments {
			url := ref.URL
			if ref.StorageKey != "" && o.objects != nil {
				presigned, err := o.objects.PresignedGet(ctx, ref.StorageKey, presignTTL)
				if err != nil {
					slog.Warn("failed to presign attachment", "key", ref.StorageKey, "error", err)
					continue
				}
				url = presigned
			}
			content += fmt.Sprintf("\n[attachment %s (%s): %s]", ref.Name, ref.ContentType, url)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		history = append(history, gateway.Message{Role: string(msg.Role), Content: content})
	}
	return history, nil
}

func (o *Orchestrator) forwardGatewayEvent(streamID string, ev gateway.StreamEvent) {
	switch ev.Type {
	case gateway.EventTextDelta:
		o.broker.Publish(streamID, Event{Type: EventTextDelta, Delta: ev.Text})
	case gateway.EventReasoningDelta:
		o.broker.Publish(streamID, Event{Type: EventReasoningDelta, Delta: ev.Text})
	case gateway.EventToolCallDelta:
		o.broker.Publish(streamID, Event{
			Type:       EventToolInputStreaming,
			ToolCallID: ev.ToolCall.ID,
			ToolName:   ev.ToolCall.Name,
			Input:      json.RawMessage(ev.ToolCall.Arguments),
		})
	}
}

// executeTool runs one tool call. Tool failures are returned as output data;
// an in-flight tool is not interrupted by stream cancellation.
func (o *Orchestrator) executeTool(ctx context.Context, streamID string, toolset []tools.Tool, call gateway.ToolCall, base *tools.ChatContext) json.RawMessage {
	input := json.RawMessage(call.Arguments)
	if !json.Valid(input) {
		input, _ = json.Marshal(call.Arguments)
	}
	o.broker.Publish(streamID, Event{
		Type:       EventToolInputAvailable,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Input:      input,
	})

	var tool tools.Tool
	for _, t := range toolset {
		if t.Name() == call.Name {
			tool = t
			break
		}
	}

	var output json.RawMessage
	toolStart := time.Now()
	if tool == nil {
		output, _ = json.Marshal(map[string]string{"error": "unknown tool: " + call.Name})
	} else {
		chatCtx := &tools.ChatContext{
			UserID: base.UserID,
			ChatID: base.ChatID,
			Progress: func(kind string, payload any) {
				raw, _ := json.Marshal(payload)
				o.broker.Publish(streamID, Event{
					Type:       EventToolProgress,
					ToolCallID: call.ID,
					ToolName:   call.Name,
					Kind:       kind,
					Payload:    raw,
				})
			},
		}
		// Detached from cancellation so a stopped stream never leaves a
		// half-applied side effect; bounded by its own timeout instead.
		toolCtx, toolCancel := context.WithTimeout(context.WithoutCancel(ctx), 60*time.Second)
		output = tool.Execute(toolCtx, input, chatCtx)
		toolCancel()
	}

	var failure struct {
		Error string `json:"error"`
	}
	success := json.Unmarshal(output, &failure) != nil || failure.Error == ""
	o.metrics.RecordToolCall(call.Name, time.Since(toolStart), success)

	o.broker.Publish(streamID, Event{
		Type:       EventToolOutput,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Output:     output,
	})
	return output
}

func (o *Orchestrator) assembleAssistantMessage(chatID, modelID string, textParts, reasoningParts []string, toolParts []store.ToolCallPart, usage gateway.Usage) *store.Message {
	var parts []store.ContentPart
	if len(reasoningParts) > 0 {
		parts = append(parts, store.ReasoningPart{Text: strings.Join(reasoningParts, "\n")})
	}
	for _, tp := range toolParts {
		parts = append(parts, tp)
	}
	parts = append(parts, store.TextPart{Text: strings.Join(textParts, "")})

	payload, _ := json.Marshal(map[string]any{"modelId": modelID, "usage": usage})
	parts = append(parts, store.DataPart{Kind: "generation", Payload: payload})

	return &store.Message{
		ID:        shortuuid.New(),
		ChatID:    chatID,
		Role:      store.RoleAssistant,
		Parts:     parts,
		CreatedTs: time.Now().UnixMicro(),
	}
}

func (o *Orchestrator) publishError(streamID, code string, err error) {
	slog.Error("generation failed", "stream_id", streamID, "code", code, "error", err)
	o.publishTerminal(streamID, Event{Type: EventError, Code: code, Message: err.Error()})
}

func (o *Orchestrator) publishTerminal(streamID string, ev Event) {
	o.broker.Publish(streamID, ev)
}
