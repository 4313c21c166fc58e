package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatloom/chatloom/ai/gateway"
	"github.com/chatloom/chatloom/ai/tools"
	"github.com/chatloom/chatloom/internal/profile"
	"github.com/chatloom/chatloom/server/metrics"
	"github.com/chatloom/chatloom/store"
	"github.com/chatloom/chatloom/store/db/sqlite"
)

// scriptStep is one scripted model call of the fake streamer.
type scriptStep struct {
	deltas []string
	result *gateway.Result
	err    error
}

type fakeStreamer struct {
	mu     sync.Mutex
	steps  []scriptStep
	calls  int
	block  chan struct{}
	onCall func()
	// failOnCancel surfaces the cancellation through the error channel, the
	// way a real backend reports an aborted request.
	failOnCancel bool
}

func (f *fakeStreamer) Stream(ctx context.Context, _ *gateway.StreamRequest) (<-chan gateway.StreamEvent, <-chan *gateway.Result, <-chan error) {
	f.mu.Lock()
	idx := f.calls
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	step := f.steps[idx]
	f.calls++
	onCall := f.onCall
	block := f.block
	failOnCancel := f.failOnCancel
	f.mu.Unlock()

	if onCall != nil {
		onCall()
	}

	events := make(chan gateway.StreamEvent, 64)
	results := make(chan *gateway.Result, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(results)
		defer close(errs)

		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				if failOnCancel {
					errs <- ctx.Err()
				}
				return
			}
		}
		if step.err != nil {
			errs <- step.err
			return
		}
		for _, d := range step.deltas {
			events <- gateway.StreamEvent{Type: gateway.EventTextDelta, Text: d}
		}
		results <- step.result
	}()
	return events, results, errs
}

func (f *fakeStreamer) GenerateTitle(context.Context, string) (string, error) {
	return "Scripted title", nil
}

func (f *fakeStreamer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{
		Mode:        "dev",
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "test.db"),
		TurnTimeout: 30,
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	t.Cleanup(func() { _ = driver.Close() })
	return store.New(driver, p)
}

func newTestOrchestrator(t *testing.T, st *store.Store, streamer ModelStreamer) *Orchestrator {
	t.Helper()
	registry := tools.NewRegistry(func(context.Context, string) (string, error) {
		return "", nil
	}, nil)
	return NewOrchestrator(
		st,
		streamer,
		registry,
		NewBroker(),
		nil,
		metrics.NewExporter(metrics.DefaultConfig()),
		&profile.Profile{TurnTimeout: 30},
	)
}

func newTurnRequest(chatID string) *TurnRequest {
	return &TurnRequest{
		ChatID:   chatID,
		UserID:   "user-1",
		UserType: store.UserTypeRegistered,
		Message: &store.Message{
			ID:    uuid.NewString(),
			Parts: []store.ContentPart{store.TextPart{Text: "Why is grass green?"}},
		},
		Model:      gateway.LookupModel(gateway.DefaultModelID),
		Visibility: store.VisibilityPrivate,
	}
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
			if ev.IsTerminal() {
				// The broker closes the channel right after; drain it.
				for range events {
				}
				return got
			}
		case <-timeout:
			t.Fatal("timed out draining event stream")
		}
	}
}

func concatDeltas(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == EventTextDelta {
			b.WriteString(ev.Delta)
		}
	}
	return b.String()
}

func TestSubmitTurnStreamsAndPersistsExactlyOnce(t *testing.T) {
	st := newTestStore(t)
	streamer := &fakeStreamer{steps: []scriptStep{{
		deltas: []string{"Chlorophyll ", "absorbs ", "red light."},
		result: &gateway.Result{Content: "Chlorophyll absorbs red light.", FinishReason: "stop"},
	}}}
	orch := newTestOrchestrator(t, st, streamer)

	chatID := uuid.NewString()
	events, unsubscribe, err := orch.SubmitTurn(context.Background(), newTurnRequest(chatID))
	require.NoError(t, err)
	defer unsubscribe()

	got := drain(t, events)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	require.Equal(t, EventDone, last.Type)
	assert.Equal(t, "completed", last.Reason)
	assert.NotEmpty(t, last.MessageID)

	msgs, err := st.ListMessages(context.Background(), &store.FindMessage{ChatID: &chatID})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)

	// The persisted text equals what the client saw as deltas.
	assert.Equal(t, concatDeltas(got), msgs[1].PlainText())
	assert.Equal(t, last.MessageID, msgs[1].ID)

	chat, err := st.GetChat(context.Background(), &store.FindChat{ID: &chatID})
	require.NoError(t, err)
	require.NotNil(t, chat)
}

func TestSubmitTurnPersistsUserMessageBeforeModelCall(t *testing.T) {
	st := newTestStore(t)
	chatID := uuid.NewString()

	streamer := &fakeStreamer{steps: []scriptStep{{err: fmt.Errorf("upstream exploded")}}}
	streamer.onCall = func() {
		msgs, err := st.ListMessages(context.Background(), &store.FindMessage{ChatID: &chatID})
		require.NoError(t, err)
		require.Len(t, msgs, 1, "user message must be durable before the model is called")
		require.Equal(t, store.RoleUser, msgs[0].Role)
	}
	orch := newTestOrchestrator(t, st, streamer)

	events, unsubscribe, err := orch.SubmitTurn(context.Background(), newTurnRequest(chatID))
	require.NoError(t, err)
	defer unsubscribe()

	got := drain(t, events)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Equal(t, "upstream_model_error", last.Code)

	// A failed generation leaves the chat exactly as after the user write.
	msgs, err := st.ListMessages(context.Background(), &store.FindMessage{ChatID: &chatID})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
}

func TestSubmitTurnQuotaExceeded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	chatID := uuid.NewString()
	_, err := st.CreateChat(ctx, &store.Chat{
		ID:         chatID,
		OwnerID:    "user-1",
		Title:      "Busy chat",
		Visibility: store.VisibilityPrivate,
		CreatedTs:  time.Now().UnixMicro(),
	})
	require.NoError(t, err)

	limit := store.EntitlementFor(store.UserTypeGuest).MaxMessagesPerDay
	msgs := make([]*store.Message, 0, limit)
	base := time.Now().UnixMicro()
	for i := 0; i < limit; i++ {
		msgs = append(msgs, &store.Message{
			ID:        uuid.NewString(),
			ChatID:    chatID,
			Role:      store.RoleUser,
			Parts:     []store.ContentPart{store.TextPart{Text: "hi"}},
			CreatedTs: base + int64(i),
		})
	}
	require.NoError(t, st.AppendMessages(ctx, msgs))

	streamer := &fakeStreamer{steps: []scriptStep{{result: &gateway.Result{Content: "x"}}}}
	orch := newTestOrchestrator(t, st, streamer)

	req := newTurnRequest(chatID)
	req.UserType = store.UserTypeGuest
	_, _, err = orch.SubmitTurn(ctx, req)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Zero(t, streamer.callCount())

	// No message was written on the rejected call.
	after, err := st.ListMessages(ctx, &store.FindMessage{ChatID: &chatID})
	require.NoError(t, err)
	assert.Len(t, after, limit)
}

func TestSubmitTurnRejectsConcurrentTurnOnSameChat(t *testing.T) {
	st := newTestStore(t)
	release := make(chan struct{})
	streamer := &fakeStreamer{
		block: release,
		steps: []scriptStep{{result: &gateway.Result{Content: "done"}}},
	}
	orch := newTestOrchestrator(t, st, streamer)

	chatID := uuid.NewString()
	events, unsubscribe, err := orch.SubmitTurn(context.Background(), newTurnRequest(chatID))
	require.NoError(t, err)
	defer unsubscribe()

	_, _, err = orch.SubmitTurn(context.Background(), newTurnRequest(chatID))
	assert.ErrorIs(t, err, ErrChatBusy)

	// The rejected submit wrote nothing: the running turn's transcript still
	// holds a single user message and its stream is still the latest one.
	msgs, err := st.ListMessages(context.Background(), &store.FindMessage{ChatID: &chatID})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)

	resumed, unsubResume, err := orch.Resume(context.Background(), chatID, "user-1")
	require.NoError(t, err)
	defer unsubResume()

	close(release)
	got := drain(t, events)
	assert.Equal(t, EventDone, got[len(got)-1].Type)
	reattached := drain(t, resumed)
	assert.Equal(t, EventDone, reattached[len(reattached)-1].Type)
}

func TestResumeLifecycle(t *testing.T) {
	st := newTestStore(t)
	release := make(chan struct{})
	streamer := &fakeStreamer{
		block: release,
		steps: []scriptStep{{
			deltas: []string{"answer"},
			result: &gateway.Result{Content: "answer"},
		}},
	}
	orch := newTestOrchestrator(t, st, streamer)

	chatID := uuid.NewString()
	events, unsubscribe, err := orch.SubmitTurn(context.Background(), newTurnRequest(chatID))
	require.NoError(t, err)
	defer unsubscribe()

	// A second subscriber attaches while the generation is active.
	resumed, unsubResume, err := orch.Resume(context.Background(), chatID, "user-1")
	require.NoError(t, err)
	defer unsubResume()

	close(release)

	first := drain(t, events)
	second := drain(t, resumed)
	require.NotEmpty(t, first)
	require.NotEmpty(t, second)

	// Both subscribers observe the same terminal event.
	assert.Equal(t, EventDone, first[len(first)-1].Type)
	assert.Equal(t, EventDone, second[len(second)-1].Type)
	assert.Equal(t, first[len(first)-1].MessageID, second[len(second)-1].MessageID)

	// After completion there is nothing to resume.
	_, _, err = orch.Resume(context.Background(), chatID, "user-1")
	assert.ErrorIs(t, err, ErrNoActiveStream)
}

func TestResumeChecksAccess(t *testing.T) {
	st := newTestStore(t)
	orch := newTestOrchestrator(t, st, &fakeStreamer{steps: []scriptStep{{}}})
	ctx := context.Background()

	chatID := uuid.NewString()
	_, err := st.CreateChat(ctx, &store.Chat{
		ID:         chatID,
		OwnerID:    "user-1",
		Title:      "Private chat",
		Visibility: store.VisibilityPrivate,
		CreatedTs:  time.Now().UnixMicro(),
	})
	require.NoError(t, err)

	_, _, err = orch.Resume(ctx, chatID, "someone-else")
	assert.ErrorIs(t, err, ErrUnauthorized)

	missing := uuid.NewString()
	_, _, err = orch.Resume(ctx, missing, "user-1")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestStopCancelsActiveGeneration(t *testing.T) {
	st := newTestStore(t)
	streamer := &fakeStreamer{
		block: make(chan struct{}), // never released: only cancellation ends it
		steps: []scriptStep{{result: &gateway.Result{Content: "never sent"}}},
	}
	orch := newTestOrchestrator(t, st, streamer)

	chatID := uuid.NewString()
	events, unsubscribe, err := orch.SubmitTurn(context.Background(), newTurnRequest(chatID))
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, orch.Stop(context.Background(), chatID, "user-1"))

	got := drain(t, events)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, EventDone, last.Type)
	assert.Equal(t, "cancelled", last.Reason)

	// Cancellation persists no partial assistant message.
	msgs, err := st.ListMessages(context.Background(), &store.FindMessage{ChatID: &chatID})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
}

func TestStopSurfacedAsModelErrorReportsCancelled(t *testing.T) {
	st := newTestStore(t)
	// A stop can reach the backend first, which then reports the abort on
	// its error channel. The turn must still end as a cancellation, not as
	// an upstream failure.
	streamer := &fakeStreamer{
		block:        make(chan struct{}),
		failOnCancel: true,
		steps:        []scriptStep{{result: &gateway.Result{Content: "never sent"}}},
	}
	orch := newTestOrchestrator(t, st, streamer)

	chatID := uuid.NewString()
	events, unsubscribe, err := orch.SubmitTurn(context.Background(), newTurnRequest(chatID))
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, orch.Stop(context.Background(), chatID, "user-1"))

	got := drain(t, events)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, EventDone, last.Type)
	assert.Equal(t, "cancelled", last.Reason)

	msgs, err := st.ListMessages(context.Background(), &store.FindMessage{ChatID: &chatID})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
}

func TestSubmitTurnRejectsSoftDeletedChat(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	chatID := uuid.NewString()
	_, err := st.CreateChat(ctx, &store.Chat{
		ID:         chatID,
		OwnerID:    "user-1",
		Title:      "Old chat",
		Visibility: store.VisibilityPrivate,
		CreatedTs:  time.Now().UnixMicro(),
	})
	require.NoError(t, err)
	hidden := true
	_, err = st.UpdateChat(ctx, &store.UpdateChat{ID: chatID, Hidden: &hidden})
	require.NoError(t, err)

	streamer := &fakeStreamer{steps: []scriptStep{{result: &gateway.Result{Content: "x"}}}}
	orch := newTestOrchestrator(t, st, streamer)

	// The id still belongs to the deleted chat; the submission must fail as
	// a validation error instead of trying to recreate the chat.
	_, _, err = orch.SubmitTurn(ctx, newTurnRequest(chatID))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "chatId", ve.Field)
	assert.Zero(t, streamer.callCount())

	msgs, err := st.ListMessages(ctx, &store.FindMessage{ChatID: &chatID})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestEditAndRegenerateTruncatesExactly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	chatID := uuid.NewString()
	_, err := st.CreateChat(ctx, &store.Chat{
		ID:         chatID,
		OwnerID:    "user-1",
		Title:      "History",
		Visibility: store.VisibilityPrivate,
		CreatedTs:  time.Now().UnixMicro(),
	})
	require.NoError(t, err)

	base := time.Now().UnixMicro()
	seed := []*store.Message{
		{ID: uuid.NewString(), ChatID: chatID, Role: store.RoleUser, Parts: []store.ContentPart{store.TextPart{Text: "q1"}}, CreatedTs: base},
		{ID: uuid.NewString(), ChatID: chatID, Role: store.RoleAssistant, Parts: []store.ContentPart{store.TextPart{Text: "a1"}}, CreatedTs: base + 1},
		{ID: uuid.NewString(), ChatID: chatID, Role: store.RoleUser, Parts: []store.ContentPart{store.TextPart{Text: "q2"}}, CreatedTs: base + 2},
		{ID: uuid.NewString(), ChatID: chatID, Role: store.RoleAssistant, Parts: []store.ContentPart{store.TextPart{Text: "a2"}}, CreatedTs: base + 3},
	}
	require.NoError(t, st.AppendMessages(ctx, seed))
	for _, id := range []string{seed[1].ID, seed[3].ID} {
		_, err := st.UpsertVote(ctx, &store.Vote{ChatID: chatID, MessageID: id, IsUpvoted: true})
		require.NoError(t, err)
	}

	streamer := &fakeStreamer{steps: []scriptStep{{
		deltas: []string{"fresh answer"},
		result: &gateway.Result{Content: "fresh answer"},
	}}}
	orch := newTestOrchestrator(t, st, streamer)

	req := newTurnRequest(chatID)
	events, unsubscribe, err := orch.EditAndRegenerate(ctx, req, seed[2].ID)
	require.NoError(t, err)
	defer unsubscribe()
	drain(t, events)

	msgs, err := st.ListMessages(ctx, &store.FindMessage{ChatID: &chatID})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "q1", msgs[0].PlainText())
	assert.Equal(t, "a1", msgs[1].PlainText())
	assert.Equal(t, req.Message.ID, msgs[2].ID)
	assert.Equal(t, "fresh answer", msgs[3].PlainText())

	// Votes for removed messages go with them; earlier votes survive.
	votes, err := st.ListVotes(ctx, &store.FindVote{ChatID: &chatID})
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, seed[1].ID, votes[0].MessageID)
}

func TestSubmitTurnExecutesToolsAndRecordsParts(t *testing.T) {
	st := newTestStore(t)
	call := gateway.ToolCall{ID: "call-1", Name: "no_such_tool", Arguments: `{"x":1}`}
	streamer := &fakeStreamer{steps: []scriptStep{
		{result: &gateway.Result{ToolCalls: []gateway.ToolCall{call}, FinishReason: "tool_calls"}},
		{deltas: []string{"final"}, result: &gateway.Result{Content: "final"}},
	}}
	orch := newTestOrchestrator(t, st, streamer)

	chatID := uuid.NewString()
	events, unsubscribe, err := orch.SubmitTurn(context.Background(), newTurnRequest(chatID))
	require.NoError(t, err)
	defer unsubscribe()

	got := drain(t, events)
	assert.Equal(t, 2, streamer.callCount())

	var sawInput, sawOutput bool
	for _, ev := range got {
		switch ev.Type {
		case EventToolInputAvailable:
			sawInput = true
			assert.Equal(t, "call-1", ev.ToolCallID)
		case EventToolOutput:
			sawOutput = true
			assert.Contains(t, string(ev.Output), "unknown tool")
		}
	}
	assert.True(t, sawInput)
	assert.True(t, sawOutput)

	// The tool failure is part of the record, not a turn failure.
	last := got[len(got)-1]
	require.Equal(t, EventDone, last.Type)

	msgs, err := st.ListMessages(context.Background(), &store.FindMessage{ChatID: &chatID})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	var toolPart *store.ToolCallPart
	for _, part := range msgs[1].Parts {
		if tp, ok := part.(store.ToolCallPart); ok {
			toolPart = &tp
		}
	}
	require.NotNil(t, toolPart)
	assert.Equal(t, store.ToolCallOutputAvailable, toolPart.State)
	assert.Equal(t, "no_such_tool", toolPart.ToolName)
	assert.Contains(t, string(toolPart.Output), "error")
	assert.Equal(t, "final", msgs[1].PlainText())
}
