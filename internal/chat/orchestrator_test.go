package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GobindChoudhary/AI-Chatbot/internal/genai"
	"github.com/GobindChoudhary/AI-Chatbot/internal/memory"
	"github.com/GobindChoudhary/AI-Chatbot/internal/observability"
	"github.com/GobindChoudhary/AI-Chatbot/internal/protocol"
	"github.com/GobindChoudhary/AI-Chatbot/internal/store"
	"github.com/GobindChoudhary/AI-Chatbot/internal/webctx"
)

type fakeGenerator struct {
	mu      sync.Mutex
	prompts [][]genai.Segment
	reply   string
	err     error
	delay   time.Duration
}

func (g *fakeGenerator) Generate(ctx context.Context, segments []genai.Segment) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, segments)
	g.mu.Unlock()
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) lastPrompt() []genai.Segment {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return nil
	}
	return g.prompts[len(g.prompts)-1]
}

type fakeFetcher struct {
	calls atomic.Int32
	out   string
	err   error
}

func (f *fakeFetcher) Search(ctx context.Context, query string) (string, error) {
	f.calls.Add(1)
	return f.out, f.err
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedder down")
}

type appendFailStore struct {
	store.Store
}

func (s *appendFailStore) AppendMessage(ctx context.Context, conversationID, userID string, role store.Role, content string) (store.Message, error) {
	return store.Message{}, errors.New("message store down")
}

type pipelineEnv struct {
	orch     *Orchestrator
	messages store.Store
	memories memory.Store
	user     store.User
	conv     store.Conversation
}

func newPipelineEnv(t *testing.T, messages store.Store, embedder genai.Embedder, gen genai.Generator, fetcher webctx.Fetcher) *pipelineEnv {
	t.Helper()

	ctx := context.Background()
	if messages == nil {
		messages = store.NewInMemoryStore()
	}
	memories := memory.NewChromemStore()
	if embedder == nil {
		embedder = genai.NewMockEmbedder(32)
	}
	metrics := observability.NewMetrics(fmt.Sprintf("chatbot_test_%d", time.Now().UnixNano()))

	orch := NewOrchestrator(messages, memories, embedder, gen, fetcher, nil, metrics, nil, Options{})

	user, err := messages.CreateUser(ctx, "gobind", "gobind@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	conv, err := messages.CreateConversation(ctx, user.ID, "first chat")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	return &pipelineEnv{orch: orch, messages: messages, memories: memories, user: user, conv: conv}
}

// run drives a connection loop, invokes fn to exchange events, then
// closes inbound and drains the pipeline.
func (e *pipelineEnv) run(t *testing.T, fn func(inbound chan<- any, outbound <-chan any)) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 64)
	done := make(chan error, 1)
	go func() {
		done <- e.orch.RunConnection(ctx, e.user, inbound, outbound)
	}()

	fn(inbound, outbound)

	close(inbound)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunConnection() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("RunConnection did not exit")
	}
	e.orch.Drain()
}

func submitEvent(conversationID, content string) protocol.SubmitMessage {
	return protocol.SubmitMessage{
		Type:           protocol.TypeSubmitMessage,
		ConversationID: conversationID,
		Content:        content,
	}
}

func waitEvent(t *testing.T, outbound <-chan any) any {
	t.Helper()
	select {
	case msg := <-outbound:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for outbound event")
		return nil
	}
}

func TestHelloRoundTrip(t *testing.T) {
	gen := &fakeGenerator{reply: "Hi! How can I help?"}
	env := newPipelineEnv(t, nil, nil, gen, nil)

	env.run(t, func(inbound chan<- any, outbound <-chan any) {
		inbound <- submitEvent(env.conv.ID, "hello")

		msg := waitEvent(t, outbound)
		reply, ok := msg.(protocol.AssistantReply)
		if !ok {
			t.Fatalf("event type = %T, want AssistantReply", msg)
		}
		if reply.ConversationID != env.conv.ID {
			t.Fatalf("ConversationID = %q, want %q", reply.ConversationID, env.conv.ID)
		}
		if reply.Content != "Hi! How can I help?" {
			t.Fatalf("Content = %q", reply.Content)
		}
	})

	msgs, err := env.messages.ListRecentMessages(context.Background(), env.conv.ID, 20)
	if err != nil {
		t.Fatalf("ListRecentMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[0].Content != "hello" {
		t.Fatalf("first message = %+v, want user hello", msgs[0])
	}
	if msgs[1].Role != store.RoleAssistant || msgs[1].Content == "" {
		t.Fatalf("second message = %+v, want assistant reply", msgs[1])
	}
}

func TestReplyNamesTheAnsweredMessage(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	env := newPipelineEnv(t, nil, nil, gen, nil)

	var replyMessageID string
	env.run(t, func(inbound chan<- any, outbound <-chan any) {
		inbound <- submitEvent(env.conv.ID, "hello")
		reply := waitEvent(t, outbound).(protocol.AssistantReply)
		replyMessageID = reply.MessageID
	})

	msgs, err := env.messages.ListRecentMessages(context.Background(), env.conv.ID, 20)
	if err != nil {
		t.Fatalf("ListRecentMessages() error = %v", err)
	}
	if msgs[0].ID != replyMessageID {
		t.Fatalf("reply MessageID = %q, want user message ID %q", replyMessageID, msgs[0].ID)
	}
}

func TestWebFetchFailureStillReplies(t *testing.T) {
	gen := &fakeGenerator{reply: "about 31 degrees"}
	fetcher := &fakeFetcher{err: errors.New("tavily down")}
	env := newPipelineEnv(t, nil, nil, gen, fetcher)

	env.run(t, func(inbound chan<- any, outbound <-chan any) {
		inbound <- submitEvent(env.conv.ID, "what is the weather today")

		msg := waitEvent(t, outbound)
		reply, ok := msg.(protocol.AssistantReply)
		if !ok {
			t.Fatalf("event type = %T, want AssistantReply", msg)
		}
		if reply.Content == "" {
			t.Fatalf("reply content is empty")
		}
	})

	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("fetcher calls = %d, want 1", got)
	}

	var sawAdvisory bool
	for _, seg := range gen.lastPrompt() {
		if strings.Contains(seg.Text, webctx.FallbackAdvisory) {
			sawAdvisory = true
		}
	}
	if !sawAdvisory {
		t.Fatalf("prompt lacks the advisory segment after web fetch failure")
	}
}

func TestWebFetchNotGatedForPlainMessages(t *testing.T) {
	gen := &fakeGenerator{reply: "sure"}
	fetcher := &fakeFetcher{out: "unused"}
	env := newPipelineEnv(t, nil, nil, gen, fetcher)

	env.run(t, func(inbound chan<- any, outbound <-chan any) {
		inbound <- submitEvent(env.conv.ID, "tell me about goroutines")
		waitEvent(t, outbound)
	})

	if got := fetcher.calls.Load(); got != 0 {
		t.Fatalf("fetcher calls = %d, want 0 for a non-temporal message", got)
	}
}

func TestGenerationFailureYieldsFallback(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("rate limited")}
	env := newPipelineEnv(t, nil, nil, gen, nil)

	env.run(t, func(inbound chan<- any, outbound <-chan any) {
		inbound <- submitEvent(env.conv.ID, "hello")

		msg := waitEvent(t, outbound)
		reply, ok := msg.(protocol.AssistantReply)
		if !ok {
			t.Fatalf("event type = %T, want AssistantReply", msg)
		}
		if reply.Content != FallbackReply {
			t.Fatalf("Content = %q, want the fallback text", reply.Content)
		}
	})

	// The fallback is still persisted so the transcript matches what the
	// user saw.
	msgs, err := env.messages.ListRecentMessages(context.Background(), env.conv.ID, 20)
	if err != nil {
		t.Fatalf("ListRecentMessages() error = %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != FallbackReply {
		t.Fatalf("stored messages = %+v", msgs)
	}
}

func TestPersistFailureAbortsWithoutMemoryWrite(t *testing.T) {
	gen := &fakeGenerator{reply: "never sent"}
	failing := &appendFailStore{Store: store.NewInMemoryStore()}
	env := newPipelineEnv(t, failing, nil, gen, nil)

	env.run(t, func(inbound chan<- any, outbound <-chan any) {
		inbound <- submitEvent(env.conv.ID, "hello")

		msg := waitEvent(t, outbound)
		evt, ok := msg.(protocol.ErrorEvent)
		if !ok {
			t.Fatalf("event type = %T, want ErrorEvent", msg)
		}
		if evt.Code != protocol.CodeProcessingFailed {
			t.Fatalf("Code = %q, want %q", evt.Code, protocol.CodeProcessingFailed)
		}
	})

	vec, err := genai.NewMockEmbedder(32).Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	matches, err := env.memories.Query(context.Background(), env.user.ID, vec, 5)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("memory has %d entries after aborted pipeline, want 0", len(matches))
	}
}

func TestEmbedFailureAborts(t *testing.T) {
	gen := &fakeGenerator{reply: "never sent"}
	env := newPipelineEnv(t, nil, failingEmbedder{}, gen, nil)

	env.run(t, func(inbound chan<- any, outbound <-chan any) {
		inbound <- submitEvent(env.conv.ID, "hello")

		msg := waitEvent(t, outbound)
		evt, ok := msg.(protocol.ErrorEvent)
		if !ok {
			t.Fatalf("event type = %T, want ErrorEvent", msg)
		}
		if evt.Code != protocol.CodeProcessingFailed {
			t.Fatalf("Code = %q", evt.Code)
		}
	})

	if len(gen.prompts) != 0 {
		t.Fatalf("generation ran despite aborted pipeline")
	}
}

func TestUnknownConversationRejected(t *testing.T) {
	gen := &fakeGenerator{reply: "never sent"}
	env := newPipelineEnv(t, nil, nil, gen, nil)

	other, err := env.messages.CreateUser(context.Background(), "mallory", "mallory@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	foreign, err := env.messages.CreateConversation(context.Background(), other.ID, "not yours")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	env.run(t, func(inbound chan<- any, outbound <-chan any) {
		for _, convID := range []string{"missing-conversation", foreign.ID} {
			inbound <- submitEvent(convID, "hello")

			msg := waitEvent(t, outbound)
			evt, ok := msg.(protocol.ErrorEvent)
			if !ok {
				t.Fatalf("event type = %T, want ErrorEvent", msg)
			}
			if evt.Code != protocol.CodeUnknownConversation {
				t.Fatalf("Code = %q, want %q", evt.Code, protocol.CodeUnknownConversation)
			}
		}
	})

	if len(gen.prompts) != 0 {
		t.Fatalf("rejected submissions reached the pipeline")
	}
}

func TestOrderingUnderConcurrentSubmissions(t *testing.T) {
	gen := &fakeGenerator{reply: "ack", delay: 2 * time.Millisecond}
	env := newPipelineEnv(t, nil, nil, gen, nil)

	const n = 10
	env.run(t, func(inbound chan<- any, outbound <-chan any) {
		for i := 0; i < n; i++ {
			inbound <- submitEvent(env.conv.ID, fmt.Sprintf("message %02d", i))
		}
		for i := 0; i < n; i++ {
			waitEvent(t, outbound)
		}
	})

	msgs, err := env.messages.ListRecentMessages(context.Background(), env.conv.ID, 2*n)
	if err != nil {
		t.Fatalf("ListRecentMessages() error = %v", err)
	}
	if len(msgs) != 2*n {
		t.Fatalf("stored %d messages, want %d", len(msgs), 2*n)
	}
	// Strict sequencing stores user message i, its reply, then i+1.
	for i := 0; i < n; i++ {
		userMsg := msgs[2*i]
		reply := msgs[2*i+1]
		if userMsg.Role != store.RoleUser || userMsg.Content != fmt.Sprintf("message %02d", i) {
			t.Fatalf("position %d = %+v, want user message %02d", 2*i, userMsg, i)
		}
		if reply.Role != store.RoleAssistant {
			t.Fatalf("position %d = %+v, want assistant reply", 2*i+1, reply)
		}
	}
}

func TestMemoryEntryMetadataMatchesSource(t *testing.T) {
	gen := &fakeGenerator{reply: "noted"}
	env := newPipelineEnv(t, nil, nil, gen, nil)

	env.run(t, func(inbound chan<- any, outbound <-chan any) {
		inbound <- submitEvent(env.conv.ID, "I live in Pune")
		waitEvent(t, outbound)
	})

	vec, err := genai.NewMockEmbedder(32).Embed(context.Background(), "I live in Pune")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	matches, err := env.memories.Query(context.Background(), env.user.ID, vec, 5)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no memory entries after pipeline run")
	}

	top := matches[0].Entry
	if top.Text != "I live in Pune" {
		t.Fatalf("top match = %+v, want the submitted message", top)
	}
	if top.UserID != env.user.ID || top.ConversationID != env.conv.ID {
		t.Fatalf("entry metadata = %+v, want user %q conversation %q", top, env.user.ID, env.conv.ID)
	}

	msgs, err := env.messages.ListRecentMessages(context.Background(), env.conv.ID, 20)
	if err != nil {
		t.Fatalf("ListRecentMessages() error = %v", err)
	}
	if top.ID != msgs[0].ID {
		t.Fatalf("entry ID = %q, want source message ID %q", top.ID, msgs[0].ID)
	}
}

func TestPromptPrecedence(t *testing.T) {
	gen := &fakeGenerator{reply: "answer"}
	fetcher := &fakeFetcher{out: "breaking: it is sunny"}
	env := newPipelineEnv(t, nil, nil, gen, fetcher)

	env.run(t, func(inbound chan<- any, outbound <-chan any) {
		inbound <- submitEvent(env.conv.ID, "remember that I prefer tea")
		waitEvent(t, outbound)
		inbound <- submitEvent(env.conv.ID, "what is the weather today")
		waitEvent(t, outbound)
	})

	prompt := gen.lastPrompt()
	if len(prompt) == 0 {
		t.Fatalf("no prompt captured")
	}

	var externalIdx, firstHistoryIdx, memoryIdx = -1, -1, -1
	for i, seg := range prompt {
		switch {
		case strings.Contains(seg.Text, "breaking: it is sunny"):
			externalIdx = i
		case seg.Role != genai.RoleSystem && firstHistoryIdx == -1:
			firstHistoryIdx = i
		case strings.Contains(seg.Text, "remembered from earlier conversations"):
			memoryIdx = i
		}
	}

	if externalIdx == -1 {
		t.Fatalf("prompt lacks external context segment")
	}
	if firstHistoryIdx == -1 {
		t.Fatalf("prompt lacks history segments")
	}
	if memoryIdx == -1 {
		t.Fatalf("prompt lacks the long-term memory note")
	}
	if !(externalIdx < firstHistoryIdx && firstHistoryIdx < memoryIdx) {
		t.Fatalf("segment order external=%d history=%d memory=%d, want external < history < memory",
			externalIdx, firstHistoryIdx, memoryIdx)
	}
}
