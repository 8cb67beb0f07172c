// Package chat implements the message orchestration pipeline: for every
// inbound user message it coordinates persistence, embedding, memory
// retrieval, optional live web context, and reply generation, preserving
// per-conversation ordering throughout.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GobindChoudhary/AI-Chatbot/internal/genai"
	"github.com/GobindChoudhary/AI-Chatbot/internal/memory"
	"github.com/GobindChoudhary/AI-Chatbot/internal/observability"
	"github.com/GobindChoudhary/AI-Chatbot/internal/protocol"
	"github.com/GobindChoudhary/AI-Chatbot/internal/store"
	"github.com/GobindChoudhary/AI-Chatbot/internal/webctx"
)

// Timeouts are the per-collaborator call budgets. A timeout follows the
// same failure policy as an outright error from that collaborator.
type Timeouts struct {
	Store       time.Duration
	Embed       time.Duration
	MemoryQuery time.Duration
	WebSearch   time.Duration
	Generate    time.Duration
	Finalize    time.Duration
}

type Options struct {
	ShortTermLimit int
	MemoryTopK     int
	Timeouts       Timeouts
}

const outboundSendTimeout = 5 * time.Second

type Orchestrator struct {
	messages  store.Store
	memories  memory.Store
	embedder  genai.Embedder
	generator genai.Generator
	fetcher   webctx.Fetcher
	needsWeb  webctx.Predicate
	metrics   *observability.Metrics
	logger    *zap.Logger
	opts      Options
	seq       *Sequencer

	now func() time.Time
}

func NewOrchestrator(
	messages store.Store,
	memories memory.Store,
	embedder genai.Embedder,
	generator genai.Generator,
	fetcher webctx.Fetcher,
	gate webctx.Predicate,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts Options,
) *Orchestrator {
	if gate == nil {
		gate = webctx.NeedsLiveContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ShortTermLimit <= 0 {
		opts.ShortTermLimit = 20
	}
	if opts.MemoryTopK <= 0 {
		opts.MemoryTopK = 5
	}
	applyTimeoutDefaults(&opts.Timeouts)

	return &Orchestrator{
		messages:  messages,
		memories:  memories,
		embedder:  embedder,
		generator: generator,
		fetcher:   fetcher,
		needsWeb:  gate,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
		seq:       NewSequencer(),
		now:       time.Now,
	}
}

func applyTimeoutDefaults(t *Timeouts) {
	if t.Store <= 0 {
		t.Store = 5 * time.Second
	}
	if t.Embed <= 0 {
		t.Embed = 10 * time.Second
	}
	if t.MemoryQuery <= 0 {
		t.MemoryQuery = 3 * time.Second
	}
	if t.WebSearch <= 0 {
		t.WebSearch = 8 * time.Second
	}
	if t.Generate <= 0 {
		t.Generate = 45 * time.Second
	}
	if t.Finalize <= 0 {
		t.Finalize = 20 * time.Second
	}
}

// RunConnection drives the message loop for one authenticated websocket
// connection until the context ends or inbound closes.
func (o *Orchestrator) RunConnection(ctx context.Context, user store.User, inbound <-chan any, outbound chan<- any) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-inbound:
			if !ok {
				return nil
			}
			submit, ok := raw.(protocol.SubmitMessage)
			if !ok {
				o.metrics.WSMessages.WithLabelValues("in", "unsupported").Inc()
				continue
			}
			o.metrics.WSMessages.WithLabelValues("in", string(protocol.TypeSubmitMessage)).Inc()
			o.accept(ctx, user, submit, outbound)
		}
	}
}

// Drain blocks until every enqueued pipeline task has finished. Used on
// shutdown so in-flight messages finalize before the process exits.
func (o *Orchestrator) Drain() {
	o.seq.Wait()
}

// accept validates conversation ownership and enqueues the pipeline task.
// Rejected submissions never enter the sequencer.
func (o *Orchestrator) accept(connCtx context.Context, user store.User, submit protocol.SubmitMessage, outbound chan<- any) {
	checkCtx, cancel := context.WithTimeout(connCtx, o.opts.Timeouts.Store)
	conv, err := o.messages.GetConversation(checkCtx, submit.ConversationID)
	cancel()

	switch {
	case errors.Is(err, store.ErrNotFound):
		o.metrics.PipelineEvents.WithLabelValues("rejected").Inc()
		o.send(connCtx, outbound, protocol.NewErrorEvent(submit.ConversationID, protocol.CodeUnknownConversation, "conversation does not exist"))
		return
	case err != nil:
		o.metrics.CollaboratorErrors.WithLabelValues("message_store", "lookup_failed").Inc()
		o.logger.Warn("conversation lookup failed",
			zap.String("conversation_id", submit.ConversationID),
			zap.Error(err))
		o.send(connCtx, outbound, protocol.NewErrorEvent(submit.ConversationID, protocol.CodeProcessingFailed, "message could not be processed"))
		return
	case conv.UserID != user.ID:
		// Owned by someone else; indistinguishable from missing on purpose.
		o.metrics.PipelineEvents.WithLabelValues("rejected").Inc()
		o.send(connCtx, outbound, protocol.NewErrorEvent(submit.ConversationID, protocol.CodeUnknownConversation, "conversation does not exist"))
		return
	}

	o.metrics.PipelineEvents.WithLabelValues("accepted").Inc()
	o.seq.Enqueue(submit.ConversationID, func() {
		o.process(connCtx, user, submit, outbound)
	})
}

// process runs one message through the pipeline. It is invoked by the
// sequencer, so two messages of the same conversation never overlap.
func (o *Orchestrator) process(connCtx context.Context, user store.User, submit protocol.SubmitMessage, outbound chan<- any) {
	if connCtx.Err() != nil {
		// Connection gone before anything was persisted.
		o.metrics.PipelineEvents.WithLabelValues("discarded").Inc()
		return
	}
	started := time.Now()

	userMsg, vector, ok := o.persistAndEmbed(connCtx, user, submit, outbound)
	if !ok {
		return
	}

	external, history, matches := o.retrieveContext(connCtx, user, submit, userMsg, vector)

	reply := o.generate(connCtx, external, history, matches, userMsg.ID)

	o.send(connCtx, outbound, protocol.NewAssistantReply(submit.ConversationID, userMsg.ID, reply))
	o.metrics.ObserveReplyLatency(time.Since(started))
	o.metrics.PipelineEvents.WithLabelValues("replied").Inc()

	// Finalization is detached from the connection: it runs on a
	// background context so a dropped client cannot cancel it, but still
	// inside the sequencer slot so the next message of this conversation
	// sees the persisted reply.
	o.finalize(user, submit.ConversationID, reply)
}

// persistAndEmbed runs the two fatal collaborator calls concurrently.
// Either failure aborts the message with a generic processing error and
// no memory write.
func (o *Orchestrator) persistAndEmbed(connCtx context.Context, user store.User, submit protocol.SubmitMessage, outbound chan<- any) (store.Message, []float32, bool) {
	var (
		userMsg    store.Message
		vector     []float32
		persistErr error
		embedErr   error
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(connCtx, o.opts.Timeouts.Store)
		defer cancel()
		userMsg, persistErr = o.messages.AppendMessage(ctx, submit.ConversationID, user.ID, store.RoleUser, submit.Content)
	}()
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(connCtx, o.opts.Timeouts.Embed)
		defer cancel()
		vector, embedErr = o.embedder.Embed(ctx, submit.Content)
	}()
	wg.Wait()

	if persistErr == nil && embedErr == nil {
		return userMsg, vector, true
	}

	if persistErr != nil {
		o.metrics.CollaboratorErrors.WithLabelValues("message_store", "append_failed").Inc()
		o.logger.Warn("message persist failed",
			zap.String("conversation_id", submit.ConversationID),
			zap.Error(persistErr))
	}
	if embedErr != nil {
		o.metrics.CollaboratorErrors.WithLabelValues("embedder", "embed_failed").Inc()
		o.logger.Warn("message embedding failed",
			zap.String("conversation_id", submit.ConversationID),
			zap.Error(embedErr))
	}
	o.metrics.PipelineEvents.WithLabelValues("aborted").Inc()
	o.send(connCtx, outbound, protocol.NewErrorEvent(submit.ConversationID, protocol.CodeProcessingFailed, "message could not be processed"))
	return store.Message{}, nil, false
}

// retrieveContext gathers the generation inputs concurrently. Memory and
// history failures degrade to empty results; a gated web fetch failure
// substitutes the advisory segment. None of them abort the pipeline.
func (o *Orchestrator) retrieveContext(connCtx context.Context, user store.User, submit protocol.SubmitMessage, userMsg store.Message, vector []float32) (string, []store.Message, []memory.Match) {
	gated := o.fetcher != nil && o.needsWeb(submit.Content)

	var (
		matches    []memory.Match
		history    []store.Message
		external   string
		queryErr   error
		historyErr error
		upsertErr  error
		webErr     error
	)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(connCtx, o.opts.Timeouts.MemoryQuery)
		defer cancel()
		matches, queryErr = o.memories.Query(ctx, user.ID, vector, o.opts.MemoryTopK)
	}()
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(connCtx, o.opts.Timeouts.Store)
		defer cancel()
		history, historyErr = o.messages.ListRecentMessages(ctx, submit.ConversationID, o.opts.ShortTermLimit)
	}()
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(connCtx, o.opts.Timeouts.MemoryQuery)
		defer cancel()
		entry := memory.Entry{
			ID:             userMsg.ID,
			UserID:         user.ID,
			ConversationID: submit.ConversationID,
			Text:           submit.Content,
		}
		upsertErr = o.memories.Upsert(ctx, entry, vector)
	}()
	if gated {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(connCtx, o.opts.Timeouts.WebSearch)
			defer cancel()
			external, webErr = o.fetcher.Search(ctx, submit.Content)
		}()
	}
	wg.Wait()

	if queryErr != nil {
		o.metrics.CollaboratorErrors.WithLabelValues("memory_store", "query_failed").Inc()
		o.logger.Warn("memory query failed", zap.String("user_id", user.ID), zap.Error(queryErr))
		matches = nil
	}
	if historyErr != nil {
		o.metrics.CollaboratorErrors.WithLabelValues("message_store", "history_failed").Inc()
		o.logger.Warn("history fetch failed",
			zap.String("conversation_id", submit.ConversationID),
			zap.Error(historyErr))
		// The new message alone still gives generation something to answer.
		history = []store.Message{userMsg}
	}
	if upsertErr != nil {
		o.metrics.CollaboratorErrors.WithLabelValues("memory_store", "upsert_failed").Inc()
		o.logger.Warn("memory upsert failed", zap.String("message_id", userMsg.ID), zap.Error(upsertErr))
	}
	if gated && webErr != nil {
		o.metrics.CollaboratorErrors.WithLabelValues("web_fetcher", "search_failed").Inc()
		o.logger.Warn("web context fetch failed",
			zap.String("conversation_id", submit.ConversationID),
			zap.Error(webErr))
		external = webctx.FallbackAdvisory
	}

	return external, history, matches
}

// generate invokes the model with the assembled context. Failure yields
// the deterministic fallback text, never a protocol error.
func (o *Orchestrator) generate(connCtx context.Context, external string, history []store.Message, matches []memory.Match, excludeEntryID string) string {
	ctx, cancel := context.WithTimeout(connCtx, o.opts.Timeouts.Generate)
	defer cancel()

	reply, err := o.generator.Generate(ctx, buildPrompt(o.now(), external, history, matches, excludeEntryID))
	if err != nil {
		o.metrics.CollaboratorErrors.WithLabelValues("generator", "generate_failed").Inc()
		o.metrics.PipelineEvents.WithLabelValues("generation_fallback").Inc()
		o.logger.Warn("generation failed", zap.Error(err))
		return FallbackReply
	}
	return reply
}

// finalize persists the delivered reply and its memory entry. Failures
// here are logged and counted only; the user already has their answer.
func (o *Orchestrator) finalize(user store.User, conversationID, reply string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.Timeouts.Finalize)
	defer cancel()

	var (
		assistantMsg store.Message
		vector       []float32
		appendErr    error
		embedErr     error
	)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assistantMsg, appendErr = o.messages.AppendMessage(ctx, conversationID, user.ID, store.RoleAssistant, reply)
	}()
	go func() {
		defer wg.Done()
		vector, embedErr = o.embedder.Embed(ctx, reply)
	}()
	wg.Wait()

	if appendErr != nil {
		o.metrics.CollaboratorErrors.WithLabelValues("message_store", "finalize_append_failed").Inc()
		o.logger.Warn("reply persist failed",
			zap.String("conversation_id", conversationID),
			zap.Error(appendErr))
		return
	}
	if embedErr != nil {
		o.metrics.CollaboratorErrors.WithLabelValues("embedder", "finalize_embed_failed").Inc()
		o.logger.Warn("reply embedding failed",
			zap.String("message_id", assistantMsg.ID),
			zap.Error(embedErr))
		return
	}

	entry := memory.Entry{
		ID:             assistantMsg.ID,
		UserID:         user.ID,
		ConversationID: conversationID,
		Text:           reply,
	}
	if err := o.memories.Upsert(ctx, entry, vector); err != nil {
		o.metrics.CollaboratorErrors.WithLabelValues("memory_store", "finalize_upsert_failed").Inc()
		o.logger.Warn("reply memory upsert failed",
			zap.String("message_id", assistantMsg.ID),
			zap.Error(err))
	}
}

// send delivers one outbound event without ever wedging the pipeline on a
// slow or gone client.
func (o *Orchestrator) send(ctx context.Context, outbound chan<- any, msg any) {
	timer := time.NewTimer(outboundSendTimeout)
	defer timer.Stop()

	select {
	case outbound <- msg:
		o.metrics.WSMessages.WithLabelValues("out", outboundType(msg)).Inc()
	case <-ctx.Done():
		o.metrics.PipelineEvents.WithLabelValues("outbound_drop").Inc()
	case <-timer.C:
		o.metrics.PipelineEvents.WithLabelValues("outbound_drop").Inc()
	}
}

func outboundType(msg any) string {
	switch msg.(type) {
	case protocol.AssistantReply:
		return string(protocol.TypeAssistantReply)
	case protocol.ErrorEvent:
		return string(protocol.TypeErrorEvent)
	default:
		return "unknown"
	}
}
