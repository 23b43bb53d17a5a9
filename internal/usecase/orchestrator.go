package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"hearth/internal/domain"
	"hearth/internal/usecase/eventbus"
	"hearth/internal/infra/tracer"
)

// Default loop bounds.
const (
	DefaultMaxToolRetries   = 2
	DefaultMaxOutputRetries = 1
	DefaultMaxTurns         = 8
)

// OutputValidator checks a final assistant answer before it is accepted.
// A nil validator accepts everything.
type OutputValidator func(content string) error

// OrchestratorConfig bounds the streaming loop.
type OrchestratorConfig struct {
	ProfileID        string
	MaxToolRetries   int
	MaxOutputRetries int
	MaxTurns         int
}

// OrchestratorDeps are the orchestrator's collaborators.
type OrchestratorDeps struct {
	Provider   domain.StreamingLLMProvider
	Store      domain.ConversationStore
	Profiles   domain.ProfileResolver
	Tools      domain.ToolSource
	Toggler    domain.ToolToggler
	Executor   *ToolExecutor
	Bus        *eventbus.Bus
	Streams    *StreamTable
	Locker     *ConversationLocker
	Builder    *ContextBuilder
	Classifier *ErrorClassifier
	Validator  OutputValidator
	Logger     *slog.Logger
}

// Orchestrator drives one assistant response per send: context building,
// streaming, the nested tool sub-loop, and terminal persistence. All of its
// output is events on the bus; it never touches the UI directly.
type Orchestrator struct {
	OrchestratorDeps
	cfg OrchestratorConfig
	wg  sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. Zero bounds in cfg select the
// defaults.
func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxToolRetries < 0 {
		cfg.MaxToolRetries = 0
	}
	if cfg.MaxOutputRetries < 0 {
		cfg.MaxOutputRetries = 0
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	return &Orchestrator{
		OrchestratorDeps: deps,
		cfg:              cfg,
	}
}

// Run consumes user events from the subscription until the context is
// cancelled or the bus closes. Sends run on their own goroutines so a long
// stream never blocks cancellation of another conversation.
func (o *Orchestrator) Run(ctx context.Context, sub *eventbus.Subscription) {
	defer o.wg.Wait()

	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, eventbus.ErrClosed) {
				o.Logger.Error("orchestrator receive failed", "error", err)
			}
			return
		}
		o.handleEvent(ctx, ev)
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev domain.Event) {
	switch ev.Type {
	case domain.EventUserSendMessage:
		var p domain.SendMessagePayload
		if err := ev.DecodePayload(&p); err != nil {
			o.Logger.Warn("malformed send payload", "error", err)
			return
		}
		convID := ev.ConversationID
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.HandleSend(ctx, convID, p.Text)
		}()

	case domain.EventUserStopStreaming:
		o.Stop(ev.ConversationID)

	case domain.EventUserToggleTool:
		var p domain.ToggleToolPayload
		if err := ev.DecodePayload(&p); err != nil {
			o.Logger.Warn("malformed toggle payload", "error", err)
			return
		}
		o.handleToggleTool(p.Name, p.Enabled)

	case domain.EventUserNewConversation:
		o.handleNewConversation(ctx)

	case domain.EventUserSelectConversation:
		o.handleSelectConversation(ctx, ev.ConversationID)
	}
}

// Stop requests cooperative cancellation of the conversation's live stream.
// A stop with nothing live is a no-op.
func (o *Orchestrator) Stop(conversationID string) bool {
	if o.Streams.Cancel(conversationID) {
		o.Logger.Info("cancellation requested", "conversation", conversationID)
		return true
	}
	return false
}

// HandleSend runs the full state machine for one user message and returns
// the terminal state. Exactly one terminal event (completed, cancelled, or
// error) is published per accepted send; a rejected send publishes a single
// busy error.
func (o *Orchestrator) HandleSend(ctx context.Context, conversationID, text string) domain.StreamState {
	ctx = domain.WithConversationID(ctx, conversationID)
	ctx, span := tracer.StartSpan(ctx, "orchestrator.send")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("conversation.id", conversationID))

	if text == "" {
		o.publishError(conversationID, "", domain.CodeInvalidInput, "empty message", false)
		return domain.StreamErrored
	}

	handle, err := o.Streams.Begin(conversationID)
	if err != nil {
		o.publishError(conversationID, "", domain.CodeBusy,
			"a response is already streaming in this conversation", false)
		tracer.RecordError(span, err)
		return domain.StreamErrored
	}
	defer o.Streams.End(handle)

	st := newSendSession(o, handle)
	state := st.run(ctx, text)
	span.SetAttributes(tracer.StringAttr("stream.state", state.String()))
	if state == domain.StreamCompleted {
		tracer.SetOK(span)
	}
	return state
}

// sendSession is the per-send working state of the machine.
type sendSession struct {
	o      *Orchestrator
	handle *domain.StreamHandle
	convID string

	profile    domain.Profile
	schemas    []domain.ToolSchema
	transcript []domain.Message

	full     *streamAccumulator // whole-stream text, as the user saw it
	records  []domain.ToolCallRecord
	tokens   int
	outRetry int
}

func newSendSession(o *Orchestrator, handle *domain.StreamHandle) *sendSession {
	return &sendSession{
		o:      o,
		handle: handle,
		convID: handle.ConversationID(),
		full:   newStreamAccumulator(),
	}
}

func (s *sendSession) run(ctx context.Context, text string) domain.StreamState {
	// BuildingContext: persist the user message, resolve the profile, and
	// snapshot the enabled tools. Later toggles do not affect this stream.
	if err := s.buildContext(ctx, text); err != nil {
		return s.finishErrored(err)
	}

	s.o.Bus.Publish(domain.NewEvent(domain.EventStreamStarted, s.convID, domain.StreamStartedPayload{
		StreamID: s.handle.ID(),
		Model:    s.profile.Model,
	}))

	for turn := 0; turn < s.o.cfg.MaxTurns; turn++ {
		if s.handle.Cancelled() {
			return s.finishCancelled(ctx)
		}

		turnAcc, err := s.streamTurn(ctx)
		if err != nil {
			return s.finishErrored(err)
		}
		if s.handle.Cancelled() {
			return s.finishCancelled(ctx)
		}

		s.addUsage(turnAcc)

		calls := turnAcc.ToolCalls()
		if len(calls) == 0 {
			return s.finishTurn(ctx, turnAcc)
		}

		// Nested tool sub-loop: execute each call, publish its started and
		// completed events exactly once, feed results back, continue.
		s.transcript = append(s.transcript, domain.Message{
			Role:      domain.RoleAssistant,
			Content:   turnAcc.Text(),
			ToolCalls: toolCallRecords(calls),
		})

		for _, call := range calls {
			if s.handle.Cancelled() {
				return s.finishCancelled(ctx)
			}
			rec, terminal := s.runToolCall(ctx, call)
			s.records = append(s.records, rec)
			if terminal {
				return s.finishErrored(domain.WrapOpDetail("orchestrator.tool",
					domain.ErrToolExecution, rec.Error))
			}
			s.transcript = append(s.transcript, domain.Message{
				Role:       domain.RoleTool,
				ToolCallID: rec.CallID,
				Content:    toolFeedbackContent(rec),
			})
		}
	}

	return s.finishErrored(domain.WrapOpDetail("orchestrator.loop", domain.ErrInternal,
		fmt.Sprintf("no final answer after %d turns", s.o.cfg.MaxTurns)))
}

// buildContext persists the user message and prepares the first request's
// inputs.
func (s *sendSession) buildContext(ctx context.Context, text string) error {
	profile, err := s.o.Profiles.Resolve(s.o.cfg.ProfileID)
	if err != nil {
		return domain.WrapOp("orchestrator.profile", err)
	}
	s.profile = profile

	userMsg := domain.Message{
		ID:             domain.NewID(),
		ConversationID: s.convID,
		Role:           domain.RoleUser,
		Content:        text,
		CreatedAt:      time.Now(),
	}
	if err := s.persist(ctx, userMsg); err != nil {
		return err
	}

	conv, err := s.o.Store.Load(ctx, s.convID)
	if err != nil {
		return domain.WrapOp("orchestrator.load", err)
	}
	s.transcript = conv.Messages

	s.schemas = enabledSchemas(s.o.Tools)
	return nil
}

// streamTurn makes one provider call and folds its deltas, publishing delta
// events as they arrive. Cancellation mid-stream tears down the provider
// call and returns what accumulated so far.
func (s *sendSession) streamTurn(ctx context.Context) (*streamAccumulator, error) {
	req := s.o.Builder.Build(s.profile, s.transcript, s.schemas)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deltas, err := s.o.Provider.ChatStream(turnCtx, req)
	if err != nil {
		return nil, domain.WrapOp("orchestrator.stream", err)
	}

	acc := newStreamAccumulator()
	for delta := range deltas {
		if delta.Err != nil {
			return nil, domain.WrapOp("orchestrator.stream", delta.Err)
		}

		acc.add(delta)
		if delta.Text != "" {
			s.full.add(domain.StreamDelta{Text: delta.Text})
			s.o.Bus.Publish(domain.NewEvent(domain.EventTextDelta, s.convID,
				domain.DeltaPayload{Text: delta.Text}))
		}
		if delta.Thinking != "" {
			s.full.add(domain.StreamDelta{Thinking: delta.Thinking})
			s.o.Bus.Publish(domain.NewEvent(domain.EventThinkingDelta, s.convID,
				domain.DeltaPayload{Text: delta.Thinking}))
		}

		if s.handle.Cancelled() {
			// Cooperative checkpoint: stop the provider call and let the
			// caller take the cancellation path with the partial content.
			cancel()
			for range deltas {
			}
			break
		}
	}

	return acc, nil
}

// runToolCall executes one call with the retry bound, publishing the
// started event before the first attempt and exactly one completed event
// after the last. terminal=true means the bound was exhausted.
func (s *sendSession) runToolCall(ctx context.Context, call domain.ToolCall) (domain.ToolCallRecord, bool) {
	s.o.Bus.Publish(domain.NewEvent(domain.EventToolCallStarted, s.convID,
		domain.ToolCallStartedPayload{CallID: call.ID, Name: call.Name}))

	rec := domain.ToolCallRecord{
		CallID:    call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
		StartedAt: time.Now(),
	}

	maxAttempts := 1 + s.o.cfg.MaxToolRetries
	var last ExecResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rec.Attempts = attempt
		last = s.o.Executor.Execute(ctx, call)
		if last.err == nil {
			break
		}
		s.o.Logger.Warn("tool call failed",
			"tool", call.Name,
			"attempt", attempt,
			"of", maxAttempts,
			"retryable", last.retryable,
			"error", last.err,
		)
		if !last.retryable || s.handle.Cancelled() {
			break
		}
	}
	rec.CompletedAt = time.Now()

	if last.err == nil {
		rec.Success = true
		rec.Result = last.content
	} else {
		rec.Error = last.err.Error()
	}

	s.o.Bus.Publish(domain.NewEvent(domain.EventToolCallCompleted, s.convID,
		domain.ToolCallCompletedPayload{
			CallID:  rec.CallID,
			Name:    rec.Name,
			Success: rec.Success,
			Result:  rec.Result,
			Error:   rec.Error,
		}))

	exhausted := last.err != nil && (rec.Attempts >= maxAttempts || !last.retryable)
	return rec, exhausted
}

// finishTurn validates and persists the final answer, then publishes the
// completion followed by the saved notice.
func (s *sendSession) finishTurn(ctx context.Context, turnAcc *streamAccumulator) domain.StreamState {
	if s.o.Validator != nil {
		if err := s.o.Validator(turnAcc.Text()); err != nil {
			if s.outRetry < s.o.cfg.MaxOutputRetries {
				s.outRetry++
				s.o.Logger.Warn("output validation failed, re-asking",
					"attempt", s.outRetry,
					"of", s.o.cfg.MaxOutputRetries,
					"error", err,
				)
				// The rejected draft goes into the re-ask context only; the
				// stored message must hold accepted content.
				s.rewindRejected(turnAcc)
				s.transcript = append(s.transcript,
					domain.Message{Role: domain.RoleAssistant, Content: turnAcc.Text()},
					domain.Message{
						Role:    domain.RoleUser,
						Content: "Your previous answer was rejected: " + err.Error() + ". Answer again, corrected.",
					},
				)
				return s.continueAfterValidation(ctx)
			}
			return s.finishErrored(domain.WrapOpDetail("orchestrator.validate",
				domain.ErrOutputValidation, err.Error()))
		}
	}

	msg := domain.Message{
		ID:             domain.NewID(),
		ConversationID: s.convID,
		Role:           domain.RoleAssistant,
		Content:        s.full.Text(),
		Thinking:       s.full.Thinking(),
		ToolCalls:      s.records,
		Model:          s.profile.Model,
		CreatedAt:      time.Now(),
	}
	if err := s.append(ctx, msg); err != nil {
		return s.finishErrored(err)
	}

	s.o.Bus.Publish(domain.NewEvent(domain.EventStreamCompleted, s.convID,
		domain.StreamCompletedPayload{
			StreamID:  s.handle.ID(),
			MessageID: msg.ID,
			Tokens:    s.tokens,
		}))
	s.o.Bus.Publish(domain.NewEvent(domain.EventMessageSaved, s.convID,
		domain.MessageSavedPayload{MessageID: msg.ID, Role: msg.Role}))
	return domain.StreamCompleted
}

// rewindRejected removes the rejected draft's tail from the whole-stream
// view.
func (s *sendSession) rewindRejected(turn *streamAccumulator) {
	kept := newStreamAccumulator()
	kept.add(domain.StreamDelta{
		Text:     strings.TrimSuffix(s.full.Text(), turn.Text()),
		Thinking: strings.TrimSuffix(s.full.Thinking(), turn.Thinking()),
	})
	s.full = kept
}

// addUsage totals provider-reported usage, estimating from the turn's
// content when the provider omits it.
func (s *sendSession) addUsage(acc *streamAccumulator) {
	if u := acc.Usage(); u.TotalTokens > 0 {
		s.tokens += u.TotalTokens
		return
	}
	s.tokens += s.o.Builder.EstimateTokens([]domain.Message{{
		Role:     domain.RoleAssistant,
		Content:  acc.Text(),
		Thinking: acc.Thinking(),
	}})
}

// continueAfterValidation re-enters the turn loop for one more answer.
func (s *sendSession) continueAfterValidation(ctx context.Context) domain.StreamState {
	if s.handle.Cancelled() {
		return s.finishCancelled(ctx)
	}
	turnAcc, err := s.streamTurn(ctx)
	if err != nil {
		return s.finishErrored(err)
	}
	if s.handle.Cancelled() {
		return s.finishCancelled(ctx)
	}
	s.addUsage(turnAcc)
	// A validation re-ask expects a plain answer; tool calls here count as
	// another answer attempt.
	return s.finishTurn(ctx, turnAcc)
}

// finishCancelled persists the partial message with the cancelled marker.
// The stream slot stays held until persistence completes, so a follow-up
// send still sees Busy while this runs.
func (s *sendSession) finishCancelled(ctx context.Context) domain.StreamState {
	partial := s.full.Text()

	msg := domain.Message{
		ID:             domain.NewID(),
		ConversationID: s.convID,
		Role:           domain.RoleAssistant,
		Content:        partial,
		Thinking:       s.full.Thinking(),
		ToolCalls:      s.records,
		Cancelled:      true,
		Model:          s.profile.Model,
		CreatedAt:      time.Now(),
	}
	// Persist with a fresh context: the run context may already be tearing
	// down, and losing the partial here breaks the transcript round-trip.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.persist(persistCtx, msg); err != nil {
		s.o.Logger.Error("failed to persist cancelled partial",
			"conversation", s.convID, "error", err)
		return s.finishErrored(err)
	}

	s.o.Bus.Publish(domain.NewEvent(domain.EventStreamCancelled, s.convID,
		domain.StreamCancelledPayload{
			StreamID:    s.handle.ID(),
			PartialText: partial,
		}))
	return domain.StreamCancelledPersisted
}

// finishErrored classifies and publishes the single terminal error event.
func (s *sendSession) finishErrored(err error) domain.StreamState {
	ce := s.o.Classifier.Classify(err)
	s.o.Logger.Error("stream failed",
		"conversation", s.convID,
		"code", string(ce.Code()),
		"retryable", ce.Retryable(),
		"error", err,
	)
	s.o.publishError(s.convID, s.handle.ID(), ce.Code(), err.Error(), ce.Retryable())
	return domain.StreamErrored
}

// append writes one message under the conversation's write lock.
func (s *sendSession) append(ctx context.Context, msg domain.Message) error {
	unlock, err := s.o.Locker.Lock(ctx, s.convID)
	if err != nil {
		return domain.WrapOp("orchestrator.lock", err)
	}
	defer unlock()

	if err := s.o.Store.Append(ctx, s.convID, msg); err != nil {
		return domain.WrapOp("orchestrator.append", err)
	}
	return nil
}

// persist appends and announces the saved message.
func (s *sendSession) persist(ctx context.Context, msg domain.Message) error {
	if err := s.append(ctx, msg); err != nil {
		return err
	}
	s.o.Bus.Publish(domain.NewEvent(domain.EventMessageSaved, s.convID,
		domain.MessageSavedPayload{MessageID: msg.ID, Role: msg.Role}))
	return nil
}

func (o *Orchestrator) publishError(conversationID, streamID string, code domain.ErrorCode, msg string, retryable bool) {
	o.Bus.Publish(domain.NewEvent(domain.EventStreamError, conversationID,
		domain.StreamErrorPayload{
			StreamID:  streamID,
			Code:      code,
			Message:   msg,
			Retryable: retryable,
		}))
}

// --- registry-facing handlers ---

func (o *Orchestrator) handleToggleTool(name string, enabled bool) {
	if o.Toggler == nil {
		return
	}
	if _, err := o.Toggler.SetEnabled(name, enabled); err != nil {
		o.Bus.Publish(domain.NewEvent(domain.EventSystemError, "", domain.SystemErrorPayload{
			Component: "tools",
			Message:   fmt.Sprintf("toggle %q: %v", name, err),
		}))
		return
	}
	// Published even when the flag did not change: the event reflects final
	// registry state, so replaying a toggle is harmless.
	o.Bus.Publish(domain.NewEvent(domain.EventToolToggled, "", domain.ToolToggledPayload{
		Name:    name,
		Enabled: enabled,
	}))
}

func (o *Orchestrator) handleNewConversation(ctx context.Context) {
	conv, err := o.Store.Create(ctx, "New chat")
	if err != nil {
		o.Bus.Publish(domain.NewEvent(domain.EventSystemError, "", domain.SystemErrorPayload{
			Component: "conversations",
			Message:   fmt.Sprintf("create conversation: %v", err),
		}))
		return
	}
	o.Bus.Publish(domain.NewEvent(domain.EventConversationCreated, conv.ID,
		domain.ConversationPayload{ConversationID: conv.ID, Title: conv.Title}))
	o.Bus.Publish(domain.NewEvent(domain.EventConversationListChanged, "", nil))
}

func (o *Orchestrator) handleSelectConversation(ctx context.Context, conversationID string) {
	conv, err := o.Store.Load(ctx, conversationID)
	if err != nil {
		o.Bus.Publish(domain.NewEvent(domain.EventSystemError, conversationID, domain.SystemErrorPayload{
			Component: "conversations",
			Message:   fmt.Sprintf("select conversation: %v", err),
		}))
		return
	}
	o.Bus.Publish(domain.NewEvent(domain.EventConversationSelected, conv.ID,
		domain.ConversationPayload{ConversationID: conv.ID, Title: conv.Title}))
}

// --- helpers ---

// enabledSchemas snapshots the enabled tools, keeping registry order.
func enabledSchemas(source domain.ToolSource) []domain.ToolSchema {
	if source == nil {
		return nil
	}
	all := source.AvailableTools()
	out := make([]domain.ToolSchema, 0, len(all))
	for _, schema := range all {
		if source.Enabled(schema.Name) {
			out = append(out, schema)
		}
	}
	return out
}

// toolCallRecords converts live calls into transcript records for the
// continuation request.
func toolCallRecords(calls []domain.ToolCall) []domain.ToolCallRecord {
	recs := make([]domain.ToolCallRecord, len(calls))
	for i, c := range calls {
		recs[i] = domain.ToolCallRecord{CallID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return recs
}

// toolFeedbackContent is what the model sees for one finished call.
func toolFeedbackContent(rec domain.ToolCallRecord) string {
	if rec.Success {
		return rec.Result
	}
	return "tool error: " + rec.Error
}
