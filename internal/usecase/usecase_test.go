package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"hearth/internal/domain"
	"hearth/internal/usecase/eventbus"
)

// Shared test doubles for the package.

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// memStore is an in-memory ConversationStore.
type memStore struct {
	mu    sync.Mutex
	convs map[string]*domain.Conversation
}

func newMemStore() *memStore {
	return &memStore{convs: make(map[string]*domain.Conversation)}
}

func (s *memStore) seed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[id] = &domain.Conversation{ID: id, Title: "test", CreatedAt: time.Now()}
}

func (s *memStore) Create(ctx context.Context, title string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := &domain.Conversation{
		ID:        domain.NewID(),
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.convs[conv.ID] = conv
	return conv, nil
}

func (s *memStore) Load(ctx context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, domain.WrapOpDetail("memstore.load", domain.ErrNotFound, id)
	}
	cp := *conv
	cp.Messages = append([]domain.Message(nil), conv.Messages...)
	return &cp, nil
}

func (s *memStore) Append(ctx context.Context, conversationID string, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return domain.WrapOpDetail("memstore.append", domain.ErrNotFound, conversationID)
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) List(ctx context.Context) ([]domain.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConversationSummary, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, domain.ConversationSummary{
			ID: c.ID, Title: c.Title, MessageCount: len(c.Messages), UpdatedAt: c.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memStore) messages(id string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[id]; ok {
		return append([]domain.Message(nil), conv.Messages...)
	}
	return nil
}

// stubProfiles resolves every ID to the same profile.
type stubProfiles struct {
	profile domain.Profile
}

func (p stubProfiles) Resolve(id string) (domain.Profile, error) {
	return p.profile, nil
}

// scriptedProvider replays one scripted delta sequence per ChatStream call.
// When stepper is set, deltas are fed manually instead.
type scriptedProvider struct {
	mu      sync.Mutex
	turns   [][]domain.StreamDelta
	calls   int
	stepper chan domain.StreamDelta
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return nil, fmt.Errorf("not used")
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	p.mu.Lock()
	p.calls++

	if p.stepper != nil {
		src := p.stepper
		p.mu.Unlock()
		out := make(chan domain.StreamDelta)
		go func() {
			defer close(out)
			for {
				select {
				case d, ok := <-src:
					if !ok {
						return
					}
					select {
					case out <- d:
					case <-ctx.Done():
						return
					}
					if d.Done {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}

	if len(p.turns) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("scripted provider exhausted")
	}
	turn := p.turns[0]
	p.turns = p.turns[1:]
	p.mu.Unlock()

	out := make(chan domain.StreamDelta, len(turn))
	go func() {
		defer close(out)
		for _, d := range turn {
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// errProvider fails every ChatStream with a fixed error.
type errProvider struct {
	err error
}

func (p errProvider) Name() string { return "err" }

func (p errProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return nil, p.err
}

func (p errProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	return nil, p.err
}

// fakeTool is a scriptable domain.Tool.
type fakeTool struct {
	name     string
	execute  func(ctx context.Context, args []byte) (*domain.ToolResult, error)
	mu       sync.Mutex
	attempts int
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "fake " + t.name }

func (t *fakeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.name,
		Description: t.Description(),
		Parameters:  []byte(`{"type":"object"}`),
	}
}

func (t *fakeTool) Execute(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	t.mu.Lock()
	t.attempts++
	t.mu.Unlock()
	return t.execute(ctx, args)
}

func (t *fakeTool) attemptCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// fakeSource implements ToolSource and ToolToggler over fakeTools.
type fakeSource struct {
	mu       sync.Mutex
	tools    map[string]*fakeTool
	disabled map[string]bool
}

func newFakeSource(tools ...*fakeTool) *fakeSource {
	s := &fakeSource{tools: make(map[string]*fakeTool), disabled: make(map[string]bool)}
	for _, t := range tools {
		s.tools[t.name] = t
	}
	return s
}

func (s *fakeSource) Get(name string) (domain.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[name]
	if !ok {
		return nil, domain.WrapOpDetail("fakesource.get", domain.ErrNotFound, name)
	}
	return t, nil
}

func (s *fakeSource) AvailableTools() []domain.ToolSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tools))
	for n := range s.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]domain.ToolSchema, 0, len(names))
	for _, n := range names {
		out = append(out, s.tools[n].Schema())
	}
	return out
}

func (s *fakeSource) Enabled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled[name]
}

func (s *fakeSource) SetEnabled(name string, enabled bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[name]; !ok {
		return false, domain.WrapOpDetail("fakesource.toggle", domain.ErrNotFound, name)
	}
	changed := s.disabled[name] == enabled
	s.disabled[name] = !enabled
	return changed, nil
}

func (s *fakeSource) enabledNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for n := range s.tools {
		if !s.disabled[n] {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// newTestOrchestrator wires an orchestrator over the doubles with a live
// bus and a recording subscription attached before any publish.
func newTestOrchestrator(provider domain.StreamingLLMProvider, store *memStore, source *fakeSource, cfg OrchestratorConfig) (*Orchestrator, *eventbus.Subscription, *eventbus.Bus) {
	bus := eventbus.New(4096, testLogger())
	sub := bus.Subscribe()

	if cfg.ProfileID == "" {
		cfg.ProfileID = "default"
	}
	deps := OrchestratorDeps{
		Provider: provider,
		Store:    store,
		Profiles: stubProfiles{profile: domain.Profile{
			ID: "default", Model: "test-model", MaxTokens: 512,
		}},
		Tools:      source,
		Toggler:    source,
		Executor:   NewToolExecutor(source, time.Second, testLogger()),
		Bus:        bus,
		Streams:    NewStreamTable(),
		Locker:     NewConversationLocker(),
		Builder:    NewContextBuilder(),
		Classifier: NewErrorClassifier(),
		Logger:     testLogger(),
	}
	return NewOrchestrator(deps, cfg), sub, bus
}

// drainEvents empties the subscription queue.
func drainEvents(sub *eventbus.Subscription) []domain.Event {
	var out []domain.Event
	for {
		ev, ok := sub.TryRecv()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func eventsOfType(evs []domain.Event, t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, ev := range evs {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func indexOfType(evs []domain.Event, t domain.EventType) int {
	for i, ev := range evs {
		if ev.Type == t {
			return i
		}
	}
	return -1
}
