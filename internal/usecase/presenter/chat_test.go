package presenter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/internal/domain"
)

func TestChatPresenterStreamLifecycle(t *testing.T) {
	p := NewChatPresenter()
	ctx := context.Background()

	tests := []struct {
		name string
		ev   domain.Event
		want domain.ViewCommand
	}{
		{
			"started",
			domain.NewEvent(domain.EventStreamStarted, "c1", domain.StreamStartedPayload{StreamID: "s1", Model: "m"}),
			domain.StreamOpened{ConversationID: "c1", StreamID: "s1", Model: "m"},
		},
		{
			"text delta",
			domain.NewEvent(domain.EventTextDelta, "c1", domain.DeltaPayload{Text: "hi"}),
			domain.AppendTextDelta{ConversationID: "c1", Text: "hi"},
		},
		{
			"thinking delta",
			domain.NewEvent(domain.EventThinkingDelta, "c1", domain.DeltaPayload{Text: "hmm"}),
			domain.AppendThinkingDelta{ConversationID: "c1", Text: "hmm"},
		},
		{
			"tool started",
			domain.NewEvent(domain.EventToolCallStarted, "c1", domain.ToolCallStartedPayload{CallID: "t1", Name: "clock"}),
			domain.ToolCallBegan{ConversationID: "c1", CallID: "t1", Name: "clock"},
		},
		{
			"tool completed",
			domain.NewEvent(domain.EventToolCallCompleted, "c1", domain.ToolCallCompletedPayload{CallID: "t1", Name: "clock", Success: true, Result: "12:00"}),
			domain.ToolCallFinished{ConversationID: "c1", CallID: "t1", Name: "clock", Success: true, Result: "12:00"},
		},
		{
			"completed",
			domain.NewEvent(domain.EventStreamCompleted, "c1", domain.StreamCompletedPayload{Tokens: 42}),
			domain.StreamClosed{ConversationID: "c1", Tokens: 42},
		},
		{
			"cancelled",
			domain.NewEvent(domain.EventStreamCancelled, "c1", domain.StreamCancelledPayload{PartialText: "partial"}),
			domain.StreamAborted{ConversationID: "c1", PartialText: "partial"},
		},
		{
			"error",
			domain.NewEvent(domain.EventStreamError, "c1", domain.StreamErrorPayload{Code: domain.CodeBusy, Message: "busy", Retryable: false}),
			domain.ShowError{ConversationID: "c1", Code: domain.CodeBusy, Message: "busy"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds, err := p.Handle(ctx, tt.ev)
			require.NoError(t, err)
			require.Len(t, cmds, 1)
			assert.Equal(t, tt.want, cmds[0])
		})
	}
}

func TestChatPresenterIgnoresUnrelatedEvents(t *testing.T) {
	p := NewChatPresenter()
	cmds, err := p.Handle(context.Background(), domain.NewEvent(domain.EventUserSendMessage, "c1", domain.SendMessagePayload{Text: "x"}))
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestChatPresenterLagNotice(t *testing.T) {
	p := NewChatPresenter()
	cmds, err := p.Handle(context.Background(), domain.NewEvent(domain.EventSystemLagged, "", domain.LaggedPayload{Missed: 7}))
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.IsType(t, domain.ShowNotice{}, cmds[0])
}

// storeStub backs the conversations presenter.
type storeStub struct {
	mu    sync.Mutex
	convs map[string]*domain.Conversation
}

func newStoreStub() *storeStub {
	return &storeStub{convs: make(map[string]*domain.Conversation)}
}

func (s *storeStub) Create(ctx context.Context, title string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &domain.Conversation{ID: domain.NewID(), Title: title, UpdatedAt: time.Now()}
	s.convs[c.ID] = c
	return c, nil
}

func (s *storeStub) Load(ctx context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, domain.WrapOpDetail("stub.load", domain.ErrNotFound, id)
	}
	return c, nil
}

func (s *storeStub) Append(ctx context.Context, id string, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Messages = append(c.Messages, msg)
	return nil
}

func (s *storeStub) List(ctx context.Context) ([]domain.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConversationSummary, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, domain.ConversationSummary{ID: c.ID, Title: c.Title, MessageCount: len(c.Messages)})
	}
	return out, nil
}

func TestConversationsPresenterActivation(t *testing.T) {
	store := newStoreStub()
	conv, err := store.Create(context.Background(), "chat one")
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), conv.ID, domain.Message{Role: domain.RoleUser, Content: "hi"}))

	p := NewConversationsPresenter(store)

	cmds, err := p.Handle(context.Background(),
		domain.NewEvent(domain.EventConversationSelected, conv.ID, domain.ConversationPayload{ConversationID: conv.ID}))
	require.NoError(t, err)
	require.Len(t, cmds, 2)

	activated, ok := cmds[0].(domain.ConversationActivated)
	require.True(t, ok)
	assert.Equal(t, conv.ID, activated.ConversationID)
	assert.Equal(t, "chat one", activated.Title)
	require.Len(t, activated.Messages, 1, "transcript loaded from the store, not the event")

	_, ok = cmds[1].(domain.ConversationListUpdated)
	assert.True(t, ok)
}

func TestConversationsPresenterMissingConversation(t *testing.T) {
	p := NewConversationsPresenter(newStoreStub())
	_, err := p.Handle(context.Background(),
		domain.NewEvent(domain.EventConversationSelected, "ghost", nil))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConversationsPresenterListRefreshOnSave(t *testing.T) {
	store := newStoreStub()
	_, err := store.Create(context.Background(), "a")
	require.NoError(t, err)

	p := NewConversationsPresenter(store)
	cmds, err := p.Handle(context.Background(),
		domain.NewEvent(domain.EventMessageSaved, "x", domain.MessageSavedPayload{MessageID: "m1"}))
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	list, ok := cmds[0].(domain.ConversationListUpdated)
	require.True(t, ok)
	assert.Len(t, list.Summaries, 1)
}

// toggleSource backs the tools presenter.
type toggleSource struct {
	enabled map[string]bool
}

func (s toggleSource) Get(name string) (domain.Tool, error) { return nil, domain.ErrNotFound }
func (s toggleSource) AvailableTools() []domain.ToolSchema  { return nil }
func (s toggleSource) Enabled(name string) bool             { return s.enabled[name] }

func TestToolsPresenterReflectsRegistryState(t *testing.T) {
	src := toggleSource{enabled: map[string]bool{"clock": false}}
	p := NewToolsPresenter(src)

	// Payload claims enabled, registry says disabled: registry wins.
	cmds, err := p.Handle(context.Background(),
		domain.NewEvent(domain.EventToolToggled, "", domain.ToolToggledPayload{Name: "clock", Enabled: true}))
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	row, ok := cmds[0].(domain.ToolRowUpdated)
	require.True(t, ok)
	assert.Equal(t, "clock", row.Name)
	assert.False(t, row.Enabled)
}
