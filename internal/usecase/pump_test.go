package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/internal/domain"
	"hearth/internal/usecase/bridge"
	"hearth/internal/usecase/eventbus"
)

func TestPumpTranslatesActions(t *testing.T) {
	br := bridge.New(16, 16, testLogger())
	bus := eventbus.New(64, testLogger())
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	pump := NewActionPump(br, bus, testLogger())

	br.SendAction(domain.SendMessage{ConversationID: "c1", Text: "hello"})
	br.SendAction(domain.StopStreaming{ConversationID: "c1"})
	br.SendAction(domain.NewConversation{})
	br.SendAction(domain.SelectConversation{ConversationID: "c2"})
	br.SendAction(domain.ToggleTool{Name: "clock", Enabled: false})
	pump.Drain()

	evs := drainEvents(sub)
	require.Len(t, evs, 5)
	assert.Equal(t, domain.EventUserSendMessage, evs[0].Type)
	assert.Equal(t, "c1", evs[0].ConversationID)
	var sp domain.SendMessagePayload
	require.NoError(t, evs[0].DecodePayload(&sp))
	assert.Equal(t, "hello", sp.Text)

	assert.Equal(t, domain.EventUserStopStreaming, evs[1].Type)
	assert.Equal(t, domain.EventUserNewConversation, evs[2].Type)
	assert.Equal(t, domain.EventUserSelectConversation, evs[3].Type)
	assert.Equal(t, "c2", evs[3].ConversationID)

	assert.Equal(t, domain.EventUserToggleTool, evs[4].Type)
	var tp domain.ToggleToolPayload
	require.NoError(t, evs[4].DecodePayload(&tp))
	assert.Equal(t, "clock", tp.Name)
	assert.False(t, tp.Enabled)

	_, ok := br.TryRecvAction()
	assert.False(t, ok, "queue fully drained")
}
