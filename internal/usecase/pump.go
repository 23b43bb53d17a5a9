package usecase

import (
	"context"
	"log/slog"

	"hearth/internal/domain"
	"hearth/internal/usecase/bridge"
	"hearth/internal/usecase/eventbus"
)

// ActionPump drains user actions from the bridge and republishes them as
// user events on the bus. It is the only inbound path from the UI into the
// service runtime.
type ActionPump struct {
	bridge *bridge.Bridge
	bus    *eventbus.Bus
	logger *slog.Logger
}

// NewActionPump creates a pump.
func NewActionPump(br *bridge.Bridge, bus *eventbus.Bus, logger *slog.Logger) *ActionPump {
	return &ActionPump{bridge: br, bus: bus, logger: logger}
}

// Run blocks until the context is cancelled, draining the action queue on
// every wake signal.
func (p *ActionPump) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.bridge.ActionWake():
			p.Drain()
		}
	}
}

// Drain converts all queued actions into events. Exposed so tests can pump
// synchronously.
func (p *ActionPump) Drain() {
	for {
		action, ok := p.bridge.TryRecvAction()
		if !ok {
			return
		}
		p.publish(action)
	}
}

func (p *ActionPump) publish(action domain.Action) {
	switch a := action.(type) {
	case domain.SendMessage:
		p.bus.Publish(domain.NewEvent(domain.EventUserSendMessage, a.ConversationID,
			domain.SendMessagePayload{Text: a.Text}))
	case domain.StopStreaming:
		p.bus.Publish(domain.NewEvent(domain.EventUserStopStreaming, a.ConversationID, nil))
	case domain.NewConversation:
		p.bus.Publish(domain.NewEvent(domain.EventUserNewConversation, "", nil))
	case domain.SelectConversation:
		p.bus.Publish(domain.NewEvent(domain.EventUserSelectConversation, a.ConversationID, nil))
	case domain.ToggleTool:
		p.bus.Publish(domain.NewEvent(domain.EventUserToggleTool, "",
			domain.ToggleToolPayload{Name: a.Name, Enabled: a.Enabled}))
	default:
		p.logger.Warn("unknown action dropped")
	}
}
