// Package presenter translates bus events into view commands. Each
// presenter runs its own event loop; a fault in one loop is contained to
// that loop and reported as a system error event instead of crashing the
// process.
package presenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"hearth/internal/domain"
	"hearth/internal/usecase/bridge"
	"hearth/internal/usecase/eventbus"
)

// Presenter handles one event at a time and returns the view commands it
// produced. Events a presenter does not care about return (nil, nil).
type Presenter interface {
	Name() string
	Handle(ctx context.Context, ev domain.Event) ([]domain.ViewCommand, error)
}

// Loop runs presenters over the bus and forwards their commands through the
// bridge.
type Loop struct {
	bus    *eventbus.Bus
	bridge *bridge.Bridge
	logger *slog.Logger
}

// NewLoop creates a presenter loop runner.
func NewLoop(bus *eventbus.Bus, br *bridge.Bridge, logger *slog.Logger) *Loop {
	return &Loop{bus: bus, bridge: br, logger: logger}
}

// Run subscribes p and processes events until the context is cancelled or
// the bus closes. Handler errors and panics are reported on the bus as
// system errors and the loop keeps going.
func (l *Loop) Run(ctx context.Context, p Presenter) {
	sub := l.bus.Subscribe()
	defer sub.Close()

	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, eventbus.ErrClosed) {
				l.logger.Error("presenter receive failed", "presenter", p.Name(), "error", err)
			}
			return
		}
		l.dispatch(ctx, p, ev)
	}
}

func (l *Loop) dispatch(ctx context.Context, p Presenter, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("presenter panicked",
				"presenter", p.Name(),
				"event", string(ev.Type),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			l.reportFault(ev, p.Name(), fmt.Sprintf("panic: %v", r))
		}
	}()

	cmds, err := p.Handle(ctx, ev)
	if err != nil {
		l.logger.Warn("presenter handler failed",
			"presenter", p.Name(),
			"event", string(ev.Type),
			"error", err,
		)
		l.reportFault(ev, p.Name(), err.Error())
		return
	}
	for _, cmd := range cmds {
		l.bridge.SendCommand(cmd)
	}
}

// reportFault publishes the fault as a system error. Faults raised while
// handling a system error are logged only, so a broken handler cannot feed
// itself.
func (l *Loop) reportFault(ev domain.Event, component, msg string) {
	if ev.Type == domain.EventSystemError {
		return
	}
	l.bus.Publish(domain.NewEvent(domain.EventSystemError, ev.ConversationID,
		domain.SystemErrorPayload{Component: component, Message: msg}))
}
