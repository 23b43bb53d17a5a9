// Package bridge carries data between the UI thread and the service
// runtime. Both directions are bounded queues with non-blocking operations
// only: the UI never waits on the service and the service never waits on
// the UI.
package bridge

import (
	"log/slog"
	"sync/atomic"

	"hearth/internal/domain"
)

// Default queue depths. Inbound is small because user intents are rare;
// outbound absorbs bursts of streaming deltas between UI frames.
const (
	DefaultActionCapacity  = 256
	DefaultCommandCapacity = 1024
)

// Bridge is the two-lane boundary between the UI scheduler and the service
// goroutines. Overflow policy on both lanes is drop-newest with a warning;
// dropped commands are recoverable because the UI can re-read authoritative
// state from the store.
type Bridge struct {
	actions  chan domain.Action
	commands chan domain.ViewCommand

	actionWake  chan struct{}
	commandWake chan struct{}

	dirty atomic.Bool

	droppedActions  atomic.Uint64
	droppedCommands atomic.Uint64

	logger *slog.Logger
}

// New creates a bridge. Non-positive capacities select the defaults.
// Capacities are fixed for the bridge's lifetime.
func New(actionCapacity, commandCapacity int, logger *slog.Logger) *Bridge {
	if actionCapacity <= 0 {
		actionCapacity = DefaultActionCapacity
	}
	if commandCapacity <= 0 {
		commandCapacity = DefaultCommandCapacity
	}
	return &Bridge{
		actions:     make(chan domain.Action, actionCapacity),
		commands:    make(chan domain.ViewCommand, commandCapacity),
		actionWake:  make(chan struct{}, 1),
		commandWake: make(chan struct{}, 1),
		logger:      logger,
	}
}

// SendAction enqueues a user intent from the UI thread. Never blocks; a full
// queue drops the action and returns false so the UI can tell the user.
func (b *Bridge) SendAction(a domain.Action) bool {
	select {
	case b.actions <- a:
		b.signal(b.actionWake)
		return true
	default:
		b.droppedActions.Add(1)
		b.logger.Warn("action queue full, dropping", "action", actionName(a))
		return false
	}
}

// TryRecvAction dequeues one action on the service side without blocking.
func (b *Bridge) TryRecvAction() (domain.Action, bool) {
	select {
	case a := <-b.actions:
		return a, true
	default:
		return nil, false
	}
}

// ActionWake signals the service side that actions are pending. The channel
// holds at most one pending signal; receivers must drain with TryRecvAction
// until empty.
func (b *Bridge) ActionWake() <-chan struct{} {
	return b.actionWake
}

// SendCommand enqueues a render instruction from the service side. Never
// blocks; sets the dirty flag and wakes the UI regardless of whether the
// command fit, so the UI still learns it must repaint after an overflow.
func (b *Bridge) SendCommand(c domain.ViewCommand) bool {
	ok := true
	select {
	case b.commands <- c:
	default:
		b.droppedCommands.Add(1)
		b.logger.Warn("command queue full, dropping", "command", commandName(c))
		ok = false
	}
	b.dirty.Store(true)
	b.signal(b.commandWake)
	return ok
}

// TryRecvCommand dequeues one command on the UI thread without blocking.
// Draining to empty clears the dirty flag.
func (b *Bridge) TryRecvCommand() (domain.ViewCommand, bool) {
	select {
	case c := <-b.commands:
		return c, true
	default:
		b.dirty.Store(false)
		return nil, false
	}
}

// CommandWake signals the UI that commands are pending. Same contract as
// ActionWake.
func (b *Bridge) CommandWake() <-chan struct{} {
	return b.commandWake
}

// Dirty reports whether commands were enqueued since the UI last drained to
// empty.
func (b *Bridge) Dirty() bool {
	return b.dirty.Load()
}

// Dropped returns the running counts of dropped actions and commands.
func (b *Bridge) Dropped() (actions, commands uint64) {
	return b.droppedActions.Load(), b.droppedCommands.Load()
}

// signal is a non-blocking send on a capacity-1 wake channel. A pending
// signal already covers this wake.
func (b *Bridge) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func actionName(a domain.Action) string {
	switch a.(type) {
	case domain.SendMessage:
		return "send_message"
	case domain.StopStreaming:
		return "stop_streaming"
	case domain.NewConversation:
		return "new_conversation"
	case domain.SelectConversation:
		return "select_conversation"
	case domain.ToggleTool:
		return "toggle_tool"
	default:
		return "unknown"
	}
}

func commandName(c domain.ViewCommand) string {
	switch c.(type) {
	case domain.StreamOpened:
		return "stream_opened"
	case domain.AppendTextDelta:
		return "append_text_delta"
	case domain.AppendThinkingDelta:
		return "append_thinking_delta"
	case domain.ToolCallBegan:
		return "tool_call_began"
	case domain.ToolCallFinished:
		return "tool_call_finished"
	case domain.StreamClosed:
		return "stream_closed"
	case domain.StreamAborted:
		return "stream_aborted"
	case domain.ShowError:
		return "show_error"
	case domain.ShowNotice:
		return "show_notice"
	case domain.ConversationListUpdated:
		return "conversation_list_updated"
	case domain.ConversationActivated:
		return "conversation_activated"
	case domain.ToolRowUpdated:
		return "tool_row_updated"
	default:
		return "unknown"
	}
}
