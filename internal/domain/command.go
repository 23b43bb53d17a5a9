package domain

// ViewCommand is a render instruction flowing from presenters to the UI
// thread through the bridge. Commands are pure data: no callbacks, no
// references into service-side state.
type ViewCommand interface {
	viewCommand()
}

// StreamOpened tells the view a response started streaming.
type StreamOpened struct {
	ConversationID string
	StreamID       string
	Model          string
}

// AppendTextDelta appends streamed text to the in-progress assistant message.
type AppendTextDelta struct {
	ConversationID string
	Text           string
}

// AppendThinkingDelta appends streamed reasoning text.
type AppendThinkingDelta struct {
	ConversationID string
	Text           string
}

// ToolCallBegan marks a tool invocation as running.
type ToolCallBegan struct {
	ConversationID string
	CallID         string
	Name           string
}

// ToolCallFinished resolves a running tool invocation.
type ToolCallFinished struct {
	ConversationID string
	CallID         string
	Name           string
	Success        bool
	Result         string
	Error          string
}

// StreamClosed finalizes the in-progress assistant message.
type StreamClosed struct {
	ConversationID string
	Tokens         int
}

// StreamAborted finalizes a cancelled stream, keeping the partial text.
type StreamAborted struct {
	ConversationID string
	PartialText    string
}

// ShowError surfaces a stream or system error to the user.
type ShowError struct {
	ConversationID string
	Code           ErrorCode
	Message        string
	Retryable      bool
}

// ShowNotice surfaces a transient informational message.
type ShowNotice struct {
	Text string
}

// ConversationListUpdated replaces the sidebar listing.
type ConversationListUpdated struct {
	Summaries []ConversationSummary
}

// ConversationActivated switches the chat view to a conversation and its
// transcript.
type ConversationActivated struct {
	ConversationID string
	Title          string
	Messages       []Message
}

// ToolRowUpdated refreshes one row of the tool panel.
type ToolRowUpdated struct {
	Name    string
	Enabled bool
}

func (StreamOpened) viewCommand()            {}
func (AppendTextDelta) viewCommand()         {}
func (AppendThinkingDelta) viewCommand()     {}
func (ToolCallBegan) viewCommand()           {}
func (ToolCallFinished) viewCommand()        {}
func (StreamClosed) viewCommand()            {}
func (StreamAborted) viewCommand()           {}
func (ShowError) viewCommand()               {}
func (ShowNotice) viewCommand()              {}
func (ConversationListUpdated) viewCommand() {}
func (ConversationActivated) viewCommand()   {}
func (ToolRowUpdated) viewCommand()          {}
