package domain

// Action is a user intent submitted from the UI thread through the bridge.
// Actions are plain data; the service side translates them into user events
// on the bus.
type Action interface {
	action()
}

// SendMessage asks for an assistant response to Text in the conversation.
type SendMessage struct {
	ConversationID string
	Text           string
}

// StopStreaming requests cooperative cancellation of the live stream.
type StopStreaming struct {
	ConversationID string
}

// NewConversation creates and activates a fresh conversation.
type NewConversation struct{}

// SelectConversation activates an existing conversation.
type SelectConversation struct {
	ConversationID string
}

// ToggleTool enables or disables a registered tool.
type ToggleTool struct {
	Name    string
	Enabled bool
}

func (SendMessage) action()        {}
func (StopStreaming) action()      {}
func (NewConversation) action()    {}
func (SelectConversation) action() {}
func (ToggleTool) action()         {}
