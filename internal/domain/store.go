package domain

import "context"

// ConversationStore persists transcripts. Append is the single mutation;
// per-conversation write serialization is the caller's responsibility.
type ConversationStore interface {
	// Create inserts an empty conversation and returns it.
	Create(ctx context.Context, title string) (*Conversation, error)

	// Load returns the conversation with its full transcript, or ErrNotFound.
	Load(ctx context.Context, id string) (*Conversation, error)

	// Append adds a message to the transcript and bumps the conversation's
	// updated time. The message is never modified afterwards.
	Append(ctx context.Context, conversationID string, msg Message) error

	// List returns summaries of all conversations, most recently updated first.
	List(ctx context.Context) ([]ConversationSummary, error)
}
