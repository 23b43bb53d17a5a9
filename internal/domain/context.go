package domain

import "context"

type ctxKey int

const conversationIDKey ctxKey = iota

// WithConversationID attaches a conversation ID to the context for logging
// and tracing.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

// ConversationIDFromContext extracts the conversation ID, if any.
func ConversationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(conversationIDKey).(string)
	return id, ok
}
