package usecase

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"hearth/internal/domain"
)

// tokenOverheadPerMessage approximates the per-message framing cost of the
// chat format.
const tokenOverheadPerMessage = 4

// ContextBuilder assembles the model request for one turn: system prompt
// first, then the transcript truncated to the profile's context limit, then
// the enabled tool schemas snapshot.
type ContextBuilder struct {
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
}

// NewContextBuilder creates a builder. The token encoder is loaded lazily on
// first use.
func NewContextBuilder() *ContextBuilder {
	return &ContextBuilder{}
}

// Build produces a ChatRequest for the profile over the given transcript and
// tool snapshot. Truncation drops the oldest messages first and never splits
// an [assistant(tool_calls), tool results...] group.
func (cb *ContextBuilder) Build(profile domain.Profile, history []domain.Message, tools []domain.ToolSchema) domain.ChatRequest {
	messages := make([]domain.Message, 0, 1+len(history))

	if profile.SystemPrompt != "" {
		messages = append(messages, domain.Message{
			Role:    domain.RoleSystem,
			Content: profile.SystemPrompt,
		})
	}

	budget := profile.ContextLimit
	if budget > 0 {
		// Reserve room for the system prompt, tool schemas, and the reply.
		budget -= cb.countMessageTokens(messages)
		budget -= cb.countToolTokens(tools)
		budget -= profile.MaxTokens
	}

	messages = append(messages, cb.truncate(history, budget)...)

	return domain.ChatRequest{
		Model:       profile.Model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   profile.MaxTokens,
		Temperature: profile.Temperature,
	}
}

// truncate keeps the newest whole groups that fit the token budget. A
// non-positive budget keeps everything.
func (cb *ContextBuilder) truncate(history []domain.Message, budget int) []domain.Message {
	if budget <= 0 || cb.countMessageTokens(history) <= budget {
		return history
	}

	groups := groupMessages(history)

	var kept [][]domain.Message
	total := 0
	for i := len(groups) - 1; i >= 0; i-- {
		cost := cb.countMessageTokens(groups[i])
		if total+cost > budget && total > 0 {
			break
		}
		kept = append(kept, groups[i])
		total += cost
	}

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	result := make([]domain.Message, 0, len(history))
	for _, g := range kept {
		result = append(result, g...)
	}
	return result
}

// groupMessages partitions the transcript into atomic groups: an assistant
// message with tool calls plus its immediately following tool results form
// one group, everything else stands alone.
func groupMessages(msgs []domain.Message) [][]domain.Message {
	var groups [][]domain.Message
	i := 0
	for i < len(msgs) {
		msg := msgs[i]
		if msg.Role == domain.RoleAssistant && len(msg.ToolCalls) > 0 {
			group := []domain.Message{msg}
			j := i + 1
			for j < len(msgs) && msgs[j].Role == domain.RoleTool {
				group = append(group, msgs[j])
				j++
			}
			groups = append(groups, group)
			i = j
		} else {
			groups = append(groups, []domain.Message{msg})
			i++
		}
	}
	return groups
}

func (cb *ContextBuilder) countMessageTokens(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += tokenOverheadPerMessage
		total += cb.countText(m.Content)
		total += cb.countText(m.Thinking)
		for _, tc := range m.ToolCalls {
			total += cb.countText(tc.Name)
			total += cb.countText(string(tc.Arguments))
			total += cb.countText(tc.Result)
		}
	}
	return total
}

func (cb *ContextBuilder) countToolTokens(tools []domain.ToolSchema) int {
	total := 0
	for _, t := range tools {
		total += tokenOverheadPerMessage
		total += cb.countText(t.Name)
		total += cb.countText(t.Description)
		total += cb.countText(string(t.Parameters))
	}
	return total
}

// countText counts tokens with cl100k_base, falling back to a bytes/4
// estimate when the encoding data is unavailable (offline first run).
func (cb *ContextBuilder) countText(s string) int {
	if s == "" {
		return 0
	}
	cb.encodingOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE); err == nil {
			cb.encoding = enc
		}
	})
	if cb.encoding == nil {
		return len(s) / 4
	}
	return len(cb.encoding.Encode(s, nil, nil))
}

// EstimateTokens exposes the builder's token count for one message list,
// used by callers reporting usage when the provider omits it.
func (cb *ContextBuilder) EstimateTokens(msgs []domain.Message) int {
	return cb.countMessageTokens(msgs)
}
