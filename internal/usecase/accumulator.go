package usecase

import (
	"strings"

	"hearth/internal/domain"
)

// streamAccumulator folds one turn's deltas into text, thinking, and merged
// tool calls. Tool-call fragments are merged by ID; a fragment without an ID
// extends the most recent call's arguments.
type streamAccumulator struct {
	text     strings.Builder
	thinking strings.Builder
	calls    []domain.ToolCall
	index    map[string]int
	usage    domain.Usage
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{index: make(map[string]int)}
}

func (a *streamAccumulator) add(d domain.StreamDelta) {
	a.text.WriteString(d.Text)
	a.thinking.WriteString(d.Thinking)

	for _, tc := range d.ToolCalls {
		switch {
		case tc.ID == "" && len(a.calls) > 0:
			last := &a.calls[len(a.calls)-1]
			last.Arguments = append(last.Arguments, tc.Arguments...)
		case tc.ID == "":
			// Argument fragment with no open call; drop it.
		default:
			if i, ok := a.index[tc.ID]; ok {
				a.calls[i].Arguments = append(a.calls[i].Arguments, tc.Arguments...)
				if tc.Name != "" {
					a.calls[i].Name = tc.Name
				}
			} else {
				a.index[tc.ID] = len(a.calls)
				a.calls = append(a.calls, tc)
			}
		}
	}

	if d.Usage != nil {
		a.usage = *d.Usage
	}
}

func (a *streamAccumulator) Text() string                 { return a.text.String() }
func (a *streamAccumulator) Thinking() string             { return a.thinking.String() }
func (a *streamAccumulator) ToolCalls() []domain.ToolCall { return a.calls }
func (a *streamAccumulator) Usage() domain.Usage          { return a.usage }
