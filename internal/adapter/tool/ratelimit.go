package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"hearth/internal/domain"
)

// throttledTool caps how often a single tool may run. Rejections are
// retryable tool errors: the executor's retry budget gives the window a
// chance to open up again.
type throttledTool struct {
	inner   domain.Tool
	limiter *rate.Limiter
}

// withRateLimit wraps a tool with a token bucket allowing limit calls per
// window, with a burst of limit.
func withRateLimit(t domain.Tool, limit int, window time.Duration) domain.Tool {
	return &throttledTool{
		inner:   t,
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
	}
}

func (t *throttledTool) Name() string              { return t.inner.Name() }
func (t *throttledTool) Description() string       { return t.inner.Description() }
func (t *throttledTool) Schema() domain.ToolSchema { return t.inner.Schema() }

func (t *throttledTool) Execute(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	if !t.limiter.Allow() {
		return &domain.ToolResult{
			IsError:     true,
			IsRetryable: true,
			Content:     fmt.Sprintf("tool %q is rate limited, try again shortly", t.inner.Name()),
		}, nil
	}
	return t.inner.Execute(ctx, args)
}
