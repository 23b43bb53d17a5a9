package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hearth/internal/domain"
	"hearth/internal/infra/tracer"
)

// DefaultToolTimeout bounds a single tool attempt when none is configured.
const DefaultToolTimeout = 30 * time.Second

// ToolExecutor runs one tool call against the registry: lookup by exact
// name, deadline per attempt, outcome captured as a ToolCallRecord. Retry
// policy lives in the orchestrator; the executor reports whether a failure
// looks retryable.
type ToolExecutor struct {
	source  domain.ToolSource
	timeout time.Duration
	logger  *slog.Logger
}

// NewToolExecutor creates an executor over the given tool source.
func NewToolExecutor(source domain.ToolSource, timeout time.Duration, logger *slog.Logger) *ToolExecutor {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &ToolExecutor{
		source:  source,
		timeout: timeout,
		logger:  logger,
	}
}

// ExecResult is the outcome of one attempt.
type ExecResult struct {
	content   string
	err       error
	retryable bool
}

// Execute runs one attempt of the call. Retry accounting and the durable
// ToolCallRecord are assembled by the caller across attempts.
func (e *ToolExecutor) Execute(ctx context.Context, call domain.ToolCall) ExecResult {
	ctx, span := tracer.StartSpan(ctx, "executor.execute")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("tool.name", call.Name),
		tracer.StringAttr("tool.call_id", call.ID),
	)

	tool, err := e.source.Get(call.Name)
	if err != nil {
		tracer.RecordError(span, err)
		// Unknown tool: the model hallucinated a name. Not retryable.
		return ExecResult{
			err: domain.WrapOpDetail("executor.lookup", domain.ErrToolExecution,
				fmt.Sprintf("unknown tool %q", call.Name)),
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Execute(attemptCtx, call.Arguments)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		retryable := errors.Is(err, context.DeadlineExceeded) || domain.IsRetryable(err)
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.WrapOpDetail("executor.execute", domain.ErrTimeout,
				fmt.Sprintf("tool %q exceeded %s", call.Name, e.timeout))
		}
		e.logger.Warn("tool attempt failed",
			"tool", call.Name,
			"call_id", call.ID,
			"elapsed", elapsed,
			"error", err,
		)
		tracer.RecordError(span, err)
		return ExecResult{err: err, retryable: retryable}

	case result != nil && result.IsError:
		e.logger.Warn("tool reported error",
			"tool", call.Name,
			"call_id", call.ID,
			"elapsed", elapsed,
			"retryable", result.IsRetryable,
		)
		return ExecResult{
			content:   result.Content,
			err:       domain.WrapOpDetail("executor.execute", domain.ErrToolExecution, result.Content),
			retryable: result.IsRetryable,
		}

	default:
		e.logger.Debug("tool succeeded",
			"tool", call.Name,
			"call_id", call.ID,
			"elapsed", elapsed,
		)
		tracer.SetOK(span)
		content := ""
		if result != nil {
			content = result.Content
		}
		return ExecResult{content: content}
	}
}
