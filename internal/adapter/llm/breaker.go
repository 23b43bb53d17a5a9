package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"hearth/internal/domain"
)

// Breaker thresholds. Five consecutive failures open the circuit; after
// 30 seconds one probe is let through.
const (
	breakerMaxFailures uint32 = 5
	breakerTimeout            = 30 * time.Second
	breakerInterval           = 60 * time.Second
)

// BreakerProvider wraps a provider with a circuit breaker so a dead backend
// fails fast instead of feeding retry storms. Only call initiation is
// protected; deltas arriving after the stream opened never trip the breaker.
type BreakerProvider struct {
	inner   domain.StreamingLLMProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
	logger  *slog.Logger
}

// NewBreakerProvider wraps inner with a circuit breaker.
func NewBreakerProvider(inner domain.StreamingLLMProvider, logger *slog.Logger) *BreakerProvider {
	cb := gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
		Name:        "llm:" + inner.Name(),
		MaxRequests: 1,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// A user abort is not a backend failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerProvider{inner: inner, breaker: cb, logger: logger}
}

// Name implements domain.LLMProvider.
func (p *BreakerProvider) Name() string { return p.inner.Name() }

// Chat implements domain.LLMProvider.
func (p *BreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	if err != nil {
		return nil, p.wrapBreakerErr(err)
	}
	return resp, nil
}

// ChatStream implements domain.StreamingLLMProvider.
func (p *BreakerProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	var ch <-chan domain.StreamDelta
	_, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		var streamErr error
		ch, streamErr = p.inner.ChatStream(ctx, req)
		return nil, streamErr
	})
	if err != nil {
		return nil, p.wrapBreakerErr(err)
	}
	return ch, nil
}

// State exposes the breaker state for diagnostics.
func (p *BreakerProvider) State() gobreaker.State { return p.breaker.State() }

func (p *BreakerProvider) wrapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: provider %q circuit open: %v", domain.ErrNetwork, p.inner.Name(), err)
	}
	return err
}

// Compile-time interface checks.
var (
	_ domain.LLMProvider          = (*BreakerProvider)(nil)
	_ domain.StreamingLLMProvider = (*BreakerProvider)(nil)
)
