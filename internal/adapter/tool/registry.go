package tool

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"hearth/internal/domain"
	"hearth/internal/infra/config"
)

// Registry holds named tools and their enabled flags. It is the single
// authority on tool availability: the orchestrator snapshots enabled schemas
// from here, and user toggles land here.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]domain.Tool
	disabled map[string]bool
	logger   *slog.Logger

	ratePerMinute int
}

// NewRegistry creates an empty registry. Tools listed in cfg.Disabled start
// disabled once registered; cfg.RatePerMinute > 0 wraps every tool with a
// per-tool rate limiter.
func NewRegistry(cfg config.ToolsConfig, logger *slog.Logger) *Registry {
	r := &Registry{
		tools:         make(map[string]domain.Tool),
		disabled:      make(map[string]bool),
		logger:        logger,
		ratePerMinute: cfg.RatePerMinute,
	}
	for _, name := range cfg.Disabled {
		r.disabled[name] = true
	}
	return r
}

// Register adds a tool, wrapping it with schema validation and, when
// configured, rate limiting. Returns an error if the name is taken.
// If schema compilation fails the tool is registered unvalidated and a
// warning is logged.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	wrapped, err := withSchemaValidation(t)
	if err != nil {
		r.logger.Warn("schema validation disabled for tool", "tool", name, "error", err)
	} else {
		t = wrapped
	}

	if r.ratePerMinute > 0 {
		t = withRateLimit(t, r.ratePerMinute, time.Minute)
	}

	r.tools[name] = t
	return nil
}

// RegisterAll registers every tool, stopping at the first failure.
func (r *Registry) RegisterAll(tools ...domain.Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the named tool or ErrNotFound. Disabled tools are still
// returned: a stream that snapshotted the tool while it was enabled must be
// able to execute it.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.WrapOpDetail("registry.get", domain.ErrNotFound, name)
	}
	return t, nil
}

// AvailableTools returns every registered tool's schema, sorted by name.
func (r *Registry) AvailableTools() []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]domain.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, t.Schema())
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Enabled reports whether the named tool is registered and not disabled.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.tools[name]
	return ok && !r.disabled[name]
}

// SetEnabled flips a tool's enabled flag and reports whether anything
// changed. Unknown names return ErrNotFound. Repeating a toggle is a no-op.
func (r *Registry) SetEnabled(name string, enabled bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; !ok {
		return false, domain.WrapOpDetail("registry.set_enabled", domain.ErrNotFound, name)
	}

	was := !r.disabled[name]
	if was == enabled {
		return false, nil
	}
	if enabled {
		delete(r.disabled, name)
	} else {
		r.disabled[name] = true
	}
	r.logger.Info("tool toggled", "tool", name, "enabled", enabled)
	return true, nil
}
