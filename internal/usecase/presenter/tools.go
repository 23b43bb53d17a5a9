package presenter

import (
	"context"

	"hearth/internal/domain"
)

// ToolsPresenter keeps the tool panel in sync with registry toggles.
type ToolsPresenter struct {
	source domain.ToolSource
}

// NewToolsPresenter creates the tool-panel presenter.
func NewToolsPresenter(source domain.ToolSource) *ToolsPresenter {
	return &ToolsPresenter{source: source}
}

func (p *ToolsPresenter) Name() string { return "tools" }

func (p *ToolsPresenter) Handle(ctx context.Context, ev domain.Event) ([]domain.ViewCommand, error) {
	if ev.Type != domain.EventToolToggled {
		return nil, nil
	}
	var pl domain.ToolToggledPayload
	if err := ev.DecodePayload(&pl); err != nil {
		return nil, err
	}
	// Re-read the registry rather than trusting the payload: the event may
	// be stale by the time a lagged panel catches up.
	return []domain.ViewCommand{domain.ToolRowUpdated{
		Name:    pl.Name,
		Enabled: p.source.Enabled(pl.Name),
	}}, nil
}
