package presenter

import (
	"context"

	"hearth/internal/domain"
)

// ConversationsPresenter keeps the sidebar listing and the active
// transcript in sync with the store. Events carry identifiers only; the
// presenter loads the bodies itself.
type ConversationsPresenter struct {
	store domain.ConversationStore
}

// NewConversationsPresenter creates the conversation-list presenter.
func NewConversationsPresenter(store domain.ConversationStore) *ConversationsPresenter {
	return &ConversationsPresenter{store: store}
}

func (p *ConversationsPresenter) Name() string { return "conversations" }

func (p *ConversationsPresenter) Handle(ctx context.Context, ev domain.Event) ([]domain.ViewCommand, error) {
	switch ev.Type {
	case domain.EventConversationCreated, domain.EventConversationSelected:
		conv, err := p.store.Load(ctx, ev.ConversationID)
		if err != nil {
			return nil, err
		}
		cmds := []domain.ViewCommand{domain.ConversationActivated{
			ConversationID: conv.ID,
			Title:          conv.Title,
			Messages:       conv.Messages,
		}}
		list, err := p.listCommand(ctx)
		if err != nil {
			return cmds, err
		}
		return append(cmds, list), nil

	case domain.EventConversationListChanged:
		list, err := p.listCommand(ctx)
		if err != nil {
			return nil, err
		}
		return []domain.ViewCommand{list}, nil

	case domain.EventMessageSaved:
		// Message counts and ordering in the sidebar change on every save.
		list, err := p.listCommand(ctx)
		if err != nil {
			return nil, err
		}
		return []domain.ViewCommand{list}, nil
	}

	return nil, nil
}

func (p *ConversationsPresenter) listCommand(ctx context.Context) (domain.ViewCommand, error) {
	summaries, err := p.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return domain.ConversationListUpdated{Summaries: summaries}, nil
}
