package presenter

import (
	"context"

	"hearth/internal/domain"
)

// ChatPresenter turns stream and tool lifecycle events into chat view
// commands. System errors and lag notices also land here so the chat view
// can show a status line.
type ChatPresenter struct{}

// NewChatPresenter creates the chat presenter.
func NewChatPresenter() *ChatPresenter {
	return &ChatPresenter{}
}

func (p *ChatPresenter) Name() string { return "chat" }

func (p *ChatPresenter) Handle(ctx context.Context, ev domain.Event) ([]domain.ViewCommand, error) {
	switch ev.Type {
	case domain.EventStreamStarted:
		var pl domain.StreamStartedPayload
		if err := ev.DecodePayload(&pl); err != nil {
			return nil, err
		}
		return []domain.ViewCommand{domain.StreamOpened{
			ConversationID: ev.ConversationID,
			StreamID:       pl.StreamID,
			Model:          pl.Model,
		}}, nil

	case domain.EventTextDelta:
		var pl domain.DeltaPayload
		if err := ev.DecodePayload(&pl); err != nil {
			return nil, err
		}
		return []domain.ViewCommand{domain.AppendTextDelta{
			ConversationID: ev.ConversationID,
			Text:           pl.Text,
		}}, nil

	case domain.EventThinkingDelta:
		var pl domain.DeltaPayload
		if err := ev.DecodePayload(&pl); err != nil {
			return nil, err
		}
		return []domain.ViewCommand{domain.AppendThinkingDelta{
			ConversationID: ev.ConversationID,
			Text:           pl.Text,
		}}, nil

	case domain.EventToolCallStarted:
		var pl domain.ToolCallStartedPayload
		if err := ev.DecodePayload(&pl); err != nil {
			return nil, err
		}
		return []domain.ViewCommand{domain.ToolCallBegan{
			ConversationID: ev.ConversationID,
			CallID:         pl.CallID,
			Name:           pl.Name,
		}}, nil

	case domain.EventToolCallCompleted:
		var pl domain.ToolCallCompletedPayload
		if err := ev.DecodePayload(&pl); err != nil {
			return nil, err
		}
		return []domain.ViewCommand{domain.ToolCallFinished{
			ConversationID: ev.ConversationID,
			CallID:         pl.CallID,
			Name:           pl.Name,
			Success:        pl.Success,
			Result:         pl.Result,
			Error:          pl.Error,
		}}, nil

	case domain.EventStreamCompleted:
		var pl domain.StreamCompletedPayload
		if err := ev.DecodePayload(&pl); err != nil {
			return nil, err
		}
		return []domain.ViewCommand{domain.StreamClosed{
			ConversationID: ev.ConversationID,
			Tokens:         pl.Tokens,
		}}, nil

	case domain.EventStreamCancelled:
		var pl domain.StreamCancelledPayload
		if err := ev.DecodePayload(&pl); err != nil {
			return nil, err
		}
		return []domain.ViewCommand{domain.StreamAborted{
			ConversationID: ev.ConversationID,
			PartialText:    pl.PartialText,
		}}, nil

	case domain.EventStreamError:
		var pl domain.StreamErrorPayload
		if err := ev.DecodePayload(&pl); err != nil {
			return nil, err
		}
		return []domain.ViewCommand{domain.ShowError{
			ConversationID: ev.ConversationID,
			Code:           pl.Code,
			Message:        pl.Message,
			Retryable:      pl.Retryable,
		}}, nil

	case domain.EventSystemError:
		var pl domain.SystemErrorPayload
		if err := ev.DecodePayload(&pl); err != nil {
			return nil, err
		}
		return []domain.ViewCommand{domain.ShowError{
			ConversationID: ev.ConversationID,
			Code:           domain.CodeInternal,
			Message:        pl.Component + ": " + pl.Message,
		}}, nil

	case domain.EventSystemLagged:
		var pl domain.LaggedPayload
		if err := ev.DecodePayload(&pl); err != nil {
			return nil, err
		}
		// The view refreshes from the store after a gap; the notice just
		// tells the user the stream display skipped ahead.
		return []domain.ViewCommand{domain.ShowNotice{
			Text: "display fell behind, some output was skipped",
		}}, nil
	}

	return nil, nil
}
