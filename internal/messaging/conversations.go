package messaging

import (
	"context"

	"messaging-service/internal/models"
	"messaging-service/internal/telemetry"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// AuthorizeJoin reports whether actor may join the conversation group.
// Unknown conversations are simply not joinable.
func (e *Engine) AuthorizeJoin(ctx context.Context, actor Actor, conversationID string) (bool, error) {
	if conversationID == "" {
		return false, nil
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	ok, err := e.store.IsParticipant(ctx, conversationID, actor.UserID)
	if err != nil {
		return false, e.storeError(err, "check participant", "conversation_id", conversationID, "user_id", actor.UserID)
	}
	return ok, nil
}

// Conversations lists actor's conversations, most recent first.
func (e *Engine) Conversations(ctx context.Context, actor Actor, includeArchived bool) ([]models.ConversationSummary, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	list, err := e.store.ListConversations(ctx, actor.UserID, includeArchived)
	if err != nil {
		return nil, e.storeError(err, "list conversations", "user_id", actor.UserID)
	}
	return list, nil
}

// History returns up to limit of the latest messages in chronological order.
func (e *Engine) History(ctx context.Context, actor Actor, conversationID string, limit int) ([]models.MessageView, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if _, err := e.participantConversation(ctx, actor, conversationID); err != nil {
		return nil, err
	}
	msgs, err := e.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, e.storeError(err, "list messages", "conversation_id", conversationID)
	}
	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, m.View())
	}
	return views, nil
}

// SetArchived archives or restores the conversation for actor only.
func (e *Engine) SetArchived(ctx context.Context, actor Actor, conversationID string, archived bool) error {
	if conversationID == "" {
		return ErrMissingConversation
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if err := e.store.SetArchived(ctx, conversationID, actor.UserID, archived); err != nil {
		return e.storeError(err, "set archived", "conversation_id", conversationID)
	}
	return nil
}

// SetBlocked blocks or unblocks the conversation on actor's side. While either
// side has it blocked no messages can be sent.
func (e *Engine) SetBlocked(ctx context.Context, actor Actor, conversationID string, blocked bool) error {
	if conversationID == "" {
		return ErrMissingConversation
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if err := e.store.SetBlocked(ctx, conversationID, actor.UserID, blocked); err != nil {
		return e.storeError(err, "set blocked", "conversation_id", conversationID)
	}

	action := telemetry.ActionConversationBlocked
	if !blocked {
		action = telemetry.ActionConversationUnblock
	}
	e.audit.Emit(ctx, actor.UserID, actor.RequestID, telemetry.AuditPayload{
		Action:         action,
		ConversationID: conversationID,
	})
	return nil
}
