package messaging

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"messaging-service/internal/hub"
	"messaging-service/internal/models"
	"messaging-service/internal/ratelimit"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// SendRequest is a new message. When ConversationID is empty the message
// starts (or reuses) the conversation with RecipientID about SubjectID.
type SendRequest struct {
	ConversationID string
	RecipientID    int64
	SubjectID      *string
	Content        string
	TempID         string
}

// Send persists a message and broadcasts it to the conversation group and to
// the other participant's personal group.
func (e *Engine) Send(ctx context.Context, actor Actor, req SendRequest) (models.Message, error) {
	if !e.allow(ratelimit.KindMessage, actor.UserID) {
		return models.Message{}, ErrRateLimited
	}
	content, err := e.prepareContent(req.Content)
	if err != nil {
		return models.Message{}, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if req.ConversationID == "" {
		if req.RecipientID == 0 {
			return models.Message{}, ErrMissingConversation
		}
		_, msg, err := e.start(ctx, actor, req.RecipientID, req.SubjectID, content, req.TempID)
		return msg, err
	}

	conv, err := e.participantConversation(ctx, actor, req.ConversationID)
	if err != nil {
		return models.Message{}, err
	}
	msg, err := e.persist(ctx, actor, conv, content)
	if err != nil {
		return models.Message{}, err
	}

	view := msg.View()
	e.publish(ctx, hub.ConversationGroup(conv.ID), models.NewMessageEvent{
		Type:    models.EventNewMessage,
		Message: view,
		TempID:  req.TempID,
	})
	e.publish(ctx, hub.UserGroup(conv.OtherParticipant(actor.UserID)), models.NewMessageNotificationEvent{
		Type:           models.EventNewMessageNotification,
		ConversationID: conv.ID,
		Message:        view,
	})
	return msg, nil
}

// StartConversation gets or creates the conversation between actor and
// recipientID for subjectID and sends the first message into it.
func (e *Engine) StartConversation(ctx context.Context, actor Actor, recipientID int64, subjectID *string, content, tempID string) (models.Conversation, models.Message, error) {
	if !e.allow(ratelimit.KindMessage, actor.UserID) {
		return models.Conversation{}, models.Message{}, ErrRateLimited
	}
	clean, err := e.prepareContent(content)
	if err != nil {
		return models.Conversation{}, models.Message{}, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.start(ctx, actor, recipientID, subjectID, clean, tempID)
}

func (e *Engine) start(ctx context.Context, actor Actor, recipientID int64, subjectID *string, content, tempID string) (models.Conversation, models.Message, error) {
	if recipientID <= 0 {
		return models.Conversation{}, models.Message{}, ErrAccessDenied
	}
	if recipientID == actor.UserID {
		return models.Conversation{}, models.Message{}, ErrSelfConversation
	}
	conv, created, err := e.store.GetOrCreateConversation(ctx, actor.UserID, recipientID, subjectID)
	if err != nil {
		if errors.Is(err, repositories.ErrSelfConversation) {
			return models.Conversation{}, models.Message{}, ErrSelfConversation
		}
		return models.Conversation{}, models.Message{}, e.storeError(err, "get or create conversation", "recipient_id", recipientID)
	}
	if created {
		e.logger.Info("conversation created", "conversation_id", conv.ID, "user_id", actor.UserID, "recipient_id", recipientID)
	}

	msg, err := e.persist(ctx, actor, conv, content)
	if err != nil {
		return models.Conversation{}, models.Message{}, err
	}

	view := msg.View()
	e.publish(ctx, hub.ConversationGroup(conv.ID), models.NewMessageEvent{
		Type:    models.EventNewMessage,
		Message: view,
		TempID:  tempID,
	})
	e.publish(ctx, hub.UserGroup(recipientID), models.NewMessageNotificationEvent{
		Type:           models.EventNewMessageNotification,
		ConversationID: conv.ID,
		Message:        view,
	})
	e.publish(ctx, hub.UserGroup(actor.UserID), models.NewMessageNotificationEvent{
		Type:           models.EventNewMessageNotification,
		ConversationID: conv.ID,
		Message:        view,
		TempID:         tempID,
	})
	return conv, msg, nil
}

func (e *Engine) persist(ctx context.Context, actor Actor, conv models.Conversation, content string) (models.Message, error) {
	if conv.IsBlocked() {
		return models.Message{}, ErrConversationBlocked
	}
	msg, err := e.store.CreateMessage(ctx, models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       actor.UserID,
		Content:        content,
		CreatedAt:      e.clock.Now().UTC(),
		EditHistory:    models.EditHistory{},
	})
	if err != nil {
		return models.Message{}, e.storeError(err, "create message", "conversation_id", conv.ID, "user_id", actor.UserID)
	}
	return msg, nil
}

// Edit replaces the content of actor's own message inside the edit window.
func (e *Engine) Edit(ctx context.Context, actor Actor, messageID, content string) (models.Message, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	msg, err := e.participantMessage(ctx, actor, messageID, false)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != actor.UserID {
		return models.Message{}, ErrEditNotAllowed
	}
	if msg.IsDeleted() {
		return models.Message{}, ErrMessageDeleted
	}
	now := e.clock.Now().UTC()
	if now.Sub(msg.CreatedAt) > e.cfg.EditWindow {
		return models.Message{}, ErrEditWindowExpired
	}
	clean, err := e.prepareContent(content)
	if err != nil {
		return models.Message{}, err
	}

	msg.ApplyEdit(clean, actor.UserID, now)
	if err := e.store.SaveEdit(ctx, msg); err != nil {
		switch {
		case errors.Is(err, repositories.ErrMessageDeleted):
			return models.Message{}, ErrMessageDeleted
		case errors.Is(err, repositories.ErrConcurrentUpdate):
			return models.Message{}, ErrConcurrentEdit
		}
		return models.Message{}, e.storeError(err, "save edit", "message_id", msg.ID)
	}

	e.publish(ctx, hub.ConversationGroup(msg.ConversationID), models.MessageEditedEvent{
		Type:    models.EventMessageEdited,
		Message: msg.View(),
	})
	e.audit.Emit(ctx, actor.UserID, actor.RequestID, telemetry.AuditPayload{
		Action:         telemetry.ActionMessageEdited,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
	})
	return msg, nil
}

// Delete marks a message deleted. The sender or a staff identity may delete.
func (e *Engine) Delete(ctx context.Context, actor Actor, messageID string, kind models.DeletionType) (models.Message, error) {
	if kind == "" {
		kind = models.DeletionSoft
	}
	if !kind.Valid() {
		return models.Message{}, ErrInvalidDeletionType
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	msg, err := e.participantMessage(ctx, actor, messageID, true)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != actor.UserID && !actor.IsStaff {
		return models.Message{}, ErrDeleteNotAllowed
	}
	if msg.IsDeleted() {
		return models.Message{}, ErrMessageDeleted
	}

	msg.ApplyDeletion(actor.UserID, kind, e.clock.Now().UTC())
	if err := e.store.SaveDeletion(ctx, msg); err != nil {
		if errors.Is(err, repositories.ErrMessageDeleted) {
			return models.Message{}, ErrMessageDeleted
		}
		return models.Message{}, e.storeError(err, "save deletion", "message_id", msg.ID)
	}

	e.publish(ctx, hub.ConversationGroup(msg.ConversationID), models.MessageDeletedEvent{
		Type:           models.EventMessageDeleted,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		DeletionType:   kind,
		DeletedBy:      actor.UserID,
	})
	e.audit.Emit(ctx, actor.UserID, actor.RequestID, telemetry.AuditPayload{
		Action:         telemetry.ActionMessageDeleted,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Detail:         string(kind),
	})
	return msg, nil
}
