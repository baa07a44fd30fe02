package messaging

import (
	"context"

	"messaging-service/internal/hub"
	"messaging-service/internal/models"
	"messaging-service/internal/ratelimit"
)

// MarkRead marks messages sent by the other participant as read, optionally
// limited to messageIDs, and broadcasts the ids that changed. The acting
// connection does not receive its own receipt.
func (e *Engine) MarkRead(ctx context.Context, actor Actor, conversationID string, messageIDs []string) ([]string, error) {
	if conversationID == "" {
		return nil, ErrMissingConversation
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	readAt := e.clock.Now().UTC()
	changed, err := e.store.MarkConversationRead(ctx, conversationID, actor.UserID, messageIDs, readAt)
	if err != nil {
		return nil, e.storeError(err, "mark read", "conversation_id", conversationID, "user_id", actor.UserID)
	}
	if len(changed) == 0 {
		return changed, nil
	}

	var opts []hub.PublishOption
	if actor.ConnID != "" {
		opts = append(opts, hub.ExcludeConn(actor.ConnID))
	}
	e.publish(ctx, hub.ConversationGroup(conversationID), models.MessagesReadEvent{
		Type:           models.EventMessagesRead,
		ConversationID: conversationID,
		UserID:         actor.UserID,
		MessageIDs:     changed,
		ReadAt:         readAt,
	}, opts...)
	return changed, nil
}

// AddReaction applies emoji to a message. Re-adding an existing reaction is
// not an error; the broadcast reports changed=false.
func (e *Engine) AddReaction(ctx context.Context, actor Actor, messageID, emoji string) (models.Reaction, bool, error) {
	clean, err := e.prepareEmoji(emoji)
	if err != nil {
		return models.Reaction{}, false, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	msg, err := e.participantMessage(ctx, actor, messageID, false)
	if err != nil {
		return models.Reaction{}, false, err
	}
	if msg.IsDeleted() {
		return models.Reaction{}, false, ErrMessageDeleted
	}

	reaction, created, err := e.store.AddReaction(ctx, models.Reaction{
		MessageID: msg.ID,
		UserID:    actor.UserID,
		Emoji:     clean,
		CreatedAt: e.clock.Now().UTC(),
	})
	if err != nil {
		return models.Reaction{}, false, e.storeError(err, "add reaction", "message_id", msg.ID)
	}

	e.publish(ctx, hub.ConversationGroup(msg.ConversationID), models.ReactionEvent{
		Type:           models.EventReactionAdded,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		UserID:         actor.UserID,
		Emoji:          clean,
		Changed:        created,
	})
	return reaction, created, nil
}

// RemoveReaction deletes actor's emoji from a message. A reaction that did
// not exist is reported as not removed and nothing is broadcast; the caller
// answers the sender directly.
func (e *Engine) RemoveReaction(ctx context.Context, actor Actor, messageID, emoji string) (models.ReactionEvent, error) {
	clean, err := e.prepareEmoji(emoji)
	if err != nil {
		return models.ReactionEvent{}, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	msg, err := e.participantMessage(ctx, actor, messageID, false)
	if err != nil {
		return models.ReactionEvent{}, err
	}
	removed, err := e.store.RemoveReaction(ctx, msg.ID, actor.UserID, clean)
	if err != nil {
		return models.ReactionEvent{}, e.storeError(err, "remove reaction", "message_id", msg.ID)
	}

	event := models.ReactionEvent{
		Type:           models.EventReactionRemoved,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		UserID:         actor.UserID,
		Emoji:          clean,
		Changed:        removed,
	}
	if removed {
		e.publish(ctx, hub.ConversationGroup(msg.ConversationID), event)
	}
	return event, nil
}

// Typing relays a typing indicator to the other members of the conversation
// group. Over the typing limit the event is dropped and false is returned.
func (e *Engine) Typing(ctx context.Context, actor Actor, conversationID string, isTyping bool) bool {
	if conversationID == "" {
		return false
	}
	if !e.allow(ratelimit.KindTyping, actor.UserID) {
		return false
	}
	e.publish(ctx, hub.ConversationGroup(conversationID), models.TypingIndicatorEvent{
		Type:           models.EventTypingIndicator,
		ConversationID: conversationID,
		UserID:         actor.UserID,
		IsTyping:       isTyping,
	}, hub.ExcludeUser(actor.UserID))
	return true
}
