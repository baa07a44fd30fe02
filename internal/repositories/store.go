package repositories

import (
	"context"
	"errors"
	"time"

	"messaging-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrMessageDeleted       = errors.New("message already deleted")
	ErrConcurrentUpdate     = errors.New("message changed concurrently")
	ErrSelfConversation     = errors.New("cannot create conversation with self")
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	// GetOrCreateConversation returns the single conversation for the unordered pair
	// and subject, creating it when missing. created reports whether a row was inserted.
	GetOrCreateConversation(ctx context.Context, userID, otherID int64, subjectID *string) (conv models.Conversation, created bool, err error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID string, userID int64) (bool, error)
	ListConversations(ctx context.Context, userID int64, includeArchived bool) ([]models.ConversationSummary, error)
	SetArchived(ctx context.Context, conversationID string, userID int64, archived bool) error
	SetBlocked(ctx context.Context, conversationID string, userID int64, blocked bool) error
}

// MessageRepository defines interactions for messages.
type MessageRepository interface {
	// CreateMessage stores msg and, unless it is a system message, refreshes the
	// conversation's last-message preview and un-archives it for both participants.
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	// SaveEdit persists an edit produced by Message.ApplyEdit. It fails with
	// ErrMessageDeleted when the message was deleted and ErrConcurrentUpdate when
	// another edit landed since the message was read.
	SaveEdit(ctx context.Context, msg models.Message) error
	// SaveDeletion persists deletion metadata; ErrMessageDeleted if already deleted.
	SaveDeletion(ctx context.Context, msg models.Message) error
	// MarkConversationRead updates userID's last-read timestamp and marks unread
	// messages from the other participant as read. When messageIDs is non-empty only
	// those messages are considered. It returns the ids that changed state.
	MarkConversationRead(ctx context.Context, conversationID string, userID int64, messageIDs []string, at time.Time) ([]string, error)
}

// ReactionRepository defines interactions for reactions.
type ReactionRepository interface {
	// AddReaction is get-or-create on (message, user, emoji).
	AddReaction(ctx context.Context, reaction models.Reaction) (models.Reaction, bool, error)
	// RemoveReaction reports whether a reaction was removed.
	RemoveReaction(ctx context.Context, messageID string, userID int64, emoji string) (bool, error)
	ListReactions(ctx context.Context, messageID string) ([]models.Reaction, error)
}

// Store is the durable store consumed by the messaging core.
type Store interface {
	ConversationRepository
	MessageRepository
	ReactionRepository
}
