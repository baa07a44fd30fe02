package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

const conversationColumns = `id, participant_a_id, participant_b_id, subject_id, created_at, last_message,
	last_message_at, last_message_sender_id, a_last_read_at, b_last_read_at, a_archived, b_archived, a_blocked, b_blocked`

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// GetOrCreateConversation relies on the unique index over the participant
// pair and subject (a missing subject indexes as the empty string) so
// concurrent callers converge on one row.
func (r *ConversationRepo) GetOrCreateConversation(ctx context.Context, userID, otherID int64, subjectID *string) (models.Conversation, bool, error) {
	if userID == otherID {
		return models.Conversation{}, false, ErrSelfConversation
	}
	a, b := models.OrderedPair(userID, otherID)

	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `INSERT INTO conversations (id, participant_a_id, participant_b_id, subject_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (participant_a_id, participant_b_id, (COALESCE(subject_id, ''))) DO NOTHING
		RETURNING `+conversationColumns, uuid.NewString(), a, b, subjectID)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, false, err
	}

	err = r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations
		WHERE participant_a_id=$1 AND participant_b_id=$2 AND COALESCE(subject_id, '') = COALESCE($3, '')`, a, b, subjectID)
	if err != nil {
		return models.Conversation{}, false, err
	}
	return conv, false, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID string, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1 AND (participant_a_id=$2 OR participant_b_id=$2))`, conversationID, userID)
	return exists, err
}

type conversationRow struct {
	models.Conversation
	UnreadCount int `db:"unread_count"`
}

// ListConversations returns conversations of the user, most recently active first.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID int64, includeArchived bool) ([]models.ConversationSummary, error) {
	query := `SELECT ` + conversationColumns + `,
		(SELECT COUNT(*) FROM messages m
			WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.is_read = FALSE AND m.deleted_at IS NULL) AS unread_count
		FROM conversations c
		WHERE (c.participant_a_id=$1 OR c.participant_b_id=$1)
		AND ($2 OR NOT (CASE WHEN c.participant_a_id=$1 THEN c.a_archived ELSE c.b_archived END))
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC`
	var rows []conversationRow
	if err := r.db.SelectContext(ctx, &rows, query, userID, includeArchived); err != nil {
		return nil, err
	}

	result := make([]models.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		result = append(result, summarize(row.Conversation, userID, row.UnreadCount))
	}
	return result, nil
}

// SetArchived updates the archived flag on the caller's side.
func (r *ConversationRepo) SetArchived(ctx context.Context, conversationID string, userID int64, archived bool) error {
	return r.setFlag(ctx, "archived", conversationID, userID, archived)
}

// SetBlocked updates the blocked flag on the caller's side.
func (r *ConversationRepo) SetBlocked(ctx context.Context, conversationID string, userID int64, blocked bool) error {
	return r.setFlag(ctx, "blocked", conversationID, userID, blocked)
}

func (r *ConversationRepo) setFlag(ctx context.Context, flag, conversationID string, userID int64, value bool) error {
	// flag is one of two constants, never user input.
	query := `UPDATE conversations SET
		a_` + flag + ` = CASE WHEN participant_a_id=$2 THEN $3 ELSE a_` + flag + ` END,
		b_` + flag + ` = CASE WHEN participant_b_id=$2 THEN $3 ELSE b_` + flag + ` END
		WHERE id=$1 AND (participant_a_id=$2 OR participant_b_id=$2)`
	res, err := r.db.ExecContext(ctx, query, conversationID, userID, value)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func summarize(conv models.Conversation, userID int64, unread int) models.ConversationSummary {
	return models.ConversationSummary{
		Conversation: conv,
		OtherUserID:  conv.OtherParticipant(userID),
		UnreadCount:  unread,
		Archived:     conv.ArchivedFor(userID),
		Blocked:      conv.IsBlocked(),
	}
}
