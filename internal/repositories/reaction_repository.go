package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// ReactionRepo is a sqlx-backed implementation of ReactionRepository.
type ReactionRepo struct {
	db *sqlx.DB
}

// NewReactionRepo constructs a ReactionRepo.
func NewReactionRepo(db *sqlx.DB) *ReactionRepo {
	return &ReactionRepo{db: db}
}

// AddReaction inserts the reaction unless the (message, user, emoji) triple exists.
func (r *ReactionRepo) AddReaction(ctx context.Context, reaction models.Reaction) (models.Reaction, bool, error) {
	if reaction.ID == "" {
		reaction.ID = uuid.NewString()
	}
	var stored models.Reaction
	err := r.db.GetContext(ctx, &stored, `INSERT INTO reactions (id, message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
		RETURNING id, message_id, user_id, emoji, created_at`,
		reaction.ID, reaction.MessageID, reaction.UserID, reaction.Emoji, reaction.CreatedAt)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Reaction{}, false, err
	}
	err = r.db.GetContext(ctx, &stored, `SELECT id, message_id, user_id, emoji, created_at FROM reactions
		WHERE message_id=$1 AND user_id=$2 AND emoji=$3`, reaction.MessageID, reaction.UserID, reaction.Emoji)
	return stored, false, err
}

// RemoveReaction deletes the triple if present.
func (r *ReactionRepo) RemoveReaction(ctx context.Context, messageID string, userID int64, emoji string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3`, messageID, userID, emoji)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}

// ListReactions returns the reactions of a message in creation order.
func (r *ReactionRepo) ListReactions(ctx context.Context, messageID string) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := r.db.SelectContext(ctx, &reactions, `SELECT id, message_id, user_id, emoji, created_at FROM reactions WHERE message_id=$1 ORDER BY created_at ASC`, messageID)
	return reactions, err
}
