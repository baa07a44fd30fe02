package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

const messageColumns = `id, conversation_id, sender_id, content, original_content, created_at, edited_at, is_edited,
	edit_history, is_read, read_at, is_system_message, deleted_at, deleted_by, deletion_type`

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and updates the conversation preview in one transaction.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (result models.Message, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO messages (id, conversation_id, sender_id, content, created_at, is_system_message, edit_history)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt, msg.IsSystemMessage, msg.EditHistory); err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if !msg.IsSystemMessage {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `UPDATE conversations SET last_message=$2, last_message_at=$3, last_message_sender_id=$4,
			a_archived=FALSE, b_archived=FALSE WHERE id=$1`,
			msg.ConversationID, models.Preview(msg.Content), msg.CreatedAt, msg.SenderID)
		if err != nil {
			return models.Message{}, fmt.Errorf("update preview: %w", err)
		}
		var count int64
		if count, err = res.RowsAffected(); err != nil {
			return models.Message{}, err
		}
		if count == 0 {
			err = ErrConversationNotFound
			return models.Message{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListMessages returns the latest limit messages in chronological order.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	query := `SELECT * FROM (
		SELECT ` + messageColumns + ` FROM messages WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT $2
	) latest ORDER BY created_at ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, conversationID, limit)
	return msgs, err
}

// SaveEdit persists content and edit-history changes of a live message.
func (r *MessageRepo) SaveEdit(ctx context.Context, msg models.Message) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET content=$2, original_content=$3, edited_at=$4, is_edited=$5, edit_history=$6
		WHERE id=$1 AND deleted_at IS NULL AND jsonb_array_length(edit_history) = $7`,
		msg.ID, msg.Content, msg.OriginalContent, msg.EditedAt, msg.IsEdited, msg.EditHistory, len(msg.EditHistory)-1)
	if err != nil {
		return err
	}
	return r.checkLiveUpdate(ctx, res, msg.ID)
}

// SaveDeletion persists deletion metadata of a live message.
func (r *MessageRepo) SaveDeletion(ctx context.Context, msg models.Message) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET deleted_at=$2, deleted_by=$3, deletion_type=$4
		WHERE id=$1 AND deleted_at IS NULL`,
		msg.ID, msg.DeletedAt, msg.DeletedBy, msg.DeletionType)
	if err != nil {
		return err
	}
	return r.checkLiveUpdate(ctx, res, msg.ID)
}

// checkLiveUpdate explains why a guarded update touched no rows.
func (r *MessageRepo) checkLiveUpdate(ctx context.Context, res sql.Result, messageID string) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	current, err := r.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if current.IsDeleted() {
		return ErrMessageDeleted
	}
	return ErrConcurrentUpdate
}

// MarkConversationRead marks messages read and records the reader's last-read time.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID string, userID int64, messageIDs []string, at time.Time) (ids []string, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET
		a_last_read_at = CASE WHEN participant_a_id=$2 THEN $3 ELSE a_last_read_at END,
		b_last_read_at = CASE WHEN participant_b_id=$2 THEN $3 ELSE b_last_read_at END
		WHERE id=$1 AND (participant_a_id=$2 OR participant_b_id=$2)`, conversationID, userID, at)
	if err != nil {
		return nil, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		err = ErrConversationNotFound
		return nil, err
	}

	query := `UPDATE messages SET is_read=TRUE, read_at=$3
		WHERE conversation_id=$1 AND sender_id<>$2 AND is_read=FALSE AND deleted_at IS NULL`
	args := []any{conversationID, userID, at}
	if len(messageIDs) > 0 {
		query += ` AND id = ANY($4)`
		args = append(args, pq.Array(messageIDs))
	}
	query += ` RETURNING id`

	ids = []string{}
	if err = tx.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}
