package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DeletionType distinguishes soft and hard deletions.
type DeletionType string

const (
	DeletionSoft DeletionType = "soft"
	DeletionHard DeletionType = "hard"
)

// Valid reports whether d is a known deletion type.
func (d DeletionType) Valid() bool {
	return d == DeletionSoft || d == DeletionHard
}

// EditRecord is one entry of a message's edit history.
type EditRecord struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
	EditorID int64     `json:"editor_id"`
}

// EditHistory is stored as a JSON array column.
type EditHistory []EditRecord

// Value implements driver.Valuer. The JSON is returned as a string so lib/pq
// sends it as text rather than bytea.
func (h EditHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (h *EditHistory) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*h = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("edit history: unsupported type %T", src)
	}
	var out EditHistory
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("edit history: %w", err)
	}
	if len(out) == 0 {
		out = nil
	}
	*h = out
	return nil
}

// Message is a chat message inside a conversation.
type Message struct {
	ID              string        `db:"id" json:"id"`
	ConversationID  string        `db:"conversation_id" json:"conversation_id"`
	SenderID        int64         `db:"sender_id" json:"sender_id"`
	Content         string        `db:"content" json:"content"`
	OriginalContent *string       `db:"original_content" json:"original_content,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	EditedAt        *time.Time    `db:"edited_at" json:"edited_at,omitempty"`
	IsEdited        bool          `db:"is_edited" json:"is_edited"`
	EditHistory     EditHistory   `db:"edit_history" json:"edit_history,omitempty"`
	IsRead          bool          `db:"is_read" json:"is_read"`
	ReadAt          *time.Time    `db:"read_at" json:"read_at,omitempty"`
	IsSystemMessage bool          `db:"is_system_message" json:"is_system_message"`
	DeletedAt       *time.Time    `db:"deleted_at" json:"deleted_at,omitempty"`
	DeletedBy       *int64        `db:"deleted_by" json:"deleted_by,omitempty"`
	DeletionType    *DeletionType `db:"deletion_type" json:"deletion_type,omitempty"`
}

// IsDeleted reports whether the message was deleted.
func (m Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// ApplyEdit records the current content in the history and replaces it.
// The first edit preserves the creation-time content in OriginalContent.
func (m *Message) ApplyEdit(content string, editorID int64, at time.Time) {
	if m.OriginalContent == nil {
		original := m.Content
		m.OriginalContent = &original
	}
	m.EditHistory = append(m.EditHistory, EditRecord{Content: m.Content, EditedAt: at, EditorID: editorID})
	m.Content = content
	m.EditedAt = &at
	m.IsEdited = true
}

// ApplyDeletion marks the message deleted by actorID.
func (m *Message) ApplyDeletion(actorID int64, kind DeletionType, at time.Time) {
	m.DeletedAt = &at
	m.DeletedBy = &actorID
	m.DeletionType = &kind
}

// MessageView is the wire representation of a message. Deleted messages
// never carry their content.
type MessageView struct {
	ID              string        `json:"id"`
	ConversationID  string        `json:"conversation_id"`
	SenderID        int64         `json:"sender_id"`
	Content         string        `json:"content"`
	CreatedAt       time.Time     `json:"created_at"`
	EditedAt        *time.Time    `json:"edited_at,omitempty"`
	IsEdited        bool          `json:"is_edited"`
	EditCount       int           `json:"edit_count"`
	IsRead          bool          `json:"is_read"`
	ReadAt          *time.Time    `json:"read_at,omitempty"`
	IsSystemMessage bool          `json:"is_system_message"`
	IsDeleted       bool          `json:"is_deleted"`
	DeletionType    *DeletionType `json:"deletion_type,omitempty"`
}

// View converts the message to its wire representation.
func (m Message) View() MessageView {
	v := MessageView{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		Content:         m.Content,
		CreatedAt:       m.CreatedAt,
		EditedAt:        m.EditedAt,
		IsEdited:        m.IsEdited,
		EditCount:       len(m.EditHistory),
		IsRead:          m.IsRead,
		ReadAt:          m.ReadAt,
		IsSystemMessage: m.IsSystemMessage,
	}
	if m.IsDeleted() {
		v.Content = ""
		v.IsDeleted = true
		v.DeletionType = m.DeletionType
	}
	return v
}

// Reaction is a single emoji reaction of a user on a message.
type Reaction struct {
	ID        string    `db:"id" json:"id"`
	MessageID string    `db:"message_id" json:"message_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
