package models

import "time"

// Outbound event discriminators.
const (
	EventConnectionEstablished  = "connection_established"
	EventJoinedConversation     = "joined_conversation"
	EventLeftConversation       = "left_conversation"
	EventNewMessage             = "new_message"
	EventNewMessageNotification = "new_message_notification"
	EventTypingIndicator        = "typing_indicator"
	EventMessagesRead           = "messages_read"
	EventReactionAdded          = "reaction_added"
	EventReactionRemoved        = "reaction_removed"
	EventMessageEdited          = "message_edited"
	EventMessageDeleted         = "message_deleted"
	EventError                  = "error"
	EventPong                   = "pong"
)

type ConnectionEstablishedEvent struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

type ConversationEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

type NewMessageEvent struct {
	Type    string      `json:"type"`
	Message MessageView `json:"message"`
	TempID  string      `json:"temp_id,omitempty"`
}

type NewMessageNotificationEvent struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Message        MessageView `json:"message"`
	TempID         string      `json:"temp_id,omitempty"`
}

type TypingIndicatorEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

type MessagesReadEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	MessageIDs     []string  `json:"message_ids"`
	ReadAt         time.Time `json:"read_at"`
}

type ReactionEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserID         int64  `json:"user_id"`
	Emoji          string `json:"emoji"`
	Changed        bool   `json:"changed"`
}

type MessageEditedEvent struct {
	Type    string      `json:"type"`
	Message MessageView `json:"message"`
}

type MessageDeletedEvent struct {
	Type           string       `json:"type"`
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id"`
	DeletionType   DeletionType `json:"deletion_type"`
	DeletedBy      int64        `json:"deleted_by"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	TempID  string `json:"temp_id,omitempty"`
}

type PongEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}
