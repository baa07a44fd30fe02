package ws

import (
	"encoding/json"
	"errors"
)

// Inbound command discriminators.
const (
	TypeJoinConversation  = "join_conversation"
	TypeLeaveConversation = "leave_conversation"
	TypeSendMessage       = "send_message"
	TypeTyping            = "typing"
	TypeMarkRead          = "mark_read"
	TypeAddReaction       = "add_reaction"
	TypeRemoveReaction    = "remove_reaction"
	TypeEditMessage       = "edit_message"
	TypeDeleteMessage     = "delete_message"
	TypePing              = "ping"
)

// ErrInvalidFormat is returned for frames that are not a JSON object with a
// string type field, or whose payload does not fit the command.
var ErrInvalidFormat = errors.New("invalid message format")

// Command is one decoded inbound frame.
type Command interface {
	Type() string
}

type JoinConversation struct {
	ConversationID string `json:"conversation_id"`
}

type LeaveConversation struct {
	ConversationID string `json:"conversation_id"`
}

type SendMessage struct {
	ConversationID string  `json:"conversation_id"`
	RecipientID    int64   `json:"recipient_id"`
	SubjectID      *string `json:"subject_id"`
	Content        string  `json:"content"`
	TempID         string  `json:"temp_id"`
}

type Typing struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type MarkRead struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
}

type AddReaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type RemoveReaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type EditMessage struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteMessage struct {
	MessageID    string `json:"message_id"`
	DeletionType string `json:"deletion_type"`
}

type Ping struct{}

func (JoinConversation) Type() string  { return TypeJoinConversation }
func (LeaveConversation) Type() string { return TypeLeaveConversation }
func (SendMessage) Type() string       { return TypeSendMessage }
func (Typing) Type() string            { return TypeTyping }
func (MarkRead) Type() string          { return TypeMarkRead }
func (AddReaction) Type() string       { return TypeAddReaction }
func (RemoveReaction) Type() string    { return TypeRemoveReaction }
func (EditMessage) Type() string       { return TypeEditMessage }
func (DeleteMessage) Type() string     { return TypeDeleteMessage }
func (Ping) Type() string              { return TypePing }

// DecodeCommand parses a frame. Unknown discriminators yield a nil command
// and a nil error.
func DecodeCommand(data []byte) (Command, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, ErrInvalidFormat
	}
	rawType, ok := fields["type"]
	if !ok {
		return nil, ErrInvalidFormat
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil || typ == "" {
		return nil, ErrInvalidFormat
	}

	var cmd Command
	switch typ {
	case TypeJoinConversation:
		cmd = decode[JoinConversation](data)
	case TypeLeaveConversation:
		cmd = decode[LeaveConversation](data)
	case TypeSendMessage:
		cmd = decode[SendMessage](data)
	case TypeTyping:
		cmd = decode[Typing](data)
	case TypeMarkRead:
		cmd = decode[MarkRead](data)
	case TypeAddReaction:
		cmd = decode[AddReaction](data)
	case TypeRemoveReaction:
		cmd = decode[RemoveReaction](data)
	case TypeEditMessage:
		cmd = decode[EditMessage](data)
	case TypeDeleteMessage:
		cmd = decode[DeleteMessage](data)
	case TypePing:
		return Ping{}, nil
	default:
		return nil, nil
	}
	if cmd == nil {
		return nil, ErrInvalidFormat
	}
	return cmd, nil
}

func decode[T Command](data []byte) Command {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}
