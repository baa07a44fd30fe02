package messaging

import (
	"errors"

	"messaging-service/internal/repositories"
)

// Error is a failure whose text is safe to show to clients.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func newError(msg string) *Error { return &Error{msg: msg} }

var (
	ErrAccessDenied        = newError("Access denied")
	ErrRateLimited         = newError("Rate limit exceeded. Please slow down.")
	ErrMissingConversation = newError("conversation_id is required")
	ErrMissingMessage      = newError("message_id is required")
	ErrEmptyContent        = newError("Message content cannot be empty")
	ErrContentTooLong      = newError("Message is too long")
	ErrInvalidEmoji        = newError("Invalid emoji")
	ErrSelfConversation    = newError("Cannot start a conversation with yourself")
	ErrConversationBlocked = newError("Conversation is blocked")
	ErrEditNotAllowed      = newError("You can only edit your own messages")
	ErrEditWindowExpired   = newError("Messages can only be edited within 15 minutes of sending")
	ErrDeleteNotAllowed    = newError("You can only delete your own messages")
	ErrMessageDeleted      = newError("Message has been deleted")
	ErrInvalidDeletionType = newError("Invalid deletion type")
	ErrConcurrentEdit      = newError("Message was changed by another request, please retry")
	ErrInternal            = newError("Something went wrong")
)

// PublicMessage converts err into the text sent to clients. Unknown errors
// collapse into a generic message; known reports whether err was expected.
func PublicMessage(err error) (msg string, known bool) {
	var public *Error
	switch {
	case errors.As(err, &public):
		return public.msg, true
	case errors.Is(err, repositories.ErrConversationNotFound), errors.Is(err, repositories.ErrMessageNotFound):
		return ErrAccessDenied.msg, true
	default:
		return ErrInternal.msg, false
	}
}
