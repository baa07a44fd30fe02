package models

import (
	"regexp"
	"time"
)

// PreviewMaxChars bounds the denormalized last-message preview.
const PreviewMaxChars = 100

// Conversation is a channel between exactly two users, optionally tied to a subject
// record such as a listing. ParticipantAID is always the smaller id of the pair.
type Conversation struct {
	ID                  string     `db:"id" json:"id"`
	ParticipantAID      int64      `db:"participant_a_id" json:"participant_a_id"`
	ParticipantBID      int64      `db:"participant_b_id" json:"participant_b_id"`
	SubjectID           *string    `db:"subject_id" json:"subject_id,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	LastMessage         string     `db:"last_message" json:"last_message"`
	LastMessageAt       *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	LastMessageSenderID *int64     `db:"last_message_sender_id" json:"last_message_sender_id,omitempty"`
	ALastReadAt         *time.Time `db:"a_last_read_at" json:"-"`
	BLastReadAt         *time.Time `db:"b_last_read_at" json:"-"`
	AArchived           bool       `db:"a_archived" json:"-"`
	BArchived           bool       `db:"b_archived" json:"-"`
	ABlocked            bool       `db:"a_blocked" json:"-"`
	BBlocked            bool       `db:"b_blocked" json:"-"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID int64) bool {
	return c.ParticipantAID == userID || c.ParticipantBID == userID
}

// OtherParticipant returns the participant that is not userID.
func (c Conversation) OtherParticipant(userID int64) int64 {
	if c.ParticipantAID == userID {
		return c.ParticipantBID
	}
	return c.ParticipantAID
}

// IsBlocked reports whether either side blocked the conversation.
func (c Conversation) IsBlocked() bool {
	return c.ABlocked || c.BBlocked
}

// ArchivedFor reports the archived flag of userID.
func (c Conversation) ArchivedFor(userID int64) bool {
	if c.ParticipantAID == userID {
		return c.AArchived
	}
	return c.BArchived
}

// BlockedBy reports whether userID blocked the conversation.
func (c Conversation) BlockedBy(userID int64) bool {
	if c.ParticipantAID == userID {
		return c.ABlocked
	}
	return c.BBlocked
}

// LastReadAt returns the last-read timestamp of userID.
func (c Conversation) LastReadAt(userID int64) *time.Time {
	if c.ParticipantAID == userID {
		return c.ALastReadAt
	}
	return c.BLastReadAt
}

// OrderedPair returns the two ids with the smaller one first.
func OrderedPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

var markupTag = regexp.MustCompile(`<[^>]*>`)

// maxEntityLen covers the entities html.EscapeString produces (&#34; is the longest).
const maxEntityLen = 5

// Preview drops the markup of sanitized content and truncates the text to the
// preview length in runes without ending inside an HTML entity.
func Preview(content string) string {
	runes := []rune(markupTag.ReplaceAllString(content, ""))
	if len(runes) <= PreviewMaxChars {
		return string(runes)
	}
	cut := PreviewMaxChars
	for i := cut - 1; i >= 0 && i >= cut-maxEntityLen; i-- {
		if runes[i] == ';' {
			break
		}
		if runes[i] == '&' {
			cut = i
			break
		}
	}
	return string(runes[:cut])
}

// ConversationSummary is the per-user view of a conversation returned by list endpoints.
type ConversationSummary struct {
	Conversation
	OtherUserID int64 `json:"other_user_id"`
	UnreadCount int   `json:"unread_count"`
	Archived    bool  `json:"archived"`
	Blocked     bool  `json:"blocked"`
}
