package messaging

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/clock"
	"messaging-service/internal/hub"
	"messaging-service/internal/models"
	"messaging-service/internal/ratelimit"
	"messaging-service/internal/repositories"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type frame map[string]any

type sink struct {
	id     string
	user   int64
	mu     sync.Mutex
	frames []frame
}

func (s *sink) ConnID() string { return s.id }
func (s *sink) UserID() int64  { return s.user }

func (s *sink) Send(payload []byte) bool {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return true
}

func (s *sink) of(typ string) []frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []frame
	for _, f := range s.frames {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fixture struct {
	engine *Engine
	store  *repositories.MemoryStore
	hub    *hub.Hub
	clock  *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.Fake(t0)
	store := repositories.NewMemoryStore(clk)
	h := hub.NewHub()
	limiter := ratelimit.New(clk, time.Minute, map[ratelimit.Kind]int{
		ratelimit.KindMessage: 30,
		ratelimit.KindTyping:  60,
	})
	return &fixture{
		engine: NewEngine(store, h, limiter, clk, nil, nil, DefaultConfig()),
		store:  store,
		hub:    h,
		clock:  clk,
	}
}

func (f *fixture) conversation(t *testing.T, a, b int64) models.Conversation {
	t.Helper()
	conv, _, err := f.store.GetOrCreateConversation(context.Background(), a, b, nil)
	require.NoError(t, err)
	return conv
}

func (f *fixture) join(group string, s *sink) *sink {
	f.hub.Add(group, s)
	return s
}

func (f *fixture) send(t *testing.T, user int64, convID, content string) models.Message {
	t.Helper()
	msg, err := f.engine.Send(context.Background(), Actor{UserID: user}, SendRequest{ConversationID: convID, Content: content})
	require.NoError(t, err)
	return msg
}

func TestSendBroadcastsAndNotifiesOtherParticipant(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, 1, 2)
	senderConn := f.join(hub.ConversationGroup(conv.ID), &sink{id: "a", user: 1})
	recipientPersonal := f.join(hub.UserGroup(2), &sink{id: "b", user: 2})
	senderPersonal := f.join(hub.UserGroup(1), &sink{id: "a", user: 1})

	msg, err := f.engine.Send(context.Background(), Actor{UserID: 1, ConnID: "a"},
		SendRequest{ConversationID: conv.ID, Content: "hello", TempID: "tmp-1"})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, t0, msg.CreatedAt)

	echoes := senderConn.of(models.EventNewMessage)
	require.Len(t, echoes, 1)
	assert.Equal(t, "tmp-1", echoes[0]["temp_id"])
	assert.Equal(t, msg.ID, echoes[0]["message"].(map[string]any)["id"])

	notes := recipientPersonal.of(models.EventNewMessageNotification)
	require.Len(t, notes, 1)
	assert.Equal(t, conv.ID, notes[0]["conversation_id"])
	assert.Nil(t, notes[0]["temp_id"])
	assert.Empty(t, recipientPersonal.of(models.EventNewMessage))
	assert.Zero(t, senderPersonal.count())

	stored, err := f.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.LastMessage)
}

func TestSendSanitizesContent(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, 1, 2)
	listener := f.join(hub.ConversationGroup(conv.ID), &sink{id: "b", user: 2})

	msg := f.send(t, 1, conv.ID, `<script>alert(1)</script> visit http://evil.example <b>`)

	assert.NotContains(t, strings.ToLower(msg.Content), "<script")
	assert.Contains(t, msg.Content, `<a href="http://evil.example" target="_blank" rel="noopener noreferrer">`)
	assert.Contains(t, msg.Content, "&lt;b&gt;")
	broadcast := listener.of(models.EventNewMessage)
	require.Len(t, broadcast, 1)
	assert.Equal(t, msg.Content, broadcast[0]["message"].(map[string]any)["content"])
}

func TestSendRejectsNonParticipant(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, 1, 2)
	listener := f.join(hub.ConversationGroup(conv.ID), &sink{id: "b", user: 2})

	_, err := f.engine.Send(context.Background(), Actor{UserID: 3}, SendRequest{ConversationID: conv.ID, Content: "hi"})
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.engine.Send(context.Background(), Actor{UserID: 3}, SendRequest{ConversationID: "missing", Content: "hi"})
	assert.ErrorIs(t, err, ErrAccessDenied)

	msgs, err := f.store.ListMessages(context.Background(), conv.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Zero(t, listener.count())
}

func TestSendValidatesContent(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, 1, 2)
	ctx := context.Background()

	cases := []struct {
		name string
		req  SendRequest
		err  error
	}{
		{"empty", SendRequest{ConversationID: conv.ID, Content: ""}, ErrEmptyContent},
		{"whitespace", SendRequest{ConversationID: conv.ID, Content: "   \n\t"}, ErrEmptyContent},
		{"only script", SendRequest{ConversationID: conv.ID, Content: "<script>x</script>"}, ErrEmptyContent},
		{"too long", SendRequest{ConversationID: conv.ID, Content: strings.Repeat("é", 5001)}, ErrContentTooLong},
		{"no target", SendRequest{Content: "hi"}, ErrMissingConversation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Send(ctx, Actor{UserID: 1}, tc.req)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	_, err := f.engine.Send(ctx, Actor{UserID: 1}, SendRequest{ConversationID: conv.ID, Content: "  " + strings.Repeat("a", 5000) + "  "})
	assert.NoError(t, err)
}

func TestSendRateLimit(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, 1, 2)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		f.send(t, 1, conv.ID, "spam")
	}
	_, err := f.engine.Send(ctx, Actor{UserID: 1}, SendRequest{ConversationID: conv.ID, Content: "one more"})
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = f.engine.Send(ctx, Actor{UserID: 2}, SendRequest{ConversationID: conv.ID, Content: "other user unaffected"})
	assert.NoError(t, err)

	f.clock.Advance(61 * time.Second)
	_, err = f.engine.Send(ctx, Actor{UserID: 1}, SendRequest{ConversationID: conv.ID, Content: "after window"})
	assert.NoError(t, err)
}

func TestSendStartsConversationWithRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alicePersonal := f.join(hub.UserGroup(1), &sink{id: "a", user: 1})
	bobPersonal := f.join(hub.UserGroup(2), &sink{id: "b", user: 2})
	subject := "listing-9"

	msg, err := f.engine.Send(ctx, Actor{UserID: 1}, SendRequest{RecipientID: 2, SubjectID: &subject, Content: "Hi, is this available?", TempID: "t1"})
	require.NoError(t, err)

	for _, user := range []int64{1, 2} {
		list, err := f.store.ListConversations(ctx, user, false)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, msg.ConversationID, list[0].ID)
		assert.Equal(t, "Hi, is this available?", list[0].LastMessage)
	}
	msgs, err := f.store.ListMessages(ctx, msg.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.Len(t, bobPersonal.of(models.EventNewMessageNotification), 1)
	mine := alicePersonal.of(models.EventNewMessageNotification)
	require.Len(t, mine, 1)
	assert.Equal(t, "t1", mine[0]["temp_id"])

	again, err := f.engine.Send(ctx, Actor{UserID: 2}, SendRequest{RecipientID: 1, SubjectID: &subject, Content: "Yes"})
	require.NoError(t, err)
	assert.Equal(t, msg.ConversationID, again.ConversationID)

	_, err = f.engine.Send(ctx, Actor{UserID: 1}, SendRequest{RecipientID: 1, Content: "me"})
	assert.ErrorIs(t, err, ErrSelfConversation)
}

func TestStartConversationReturnsConversation(t *testing.T) {
	f := newFixture(t)
	conv, msg, err := f.engine.StartConversation(context.Background(), Actor{UserID: 4}, 3, nil, "hello", "")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, msg.ConversationID)
	assert.Equal(t, int64(3), conv.ParticipantAID)
	assert.Equal(t, int64(4), conv.ParticipantBID)
}

func TestSendToBlockedConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, 1, 2)
	require.NoError(t, f.engine.SetBlocked(ctx, Actor{UserID: 2}, conv.ID, true))

	_, err := f.engine.Send(ctx, Actor{UserID: 1}, SendRequest{ConversationID: conv.ID, Content: "hi"})
	assert.ErrorIs(t, err, ErrConversationBlocked)

	require.NoError(t, f.engine.SetBlocked(ctx, Actor{UserID: 2}, conv.ID, false))
	f.send(t, 1, conv.ID, "hi again")
}

func TestSendUnarchivesConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, 1, 2)
	require.NoError(t, f.engine.SetArchived(ctx, Actor{UserID: 2}, conv.ID, true))

	list, err := f.engine.Conversations(ctx, Actor{UserID: 2}, false)
	require.NoError(t, err)
	assert.Empty(t, list)

	f.send(t, 1, conv.ID, "ping")
	list, err = f.engine.Conversations(ctx, Actor{UserID: 2}, false)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, f.engine.SetArchived(ctx, Actor{UserID: 9}, conv.ID, true), ErrAccessDenied)
}

func TestPublicMessage(t *testing.T) {
	msg, known := PublicMessage(ErrEditWindowExpired)
	assert.True(t, known)
	assert.Equal(t, ErrEditWindowExpired.Error(), msg)

	msg, known = PublicMessage(repositories.ErrMessageNotFound)
	assert.True(t, known)
	assert.Equal(t, "Access denied", msg)

	msg, known = PublicMessage(context.DeadlineExceeded)
	assert.False(t, known)
	assert.Equal(t, "Something went wrong", msg)
}
