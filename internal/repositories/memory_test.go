package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/clock"
	"messaging-service/internal/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func TestGetOrCreateConversationIsIdempotentPerPairAndSubject(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(clock.Fake(t0))

	first, created, err := store.GetOrCreateConversation(ctx, 1, 2, strPtr("listing-1"))
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := store.GetOrCreateConversation(ctx, 2, 1, strPtr("listing-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	other, created, err := store.GetOrCreateConversation(ctx, 1, 2, strPtr("listing-2"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)

	noSubject, _, err := store.GetOrCreateConversation(ctx, 1, 2, nil)
	require.NoError(t, err)
	noSubjectAgain, _, err := store.GetOrCreateConversation(ctx, 2, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, noSubject.ID, noSubjectAgain.ID)
	assert.NotEqual(t, first.ID, noSubject.ID)

	assert.Equal(t, int64(1), first.ParticipantAID)
	assert.Equal(t, int64(2), first.ParticipantBID)
}

func TestGetOrCreateConversationConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, _, err := store.GetOrCreateConversation(ctx, int64(1+i%2), int64(2-i%2), nil)
			assert.NoError(t, err)
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestGetOrCreateConversationRejectsSelf(t *testing.T) {
	_, _, err := NewMemoryStore(nil).GetOrCreateConversation(context.Background(), 3, 3, nil)
	assert.ErrorIs(t, err, ErrSelfConversation)
}

func TestCreateMessageUpdatesPreviewExceptSystemMessages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(clock.Fake(t0))
	conv, _, err := store.GetOrCreateConversation(ctx, 1, 2, nil)
	require.NoError(t, err)
	require.NoError(t, store.SetArchived(ctx, conv.ID, 2, true))

	_, err = store.CreateMessage(ctx, models.Message{ID: "m1", ConversationID: conv.ID, SenderID: 1, Content: "Hi, is this available?", CreatedAt: t0})
	require.NoError(t, err)
	_, err = store.CreateMessage(ctx, models.Message{ID: "m2", ConversationID: conv.ID, SenderID: 0, Content: "system notice", CreatedAt: t0.Add(time.Minute), IsSystemMessage: true})
	require.NoError(t, err)

	stored, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hi, is this available?", stored.LastMessage)
	assert.Equal(t, t0, *stored.LastMessageAt)
	assert.Equal(t, int64(1), *stored.LastMessageSenderID)
	assert.False(t, stored.ArchivedFor(2))

	_, err = store.CreateMessage(ctx, models.Message{ConversationID: "missing", SenderID: 1, Content: "x"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestSaveEditAndDeletionGuards(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	conv, _, _ := store.GetOrCreateConversation(ctx, 1, 2, nil)
	msg, err := store.CreateMessage(ctx, models.Message{ID: "m1", ConversationID: conv.ID, SenderID: 1, Content: "v1", CreatedAt: t0})
	require.NoError(t, err)

	stale := msg
	msg.ApplyEdit("v2", 1, t0.Add(time.Minute))
	require.NoError(t, store.SaveEdit(ctx, msg))

	stale.ApplyEdit("conflict", 1, t0.Add(2*time.Minute))
	assert.ErrorIs(t, store.SaveEdit(ctx, stale), ErrConcurrentUpdate)

	current, err := store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	current.ApplyDeletion(1, models.DeletionSoft, t0.Add(4*time.Minute))
	require.NoError(t, store.SaveDeletion(ctx, current))
	assert.ErrorIs(t, store.SaveDeletion(ctx, current), ErrMessageDeleted)

	current.ApplyEdit("after delete", 1, t0.Add(5*time.Minute))
	assert.ErrorIs(t, store.SaveEdit(ctx, current), ErrMessageDeleted)

	_, err = store.GetMessage(ctx, "nope")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestReactionsAreUniquePerTriple(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	conv, _, _ := store.GetOrCreateConversation(ctx, 1, 2, nil)
	_, _ = store.CreateMessage(ctx, models.Message{ID: "m1", ConversationID: conv.ID, SenderID: 1, Content: "hi"})

	_, created, err := store.AddReaction(ctx, models.Reaction{MessageID: "m1", UserID: 2, Emoji: "👍"})
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = store.AddReaction(ctx, models.Reaction{MessageID: "m1", UserID: 2, Emoji: "👍"})
	require.NoError(t, err)
	assert.False(t, created)
	_, created, err = store.AddReaction(ctx, models.Reaction{MessageID: "m1", UserID: 2, Emoji: "❤️"})
	require.NoError(t, err)
	assert.True(t, created)

	removed, err := store.RemoveReaction(ctx, "m1", 2, "😂")
	require.NoError(t, err)
	assert.False(t, removed)

	reactions, err := store.ListReactions(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, reactions, 2)

	removed, err = store.RemoveReaction(ctx, "m1", 2, "👍")
	require.NoError(t, err)
	assert.True(t, removed)
	reactions, _ = store.ListReactions(ctx, "m1")
	require.Len(t, reactions, 1)
	assert.Equal(t, "❤️", reactions[0].Emoji)
}

func TestMarkConversationReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	conv, _, _ := store.GetOrCreateConversation(ctx, 1, 2, nil)
	_, _ = store.CreateMessage(ctx, models.Message{ID: "a", ConversationID: conv.ID, SenderID: 1, Content: "one"})
	_, _ = store.CreateMessage(ctx, models.Message{ID: "b", ConversationID: conv.ID, SenderID: 1, Content: "two"})
	_, _ = store.CreateMessage(ctx, models.Message{ID: "c", ConversationID: conv.ID, SenderID: 2, Content: "mine"})

	summaries, err := store.ListConversations(ctx, 2, false)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].UnreadCount)
	assert.Equal(t, int64(1), summaries[0].OtherUserID)

	changed, err := store.MarkConversationRead(ctx, conv.ID, 2, []string{"a"}, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, changed)

	changed, err = store.MarkConversationRead(ctx, conv.ID, 2, nil, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, changed)

	changed, err = store.MarkConversationRead(ctx, conv.ID, 2, nil, t0)
	require.NoError(t, err)
	assert.Empty(t, changed)

	stored, _ := store.GetConversation(ctx, conv.ID)
	assert.Equal(t, t0, *stored.LastReadAt(2))
	assert.Nil(t, stored.LastReadAt(1))

	_, err = store.MarkConversationRead(ctx, conv.ID, 9, nil, t0)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestListConversationsHidesArchived(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	conv, _, _ := store.GetOrCreateConversation(ctx, 1, 2, nil)
	require.NoError(t, store.SetArchived(ctx, conv.ID, 1, true))
	require.NoError(t, store.SetBlocked(ctx, conv.ID, 2, true))

	visible, err := store.ListConversations(ctx, 1, false)
	require.NoError(t, err)
	assert.Empty(t, visible)

	all, err := store.ListConversations(ctx, 1, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Archived)
	assert.True(t, all[0].Blocked)

	assert.ErrorIs(t, store.SetBlocked(ctx, conv.ID, 7, true), ErrConversationNotFound)
}

func TestListMessagesReturnsLatestInOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	conv, _, _ := store.GetOrCreateConversation(ctx, 1, 2, nil)
	for _, id := range []string{"1", "2", "3"} {
		_, _ = store.CreateMessage(ctx, models.Message{ID: id, ConversationID: conv.ID, SenderID: 1, Content: id})
	}

	msgs, err := store.ListMessages(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "2", msgs[0].ID)
	assert.Equal(t, "3", msgs[1].ID)
}
