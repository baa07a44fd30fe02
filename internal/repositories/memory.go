package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"messaging-service/internal/clock"
	"messaging-service/internal/models"
)

type pairKey struct {
	a, b    int64
	subject string
}

type reactionKey struct {
	messageID string
	userID    int64
	emoji     string
}

// MemoryStore is an in-process Store. Every operation holds one mutex, which
// gives it the same uniqueness guarantees as the database constraints.
type MemoryStore struct {
	mu            sync.Mutex
	clock         clock.Clock
	conversations map[string]*models.Conversation
	byPair        map[pairKey]string
	messages      map[string]*models.Message
	order         map[string][]string
	reactions     map[reactionKey]models.Reaction
	reactionOrder []reactionKey
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryStore{
		clock:         clk,
		conversations: make(map[string]*models.Conversation),
		byPair:        make(map[pairKey]string),
		messages:      make(map[string]*models.Message),
		order:         make(map[string][]string),
		reactions:     make(map[reactionKey]models.Reaction),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) GetOrCreateConversation(_ context.Context, userID, otherID int64, subjectID *string) (models.Conversation, bool, error) {
	if userID == otherID {
		return models.Conversation{}, false, ErrSelfConversation
	}
	a, b := models.OrderedPair(userID, otherID)
	key := pairKey{a: a, b: b}
	if subjectID != nil {
		key.subject = *subjectID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPair[key]; ok {
		return *s.conversations[id], false, nil
	}
	conv := &models.Conversation{
		ID:             uuid.NewString(),
		ParticipantAID: a,
		ParticipantBID: b,
		SubjectID:      copyString(subjectID),
		CreatedAt:      s.clock.Now(),
	}
	s.conversations[conv.ID] = conv
	s.byPair[key] = conv.ID
	return *conv, true, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return *conv, nil
}

func (s *MemoryStore) IsParticipant(_ context.Context, conversationID string, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	return ok && conv.HasParticipant(userID), nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID int64, includeArchived bool) ([]models.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []models.ConversationSummary{}
	for _, conv := range s.conversations {
		if !conv.HasParticipant(userID) {
			continue
		}
		if !includeArchived && conv.ArchivedFor(userID) {
			continue
		}
		unread := 0
		for _, id := range s.order[conv.ID] {
			m := s.messages[id]
			if m.SenderID != userID && !m.IsRead && !m.IsDeleted() {
				unread++
			}
		}
		result = append(result, summarize(*conv, userID, unread))
	}
	sort.Slice(result, func(i, j int) bool {
		return activity(result[i].Conversation).After(activity(result[j].Conversation))
	})
	return result, nil
}

func (s *MemoryStore) SetArchived(_ context.Context, conversationID string, userID int64, archived bool) error {
	return s.setFlag(conversationID, userID, func(c *models.Conversation, isA bool) {
		if isA {
			c.AArchived = archived
		} else {
			c.BArchived = archived
		}
	})
}

func (s *MemoryStore) SetBlocked(_ context.Context, conversationID string, userID int64, blocked bool) error {
	return s.setFlag(conversationID, userID, func(c *models.Conversation, isA bool) {
		if isA {
			c.ABlocked = blocked
		} else {
			c.BBlocked = blocked
		}
	})
}

func (s *MemoryStore) setFlag(conversationID string, userID int64, apply func(*models.Conversation, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok || !conv.HasParticipant(userID) {
		return ErrConversationNotFound
	}
	apply(conv, conv.ParticipantAID == userID)
	return nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return models.Message{}, ErrConversationNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	stored := msg
	s.messages[msg.ID] = &stored
	s.order[msg.ConversationID] = append(s.order[msg.ConversationID], msg.ID)

	if !msg.IsSystemMessage {
		at := msg.CreatedAt
		sender := msg.SenderID
		conv.LastMessage = models.Preview(msg.Content)
		conv.LastMessageAt = &at
		conv.LastMessageSenderID = &sender
		conv.AArchived = false
		conv.BArchived = false
	}
	return msg, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return cloneMessage(*msg), nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.order[conversationID]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneMessage(*s.messages[id]))
	}
	return out, nil
}

func (s *MemoryStore) SaveEdit(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.messages[msg.ID]
	if !ok {
		return ErrMessageNotFound
	}
	if current.IsDeleted() {
		return ErrMessageDeleted
	}
	if len(current.EditHistory) != len(msg.EditHistory)-1 {
		return ErrConcurrentUpdate
	}
	current.Content = msg.Content
	current.OriginalContent = copyString(msg.OriginalContent)
	current.EditedAt = msg.EditedAt
	current.IsEdited = msg.IsEdited
	current.EditHistory = append(models.EditHistory(nil), msg.EditHistory...)
	return nil
}

func (s *MemoryStore) SaveDeletion(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.messages[msg.ID]
	if !ok {
		return ErrMessageNotFound
	}
	if current.IsDeleted() {
		return ErrMessageDeleted
	}
	current.DeletedAt = msg.DeletedAt
	current.DeletedBy = msg.DeletedBy
	current.DeletionType = msg.DeletionType
	return nil
}

func (s *MemoryStore) MarkConversationRead(_ context.Context, conversationID string, userID int64, messageIDs []string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok || !conv.HasParticipant(userID) {
		return nil, ErrConversationNotFound
	}
	readAt := at
	if conv.ParticipantAID == userID {
		conv.ALastReadAt = &readAt
	} else {
		conv.BLastReadAt = &readAt
	}

	var only map[string]struct{}
	if len(messageIDs) > 0 {
		only = make(map[string]struct{}, len(messageIDs))
		for _, id := range messageIDs {
			only[id] = struct{}{}
		}
	}

	changed := []string{}
	for _, id := range s.order[conversationID] {
		m := s.messages[id]
		if m.SenderID == userID || m.IsRead || m.IsDeleted() {
			continue
		}
		if only != nil {
			if _, ok := only[id]; !ok {
				continue
			}
		}
		m.IsRead = true
		m.ReadAt = &readAt
		changed = append(changed, id)
	}
	return changed, nil
}

func (s *MemoryStore) AddReaction(_ context.Context, reaction models.Reaction) (models.Reaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[reaction.MessageID]; !ok {
		return models.Reaction{}, false, ErrMessageNotFound
	}
	key := reactionKey{messageID: reaction.MessageID, userID: reaction.UserID, emoji: reaction.Emoji}
	if existing, ok := s.reactions[key]; ok {
		return existing, false, nil
	}
	if reaction.ID == "" {
		reaction.ID = uuid.NewString()
	}
	s.reactions[key] = reaction
	s.reactionOrder = append(s.reactionOrder, key)
	return reaction, true, nil
}

func (s *MemoryStore) RemoveReaction(_ context.Context, messageID string, userID int64, emoji string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reactionKey{messageID: messageID, userID: userID, emoji: emoji}
	if _, ok := s.reactions[key]; !ok {
		return false, nil
	}
	delete(s.reactions, key)
	for i, k := range s.reactionOrder {
		if k == key {
			s.reactionOrder = append(s.reactionOrder[:i], s.reactionOrder[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *MemoryStore) ListReactions(_ context.Context, messageID string) ([]models.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Reaction{}
	for _, key := range s.reactionOrder {
		if key.messageID == messageID {
			out = append(out, s.reactions[key])
		}
	}
	return out, nil
}

func activity(c models.Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func cloneMessage(m models.Message) models.Message {
	m.EditHistory = append(models.EditHistory(nil), m.EditHistory...)
	return m
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
