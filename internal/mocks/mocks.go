package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/auth"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) GetOrCreateConversation(ctx context.Context, userID, otherID int64, subjectID *string) (models.Conversation, bool, error) {
	args := m.Called(ctx, userID, otherID, subjectID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *StoreMock) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *StoreMock) IsParticipant(ctx context.Context, conversationID string, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) ListConversations(ctx context.Context, userID int64, includeArchived bool) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID, includeArchived)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *StoreMock) SetArchived(ctx context.Context, conversationID string, userID int64, archived bool) error {
	args := m.Called(ctx, conversationID, userID, archived)
	return args.Error(0)
}

func (m *StoreMock) SetBlocked(ctx context.Context, conversationID string, userID int64, blocked bool) error {
	args := m.Called(ctx, conversationID, userID, blocked)
	return args.Error(0)
}

func (m *StoreMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *StoreMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *StoreMock) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *StoreMock) SaveEdit(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *StoreMock) SaveDeletion(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *StoreMock) MarkConversationRead(ctx context.Context, conversationID string, userID int64, messageIDs []string, at time.Time) ([]string, error) {
	args := m.Called(ctx, conversationID, userID, messageIDs, at)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *StoreMock) AddReaction(ctx context.Context, reaction models.Reaction) (models.Reaction, bool, error) {
	args := m.Called(ctx, reaction)
	var out models.Reaction
	if val := args.Get(0); val != nil {
		out = val.(models.Reaction)
	}
	return out, args.Bool(1), args.Error(2)
}

func (m *StoreMock) RemoveReaction(ctx context.Context, messageID string, userID int64, emoji string) (bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Bool(0), args.Error(1)
}

func (m *StoreMock) ListReactions(ctx context.Context, messageID string) ([]models.Reaction, error) {
	args := m.Called(ctx, messageID)
	var list []models.Reaction
	if val := args.Get(0); val != nil {
		list = val.([]models.Reaction)
	}
	return list, args.Error(1)
}

type ValidatorMock struct {
	mock.Mock
}

func (m *ValidatorMock) Validate(ctx context.Context, token string) (models.Identity, error) {
	args := m.Called(ctx, token)
	var identity models.Identity
	if val := args.Get(0); val != nil {
		identity = val.(models.Identity)
	}
	return identity, args.Error(1)
}

var _ repositories.Store = (*StoreMock)(nil)
var _ auth.Validator = (*ValidatorMock)(nil)
