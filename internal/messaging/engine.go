// Package messaging implements the message lifecycle: sending, editing,
// deleting, read receipts, reactions and typing indicators, each persisted
// through the store before it is broadcast to the affected groups.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"messaging-service/internal/clock"
	"messaging-service/internal/hub"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/ratelimit"
	"messaging-service/internal/repositories"
	"messaging-service/internal/sanitize"
	"messaging-service/internal/telemetry"
)

// Actor is the identity a command runs as.
type Actor struct {
	UserID  int64
	IsStaff bool
	// ConnID identifies the originating connection; empty for REST callers.
	ConnID    string
	RequestID string
}

// Config holds the content and timing rules.
type Config struct {
	MaxContentChars int
	MaxEmojiChars   int
	EditWindow      time.Duration
	StoreTimeout    time.Duration
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxContentChars: 5000,
		MaxEmojiChars:   10,
		EditWindow:      15 * time.Minute,
		StoreTimeout:    5 * time.Second,
	}
}

type Engine struct {
	store       repositories.Store
	broadcaster hub.Broadcaster
	limiter     *ratelimit.Limiter
	clock       clock.Clock
	audit       *telemetry.AuditEmitter
	logger      *slog.Logger
	cfg         Config
}

func NewEngine(store repositories.Store, broadcaster hub.Broadcaster, limiter *ratelimit.Limiter, clk clock.Clock, audit *telemetry.AuditEmitter, logger *slog.Logger, cfg Config) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:       store,
		broadcaster: broadcaster,
		limiter:     limiter,
		clock:       clk,
		audit:       audit,
		logger:      logger.With("component", "messaging"),
		cfg:         cfg,
	}
}

// Broadcaster exposes the fan-out used by the engine.
func (e *Engine) Broadcaster() hub.Broadcaster {
	return e.broadcaster
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.StoreTimeout)
}

func (e *Engine) allow(kind ratelimit.Kind, userID int64) bool {
	if e.limiter == nil || e.limiter.Allow(kind, userID) {
		return true
	}
	observability.IncRateLimited(string(kind))
	return false
}

// prepareContent trims, measures and sanitizes message text.
func (e *Engine) prepareContent(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if sanitize.Length(trimmed) > e.cfg.MaxContentChars {
		return "", ErrContentTooLong
	}
	clean := sanitize.Content(trimmed)
	if clean == "" {
		return "", ErrEmptyContent
	}
	return clean, nil
}

func (e *Engine) prepareEmoji(raw string) (string, error) {
	emoji := strings.TrimSpace(raw)
	if emoji == "" || sanitize.Length(emoji) > e.cfg.MaxEmojiChars {
		return "", ErrInvalidEmoji
	}
	return emoji, nil
}

// publish broadcasts after persistence succeeded; delivery failures are logged
// and never fail the command.
func (e *Engine) publish(ctx context.Context, group string, event any, opts ...hub.PublishOption) {
	if err := e.broadcaster.Publish(ctx, group, event, opts...); err != nil {
		e.logger.Warn("broadcast failed", "group", group, "error", err)
	}
}

// participantConversation loads a conversation and requires actor to be in it.
func (e *Engine) participantConversation(ctx context.Context, actor Actor, conversationID string) (models.Conversation, error) {
	if conversationID == "" {
		return models.Conversation{}, ErrMissingConversation
	}
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, e.storeError(err, "load conversation", "conversation_id", conversationID)
	}
	if !conv.HasParticipant(actor.UserID) {
		return models.Conversation{}, ErrAccessDenied
	}
	return conv, nil
}

// participantMessage loads a message and requires actor to be in its conversation.
// allowStaff lets staff act on messages of conversations they are not part of.
func (e *Engine) participantMessage(ctx context.Context, actor Actor, messageID string, allowStaff bool) (models.Message, error) {
	if messageID == "" {
		return models.Message{}, ErrMissingMessage
	}
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, e.storeError(err, "load message", "message_id", messageID)
	}
	if allowStaff && actor.IsStaff {
		return msg, nil
	}
	ok, err := e.store.IsParticipant(ctx, msg.ConversationID, actor.UserID)
	if err != nil {
		return models.Message{}, e.storeError(err, "check participant", "conversation_id", msg.ConversationID)
	}
	if !ok {
		return models.Message{}, ErrAccessDenied
	}
	return msg, nil
}

// storeError maps not-found to access denied and logs anything unexpected.
func (e *Engine) storeError(err error, op string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repositories.ErrConversationNotFound) || errors.Is(err, repositories.ErrMessageNotFound) {
		return ErrAccessDenied
	}
	if _, known := PublicMessage(err); !known {
		e.logger.Error(op, append(args, "error", err)...)
	}
	return err
}
