package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"messaging-service/internal/hub"
	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// Session is one accepted websocket connection. It is the hub.Sink for every
// group the connection belongs to.
type Session struct {
	info     ConnInfo
	identity models.Identity
	conn     *websocket.Conn
	handler  *Handler
	logger   *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
	// joined holds conversation ids; the personal group is tracked separately.
	joined map[string]struct{}
}

func newSession(h *Handler, conn *websocket.Conn, identity models.Identity, info ConnInfo) *Session {
	return &Session{
		info:     info,
		identity: identity,
		conn:     conn,
		handler:  h,
		logger:   h.logger.With("conn_id", info.ConnID, "user_id", info.UserID),
		send:     make(chan []byte, h.cfg.SendBuffer),
		joined:   make(map[string]struct{}),
	}
}

func (s *Session) ConnID() string { return s.info.ConnID }
func (s *Session) UserID() int64  { return s.identity.UserID }

// Send queues payload for the write pump. A full buffer closes the session.
func (s *Session) Send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		s.logger.Warn("send buffer full, closing session")
		s.closeLocked()
		return false
	}
}

func (s *Session) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

func (s *Session) actor() messaging.Actor {
	return messaging.Actor{
		UserID:    s.identity.UserID,
		IsStaff:   s.identity.IsStaff,
		ConnID:    s.info.ConnID,
		RequestID: s.info.RequestID,
	}
}

func (s *Session) reply(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal reply", "error", err)
		return
	}
	s.Send(payload)
}

func (s *Session) replyError(err error, tempID string) {
	msg, known := messaging.PublicMessage(err)
	if !known {
		s.logger.Error("command failed", "error", err)
	}
	s.reply(models.ErrorEvent{Type: models.EventError, Message: msg, TempID: tempID})
}

func (s *Session) isJoined(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.joined[conversationID]
	return ok
}

// readPump decodes and dispatches frames until the connection fails.
func (s *Session) readPump(ctx context.Context) string {
	s.conn.SetReadLimit(hardReadLimit(s.handler.cfg.MaxFrameBytes))
	_ = s.conn.SetReadDeadline(time.Now().Add(s.handler.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.handler.cfg.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				observability.IncCommand("connection", "read_error")
			}
			return err.Error()
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.handler.cfg.PongWait))
		s.handle(ctx, data)
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.handler.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle runs one command to completion. Persistence is not cancelled when
// the connection goes away mid-command.
func (s *Session) handle(parent context.Context, data []byte) {
	if int64(len(data)) > s.handler.cfg.MaxFrameBytes {
		observability.IncCommand("unknown", "too_large")
		s.reply(models.ErrorEvent{Type: models.EventError, Message: "Message too large"})
		return
	}
	cmd, err := DecodeCommand(data)
	if err != nil {
		observability.IncCommand("unknown", "invalid")
		s.reply(models.ErrorEvent{Type: models.EventError, Message: "Invalid message format"})
		return
	}
	if cmd == nil {
		observability.IncCommand("unknown", "ignored")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.handler.cfg.CommandTimeout)
	defer cancel()
	ctx, span := otel.Tracer("messaging-service/ws").Start(ctx, "ws."+cmd.Type())
	span.SetAttributes(attribute.Int64("user_id", s.identity.UserID), attribute.String("conn_id", s.info.ConnID))
	defer span.End()

	if err := s.dispatch(ctx, cmd); err != nil {
		span.RecordError(err)
		observability.IncCommand(cmd.Type(), "error")
		return
	}
	observability.IncCommand(cmd.Type(), "ok")
}

// dispatch runs cmd. A returned error has already been reported to the client.
func (s *Session) dispatch(ctx context.Context, cmd Command) error {
	engine := s.handler.engine
	actor := s.actor()

	switch c := cmd.(type) {
	case JoinConversation:
		return s.join(ctx, c.ConversationID)

	case LeaveConversation:
		return s.leave(ctx, c.ConversationID)

	case SendMessage:
		_, err := engine.Send(ctx, actor, messaging.SendRequest{
			ConversationID: c.ConversationID,
			RecipientID:    c.RecipientID,
			SubjectID:      c.SubjectID,
			Content:        c.Content,
			TempID:         c.TempID,
		})
		return s.fail(err, c.TempID)

	case Typing:
		if !s.isJoined(c.ConversationID) {
			return nil
		}
		engine.Typing(ctx, actor, c.ConversationID, c.IsTyping)
		return nil

	case MarkRead:
		_, err := engine.MarkRead(ctx, actor, c.ConversationID, c.MessageIDs)
		return s.fail(err, "")

	case AddReaction:
		_, _, err := engine.AddReaction(ctx, actor, c.MessageID, c.Emoji)
		return s.fail(err, "")

	case RemoveReaction:
		event, err := engine.RemoveReaction(ctx, actor, c.MessageID, c.Emoji)
		if err != nil {
			return s.fail(err, "")
		}
		if !event.Changed {
			s.reply(event)
		}
		return nil

	case EditMessage:
		_, err := engine.Edit(ctx, actor, c.MessageID, c.Content)
		return s.fail(err, "")

	case DeleteMessage:
		_, err := engine.Delete(ctx, actor, c.MessageID, models.DeletionType(c.DeletionType))
		return s.fail(err, "")

	case Ping:
		s.reply(models.PongEvent{Type: models.EventPong, Timestamp: s.handler.clock.Now().UnixMilli()})
		return nil
	}
	return nil
}

func (s *Session) fail(err error, tempID string) error {
	if err == nil {
		return nil
	}
	s.replyError(err, tempID)
	return err
}

// join subscribes the session to a conversation group. Non-participants are
// ignored without a reply.
func (s *Session) join(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return nil
	}
	ok, err := s.handler.engine.AuthorizeJoin(ctx, s.actor(), conversationID)
	if err != nil {
		return s.fail(err, "")
	}
	if !ok {
		s.logger.Debug("join denied", "conversation_id", conversationID)
		return nil
	}
	if err := s.handler.broadcaster.Subscribe(ctx, hub.ConversationGroup(conversationID), s); err != nil {
		s.logger.Error("subscribe conversation", "conversation_id", conversationID, "error", err)
		return s.fail(errors.Join(messaging.ErrInternal, err), "")
	}
	s.mu.Lock()
	s.joined[conversationID] = struct{}{}
	s.mu.Unlock()
	s.reply(models.ConversationEvent{Type: models.EventJoinedConversation, ConversationID: conversationID})
	return nil
}

func (s *Session) leave(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	_, ok := s.joined[conversationID]
	delete(s.joined, conversationID)
	s.mu.Unlock()
	if conversationID == "" || !ok {
		return nil
	}
	if err := s.handler.broadcaster.Unsubscribe(ctx, hub.ConversationGroup(conversationID), s); err != nil {
		s.logger.Warn("unsubscribe conversation", "conversation_id", conversationID, "error", err)
	}
	s.reply(models.ConversationEvent{Type: models.EventLeftConversation, ConversationID: conversationID})
	return nil
}

// release removes the session from every group and stops the write pump.
func (s *Session) release(ctx context.Context) {
	s.mu.Lock()
	groups := make([]string, 0, len(s.joined)+1)
	groups = append(groups, hub.UserGroup(s.identity.UserID))
	for id := range s.joined {
		groups = append(groups, hub.ConversationGroup(id))
	}
	s.joined = make(map[string]struct{})
	s.closeLocked()
	s.mu.Unlock()

	for _, g := range groups {
		if err := s.handler.broadcaster.Unsubscribe(ctx, g, s); err != nil {
			s.logger.Warn("unsubscribe on close", "group", g, "error", err)
		}
	}
}

// hardReadLimit is the transport cap. Frames between the command limit and
// this cap are answered with an error instead of dropping the connection;
// larger frames close it with CloseFrameTooLarge.
func hardReadLimit(maxFrame int64) int64 {
	limit := maxFrame * 8
	if limit < 64*1024 {
		limit = 64 * 1024
	}
	return limit
}
