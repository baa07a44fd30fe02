package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"messaging-service/internal/auth"
	"messaging-service/internal/clock"
	"messaging-service/internal/hub"
	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/ratelimit"
)

// Config tunes the websocket transport.
type Config struct {
	MaxFrameBytes  int64
	CommandTimeout time.Duration
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
	// AuthTimeout bounds token validation during the handshake.
	AuthTimeout time.Duration
}

// DefaultConfig returns the standard transport settings.
func DefaultConfig() Config {
	return Config{
		MaxFrameBytes:  10 * 1024,
		CommandTimeout: 10 * time.Second,
		SendBuffer:     256,
		PingInterval:   pingPeriod,
		PongWait:       pongWait,
		AuthTimeout:    5 * time.Second,
	}
}

// Deps are the collaborators of the websocket handler.
type Deps struct {
	Engine      *messaging.Engine
	Broadcaster hub.Broadcaster
	Validator   auth.Validator
	Limiter     *ratelimit.Limiter
	IPLimiter   *ratelimit.IPLimiter
	Origins     *OriginPolicy
	Events      *observability.EventPublisher
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Handler accepts websocket connections.
type Handler struct {
	engine      *messaging.Engine
	broadcaster hub.Broadcaster
	validator   auth.Validator
	limiter     *ratelimit.Limiter
	ipLimiter   *ratelimit.IPLimiter
	origins     *OriginPolicy
	events      *observability.EventPublisher
	clock       clock.Clock
	logger      *slog.Logger
	cfg         Config
	upgrader    websocket.Upgrader
}

// NewHandler constructs a Handler.
func NewHandler(deps Deps, cfg Config) *Handler {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Origins == nil {
		deps.Origins = NewOriginPolicy(nil, nil, false)
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = deps.Engine.Broadcaster()
	}
	defaults := DefaultConfig()
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = defaults.MaxFrameBytes
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaults.CommandTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaults.PongWait
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaults.AuthTimeout
	}
	return &Handler{
		engine:      deps.Engine,
		broadcaster: deps.Broadcaster,
		validator:   deps.Validator,
		limiter:     deps.Limiter,
		ipLimiter:   deps.IPLimiter,
		origins:     deps.Origins,
		events:      deps.Events,
		clock:       deps.Clock,
		logger:      deps.Logger.With("component", "ws"),
		cfg:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin is checked before upgrading so rejections carry a close code.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle runs the handshake and, when accepted, the session.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	r := c.Request.WithContext(ctx)

	ip := observability.IPFromRequest(r)
	if h.ipLimiter != nil && !h.ipLimiter.Allow(ip) {
		observability.IncRateLimited("handshake_ip")
		h.reject(c.Writer, r, CloseRateLimited, "rate limited", "ip_rate")
		span.SetStatus(codes.Error, "ip rate limited")
		return
	}

	if !h.origins.Allowed(r.Header.Get("Origin")) {
		h.logger.Warn("forbidden origin", "origin", r.Header.Get("Origin"), "ip", ip)
		h.reject(c.Writer, r, CloseForbiddenOrigin, "forbidden origin", "origin")
		span.SetStatus(codes.Error, "forbidden origin")
		return
	}

	authCtx, cancel := context.WithTimeout(ctx, h.cfg.AuthTimeout)
	identity, err := auth.Resolve(authCtx, h.validator, auth.TokenFromRequest(r))
	cancel()
	if err != nil {
		if !errors.Is(err, auth.ErrMissingToken) && !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrInactiveUser) {
			h.logger.Error("token validation failed", "ip", ip, "error", err)
		}
		h.reject(c.Writer, r, CloseUnauthorized, "unauthorized", "auth")
		span.SetStatus(codes.Error, "unauthorized")
		return
	}
	span.SetAttributes(attribute.Int64("user_id", identity.UserID))

	if h.limiter != nil && !h.limiter.Allow(ratelimit.KindConnection, identity.UserID) {
		observability.IncRateLimited(string(ratelimit.KindConnection))
		h.reject(c.Writer, r, CloseRateLimited, "rate limited", "connection_rate")
		span.SetStatus(codes.Error, "connection rate limited")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "error", err)
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      identity.UserID,
		DeviceID:    observability.DeviceIDFromRequest(r),
		IP:          ip,
		RequestID:   observability.RequestIDFromRequest(r),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: h.clock.Now(),
	}
	session := newSession(h, conn, identity, info)
	sessionCtx := context.WithoutCancel(ctx)

	if err := h.broadcaster.Subscribe(sessionCtx, hub.UserGroup(identity.UserID), session); err != nil {
		h.logger.Error("subscribe personal group", "user_id", identity.UserID, "error", err)
		closeWith(conn, websocket.CloseInternalServerErr, "unavailable")
		return
	}
	session.reply(models.ConnectionEstablishedEvent{Type: models.EventConnectionEstablished, UserID: identity.UserID})

	observability.IncWSActive()
	h.publishEvent(sessionCtx, "connect", info, "")
	session.logger.Info("websocket connected", "ip", ip)

	go session.writePump()
	go func() {
		reason := session.readPump(sessionCtx)
		session.release(sessionCtx)
		observability.DecWSActive()
		h.publishEvent(sessionCtx, "disconnect", info, reason)
		session.logger.Info("websocket disconnected", "reason", reason)
	}()
}

// reject upgrades only to deliver a close code, then drops the connection.
func (h *Handler) reject(w http.ResponseWriter, r *http.Request, code int, reason, metric string) {
	observability.IncHandshakeRejected(metric)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	closeWith(conn, code, reason)
}

func (h *Handler) publishEvent(ctx context.Context, name string, info ConnInfo, reason string) {
	payload := map[string]interface{}{
		"conn_id":     info.ConnID,
		"user_id":     info.UserID,
		"device_id":   info.DeviceID,
		"ip":          info.IP,
		"duration_ms": h.clock.Now().Sub(info.ConnectedAt).Milliseconds(),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	h.events.PublishEvent(ctx, observability.NewEventEnvelope(ctx, "ws", name, info.RequestID, payload))
}
