package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/hub"
	"messaging-service/internal/middleware"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/telemetry"
)

type nopSink struct{ id string }

func (s nopSink) ConnID() string     { return s.id }
func (s nopSink) UserID() int64      { return 1 }
func (s nopSink) Send(_ []byte) bool { return true }

func debugRouter(emitter *telemetry.AuditEmitter, local *hub.Hub, enabled bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.RequestID(), func(c *gin.Context) {
		middleware.SetIdentity(c, models.Identity{UserID: 7, IsActive: true})
		c.Next()
	})
	RegisterDebugRoutes(router, emitter, local, enabled)
	return router
}

func TestDebugRoutesDisabled(t *testing.T) {
	router := debugRouter(nil, hub.NewHub(), false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/groups", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugAuditTestPublishes(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.messaging", "messaging-service", "test", nil)
	publisher.On("Publish", mock.Anything, "audit.messaging", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.UserID == 7 && env.RequestID == "req-1"
	})).Return(nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	debugRouter(emitter, nil, true).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)
}

func TestDebugGroupsListsMembers(t *testing.T) {
	local := hub.NewHub()
	require.NoError(t, local.Subscribe(context.Background(), hub.UserGroup(1), nopSink{id: "a"}))
	require.NoError(t, local.Subscribe(context.Background(), hub.UserGroup(1), nopSink{id: "b"}))

	rec := httptest.NewRecorder()
	debugRouter(nil, local, true).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/groups", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode(t, rec)["groups"].(map[string]any)
	assert.Equal(t, float64(2), groups["user:1"])
}

type pingerFunc func(context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/healthz", Health(nil))
	router.GET("/readyz", Health(pingerFunc(func(context.Context) error { return errors.New("down") })))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
