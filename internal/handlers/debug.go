package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/hub"
	"messaging-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, emitter *telemetry.AuditEmitter, local *hub.Hub, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		actor, _ := actorFromContext(c)
		emitter.Emit(c.Request.Context(), actor.UserID, actor.RequestID, telemetry.AuditPayload{
			Action: "debug.audit_test",
			Detail: "audit test",
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/groups", func(c *gin.Context) {
		if local == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "hub not configured"})
			return
		}
		groups := local.Groups()
		members := make(map[string]int, len(groups))
		for _, g := range groups {
			members[g] = local.Members(g)
		}
		c.JSON(http.StatusOK, gin.H{"groups": members})
	})
}
