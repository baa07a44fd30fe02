package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
)

// actorFromContext builds the messaging actor for the authenticated request.
func actorFromContext(c *gin.Context) (messaging.Actor, bool) {
	identity, ok := middleware.Identity(c)
	if !ok || identity.UserID == 0 {
		return messaging.Actor{}, false
	}
	return messaging.Actor{
		UserID:    identity.UserID,
		IsStaff:   identity.IsStaff,
		RequestID: middleware.RequestIDFrom(c),
	}, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, messaging.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, messaging.ErrAccessDenied),
		errors.Is(err, messaging.ErrConversationBlocked),
		errors.Is(err, messaging.ErrEditNotAllowed),
		errors.Is(err, messaging.ErrDeleteNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, messaging.ErrEmptyContent),
		errors.Is(err, messaging.ErrContentTooLong),
		errors.Is(err, messaging.ErrMissingConversation),
		errors.Is(err, messaging.ErrSelfConversation):
		return http.StatusBadRequest
	}
	if _, known := messaging.PublicMessage(err); known {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	msg, _ := messaging.PublicMessage(err)
	status := statusFor(err)
	if status == http.StatusForbidden && msg == messaging.ErrAccessDenied.Error() {
		// Missing and foreign conversations look the same.
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": msg})
}
