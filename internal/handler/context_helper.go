package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-sync/internal/middleware"
	"github.com/noah-isme/classroom-sync/internal/models"
	appErrors "github.com/noah-isme/classroom-sync/pkg/errors"
	"github.com/noah-isme/classroom-sync/pkg/response"
)

// currentClaims returns the authenticated caller. When the JWT middleware did
// not run or left no subject it writes a 401 and returns nil.
func currentClaims(c *gin.Context) *models.JWTClaims {
	if value, exists := c.Get(middleware.ContextUserKey); exists {
		if claims, ok := value.(*models.JWTClaims); ok && claims.UserID != "" {
			return claims
		}
	}
	response.Error(c, appErrors.ErrUnauthorized)
	return nil
}
