package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/internal/registry/model"
)

// authCtxKey is the gin context key the bearer middleware stores the
// validated credential under.
const authCtxKey = "clawcierge.auth"

// keyValidator resolves a plaintext bearer credential.
// *service.KeyService satisfies this interface.
type keyValidator interface {
	Validate(ctx context.Context, plaintext string) (*model.AuthContext, error)
}

// BearerAuth returns middleware that requires a valid API key in the
// Authorization header. The three failure modes carry distinct messages so
// callers can tell a missing header from a malformed one, but invalid and
// revoked keys are indistinguishable.
func BearerAuth(keys keyValidator, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortDetail(c, http.StatusUnauthorized, "Missing Authorization header")
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			abortDetail(c, http.StatusUnauthorized, "Invalid Authorization header format")
			return
		}

		auth, err := keys.Validate(c.Request.Context(), token)
		if err != nil {
			logger.Error("validate api key", zap.Error(err))
			abortDetail(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		if auth == nil {
			abortDetail(c, http.StatusUnauthorized, "Invalid or expired API key")
			return
		}

		c.Set(authCtxKey, auth)
		c.Next()
	}
}

// AuthFromCtx returns the credential the bearer middleware validated, or nil
// on unauthenticated routes.
func AuthFromCtx(c *gin.Context) *model.AuthContext {
	v, ok := c.Get(authCtxKey)
	if !ok {
		return nil
	}
	auth, _ := v.(*model.AuthContext)
	return auth
}
