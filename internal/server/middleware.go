package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/contentgate/internal/audit/domain"
	"github.com/smallbiznis/contentgate/internal/auditcontext"
	"github.com/smallbiznis/contentgate/internal/identity"
	obscontext "github.com/smallbiznis/contentgate/internal/observability/context"
)

const bearerPrefix = "bearer "

// AuthRequired resolves the caller from the bearer token issued by the identity provider.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
			AbortWithError(c, identity.ErrUnauthorized)
			return
		}

		caller, err := s.verifier.Parse(header[len(bearerPrefix):])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		actorType := string(auditdomain.ActorTypeUser)
		if caller.IsAdmin() {
			actorType = string(auditdomain.ActorTypeAdmin)
		}
		ctx := identity.WithCaller(c.Request.Context(), caller)
		ctx = auditcontext.WithActor(ctx, actorType, caller.UserID)
		ctx = obscontext.WithActor(ctx, actorType, caller.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := identity.FromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, identity.ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), caller.UserID, string(caller.Role), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func currentCaller(c *gin.Context) (identity.Caller, bool) {
	caller, ok := identity.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, identity.ErrUnauthorized)
		return identity.Caller{}, false
	}
	return caller, true
}
