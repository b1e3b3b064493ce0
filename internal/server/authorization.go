package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/siteledger/internal/authorization"
	obscontext "github.com/smallbiznis/siteledger/internal/observability/context"
)

// ActorRequired rejects requests that arrive without an X-Actor header. The
// header is set by the upstream gateway after authentication.
func ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actorFromContext(c) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func actorFromContext(c *gin.Context) string {
	if c == nil || c.Request == nil {
		return ""
	}
	return strings.TrimSpace(obscontext.ActorString(c.Request.Context()))
}

// authorizeForOrg checks the actor against the organization that owns the
// requested resource.
func (s *Server) authorizeForOrg(c *gin.Context, orgID snowflake.ID, object string, action string) error {
	actor := actorFromContext(c)
	if actor == "" {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), actor, orgID.String(), object, action)
}

func (s *Server) authorizeSystemAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFromContext(c)
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.SystemOrg, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
