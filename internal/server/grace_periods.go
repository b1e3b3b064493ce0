package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/siteledger/internal/authorization"
	gracedomain "github.com/smallbiznis/siteledger/internal/graceperiod/domain"
)

func (s *Server) loadGracePeriod(c *gin.Context, action string) (gracedomain.View, bool) {
	id, err := paramID(c)
	if err != nil {
		AbortWithError(c, err)
		return gracedomain.View{}, false
	}

	view, err := s.graceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return gracedomain.View{}, false
	}

	if err := s.authorizeForOrg(c, view.OrgID, authorization.ObjectGracePeriod, action); err != nil {
		AbortWithError(c, err)
		return gracedomain.View{}, false
	}
	return view, true
}

func (s *Server) GetGracePeriod(c *gin.Context) {
	view, ok := s.loadGracePeriod(c, authorization.ActionGracePeriodView)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

// ExemptGracePeriod ends enforcement for a pending period. Only a platform
// operator may do this.
func (s *Server) ExemptGracePeriod(c *gin.Context) {
	view, ok := s.loadGracePeriod(c, authorization.ActionGracePeriodExempt)
	if !ok {
		return
	}

	updated, err := s.graceSvc.Exempt(c.Request.Context(), view.ID.String(), actorFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": updated})
}
