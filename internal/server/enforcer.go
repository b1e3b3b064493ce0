package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RunEnforcer executes one enforcement pass synchronously and returns its
// report. Item failures still yield 200; only a run-level error does not.
func (s *Server) RunEnforcer(c *gin.Context) {
	if s.enforcer == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	report, err := s.enforcer.RunOnce(c.Request.Context())
	if err != nil && len(report.Outcomes) == 0 {
		AbortWithError(c, err)
		return
	}
	if err != nil {
		s.log.Warn("enforcer run finished with errors", zap.String("run_id", report.RunID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   report,
		"failed": len(report.Failed()),
	})
}
