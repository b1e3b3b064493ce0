package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	webhookservice "github.com/smallbiznis/siteledger/internal/webhook/service"
	"go.uber.org/zap"
)

// HandleGatewayWebhook passes the raw body through untouched; the signature
// covers the exact bytes the gateway sent.
func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(body) > maxWebhookBodyBytes {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}

	result := s.webhookSvc.Ingest(c.Request.Context(), body, c.GetHeader(webhookservice.SignatureHeader))
	if result.OK() {
		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": result.Outcome})
		return
	}

	if result.Err != nil {
		_ = c.Error(result.Err)
		s.log.Warn("webhook rejected",
			zap.Int("status", result.Status),
			zap.String("outcome", string(result.Outcome)),
			zap.Error(result.Err),
		)
	}
	c.JSON(result.Status, gin.H{"received": false, "outcome": result.Outcome})
}
