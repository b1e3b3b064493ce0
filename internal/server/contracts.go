package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/siteledger/internal/authorization"
	contractdomain "github.com/smallbiznis/siteledger/internal/contract/domain"
	"go.uber.org/zap"
)

type contractResponse struct {
	Contract contractdomain.Contract `json:"contract"`
}

// loadContract fetches the contract and authorizes the actor against its
// organization.
func (s *Server) loadContract(c *gin.Context, action string) (contractdomain.Contract, bool) {
	id, err := paramID(c)
	if err != nil {
		AbortWithError(c, err)
		return contractdomain.Contract{}, false
	}

	contract, err := s.contractSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return contractdomain.Contract{}, false
	}

	if err := s.authorizeForOrg(c, contract.OrgID, authorization.ObjectContract, action); err != nil {
		AbortWithError(c, err)
		return contractdomain.Contract{}, false
	}
	return contract, true
}

func (s *Server) GetContract(c *gin.Context) {
	contract, ok := s.loadContract(c, authorization.ActionContractView)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, contractResponse{Contract: contract})
}

func (s *Server) PreviewContractFees(c *gin.Context) {
	contract, ok := s.loadContract(c, authorization.ActionContractFeePreview)
	if !ok {
		return
	}

	first := false
	if raw := c.Query("first"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, newValidationError("first", "invalid_first", "first must be a boolean"))
			return
		}
		first = parsed
	}

	breakdown, err := s.contractSvc.PreviewFees(c.Request.Context(), contractdomain.FeePreviewRequest{
		ContractID:   contract.ID.String(),
		FirstInvoice: first,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": breakdown})
}

func (s *Server) RequestPlanChange(c *gin.Context) {
	contract, ok := s.loadContract(c, authorization.ActionContractPlanChange)
	if !ok {
		return
	}

	var req contractdomain.RequestPlanChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			AbortWithError(c, invalidRequestError())
			return
		}
		AbortWithError(c, newValidationError("body", "invalid_json", "request body is not valid JSON"))
		return
	}
	req.ContractID = contract.ID.String()

	result, err := s.contractSvc.RequestPlanChange(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("plan change requested",
		zap.String("contract_id", req.ContractID),
		zap.String("actor", actorFromContext(c)),
		zap.Time("effective_date", result.EffectiveDate),
		zap.Bool("is_downgrade", result.IsDowngrade),
	)
	c.JSON(http.StatusAccepted, gin.H{"data": result})
}

func (s *Server) CancelPlanChange(c *gin.Context) {
	contract, ok := s.loadContract(c, authorization.ActionContractPlanChange)
	if !ok {
		return
	}

	if err := s.contractSvc.CancelPlanChange(c.Request.Context(), contract.ID.String()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
