package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"contractflow/workspace"
)

type setFieldRequest struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value"`
}

type splitRequest struct {
	CompanyName string           `json:"companyName"`
	Value       *decimal.Decimal `json:"value"`
	Paid        *decimal.Decimal `json:"paid"`
}

func (r splitRequest) params() workspace.SplitParams {
	return workspace.SplitParams{CompanyName: r.CompanyName, Value: r.Value, Paid: r.Paid}
}

// respond writes the workspace returned by an edit, or the error.
func (s *Server) respond(c *gin.Context, status int, w workspace.Workspace, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(status, newWorkspaceResponse(w))
}

func (s *Server) handleGetWorkspace(c *gin.Context) {
	w, err := s.workspaces.Get(c.Request.Context(), c.Param("id"))
	s.respond(c, http.StatusOK, w, err)
}

func (s *Server) handleSetContractField(c *gin.Context) {
	var req setFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "field is required")
		return
	}
	w, err := s.workspaces.SetContractField(c.Request.Context(), c.Param("id"), actor(c), req.Field, req.Value)
	s.respond(c, http.StatusOK, w, err)
}

func (s *Server) handleAddLineItem(c *gin.Context) {
	w, err := s.workspaces.AddLineItem(c.Request.Context(), c.Param("id"), actor(c))
	s.respond(c, http.StatusCreated, w, err)
}

func (s *Server) handleSetLineItemField(c *gin.Context) {
	var req setFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "field is required")
		return
	}
	w, err := s.workspaces.SetLineItemField(c.Request.Context(), c.Param("id"), c.Param("lineId"), actor(c), req.Field, req.Value)
	s.respond(c, http.StatusOK, w, err)
}

func (s *Server) handleDeleteLineItem(c *gin.Context) {
	w, err := s.workspaces.DeleteLineItem(c.Request.Context(), c.Param("id"), c.Param("lineId"), actor(c))
	s.respond(c, http.StatusOK, w, err)
}

func (s *Server) handleRecompute(c *gin.Context) {
	w, err := s.workspaces.Recompute(c.Request.Context(), c.Param("id"), actor(c))
	s.respond(c, http.StatusOK, w, err)
}

func (s *Server) handleCreateSplit(c *gin.Context) {
	var req splitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	w, err := s.workspaces.CreateSplit(c.Request.Context(), c.Param("id"), actor(c), req.params())
	s.respond(c, http.StatusCreated, w, err)
}

func (s *Server) handleUpdateSplit(c *gin.Context) {
	var req splitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	w, err := s.workspaces.UpdateSplit(c.Request.Context(), c.Param("id"), c.Param("splitId"), actor(c), req.params())
	s.respond(c, http.StatusOK, w, err)
}

func (s *Server) handleDeleteSplit(c *gin.Context) {
	w, err := s.workspaces.DeleteSplit(c.Request.Context(), c.Param("id"), c.Param("splitId"), actor(c))
	s.respond(c, http.StatusOK, w, err)
}

func (s *Server) handleMarkReady(c *gin.Context) {
	w, err := s.workspaces.MarkReady(c.Request.Context(), c.Param("id"), actor(c))
	s.respond(c, http.StatusOK, w, err)
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.staging.Cancel(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleFinalize(c *gin.Context) {
	result, err := s.finalizer.Finalize(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("contract finalized",
		"contract_id", result.ContractID,
		"recipient", result.Notification.Recipient,
		"subject", result.Notification.Subject,
		"request_id", requestID(c),
	)
	c.JSON(http.StatusOK, finalizeResponse{
		ContractID:   result.ContractID,
		PONumber:     result.PONumber,
		TabNumber:    result.TabNumber,
		Notification: result.Notification,
	})
}
