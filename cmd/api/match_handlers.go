package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"contractflow/masterdata"
	"contractflow/matcher"
)

type searchResponse struct {
	Kind  string              `json:"kind"`
	Query string              `json:"query"`
	Items []matcher.Candidate `json:"items"`
}

func (s *Server) handleSearch(c *gin.Context) {
	kind, err := masterdata.ParseKind(c.Param("kind"))
	if err != nil {
		s.fail(c, err)
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			badRequest(c, "limit must be a positive integer")
			return
		}
	}
	query := c.Query("q")
	items, err := s.matcher.Search(c.Request.Context(), kind, query, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if items == nil {
		items = []matcher.Candidate{}
	}
	c.JSON(http.StatusOK, searchResponse{Kind: string(kind), Query: query, Items: items})
}

type applyMatchRequest struct {
	Kind        string `json:"kind" binding:"required"`
	LineItemID  string `json:"lineItemId"`
	CandidateID string `json:"candidateId" binding:"required"`
}

type createMatchRequest struct {
	Kind        string `json:"kind" binding:"required"`
	LineItemID  string `json:"lineItemId"`
	Key         string `json:"key"`
	Description string `json:"description"`
	CageCode    string `json:"cageCode"`
}

type matchResponse struct {
	Record    matcher.Candidate `json:"record"`
	Created   bool              `json:"created"`
	Workspace workspaceResponse `json:"workspace"`
}

func newMatchResponse(m matcher.Match) matchResponse {
	return matchResponse{
		Record: matcher.Candidate{
			ID:          m.Record.ID,
			Label:       m.Record.Label(),
			Description: m.Record.Description,
			CageCode:    m.Record.CageCode,
		},
		Created:   m.Created,
		Workspace: newWorkspaceResponse(m.Workspace),
	}
}

func (s *Server) handleApplyMatch(c *gin.Context) {
	var req applyMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "kind and candidateId are required")
		return
	}
	kind, err := masterdata.ParseKind(req.Kind)
	if err != nil {
		s.fail(c, err)
		return
	}
	target := matcher.Target{WorkspaceID: c.Param("id"), LineItemID: req.LineItemID}
	m, err := s.matcher.ApplyMatch(c.Request.Context(), target, kind, req.CandidateID, actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newMatchResponse(m))
}

func (s *Server) handleCreateAndMatch(c *gin.Context) {
	var req createMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "kind is required")
		return
	}
	kind, err := masterdata.ParseKind(req.Kind)
	if err != nil {
		s.fail(c, err)
		return
	}
	target := matcher.Target{WorkspaceID: c.Param("id"), LineItemID: req.LineItemID}
	rec := masterdata.NewRecord{
		Key:         req.Key,
		Description: req.Description,
		CageCode:    req.CageCode,
		CreatedBy:   actor(c),
	}
	m, err := s.matcher.CreateAndMatch(c.Request.Context(), target, kind, rec, actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if m.Created {
		status = http.StatusCreated
	}
	c.JSON(status, newMatchResponse(m))
}
