package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/contentgate/internal/gate"
	moderationdomain "github.com/smallbiznis/contentgate/internal/moderation/domain"
	subdomain "github.com/smallbiznis/contentgate/internal/submission/domain"
)

type createSubmissionRequest struct {
	Kind        string `json:"kind"`
	ResourceRef string `json:"resource_ref"`
}

type rejectSubmissionRequest struct {
	Reason   string `json:"reason"`
	Override bool   `json:"override"`
}

type removeSubmissionRequest struct {
	Reason string `json:"reason"`
}

type listSubmissionsQuery struct {
	Status      string `form:"status"`
	Kind        string `form:"kind"`
	OwnerID     string `form:"owner_id"`
	CreatedFrom string `form:"created_from"`
	CreatedTo   string `form:"created_to"`
	Page        string `form:"page"`
	PageSize    string `form:"page_size"`
}

func (s *Server) CreateSubmission(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}

	var req createSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Kind) == "" {
		AbortWithError(c, newValidationError("kind", "invalid_kind", "kind is required"))
		return
	}

	result, err := s.gate.RequestUpload(c.Request.Context(), caller, gate.UploadRequest{
		Kind:        subdomain.Kind(req.Kind),
		ResourceRef: req.ResourceRef,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if result.Submission != nil {
		c.Set("submission_id", result.Submission.ID.String())
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) GetSubmission(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}
	id, err := parseSubmissionID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("submission_id", id.String())

	submission, err := s.submissionSvc.View(c.Request.Context(), caller, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": submission})
}

func (s *Server) DownloadSubmission(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}
	id, err := parseSubmissionID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("submission_id", id.String())

	grant, err := s.gate.RequestDownload(c.Request.Context(), caller, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, grant)
}

func (s *Server) ResubmitSubmission(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}
	id, err := parseSubmissionID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("submission_id", id.String())

	submission, err := s.submissionSvc.Resubmit(c.Request.Context(), caller, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": submission})
}

func (s *Server) ApproveSubmission(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}
	id, err := parseSubmissionID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("submission_id", id.String())

	submission, err := s.submissionSvc.Approve(c.Request.Context(), caller, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": submission})
}

func (s *Server) RejectSubmission(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}
	id, err := parseSubmissionID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("submission_id", id.String())

	var req rejectSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	submission, err := s.submissionSvc.Reject(c.Request.Context(), caller, subdomain.RejectRequest{
		ID:       id,
		Reason:   req.Reason,
		Override: req.Override,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": submission})
}

func (s *Server) RemoveSubmission(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}
	id, err := parseSubmissionID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("submission_id", id.String())

	// The body is optional on DELETE.
	var req removeSubmissionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	if err := s.submissionSvc.Remove(c.Request.Context(), caller, id, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) SubmissionHistory(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}
	id, err := parseSubmissionID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("submission_id", id.String())

	history, err := s.submissionSvc.History(c.Request.Context(), caller, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": history})
}

// ListSubmissions serves the moderation queue.
func (s *Server) ListSubmissions(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}

	var query listSubmissionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var filter moderationdomain.Filter
	if raw := strings.TrimSpace(query.Status); raw != "" {
		status, err := subdomain.ParseStatus(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(query.Kind); raw != "" {
		kind, err := subdomain.ParseKind(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		filter.Kind = &kind
	}
	filter.OwnerID = strings.TrimSpace(query.OwnerID)

	createdFrom, ok := parseOptionalTime(query.CreatedFrom, false)
	if !ok {
		AbortWithError(c, newValidationError("created_from", "invalid_created_from", "invalid created_from"))
		return
	}
	createdTo, ok := parseOptionalTime(query.CreatedTo, true)
	if !ok {
		AbortWithError(c, newValidationError("created_to", "invalid_created_to", "invalid created_to"))
		return
	}
	filter.CreatedFrom = createdFrom
	filter.CreatedTo = createdTo

	page, err := parseOptionalInt(query.Page)
	if err != nil {
		AbortWithError(c, newValidationError("page", "invalid_page", "invalid page"))
		return
	}
	pageSize, err := parseOptionalInt(query.PageSize)
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	resp, err := s.moderationSvc.List(c.Request.Context(), caller, moderationdomain.ListRequest{
		Filter:   filter,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
