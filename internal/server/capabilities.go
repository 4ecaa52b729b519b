package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type verifyCapabilityRequest struct {
	Token string `json:"token"`
}

// VerifyCapability lets the content store check a download token before serving bytes.
func (s *Server) VerifyCapability(c *gin.Context) {
	var req verifyCapabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	claims, err := s.capabilities.Verify(req.Token)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("submission_id", claims.SubmissionID)

	var expiresAt any
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":         true,
		"grant_id":      claims.ID,
		"user_id":       claims.Subject,
		"submission_id": claims.SubmissionID,
		"resource_ref":  claims.ResourceRef,
		"expires_at":    expiresAt,
	})
}
