package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetQuota reports the caller's allowance for the current month.
func (s *Server) GetQuota(c *gin.Context) {
	caller, ok := currentCaller(c)
	if !ok {
		return
	}

	summary, err := s.quotaSvc.Usage(c.Request.Context(), caller.UserID, caller.Tier, s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}
