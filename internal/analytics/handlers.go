package analytics

import (
	"github.com/gin-gonic/gin"

	"github.com/wheeltrack/wheeltrack-api/internal/wheel"
	"github.com/wheeltrack/wheeltrack-api/pkg/response"
)

// GinHandlers contains HTTP handlers for the analytics endpoint
type GinHandlers struct {
	db *wheel.Database
}

// NewGinHandlers creates a new set of HTTP handlers for analytics
func NewGinHandlers(db *wheel.Database) *GinHandlers {
	return &GinHandlers{db: db}
}

// ReportHandler handles GET requests for the full analytics report
func (h *GinHandlers) ReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("clientID")
		if accountID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		wheels, err := h.db.GetWheels(accountID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		report, err := AggregateFromStore(wheels, h.db.GetWheelExecutions)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, report)
	}
}
