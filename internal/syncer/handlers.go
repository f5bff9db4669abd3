package syncer

import (
	"github.com/gin-gonic/gin"

	"github.com/wheeltrack/wheeltrack-api/internal/account"
	"github.com/wheeltrack/wheeltrack-api/internal/broker"
	"github.com/wheeltrack/wheeltrack-api/pkg/response"
)

// GinHandlers contains HTTP handlers for the sync endpoint
type GinHandlers struct {
	service  *Service
	settings *account.Database
}

// NewGinHandlers creates a new set of HTTP handlers for sync requests
func NewGinHandlers(service *Service, settings *account.Database) *GinHandlers {
	return &GinHandlers{service: service, settings: settings}
}

// SyncHandler handles POST requests that run a sync for the authenticated
// account. A sync already in flight for the account yields a 409; an
// exhausted broker fetch a 502, with wheel state untouched in both cases.
func (h *GinHandlers) SyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("clientID")
		if accountID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		settings, err := h.settings.GetSettings(accountID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if settings == nil || settings.FlexToken == "" || settings.FlexQueryID == "" {
			response.BadRequest(c, "Broker credentials not configured for this account")
			return
		}

		resp, err := h.service.Sync(c.Request.Context(), accountID, broker.Credentials{
			Token:   settings.FlexToken,
			QueryID: settings.FlexQueryID,
		})
		response.Handle(c, resp, err)
	}
}
