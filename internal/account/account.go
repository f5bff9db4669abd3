// Package account stores per-account broker credentials used by syncs.
package account

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/wheeltrack/wheeltrack-api/internal/types"
	"github.com/wheeltrack/wheeltrack-api/pkg/response"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetSettings returns the stored settings for an account, or nil when none
// have been saved yet.
func (d *Database) GetSettings(accountID string) (*types.AccountSettings, error) {
	var settings types.AccountSettings
	if err := d.db.Where("account_id = ?", accountID).First(&settings).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &settings, nil
}

// UpsertSettings updates only the fields present in the request, creating
// the row on first save.
func (d *Database) UpsertSettings(accountID string, token, queryID *string) (*types.AccountSettings, error) {
	settings, err := d.GetSettings(accountID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = &types.AccountSettings{AccountID: accountID}
	}
	if token != nil {
		settings.FlexToken = *token
	}
	if queryID != nil {
		settings.FlexQueryID = *queryID
	}
	if err := d.db.Save(settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

// SettingsRequest is the update payload; absent fields are left unchanged.
type SettingsRequest struct {
	FlexToken   *string `json:"flex_token"`
	FlexQueryID *string `json:"flex_query_id"`
}

// SettingsResponse never echoes the token back in full.
type SettingsResponse struct {
	FlexQueryID  string `json:"flex_query_id"`
	HasFlexToken bool   `json:"has_flex_token"`
}

// GinHandlers contains HTTP handlers for account settings endpoints
type GinHandlers struct {
	db *Database
}

// NewGinHandlers creates a new set of HTTP handlers for account settings
func NewGinHandlers(db *Database) *GinHandlers {
	return &GinHandlers{db: db}
}

// GetSettingsHandler handles GET requests for the caller's broker settings
func (h *GinHandlers) GetSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("clientID")
		if accountID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		settings, err := h.db.GetSettings(accountID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if settings == nil {
			response.Success(c, SettingsResponse{})
			return
		}
		response.Success(c, SettingsResponse{
			FlexQueryID:  settings.FlexQueryID,
			HasFlexToken: settings.FlexToken != "",
		})
	}
}

// UpdateSettingsHandler handles POST requests updating broker settings
func (h *GinHandlers) UpdateSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("clientID")
		if accountID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		var req SettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		settings, err := h.db.UpsertSettings(accountID, req.FlexToken, req.FlexQueryID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, SettingsResponse{
			FlexQueryID:  settings.FlexQueryID,
			HasFlexToken: settings.FlexToken != "",
		})
	}
}
