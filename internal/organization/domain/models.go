// Package domain contains persistence models for the org service.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrInvalidMarkup        = errors.New("invalid_markup")
)

// Organization represents a tenant.
type Organization struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name         string            `gorm:"type:text;not null" json:"name"`
	Slug         string            `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	SupportEmail string            `gorm:"type:text;column:support_email" json:"support_email"`
	IsDefault    bool              `gorm:"column:is_default" json:"is_default"`
	CountryCode  string            `gorm:"column:country_code" json:"country_code"`
	TimezoneName string            `gorm:"column:timezone_name" json:"timezone_name"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// AutomationSettings stores per-org overrides of the automation and
// metering defaults. Empty fields fall back to the application config;
// nothing here is ever hardcoded per request.
type AutomationSettings struct {
	OrgID               snowflake.ID `gorm:"primaryKey" json:"org_id"`
	Markup              string       `gorm:"type:text" json:"markup"` // decimal string, "" = default
	ConfidenceThreshold *float64     `json:"confidence_threshold"`
	KeywordMatchType    string       `gorm:"type:text" json:"keyword_match_type"`
	AIModel             string       `gorm:"type:text" json:"ai_model"`
	UpdatedAt           time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (AutomationSettings) TableName() string { return "automation_settings" }
