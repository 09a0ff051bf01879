package entities

import (
	"time"

	"gorm.io/datatypes"
)

type RemoteStatus string

const (
	RemoteStatusActive RemoteStatus = "active"
	RemoteStatusSold   RemoteStatus = "sold"
)

type LocalStatus string

const (
	LocalStatusAvailable LocalStatus = "available"
	LocalStatusSold      LocalStatus = "sold"
)

// Listing mirrors one remote marketplace listing of a tenant.
type Listing struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	TenantID           string         `gorm:"uniqueIndex:idx_listing_remote,priority:1;size:100;not null" json:"tenant_id"`
	Marketplace        string         `gorm:"uniqueIndex:idx_listing_remote,priority:2;size:50;not null" json:"marketplace"`
	RemoteID           string         `gorm:"uniqueIndex:idx_listing_remote,priority:3;size:100;not null" json:"remote_id"`
	ProductID          string         `gorm:"index;size:100" json:"product_id,omitempty"`
	Title              string         `gorm:"size:512" json:"title"`
	Price              int64          `json:"price"` // minor units
	Quantity           int            `json:"quantity"`
	RemoteStatus       RemoteStatus   `gorm:"size:20" json:"remote_status"`
	LocalStatus        LocalStatus    `gorm:"size:20;default:'available'" json:"local_status"`
	SoldChannel        string         `gorm:"size:50" json:"sold_channel,omitempty"`
	Attributes         datatypes.JSON `json:"attributes,omitempty"`
	LastSeenAt         time.Time      `gorm:"index" json:"last_seen_at"`
	EnrichedAt         *time.Time     `json:"enriched_at,omitempty"`
	EnrichAttemptedAt  *time.Time     `json:"enrich_attempted_at,omitempty"`
	CleanupAttemptedAt *time.Time     `json:"cleanup_attempted_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (Listing) TableName() string {
	return "marketplace_listings"
}
