// Package models defines the domain models for the sales agent
package models

import (
	"fmt"
	"time"
)

// MediaBuy is a buyer's order. Its lifecycle status is not stored on the row; it
// is read from the latest workflow step that touched it.
type MediaBuy struct {
	MediaBuyID  string    `json:"media_buy_id"`
	TenantID    string    `json:"tenant_id"`
	PrincipalID string    `json:"principal_id"`
	ContextID   string    `json:"context_id,omitempty"`
	BuyerRef    string    `json:"buyer_ref"`
	Budget      float64   `json:"budget"`
	Currency    string    `json:"currency"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Packages    []Package `json:"packages,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Package is a product line within a media buy.
type Package struct {
	PackageID   string  `json:"package_id,omitempty"`
	ProductID   string  `json:"product_id" validate:"required"`
	Budget      float64 `json:"budget,omitempty" validate:"gte=0"`
	Impressions int64   `json:"impressions,omitempty" validate:"gte=0"`
}

// Creative is an ad asset submitted by a buyer for review and trafficking.
type Creative struct {
	CreativeID  string    `json:"creative_id"`
	TenantID    string    `json:"tenant_id"`
	PrincipalID string    `json:"principal_id"`
	Name        string    `json:"name"`
	FormatID    string    `json:"format_id"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

// MediaBuyStatus is the buyer-visible status of a media buy.
type MediaBuyStatus struct {
	MediaBuyID      string    `json:"media_buy_id"`
	BuyerRef        string    `json:"buyer_ref"`
	Status          TaskState `json:"status"`
	TaskID          string    `json:"task_id,omitempty"`
	PlatformOrderID string    `json:"platform_order_id,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

func (s MediaBuyStatus) String() string {
	return fmt.Sprintf("Media buy %s is %s", s.MediaBuyID, s.Status)
}
