package models

import (
	"encoding/json"
	"time"
)

// Tenant is a publisher account. It owns the approval policy and the adapter
// configuration used for every operation executed on its behalf.
type Tenant struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Domain   string `json:"domain"`

	// HumanReviewRequired is nil when the tenant never configured it. Readers
	// must treat nil as true.
	HumanReviewRequired *bool `json:"human_review_required,omitempty"`

	Adapter   AdapterConfig `json:"adapter"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Principal is a buyer identity scoped to a tenant.
type Principal struct {
	PrincipalID string    `json:"principal_id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	AccessToken string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// AdapterType identifies an ad-server integration.
type AdapterType string

const (
	AdapterTypeMock            AdapterType = "mock"
	AdapterTypeGoogleAdManager AdapterType = "google_ad_manager"
	AdapterTypeKevel           AdapterType = "kevel"
	AdapterTypeTriton          AdapterType = "triton"
)

// AdapterConfig is a tagged variant: Type selects which of the typed blocks is
// meaningful. Metadata carries adapter-specific settings that have no typed home.
type AdapterConfig struct {
	Type            AdapterType            `json:"type"`
	Mock            *MockAdapterConfig     `json:"mock,omitempty"`
	GoogleAdManager *GoogleAdManagerConfig `json:"google_ad_manager,omitempty"`
	Kevel           *KevelConfig           `json:"kevel,omitempty"`
	Triton          *TritonConfig          `json:"triton,omitempty"`
	Metadata        json.RawMessage        `json:"metadata,omitempty"`
}

// MockAdapterConfig configures the in-process mock ad server.
type MockAdapterConfig struct {
	ManualApprovalOperations []string      `json:"manual_approval_operations,omitempty"`
	Latency                  time.Duration `json:"latency,omitempty"`
	FailOperations           []string      `json:"fail_operations,omitempty"`
}

type GoogleAdManagerConfig struct {
	NetworkCode              string   `json:"network_code"`
	AdvertiserID             string   `json:"advertiser_id,omitempty"`
	TraffickerID             string   `json:"trafficker_id,omitempty"`
	ManualApprovalOperations []string `json:"manual_approval_operations,omitempty"`
}

type KevelConfig struct {
	NetworkID                string   `json:"network_id"`
	ManualApprovalOperations []string `json:"manual_approval_operations,omitempty"`
}

type TritonConfig struct {
	StationID                string   `json:"station_id"`
	ManualApprovalOperations []string `json:"manual_approval_operations,omitempty"`
}

// ManualApprovalOperations returns the operation list of whichever variant Type selects.
func (c AdapterConfig) ManualApprovalOperations() []string {
	switch c.Type {
	case AdapterTypeMock:
		if c.Mock != nil {
			return c.Mock.ManualApprovalOperations
		}
	case AdapterTypeGoogleAdManager:
		if c.GoogleAdManager != nil {
			return c.GoogleAdManager.ManualApprovalOperations
		}
	case AdapterTypeKevel:
		if c.Kevel != nil {
			return c.Kevel.ManualApprovalOperations
		}
	case AdapterTypeTriton:
		if c.Triton != nil {
			return c.Triton.ManualApprovalOperations
		}
	}
	return nil
}
