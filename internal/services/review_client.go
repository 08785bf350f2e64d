package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"adcp-sales-agent/pkg/models"
)

// ReviewDecision is the reviewer's verdict on a creative.
type ReviewDecision string

const (
	ReviewApprove ReviewDecision = "approve"
	ReviewReject  ReviewDecision = "reject"
)

// ReviewResult is the response of the creative review sidecar.
type ReviewResult struct {
	Decision   ReviewDecision `json:"decision"`
	Reason     string         `json:"reason,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
}

// CreativeReviewer screens creatives before they reach the ad server.
type CreativeReviewer interface {
	ReviewCreative(ctx context.Context, creative *models.Creative) (*ReviewResult, error)
}

// HTTPReviewClient is an HTTP implementation of the CreativeReviewer interface.
type HTTPReviewClient struct {
	url    string
	client *http.Client
}

// NewHTTPReviewClient creates a new HTTPReviewClient.
func NewHTTPReviewClient(url string, timeout time.Duration) *HTTPReviewClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPReviewClient{url: url, client: &http.Client{Timeout: timeout}}
}

// ReviewCreative asks the sidecar whether creative may run.
func (c *HTTPReviewClient) ReviewCreative(ctx context.Context, creative *models.Creative) (*ReviewResult, error) {
	requestBody, err := json.Marshal(map[string]string{
		"creative_id": creative.CreativeID,
		"name":        creative.Name,
		"format_id":   creative.FormatID,
		"url":         creative.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/review", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to review creative: status code %d", resp.StatusCode)
	}

	var result ReviewResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	switch result.Decision {
	case ReviewApprove, ReviewReject:
	default:
		return nil, fmt.Errorf("unknown review decision %q", result.Decision)
	}
	return &result, nil
}
