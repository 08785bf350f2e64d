package services

import (
	"fmt"
	"time"

	"adcp-sales-agent/pkg/models"
)

// Tool names double as adapter operation names and approval policy keys.
const (
	ToolCreateMediaBuy      = "create_media_buy"
	ToolSyncCreatives       = "sync_creatives"
	ToolCheckMediaBuyStatus = "check_media_buy_status"
	ToolGetTask             = "get_task"
	ToolListTasks           = "list_tasks"
)

// Conversation roles.
const (
	RoleAgent     = "agent"
	RolePublisher = "publisher"
)

type CreateMediaBuyRequest struct {
	BuyerRef               string                         `json:"buyer_ref" validate:"required,max=255"`
	ContextID              string                         `json:"context_id,omitempty"`
	Budget                 float64                        `json:"budget" validate:"gt=0"`
	Currency               string                         `json:"currency" validate:"required,iso4217"`
	StartTime              time.Time                      `json:"start_time" validate:"required"`
	EndTime                time.Time                      `json:"end_time" validate:"required,gtfield=StartTime"`
	Packages               []models.Package               `json:"packages" validate:"required,min=1,dive"`
	PushNotificationConfig *models.PushNotificationConfig `json:"push_notification_config,omitempty"`
}

type CreateMediaBuyResponse struct {
	MediaBuyID       string           `json:"media_buy_id"`
	BuyerRef         string           `json:"buyer_ref"`
	Status           models.TaskState `json:"status"`
	TaskID           string           `json:"task_id"`
	PollAfterSeconds int              `json:"poll_after_seconds,omitempty"`
}

func (r CreateMediaBuyResponse) String() string {
	if r.Status == models.TaskStateRequiresApproval {
		return fmt.Sprintf("Media buy %s is awaiting publisher approval", r.MediaBuyID)
	}
	return fmt.Sprintf("Media buy %s submitted", r.MediaBuyID)
}

type CreativeInput struct {
	CreativeID string `json:"creative_id,omitempty"`
	Name       string `json:"name" validate:"required"`
	FormatID   string `json:"format_id" validate:"required"`
	URL        string `json:"url" validate:"required,url"`
}

type SyncCreativesRequest struct {
	ContextID              string                         `json:"context_id,omitempty"`
	Creatives              []CreativeInput                `json:"creatives" validate:"required,min=1,dive"`
	PushNotificationConfig *models.PushNotificationConfig `json:"push_notification_config,omitempty"`
}

type CreativeSyncResult struct {
	CreativeID string           `json:"creative_id"`
	TaskID     string           `json:"task_id"`
	Status     models.TaskState `json:"status"`
}

type SyncCreativesResponse struct {
	Creatives []CreativeSyncResult `json:"creatives"`
}

func (r SyncCreativesResponse) String() string {
	return fmt.Sprintf("%d creative(s) submitted for review", len(r.Creatives))
}

type ListTasksRequest struct {
	ContextID string             `json:"context_id,omitempty"`
	Status    []models.TaskState `json:"status,omitempty"`
	Limit     int                `json:"limit,omitempty" validate:"gte=0,lte=500"`
}

type TaskList struct {
	Tasks []*models.AsyncTask[map[string]any] `json:"tasks"`
	Count int                                 `json:"count"`
}

func (l TaskList) String() string {
	return fmt.Sprintf("Found %d task(s)", l.Count)
}

// AdapterCallback is an ad server's report that an in-progress step finished.
type AdapterCallback struct {
	StepID       string         `json:"step_id" validate:"required"`
	Status       string         `json:"status" validate:"required,oneof=completed failed"`
	PlatformID   string         `json:"platform_id,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}
