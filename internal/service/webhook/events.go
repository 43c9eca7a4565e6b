// Package webhook ingests Azure DevOps work-item notifications: it verifies
// signatures, rejects malformed payloads, deduplicates at-least-once
// deliveries, and turns accepted events into cache invalidations and
// real-time pushes.
package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pulseboard/pulseboard/internal/domain"
)

// inboundPayload mirrors the Azure DevOps service-hook JSON body.
type inboundPayload struct {
	SubscriptionID     string                       `json:"subscriptionId"`
	NotificationID     int                          `json:"notificationId"`
	EventType          string                       `json:"eventType"`
	PublisherID        string                       `json:"publisherId"`
	Resource           inboundResource              `json:"resource"`
	ResourceContainers map[string]resourceContainer `json:"resourceContainers"`
	CreatedDate        string                       `json:"createdDate"`
}

type inboundResource struct {
	ID         int            `json:"id"`
	WorkItemID int            `json:"workItemId"`
	Rev        int            `json:"rev"`
	Fields     map[string]any `json:"fields"`
}

type resourceContainer struct {
	ID      string `json:"id"`
	BaseURL string `json:"baseUrl"`
}

// ParseEvent turns a raw webhook body into a validated WebhookEvent. A body
// that is not JSON is a parse error; a JSON body missing eventType or
// resource.id is a validation error. The two are distinct response classes.
func ParseEvent(raw []byte, defaultProject string, receivedAt time.Time) (domain.WebhookEvent, error) {
	var payload inboundPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}

	if strings.TrimSpace(payload.EventType) == "" {
		return domain.WebhookEvent{}, fmt.Errorf("%w: eventType is required", domain.ErrValidation)
	}
	eventType, err := domain.ParseEventType(payload.EventType)
	if err != nil {
		return domain.WebhookEvent{}, err
	}

	// workitem.updated carries the update id in resource.id and the item id
	// in resource.workItemId; every other event carries the item id directly.
	workItemID := payload.Resource.WorkItemID
	if workItemID <= 0 {
		workItemID = payload.Resource.ID
	}
	if workItemID <= 0 {
		return domain.WebhookEvent{}, fmt.Errorf("%w: resource.id is required", domain.ErrValidation)
	}

	return domain.WebhookEvent{
		EventType:      eventType,
		SubscriptionID: strings.TrimSpace(payload.SubscriptionID),
		NotificationID: payload.NotificationID,
		WorkItemID:     workItemID,
		Project:        resolveProject(payload, defaultProject),
		Fields:         payload.Resource.Fields,
		ChangedDate:    fieldString(payload.Resource.Fields, domain.FieldChangedDate),
		ReceivedAt:     receivedAt,
	}, nil
}

// resolveProject prefers the System.TeamProject field, then the project
// resource container, then the configured default.
func resolveProject(payload inboundPayload, fallback string) string {
	if project := fieldString(payload.Resource.Fields, "System.TeamProject"); project != "" {
		return project
	}
	if container, ok := payload.ResourceContainers["project"]; ok && container.ID != "" {
		return container.ID
	}
	return fallback
}

// fieldString extracts a field value as a string. Updated events wrap values
// in {oldValue,newValue} objects; the new value wins.
func fieldString(fields map[string]any, name string) string {
	value, ok := fields[name]
	if !ok {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case map[string]any:
		if newValue, ok := v["newValue"].(string); ok {
			return newValue
		}
	case float64:
		return fmt.Sprintf("%v", v)
	}
	return ""
}
