package domain

import (
	"fmt"
	"time"
)

// EventType enumerates the Azure DevOps work-item event kinds this service accepts.
type EventType string

const (
	EventWorkItemCreated   EventType = "workitem.created"
	EventWorkItemUpdated   EventType = "workitem.updated"
	EventWorkItemDeleted   EventType = "workitem.deleted"
	EventWorkItemRestored  EventType = "workitem.restored"
	EventWorkItemCommented EventType = "workitem.commented"
)

// EventTypes lists every supported event type in a stable order.
func EventTypes() []EventType {
	return []EventType{
		EventWorkItemCreated,
		EventWorkItemUpdated,
		EventWorkItemDeleted,
		EventWorkItemRestored,
		EventWorkItemCommented,
	}
}

// ParseEventType validates a raw event type string. Unknown types are rejected
// rather than silently ignored.
func ParseEventType(raw string) (EventType, error) {
	et := EventType(raw)
	switch et {
	case EventWorkItemCreated, EventWorkItemUpdated, EventWorkItemDeleted,
		EventWorkItemRestored, EventWorkItemCommented:
		return et, nil
	}
	return "", fmt.Errorf("%w: unsupported event type %q", ErrValidation, raw)
}

// WebhookEvent is a validated Azure DevOps notification. It lives only for the
// duration of processing; nothing beyond statistics survives it.
type WebhookEvent struct {
	EventType        EventType
	SubscriptionID   string
	NotificationID   int
	WorkItemID       int
	Project          string
	Fields           map[string]any
	ChangedDate      string
	ReceivedAt       time.Time
	SignaturePresent bool
}

// DedupKey derives the idempotency key for duplicate-delivery detection.
// Azure DevOps delivers at least once; (subscriptionId, notificationId) is the
// primary identity. When the notification id is absent the fallback combines
// event type, work item id and System.ChangedDate.
func (e WebhookEvent) DedupKey() string {
	if e.SubscriptionID != "" && e.NotificationID > 0 {
		return fmt.Sprintf("sub:%s:%d", e.SubscriptionID, e.NotificationID)
	}
	return fmt.Sprintf("evt:%s:%d:%s", e.EventType, e.WorkItemID, e.ChangedDate)
}

// ProcessingResult reports the outcome of a single webhook event.
type ProcessingResult struct {
	Success        bool
	EventType      EventType
	EventID        string
	Duplicate      bool
	Error          string
	ProcessingTime time.Duration
}
