package domain

import (
	"strings"
	"time"
)

// Azure DevOps work-item field reference names used across the service.
const (
	FieldTitle         = "System.Title"
	FieldState         = "System.State"
	FieldWorkItemType  = "System.WorkItemType"
	FieldIterationPath = "System.IterationPath"
	FieldAreaPath      = "System.AreaPath"
	FieldCreatedDate   = "System.CreatedDate"
	FieldChangedDate   = "System.ChangedDate"
	FieldAssignedTo    = "System.AssignedTo"
	FieldTags          = "System.Tags"
	FieldStoryPoints   = "Microsoft.VSTS.Scheduling.StoryPoints"
	FieldRemainingWork = "Microsoft.VSTS.Scheduling.RemainingWork"
	FieldClosedDate    = "Microsoft.VSTS.Common.ClosedDate"
)

// WorkItem is a snapshot of an Azure DevOps tracked unit of work.
type WorkItem struct {
	ID            int
	Type          string
	State         string
	Title         string
	StoryPoints   float64
	RemainingWork float64
	IterationPath string
	AreaPath      string
	AssignedTo    string
	Tags          []string
	CreatedDate   time.Time
	ChangedDate   time.Time
	ClosedDate    *time.Time
}

// IsClosed reports whether the item reached a terminal state.
func (w WorkItem) IsClosed() bool {
	switch strings.ToLower(w.State) {
	case "closed", "done", "completed", "removed", "resolved":
		return true
	}
	return false
}

// IsBug reports whether the item is tracked as a defect.
func (w WorkItem) IsBug() bool {
	return strings.EqualFold(w.Type, "Bug")
}

// Iteration describes a sprint window for a team.
type Iteration struct {
	ID        string
	Name      string
	Path      string
	StartDate time.Time
	EndDate   time.Time
	TimeFrame string
}

// Active reports whether the iteration covers the given instant.
func (i Iteration) Active(at time.Time) bool {
	if i.StartDate.IsZero() || i.EndDate.IsZero() {
		return false
	}
	return !at.Before(i.StartDate) && !at.After(i.EndDate)
}
