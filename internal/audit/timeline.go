package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/utv-amats/amats/internal/shared"
)

// Action classifies an audit entry.
type Action string

const (
	ActionCreate      Action = "CREATE"
	ActionUpdate      Action = "UPDATE"
	ActionDelete      Action = "DELETE"
	ActionLogin       Action = "LOGIN"
	ActionLogout      Action = "LOGOUT"
	ActionIssue       Action = "ISSUE"
	ActionReturn      Action = "RETURN"
	ActionScan        Action = "SCAN"
	ActionExport      Action = "EXPORT"
	ActionMissing     Action = "MISSING"
	ActionReacquired  Action = "REACQUIRED"
	ActionRetire      Action = "RETIRE"
	ActionMaintenance Action = "MAINTENANCE"
)

var knownActions = map[Action]struct{}{
	ActionCreate: {}, ActionUpdate: {}, ActionDelete: {}, ActionLogin: {},
	ActionLogout: {}, ActionIssue: {}, ActionReturn: {}, ActionScan: {},
	ActionExport: {}, ActionMissing: {}, ActionReacquired: {}, ActionRetire: {},
	ActionMaintenance: {},
}

// Entry is one immutable audit record. Only Archived may change after insert.
type Entry struct {
	ID          int64     `json:"id"`
	ActorID     *int64    `json:"actor_id,omitempty"`
	ActorName   string    `json:"actor"`
	Action      Action    `json:"action"`
	Entity      string    `json:"entity"`
	EntityID    string    `json:"entity_id,omitempty"`
	Description string    `json:"description"`
	SourceAddr  string    `json:"source_addr,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	Archived    bool      `json:"archived"`
}

// NewEntry builds an entry attributed to actor.
func NewEntry(actor shared.Actor, action Action, entity, entityID, description string, at time.Time) Entry {
	return Entry{
		ActorID:     actor.ActorID(),
		ActorName:   actor.String(),
		Action:      action,
		Entity:      entity,
		EntityID:    entityID,
		Description: description,
		SourceAddr:  actor.SourceAddr,
		OccurredAt:  at.UTC(),
	}
}

// Validate rejects entries that could not be traced back later.
func (e Entry) Validate() error {
	if _, ok := knownActions[e.Action]; !ok {
		return fmt.Errorf("%w: unknown audit action %q", shared.ErrValidation, e.Action)
	}
	if strings.TrimSpace(e.Entity) == "" {
		return fmt.Errorf("%w: audit entity required", shared.ErrValidation)
	}
	if strings.TrimSpace(e.ActorName) == "" {
		return fmt.Errorf("%w: audit actor required", shared.ErrValidation)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: audit timestamp required", shared.ErrValidation)
	}
	return nil
}

// TimelineFilters narrows the audit timeline.
type TimelineFilters struct {
	From            time.Time
	To              time.Time
	Actor           string
	Entity          string
	EntityID        string
	Action          string
	IncludeArchived bool
	Page            int
	PageSize        int
}

// PagingInfo carries simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps a timeline page.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
