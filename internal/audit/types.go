package audit

import "time"

// Actions recorded by the service.
const (
	ActionCreate  = "create"
	ActionCancel  = "cancel"
	ActionRemove  = "remove"
	ActionUpdate  = "update"
	ActionLogin   = "login"
	ActionEnable  = "enable"
	ActionDisable = "disable"
)

// Entity types recorded by the service.
const (
	EntityScan       = "scan"
	EntityDataSource = "data_source"
	EntityUser       = "user"
)

// Entry is a single audit trail record.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which entries List returns. Empty fields match all.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     string
	Limit      int // default 50, max 200
	Offset     int
}

// ListResult is one page of entries, most recent first.
type ListResult struct {
	Logs   []Entry `json:"logs"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

const (
	defaultLimit = 50
	maxLimit     = 200
)
