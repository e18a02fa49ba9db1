package notifications

import "time"

// Level ranks how urgently a notification wants attention.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelAlert   Level = "ALERT"
)

// Notification is an in-app message addressed to one user.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Message   string    `json:"message" validate:"required,max=2000"`
	Link      string    `json:"link,omitempty" validate:"max=255"`
	Level     Level     `json:"level" validate:"oneof=INFO WARNING ALERT"`
	Read      bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// ListFilter narrows a user's inbox.
type ListFilter struct {
	UnreadOnly bool
	Limit      int
}

const (
	defaultLimit = 50
	maxLimit     = 200
)
