package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Person maps a contact address to the profile index that owns its data.
type Person struct {
	Index     int
	Name      string `validate:"required"`
	Email     string `validate:"required,email"`
	CreatedAt time.Time
}

// Turn is an audit row for one completed conversation turn. It is never
// used to rebuild a conversation window.
type Turn struct {
	ID           string
	SessionID    string
	ProfileIndex int
	RAGType      int
	Channel      string
	Gated        bool
	Message      string
	Prompt       string
	Reply        string
	CreatedAt    time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
