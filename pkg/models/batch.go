package models

import "time"

// BatchResult is emitted once every job of a batch reached a terminal state
type BatchResult struct {
	UserID      string        `json:"user_id"`
	BatchID     string        `json:"batch_id"`
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Elapsed     time.Duration `json:"elapsed"`
	Jobs        []Job         `json:"jobs"`
}

// BatchProgress is a point-in-time view of a user's current batch
type BatchProgress struct {
	UserID    string    `json:"user_id"`
	BatchID   string    `json:"batch_id,omitempty"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Succeeded int       `json:"succeeded"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Active    bool      `json:"active"`
}
