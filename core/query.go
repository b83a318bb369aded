package core

import "time"

// SavedQuery is a named SQL statement kept in the archive alongside the
// snapshots it is meant to be run against.
type SavedQuery struct {
	Name        string    `json:"name"`
	SQL         string    `json:"sql"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	By          Identity  `json:"by"`
}
