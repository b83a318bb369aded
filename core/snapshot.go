package core

import "time"

// Snapshot describes one archived database image
type Snapshot struct {
	Name          string    `json:"name"`
	Comment       string    `json:"comment,omitempty"`
	Size          int64     `json:"size"`
	PageSize      int       `json:"pageSize,omitempty"`
	SchemaVersion int32     `json:"schemaVersion"`
	CreatedAt     time.Time `json:"created_at"`
	By            Identity  `json:"by"`
}
