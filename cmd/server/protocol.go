// Package main provides an HTTP snapshot server for StepDB.
package main

import "time"

// SaveRequest asks the server to snapshot its live database.
type SaveRequest struct {
	Name    string `json:"name"`
	Comment string `json:"comment,omitempty"`
}

// SaveResponse reports a stored snapshot.
type SaveResponse struct {
	Name        string `json:"name"`
	Size        int64  `json:"size,omitempty"`
	Transaction string `json:"transaction"`
}

// RestoreResponse reports a completed restore.
type RestoreResponse struct {
	Name     string `json:"name"`
	Restored bool   `json:"restored"`
}

// TransactionRecord is one entry of the archive history.
type TransactionRecord struct {
	Id     string    `json:"id"`
	When   time.Time `json:"when"`
	Author string    `json:"author"`
}

// ErrorResponse carries the error message for a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}
