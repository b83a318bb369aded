// Package core provides core types used throughout StepDB.
//
// The package defines fundamental types like Identity and Snapshot shared
// by the database, persistence and operation layers.
//
// # Identity
//
// Identity identifies the author of archive transactions (Git commit author):
//
//	identity := core.Identity{
//	    Name:  "John Doe",
//	    Email: "john@example.com",
//	}
//
// # Snapshot
//
// Snapshot carries the metadata stored alongside each archived database
// image:
//
//	info := core.Snapshot{
//	    Name:          "nightly",
//	    Comment:       "before schema migration",
//	    Size:          int64(len(image)),
//	    SchemaVersion: 3,
//	    CreatedAt:     time.Now(),
//	    By:            identity,
//	}
package core
