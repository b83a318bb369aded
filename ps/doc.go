// Package ps provides the snapshot archive layer for StepDB.
//
// The archive is backed by Git, using go-git for storage. Every saved
// snapshot creates a Git commit, providing full version control and
// history tracking for database files over time.
//
// # Memory Persistence
//
// For testing or ephemeral archives:
//
//	persistence, err := ps.NewMemoryPersistence()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # File Persistence
//
// For persistent storage:
//
//	persistence, err := ps.NewFilePersistence("/path/to/archive", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Snapshots
//
// A snapshot is a database image plus its metadata, committed together:
//
//	err := persistence.SaveSnapshot("nightly", data, info, identity)
//	data, info, err := persistence.GetSnapshot("nightly")
//
// History is addressable: SnapshotAt reads a snapshot as it existed at
// an earlier transaction, and Tag pins a point in history by name.
//
// # Remotes
//
// Archives can be synchronized with remote Git repositories:
//
//	persistence.AddRemote("origin", "https://example.com/archive.git")
//	persistence.Push("origin", "", &ps.RemoteAuth{Type: ps.AuthTypeToken, Token: token})
package ps
