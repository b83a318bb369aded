// Package op provides high-level operations connecting live StepDB databases to snapshot archives.
//
// The op package sits between the SQLite layer (db/) and the archive
// layer (ps/), turning running databases into archived images and back.
//
// # ArchiveOp
//
// ArchiveOp wraps the save and restore cycle:
//
//	archive := op.NewArchive(database, persistence, identity)
//
//	// Capture the live database into the archive
//	txn, err := archive.Save("nightly", "before schema change")
//
//	// Inspect what is stored
//	snapshots, _ := archive.List()
//	history := archive.History()
//
//	// Replace the live database with a stored image
//	archive.Restore("nightly")
//	archive.RestoreAt("nightly", history[2])
//
// # Import and Export
//
// Images move in and out of the archive through local paths, file://,
// http(s):// and s3:// URLs:
//
//	archive.Export("nightly", "s3://backups/nightly.db", &op.RemoteConfig{Region: "us-east-1"})
//	archive.Import("seed", "https://example.com/seed.db", "imported seed", nil)
//
// # Architecture
//
// The layering is:
//
//	SQLite Engine (db/)
//	     ↓
//	Operations (op/)     ← This package
//	     ↓
//	Archive (ps/)
//	     ↓
//	Git Storage (go-git)
package op
