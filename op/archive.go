package op

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nickyhof/StepDB/core"
	"github.com/nickyhof/StepDB/db"
	"github.com/nickyhof/StepDB/ps"
)

// ArchiveOp connects a live database to a snapshot archive. Save captures
// the database as a point-in-time image, Restore replaces the database
// with a stored image.
type ArchiveOp struct {
	Database    *db.Database
	Persistence *ps.Persistence
	Identity    core.Identity
}

func NewArchive(database *db.Database, persistence *ps.Persistence, identity core.Identity) *ArchiveOp {
	return &ArchiveOp{
		Database:    database,
		Persistence: persistence,
		Identity:    identity,
	}
}

// Save captures a consistent image of the live database and commits it to
// the archive under name. The image is produced with VACUUM INTO, so open
// read traffic on other connections is not blocked.
func (op *ArchiveOp) Save(name, comment string) (ps.Transaction, error) {
	dir, err := os.MkdirTemp("", "stepdb-snapshot-*")
	if err != nil {
		return ps.Transaction{}, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(dir)

	imagePath := filepath.Join(dir, "image.db")
	quoted := strings.ReplaceAll(imagePath, "'", "''")
	if err := op.Database.Exec(fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return ps.Transaction{}, fmt.Errorf("failed to vacuum into image: %w", err)
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return ps.Transaction{}, fmt.Errorf("failed to read image: %w", err)
	}

	version, err := op.Database.Version()
	if err != nil {
		return ps.Transaction{}, err
	}

	info := core.Snapshot{
		Comment:       comment,
		PageSize:      imagePageSize(data),
		SchemaVersion: version,
		CreatedAt:     time.Now(),
		By:            op.Identity,
	}

	return op.Persistence.SaveSnapshot(name, data, info, op.Identity)
}

// Restore replaces the live database with the image stored under name.
// The database is closed, overwritten in place and reopened, so any
// statements still open against it become invalid.
func (op *ArchiveOp) Restore(name string) error {
	data, _, err := op.Persistence.GetSnapshot(name)
	if err != nil {
		return err
	}
	return op.replaceDatabase(data)
}

// RestoreAt is Restore reading the image as it was at an older
// transaction.
func (op *ArchiveOp) RestoreAt(name string, asof ps.Transaction) error {
	data, _, err := op.Persistence.SnapshotAt(name, asof)
	if err != nil {
		return err
	}
	return op.replaceDatabase(data)
}

func (op *ArchiveOp) replaceDatabase(data []byte) error {
	if op.Database.InMemory() {
		return fmt.Errorf("cannot restore an in-memory database in place")
	}

	path := op.Database.Path()
	if err := op.Database.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	// Stale journal files would shadow the restored image
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write database file: %w", err)
	}

	return op.Database.Open()
}

// List returns the metadata of every snapshot in the archive.
func (op *ArchiveOp) List() ([]core.Snapshot, error) {
	return op.Persistence.ListSnapshots()
}

// Delete removes a snapshot from the archive head. Older archive states
// still contain it.
func (op *ArchiveOp) Delete(name string) (txn ps.Transaction, err error) {
	return op.Persistence.DeleteSnapshot(name, op.Identity)
}

// Prune deletes all but the keep newest snapshots in one commit. It
// returns how many snapshots were deleted; zero with an empty
// transaction when the archive already held keep or fewer.
func (op *ArchiveOp) Prune(keep int) (ps.Transaction, int, error) {
	if keep < 0 {
		return ps.Transaction{}, 0, fmt.Errorf("invalid keep count %d", keep)
	}

	snapshots, err := op.Persistence.ListSnapshots()
	if err != nil {
		return ps.Transaction{}, 0, err
	}
	if len(snapshots) <= keep {
		return ps.Transaction{}, 0, nil
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})

	batch, err := op.Persistence.BeginBatch()
	if err != nil {
		return ps.Transaction{}, 0, err
	}

	doomed := snapshots[keep:]
	for _, snapshot := range doomed {
		if err := batch.Delete(snapshot.Name); err != nil {
			return ps.Transaction{}, 0, err
		}
	}

	txn, err := batch.Commit(op.Identity)
	if err != nil {
		return ps.Transaction{}, 0, err
	}
	return txn, len(doomed), nil
}

// History lists every archive transaction reachable from HEAD, newest
// first.
func (op *ArchiveOp) History() []ps.Transaction {
	latest := op.Persistence.LatestTransaction()
	if latest.Id == "" {
		return nil
	}
	return op.Persistence.TransactionsFrom(latest.Id)
}

// Tag names the current archive state, or the state at asof, as a
// restore point.
func (op *ArchiveOp) Tag(name string, asof *ps.Transaction) error {
	return op.Persistence.Tag(name, asof)
}

// Push publishes archive history to a remote.
func (op *ArchiveOp) Push(remoteName, branch string, auth *ps.RemoteAuth) error {
	return op.Persistence.Push(remoteName, branch, auth)
}

// Pull brings archive history in from a remote.
func (op *ArchiveOp) Pull(remoteName, branch string, auth *ps.RemoteAuth) error {
	return op.Persistence.Pull(remoteName, branch, auth)
}

// Export writes the image stored under name to dest, which may be a
// local path, a file:// or s3:// URL.
func (op *ArchiveOp) Export(name, dest string, cfg *RemoteConfig) error {
	data, _, err := op.Persistence.GetSnapshot(name)
	if err != nil {
		return err
	}

	writer, err := openRemoteWriter(dest, cfg)
	if err != nil {
		return err
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write image: %w", err)
	}
	return writer.Close()
}

// Import reads a database image from src, which may be a local path or a
// file://, http(s):// or s3:// URL, and commits it to the archive under
// name.
func (op *ArchiveOp) Import(name, src, comment string, cfg *RemoteConfig) (ps.Transaction, error) {
	reader, err := openRemoteReader(src, cfg)
	if err != nil {
		return ps.Transaction{}, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return ps.Transaction{}, fmt.Errorf("failed to read image: %w", err)
	}

	return op.SaveImage(name, data, comment)
}

// SaveImage commits raw image bytes to the archive under name, reading
// the page size and schema version from the image header.
func (op *ArchiveOp) SaveImage(name string, data []byte, comment string) (ps.Transaction, error) {
	info := core.Snapshot{
		Comment:       comment,
		PageSize:      imagePageSize(data),
		SchemaVersion: imageSchemaVersion(data),
		CreatedAt:     time.Now(),
		By:            op.Identity,
	}

	return op.Persistence.SaveSnapshot(name, data, info, op.Identity)
}

// CopyFrom copies a snapshot out of an attached archive into this one.
// The source's comment, page size and schema version are carried over;
// the copy is recorded as made by this archive's identity.
func (op *ArchiveOp) CopyFrom(attachment, name string) (ps.Transaction, error) {
	source, err := op.Persistence.OpenAttachment(attachment)
	if err != nil {
		return ps.Transaction{}, err
	}

	data, sourceInfo, err := source.GetSnapshot(name)
	if err != nil {
		return ps.Transaction{}, err
	}

	info := core.Snapshot{
		Comment:       sourceInfo.Comment,
		PageSize:      sourceInfo.PageSize,
		SchemaVersion: sourceInfo.SchemaVersion,
		CreatedAt:     time.Now(),
		By:            op.Identity,
	}

	return op.Persistence.SaveSnapshot(name, data, info, op.Identity)
}

// Verify checks a stored snapshot: its header must agree with the
// recorded metadata, and the image must pass SQLite's integrity check
// when opened from a staging file.
func (op *ArchiveOp) Verify(name string) error {
	data, info, err := op.Persistence.GetSnapshot(name)
	if err != nil {
		return err
	}

	if size := imagePageSize(data); size != info.PageSize {
		return fmt.Errorf("snapshot %q: header page size %d does not match recorded %d", name, size, info.PageSize)
	}
	if version := imageSchemaVersion(data); version != info.SchemaVersion {
		return fmt.Errorf("snapshot %q: header schema version %d does not match recorded %d", name, version, info.SchemaVersion)
	}

	dir, err := os.MkdirTemp("", "stepdb-verify-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(dir)

	imagePath := filepath.Join(dir, "image.db")
	if err := os.WriteFile(imagePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write staging image: %w", err)
	}

	database, err := db.Open(imagePath, &db.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("snapshot %q: %w", name, err)
	}
	defer database.Close()

	rs, err := database.Query("PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("snapshot %q: %w", name, err)
	}
	result, err := db.Collect(rs)
	rs.Close()
	if err != nil {
		return fmt.Errorf("snapshot %q: %w", name, err)
	}

	for _, row := range result.Rows {
		if len(row) > 0 && row[0] != "ok" {
			return fmt.Errorf("snapshot %q failed integrity check: %s", name, row[0])
		}
	}
	return nil
}

// imagePageSize reads the page size from a SQLite database header. The
// two bytes at offset 16 hold the page size, with 1 standing for 65536.
func imagePageSize(data []byte) int {
	if len(data) < 18 {
		return 0
	}
	size := int(binary.BigEndian.Uint16(data[16:18]))
	if size == 1 {
		return 65536
	}
	return size
}

// imageSchemaVersion reads the user_version pragma value stored at
// offset 60 of a SQLite database header.
func imageSchemaVersion(data []byte) int32 {
	if len(data) < 64 {
		return 0
	}
	return int32(binary.BigEndian.Uint32(data[60:64]))
}
