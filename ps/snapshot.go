package ps

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/nickyhof/StepDB/core"
)

const (
	dataDir = "data"
	metaDir = "meta"
)

func snapshotDataPath(name string) string {
	return path.Join(dataDir, name)
}

func snapshotMetaPath(name string) string {
	return path.Join(metaDir, name+".json")
}

// SaveSnapshot stores a database image and its metadata in one commit.
// Saving an existing name replaces it; the old image stays reachable
// through the archive history.
func (p *Persistence) SaveSnapshot(name string, data []byte, info core.Snapshot, identity core.Identity) (Transaction, error) {
	if err := p.ensureInitialized(); err != nil {
		return Transaction{}, err
	}
	if name == "" || strings.Contains(name, "/") {
		return Transaction{}, fmt.Errorf("invalid snapshot name %q", name)
	}

	p.Lock()
	defer p.Unlock()

	info.Name = name
	info.Size = int64(len(data))
	metaData, err := json.Marshal(info)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to encode snapshot metadata: %w", err)
	}

	dataBlob, err := p.createBlob(data)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to store snapshot image: %w", err)
	}
	metaBlob, err := p.createBlob(metaData)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to store snapshot metadata: %w", err)
	}

	currentTree, err := p.getCurrentTree()
	if err != nil {
		return Transaction{}, err
	}

	newTree, err := p.batchUpdateTree(currentTree, []TreeChange{
		{Path: snapshotDataPath(name), BlobHash: dataBlob},
		{Path: snapshotMetaPath(name), BlobHash: metaBlob},
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to update tree: %w", err)
	}

	txn, err := p.createCommitDirect(newTree, identity, fmt.Sprintf("Saving snapshot %s", name))
	if err != nil {
		return Transaction{}, err
	}

	if err := p.syncWorktree(); err != nil {
		return Transaction{}, fmt.Errorf("failed to sync worktree: %w", err)
	}

	return txn, nil
}

// GetSnapshot returns the stored image and metadata for name.
func (p *Persistence) GetSnapshot(name string) ([]byte, *core.Snapshot, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, nil, err
	}

	p.RLock()
	defer p.RUnlock()

	data, err := p.ReadFileDirect(snapshotDataPath(name))
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %q: %w", name, ErrSnapshotNotFound)
	}

	info, err := p.readSnapshotMeta(name)
	if err != nil {
		return nil, nil, err
	}

	return data, info, nil
}

func (p *Persistence) readSnapshotMeta(name string) (*core.Snapshot, error) {
	metaData, err := p.ReadFileDirect(snapshotMetaPath(name))
	if err != nil {
		return nil, fmt.Errorf("snapshot %q metadata: %w", name, ErrSnapshotNotFound)
	}
	var info core.Snapshot
	if err := json.Unmarshal(metaData, &info); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot metadata: %w", err)
	}
	return &info, nil
}

// HasSnapshot reports whether name is stored in the archive.
func (p *Persistence) HasSnapshot(name string) bool {
	if !p.IsInitialized() {
		return false
	}
	p.RLock()
	defer p.RUnlock()
	_, err := p.ReadFileDirect(snapshotDataPath(name))
	return err == nil
}

// ListSnapshots returns the metadata of every stored snapshot in name
// order.
func (p *Persistence) ListSnapshots() ([]core.Snapshot, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	p.RLock()
	defer p.RUnlock()

	entries, err := p.ListEntriesDirect(metaDir)
	if err != nil {
		return nil, err
	}

	var snapshots []core.Snapshot
	for _, entry := range entries {
		if entry.IsDir || !strings.HasSuffix(entry.Name, ".json") {
			continue
		}
		info, err := p.readSnapshotMeta(strings.TrimSuffix(entry.Name, ".json"))
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *info)
	}

	return snapshots, nil
}

// DeleteSnapshot removes a snapshot's image and metadata in one commit.
// The image stays reachable through history until the archive is pruned.
func (p *Persistence) DeleteSnapshot(name string, identity core.Identity) (Transaction, error) {
	if err := p.ensureInitialized(); err != nil {
		return Transaction{}, err
	}

	p.Lock()
	defer p.Unlock()

	currentTree, err := p.getCurrentTree()
	if err != nil {
		return Transaction{}, err
	}

	if _, err := p.ReadFileDirect(snapshotDataPath(name)); err != nil {
		return Transaction{}, fmt.Errorf("snapshot %q: %w", name, ErrSnapshotNotFound)
	}

	newTree, err := p.batchUpdateTree(currentTree, []TreeChange{
		{Path: snapshotDataPath(name), IsDelete: true},
		{Path: snapshotMetaPath(name), IsDelete: true},
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to update tree: %w", err)
	}

	txn, err := p.createCommitDirect(newTree, identity, fmt.Sprintf("Deleting snapshot %s", name))
	if err != nil {
		return Transaction{}, err
	}

	if err := p.syncWorktree(); err != nil {
		return Transaction{}, fmt.Errorf("failed to sync worktree: %w", err)
	}

	return txn, nil
}
