package ps

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nickyhof/StepDB/core"
)

// batchOp is one pending change in a SnapshotBatch.
type batchOp struct {
	delete bool
	name   string
	data   []byte
	info   core.Snapshot
}

// SnapshotBatch collects snapshot saves and deletes so they land in the
// archive as a single commit.
type SnapshotBatch struct {
	persistence *Persistence
	ops         []batchOp
	started     bool
}

// BeginBatch creates a batch for grouping snapshot operations into one
// commit.
func (p *Persistence) BeginBatch() (*SnapshotBatch, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	return &SnapshotBatch{
		persistence: p,
		ops:         make([]batchOp, 0),
		started:     true,
	}, nil
}

// Save adds a snapshot write to the batch. Nothing is stored until
// Commit.
func (b *SnapshotBatch) Save(name string, data []byte, info core.Snapshot) error {
	if !b.started {
		return fmt.Errorf("batch not started")
	}
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid snapshot name %q", name)
	}

	b.ops = append(b.ops, batchOp{name: name, data: data, info: info})
	return nil
}

// Delete adds a snapshot removal to the batch.
func (b *SnapshotBatch) Delete(name string) error {
	if !b.started {
		return fmt.Errorf("batch not started")
	}

	b.ops = append(b.ops, batchOp{delete: true, name: name})
	return nil
}

// Commit applies every batched operation in a single archive commit.
// Deleting a snapshot that does not exist fails the whole batch.
func (b *SnapshotBatch) Commit(identity core.Identity) (Transaction, error) {
	if !b.started {
		return Transaction{}, fmt.Errorf("batch not started")
	}
	if len(b.ops) == 0 {
		return Transaction{}, fmt.Errorf("no operations to commit")
	}

	p := b.persistence
	p.Lock()
	defer p.Unlock()

	changes := make([]TreeChange, 0, 2*len(b.ops))
	for _, op := range b.ops {
		if op.delete {
			if _, err := p.ReadFileDirect(snapshotDataPath(op.name)); err != nil {
				return Transaction{}, fmt.Errorf("snapshot %q: %w", op.name, ErrSnapshotNotFound)
			}
			changes = append(changes,
				TreeChange{Path: snapshotDataPath(op.name), IsDelete: true},
				TreeChange{Path: snapshotMetaPath(op.name), IsDelete: true})
			continue
		}

		op.info.Name = op.name
		op.info.Size = int64(len(op.data))
		metaData, err := json.Marshal(op.info)
		if err != nil {
			return Transaction{}, fmt.Errorf("failed to encode snapshot metadata: %w", err)
		}

		dataBlob, err := p.createBlob(op.data)
		if err != nil {
			return Transaction{}, fmt.Errorf("failed to store snapshot image: %w", err)
		}
		metaBlob, err := p.createBlob(metaData)
		if err != nil {
			return Transaction{}, fmt.Errorf("failed to store snapshot metadata: %w", err)
		}

		changes = append(changes,
			TreeChange{Path: snapshotDataPath(op.name), BlobHash: dataBlob},
			TreeChange{Path: snapshotMetaPath(op.name), BlobHash: metaBlob})
	}

	currentTree, err := p.getCurrentTree()
	if err != nil {
		return Transaction{}, err
	}

	newTree, err := p.batchUpdateTree(currentTree, changes)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to update tree: %w", err)
	}

	message := fmt.Sprintf("Batch: %d snapshot operation(s)", len(b.ops))
	txn, err := p.createCommitDirect(newTree, identity, message)
	if err != nil {
		return Transaction{}, err
	}

	if err := p.syncWorktree(); err != nil {
		return Transaction{}, fmt.Errorf("failed to sync worktree: %w", err)
	}

	b.started = false
	b.ops = nil

	return txn, nil
}

// Rollback discards all batched operations without committing.
func (b *SnapshotBatch) Rollback() {
	b.started = false
	b.ops = nil
}

// OperationCount returns the number of pending operations.
func (b *SnapshotBatch) OperationCount() int {
	return len(b.ops)
}
