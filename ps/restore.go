package ps

import (
	"encoding/json"
	"fmt"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"

	"github.com/nickyhof/StepDB/core"
)

// Tag names the archive state at HEAD, or at asof when given, as a
// restore point.
func (p *Persistence) Tag(name string, asof *Transaction) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	p.Lock()
	defer p.Unlock()

	if asof != nil {
		_, err := p.repo.CreateTag(name, plumbing.NewHash(asof.Id), nil)
		return err
	}

	headRef, err := p.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to get HEAD: %w", err)
	}
	_, err = p.repo.CreateTag(name, headRef.Hash(), nil)
	return err
}

// ListTags returns all restore point names
func (p *Persistence) ListTags() ([]string, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	p.RLock()
	defer p.RUnlock()

	tags := []string{}
	refs, err := p.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	refs.ForEach(func(ref *plumbing.Reference) error {
		tags = append(tags, ref.Name().Short())
		return nil
	})
	return tags, nil
}

// SnapshotAt reads a snapshot's image and metadata as they were at an
// older transaction, without moving the archive.
func (p *Persistence) SnapshotAt(name string, asof Transaction) ([]byte, *core.Snapshot, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, nil, err
	}

	p.RLock()
	defer p.RUnlock()

	commitHash := plumbing.NewHash(asof.Id)
	data, err := p.readFileAt(commitHash, snapshotDataPath(name))
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %q at %s: %w", name, asof.Id, ErrSnapshotNotFound)
	}

	metaData, err := p.readFileAt(commitHash, snapshotMetaPath(name))
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %q metadata at %s: %w", name, asof.Id, ErrSnapshotNotFound)
	}
	var info core.Snapshot
	if err := json.Unmarshal(metaData, &info); err != nil {
		return nil, nil, fmt.Errorf("failed to decode snapshot metadata: %w", err)
	}

	return data, &info, nil
}

// Recover moves the archive back to a named restore point.
func (p *Persistence) Recover(name string) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	p.Lock()
	defer p.Unlock()

	ref, err := p.repo.Tag(name)
	if err != nil {
		return fmt.Errorf("restore point %q not found: %w", name, err)
	}

	return p.resetTo(ref.Hash())
}

// RestoreTo moves the archive back to an arbitrary transaction.
func (p *Persistence) RestoreTo(asof Transaction) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	p.Lock()
	defer p.Unlock()

	return p.resetTo(plumbing.NewHash(asof.Id))
}

func (p *Persistence) resetTo(commitHash plumbing.Hash) error {
	wt, err := p.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	return wt.Reset(&git.ResetOptions{
		Mode:   git.HardReset,
		Commit: commitHash,
	})
}
