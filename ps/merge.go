package ps

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/storer"

	"github.com/nickyhof/StepDB/core"
)

var ErrNoPendingMerge = errors.New("no merge in progress")

// MergeStrategy defines how diverged branches are combined
type MergeStrategy string

const (
	// MergeFastForwardOnly refuses to merge diverged branches
	MergeFastForwardOnly MergeStrategy = "fast-forward-only"
	// MergeNewest auto-resolves conflicts toward the later save
	MergeNewest MergeStrategy = "newest"
	// MergeManual parks conflicts for ResolveConflict
	MergeManual MergeStrategy = "manual"
)

// MergeSide names one side of a conflict
type MergeSide string

const (
	SideHead   MergeSide = "head"
	SideSource MergeSide = "source"
)

// MergeOptions configures merge behavior
type MergeOptions struct {
	Strategy MergeStrategy
}

// DefaultMergeOptions returns the default merge options (newest save wins)
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{
		Strategy: MergeNewest,
	}
}

// SnapshotConflict is a snapshot both branches changed since their
// common ancestor. The image and its metadata always move together, so
// a resolution picks one side whole.
type SnapshotConflict struct {
	Name       string
	Base       *core.Snapshot // nil when the snapshot did not exist at the base
	Head       *core.Snapshot // nil when the current branch deleted it
	Source     *core.Snapshot // nil when the merged branch deleted it
	Resolution MergeSide      // set once the conflict is resolved
}

// MergeResult describes a completed or pending merge
type MergeResult struct {
	Transaction Transaction
	FastForward bool
	Merged      int                // snapshots changed relative to the current branch
	Conflicts   []SnapshotConflict // conflicts auto-resolved by the newest strategy
	Unresolved  []SnapshotConflict // conflicts awaiting ResolveConflict
	Pending     bool
}

// PendingMerge holds a merge paused for manual conflict resolution.
// Nothing is committed until CompleteMerge.
type PendingMerge struct {
	SourceBranch string
	HeadCommit   string
	SourceCommit string
	BaseCommit   string
	Unresolved   []SnapshotConflict
	Resolved     []SnapshotConflict
	CreatedAt    time.Time

	// Non-conflicting outcome, relative to the head commit's tree
	changes []TreeChange
}

// Merge brings the named branch's snapshots into the current branch
// using the default options.
func (p *Persistence) Merge(source string, identity core.Identity) (MergeResult, error) {
	return p.MergeWithOptions(source, identity, DefaultMergeOptions())
}

// MergeWithOptions merges source into the current branch. Fast-forwards
// are taken when possible; diverged branches are combined snapshot by
// snapshot against their common ancestor, and conflicts are either
// auto-resolved or parked depending on the strategy.
func (p *Persistence) MergeWithOptions(source string, identity core.Identity, opts MergeOptions) (MergeResult, error) {
	if err := p.ensureInitialized(); err != nil {
		return MergeResult{}, err
	}

	p.Lock()
	defer p.Unlock()

	if p.pendingMerge != nil {
		return MergeResult{}, fmt.Errorf("merge already in progress, complete or abort it first")
	}

	headRef, err := p.repo.Head()
	if err != nil {
		return MergeResult{}, fmt.Errorf("failed to get HEAD: %w", err)
	}
	if !headRef.Name().IsBranch() {
		return MergeResult{}, fmt.Errorf("cannot merge with detached HEAD")
	}

	sourceRef, err := p.repo.Reference(plumbing.NewBranchReferenceName(source), true)
	if err != nil {
		return MergeResult{}, fmt.Errorf("branch '%s' not found: %w", source, err)
	}

	headCommit, err := p.repo.CommitObject(headRef.Hash())
	if err != nil {
		return MergeResult{}, fmt.Errorf("failed to get head commit: %w", err)
	}
	sourceCommit, err := p.repo.CommitObject(sourceRef.Hash())
	if err != nil {
		return MergeResult{}, fmt.Errorf("failed to get source commit: %w", err)
	}

	// Already merged
	isAncestor, err := sourceCommit.IsAncestor(headCommit)
	if err != nil {
		return MergeResult{}, fmt.Errorf("failed to check ancestry: %w", err)
	}
	if isAncestor {
		return MergeResult{Transaction: transactionOf(headCommit), FastForward: true}, nil
	}

	// Fast-forward when the current branch has nothing of its own
	canFF, err := headCommit.IsAncestor(sourceCommit)
	if err != nil {
		return MergeResult{}, fmt.Errorf("failed to check ancestry: %w", err)
	}
	if canFF {
		newRef := plumbing.NewHashReference(headRef.Name(), sourceRef.Hash())
		if err := p.repo.Storer.SetReference(newRef); err != nil {
			return MergeResult{}, fmt.Errorf("failed to fast-forward: %w", err)
		}
		if err := p.syncWorktree(); err != nil {
			return MergeResult{}, fmt.Errorf("failed to sync worktree: %w", err)
		}
		return MergeResult{Transaction: transactionOf(sourceCommit), FastForward: true}, nil
	}

	if opts.Strategy == MergeFastForwardOnly {
		return MergeResult{}, fmt.Errorf("branches have diverged, cannot fast-forward")
	}

	baseCommit, err := p.findMergeBase(headCommit, sourceCommit)
	if err != nil {
		return MergeResult{}, err
	}

	changes, conflicts, err := p.diffSnapshots(baseCommit, headCommit, sourceCommit)
	if err != nil {
		return MergeResult{}, err
	}

	if len(conflicts) > 0 && opts.Strategy == MergeManual {
		p.pendingMerge = &PendingMerge{
			SourceBranch: source,
			HeadCommit:   headCommit.Hash.String(),
			SourceCommit: sourceCommit.Hash.String(),
			BaseCommit:   baseCommit.Hash.String(),
			Unresolved:   conflicts,
			CreatedAt:    time.Now(),
			changes:      changes,
		}
		return MergeResult{Unresolved: conflicts, Pending: true}, nil
	}

	if len(conflicts) > 0 {
		sourceStates, err := p.snapshotStates(sourceCommit)
		if err != nil {
			return MergeResult{}, err
		}
		resolveNewest(conflicts)
		for _, conflict := range conflicts {
			changes = append(changes, resolutionChanges(conflict, sourceStates)...)
		}
	}

	txn, err := p.commitMerge(headCommit, sourceCommit, changes, identity, fmt.Sprintf("Merging branch %s", source))
	if err != nil {
		return MergeResult{}, err
	}

	return MergeResult{
		Transaction: txn,
		Merged:      mergedCount(changes),
		Conflicts:   conflicts,
	}, nil
}

// GetPendingMerge returns the merge awaiting resolution, if any
func (p *Persistence) GetPendingMerge() *PendingMerge {
	if !p.IsInitialized() {
		return nil
	}
	p.RLock()
	defer p.RUnlock()
	return p.pendingMerge
}

// ResolveConflict settles one parked conflict by picking a side.
func (p *Persistence) ResolveConflict(name string, side MergeSide) error {
	if side != SideHead && side != SideSource {
		return fmt.Errorf("invalid resolution %q, want %q or %q", side, SideHead, SideSource)
	}

	p.Lock()
	defer p.Unlock()

	if p.pendingMerge == nil {
		return ErrNoPendingMerge
	}

	for i, conflict := range p.pendingMerge.Unresolved {
		if conflict.Name == name {
			conflict.Resolution = side
			p.pendingMerge.Unresolved = append(
				p.pendingMerge.Unresolved[:i],
				p.pendingMerge.Unresolved[i+1:]...,
			)
			p.pendingMerge.Resolved = append(p.pendingMerge.Resolved, conflict)
			return nil
		}
	}

	return fmt.Errorf("no conflict for snapshot %q", name)
}

// CompleteMerge writes the merge commit once every conflict has a
// resolution.
func (p *Persistence) CompleteMerge(identity core.Identity) (Transaction, error) {
	if err := p.ensureInitialized(); err != nil {
		return Transaction{}, err
	}

	p.Lock()
	defer p.Unlock()

	if p.pendingMerge == nil {
		return Transaction{}, ErrNoPendingMerge
	}
	if remaining := len(p.pendingMerge.Unresolved); remaining > 0 {
		return Transaction{}, fmt.Errorf("%d unresolved conflicts remaining", remaining)
	}

	headCommit, err := p.repo.CommitObject(plumbing.NewHash(p.pendingMerge.HeadCommit))
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to get head commit: %w", err)
	}
	sourceCommit, err := p.repo.CommitObject(plumbing.NewHash(p.pendingMerge.SourceCommit))
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to get source commit: %w", err)
	}

	headRef, err := p.repo.Head()
	if err != nil {
		return Transaction{}, err
	}
	if headRef.Hash() != headCommit.Hash {
		return Transaction{}, fmt.Errorf("branch moved while the merge was pending, abort and merge again")
	}

	sourceStates, err := p.snapshotStates(sourceCommit)
	if err != nil {
		return Transaction{}, err
	}

	changes := append([]TreeChange{}, p.pendingMerge.changes...)
	for _, conflict := range p.pendingMerge.Resolved {
		changes = append(changes, resolutionChanges(conflict, sourceStates)...)
	}

	txn, err := p.commitMerge(headCommit, sourceCommit, changes, identity,
		fmt.Sprintf("Merging branch %s", p.pendingMerge.SourceBranch))
	if err != nil {
		return Transaction{}, err
	}

	p.pendingMerge = nil
	return txn, nil
}

// AbortMerge discards a pending merge. Nothing was committed while it
// was pending, so only the in-memory state is dropped.
func (p *Persistence) AbortMerge() error {
	p.Lock()
	defer p.Unlock()

	if p.pendingMerge == nil {
		return ErrNoPendingMerge
	}

	p.pendingMerge = nil
	return nil
}

// findMergeBase walks both histories to the nearest common ancestor
func (p *Persistence) findMergeBase(head, source *object.Commit) (*object.Commit, error) {
	headAncestors := make(map[plumbing.Hash]bool)
	headIter := object.NewCommitIterCTime(head, nil, nil)
	err := headIter.ForEach(func(c *object.Commit) error {
		headAncestors[c.Hash] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk current branch history: %w", err)
	}

	var base *object.Commit
	sourceIter := object.NewCommitIterCTime(source, nil, nil)
	err = sourceIter.ForEach(func(c *object.Commit) error {
		if headAncestors[c.Hash] {
			base = c
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk source branch history: %w", err)
	}

	if base == nil {
		return nil, fmt.Errorf("branches share no common ancestor")
	}

	return base, nil
}

// snapshotState identifies a snapshot's content at one commit
type snapshotState struct {
	data plumbing.Hash
	meta plumbing.Hash
}

// snapshotStates maps every snapshot in a commit's tree to its blob
// hashes. Comparing hashes avoids reading any image data.
func (p *Persistence) snapshotStates(commit *object.Commit) (map[string]snapshotState, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	states := make(map[string]snapshotState)

	dataTree, err := tree.Tree(dataDir)
	if err != nil {
		// No snapshots at this commit
		return states, nil
	}
	for _, entry := range dataTree.Entries {
		if entry.Mode == filemode.Dir {
			continue
		}
		states[entry.Name] = snapshotState{data: entry.Hash}
	}

	metaTree, err := tree.Tree(metaDir)
	if err != nil {
		return states, nil
	}
	for _, entry := range metaTree.Entries {
		if entry.Mode == filemode.Dir || !strings.HasSuffix(entry.Name, ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name, ".json")
		state, ok := states[name]
		if !ok {
			continue
		}
		state.meta = entry.Hash
		states[name] = state
	}

	return states, nil
}

// diffSnapshots computes the tree changes that carry the source
// branch's work onto the head commit, plus the conflicts that need a
// resolution. Changes are relative to the head commit's tree.
func (p *Persistence) diffSnapshots(base, head, source *object.Commit) ([]TreeChange, []SnapshotConflict, error) {
	baseStates, err := p.snapshotStates(base)
	if err != nil {
		return nil, nil, err
	}
	headStates, err := p.snapshotStates(head)
	if err != nil {
		return nil, nil, err
	}
	sourceStates, err := p.snapshotStates(source)
	if err != nil {
		return nil, nil, err
	}

	names := make(map[string]bool)
	for name := range baseStates {
		names[name] = true
	}
	for name := range headStates {
		names[name] = true
	}
	for name := range sourceStates {
		names[name] = true
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	var changes []TreeChange
	var conflicts []SnapshotConflict

	addConflict := func(name string) error {
		conflict, err := p.conflictFor(name, base, head, source)
		if err != nil {
			return err
		}
		conflicts = append(conflicts, conflict)
		return nil
	}

	for _, name := range sorted {
		baseState, inBase := baseStates[name]
		headState, inHead := headStates[name]
		sourceState, inSource := sourceStates[name]

		switch {
		case inHead && !inSource && !inBase:
			// Added on the current branch only

		case inSource && !inHead && !inBase:
			// Added on the source branch only
			changes = append(changes, takeChanges(name, sourceState)...)

		case inBase && inHead && !inSource:
			// Deleted on the source branch
			if headState.data == baseState.data {
				changes = append(changes, deleteChanges(name)...)
			} else if err := addConflict(name); err != nil {
				return nil, nil, err
			}

		case inBase && !inHead && inSource:
			// Deleted on the current branch
			if sourceState.data != baseState.data {
				if err := addConflict(name); err != nil {
					return nil, nil, err
				}
			}

		case inHead && inSource:
			switch {
			case headState.data == sourceState.data:
				// Same image on both sides
			case inBase && headState.data == baseState.data:
				// Changed on the source branch only
				changes = append(changes, takeChanges(name, sourceState)...)
			case inBase && sourceState.data == baseState.data:
				// Changed on the current branch only
			default:
				if err := addConflict(name); err != nil {
					return nil, nil, err
				}
			}
		}
	}

	return changes, conflicts, nil
}

// conflictFor loads the three sided metadata view of a conflicted snapshot
func (p *Persistence) conflictFor(name string, base, head, source *object.Commit) (SnapshotConflict, error) {
	conflict := SnapshotConflict{Name: name}

	var err error
	if conflict.Base, err = p.snapshotMetaAt(base, name); err != nil {
		return conflict, err
	}
	if conflict.Head, err = p.snapshotMetaAt(head, name); err != nil {
		return conflict, err
	}
	if conflict.Source, err = p.snapshotMetaAt(source, name); err != nil {
		return conflict, err
	}

	return conflict, nil
}

// snapshotMetaAt returns a snapshot's metadata at a commit, or nil when
// it does not exist there
func (p *Persistence) snapshotMetaAt(commit *object.Commit, name string) (*core.Snapshot, error) {
	data, err := p.readFileAt(commit.Hash, snapshotMetaPath(name))
	if err != nil {
		return nil, nil
	}

	var info core.Snapshot
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot metadata: %w", err)
	}
	return &info, nil
}

// resolveNewest picks the side with the later save for every conflict.
// A surviving image wins over a deletion.
func resolveNewest(conflicts []SnapshotConflict) {
	for i := range conflicts {
		conflict := &conflicts[i]
		switch {
		case conflict.Head == nil:
			conflict.Resolution = SideSource
		case conflict.Source == nil:
			conflict.Resolution = SideHead
		case conflict.Source.CreatedAt.After(conflict.Head.CreatedAt):
			conflict.Resolution = SideSource
		default:
			conflict.Resolution = SideHead
		}
	}
}

// resolutionChanges turns a resolved conflict into tree changes. The
// merged tree starts from the head commit, so taking the head side
// needs no change.
func resolutionChanges(conflict SnapshotConflict, sourceStates map[string]snapshotState) []TreeChange {
	if conflict.Resolution != SideSource {
		return nil
	}
	state, ok := sourceStates[conflict.Name]
	if !ok {
		return deleteChanges(conflict.Name)
	}
	return takeChanges(conflict.Name, state)
}

func takeChanges(name string, state snapshotState) []TreeChange {
	changes := []TreeChange{{Path: snapshotDataPath(name), BlobHash: state.data}}
	if state.meta != plumbing.ZeroHash {
		changes = append(changes, TreeChange{Path: snapshotMetaPath(name), BlobHash: state.meta})
	}
	return changes
}

func deleteChanges(name string) []TreeChange {
	return []TreeChange{
		{Path: snapshotDataPath(name), IsDelete: true},
		{Path: snapshotMetaPath(name), IsDelete: true},
	}
}

// mergedCount counts the distinct snapshots among tree changes
func mergedCount(changes []TreeChange) int {
	names := make(map[string]bool)
	for _, change := range changes {
		names[strings.TrimSuffix(path.Base(change.Path), ".json")] = true
	}
	return len(names)
}

// commitMerge applies changes on top of the head commit's tree and
// writes a two parent commit advancing the current branch.
func (p *Persistence) commitMerge(headCommit, sourceCommit *object.Commit, changes []TreeChange, identity core.Identity, message string) (Transaction, error) {
	newTree, err := p.batchUpdateTree(headCommit.TreeHash, changes)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to build merged tree: %w", err)
	}

	actualTree, err := p.materializeTree(newTree)
	if err != nil {
		return Transaction{}, err
	}

	sig := object.Signature{
		Name:  identity.Name,
		Email: identity.Email,
		When:  time.Now(),
	}

	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     actualTree,
		ParentHashes: []plumbing.Hash{headCommit.Hash, sourceCommit.Hash},
	}

	obj := p.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return Transaction{}, fmt.Errorf("failed to encode merge commit: %w", err)
	}
	commitHash, err := p.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to store merge commit: %w", err)
	}

	headRef, err := p.repo.Head()
	if err != nil {
		return Transaction{}, err
	}
	ref := plumbing.NewHashReference(headRef.Name(), commitHash)
	if err := p.repo.Storer.SetReference(ref); err != nil {
		return Transaction{}, fmt.Errorf("failed to update branch: %w", err)
	}

	if err := p.syncWorktree(); err != nil {
		return Transaction{}, fmt.Errorf("failed to sync worktree: %w", err)
	}

	return Transaction{
		Id:     commitHash.String(),
		When:   sig.When,
		Author: fmt.Sprintf("%s <%s>", identity.Name, identity.Email),
	}, nil
}
