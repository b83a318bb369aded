package ps

import (
	"fmt"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
)

// Branch creates a new snapshot line at current HEAD or at a specific transaction
func (p *Persistence) Branch(name string, from *Transaction) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	p.Lock()
	defer p.Unlock()

	var hash plumbing.Hash

	if from != nil {
		hash = plumbing.NewHash(from.Id)
	} else {
		headRef, err := p.repo.Head()
		if err != nil {
			return fmt.Errorf("failed to get HEAD: %w", err)
		}
		hash = headRef.Hash()
	}

	branchRef := plumbing.NewBranchReferenceName(name)
	ref := plumbing.NewHashReference(branchRef, hash)

	return p.repo.Storer.SetReference(ref)
}

// Checkout switches to an existing branch
func (p *Persistence) Checkout(name string) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	p.Lock()
	defer p.Unlock()

	wt, err := p.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(name)

	return wt.Checkout(&git.CheckoutOptions{
		Branch: branchRef,
	})
}

// ListBranches returns all branch names
func (p *Persistence) ListBranches() ([]string, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	p.RLock()
	defer p.RUnlock()

	branches := []string{}

	refs, err := p.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}

	refs.ForEach(func(ref *plumbing.Reference) error {
		branches = append(branches, ref.Name().Short())
		return nil
	})

	return branches, nil
}

// CurrentBranch returns the name of the current branch
func (p *Persistence) CurrentBranch() (string, error) {
	if err := p.ensureInitialized(); err != nil {
		return "", err
	}

	headRef, err := p.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD: %w", err)
	}

	if headRef.Name().IsBranch() {
		return headRef.Name().Short(), nil
	}

	return "", fmt.Errorf("HEAD is detached at %s", headRef.Hash().String()[:7])
}

// DeleteBranch deletes a branch
func (p *Persistence) DeleteBranch(name string) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	currentBranch, err := p.CurrentBranch()
	if err == nil && currentBranch == name {
		return fmt.Errorf("cannot delete the currently checked out branch '%s'", name)
	}

	p.Lock()
	defer p.Unlock()

	branchRef := plumbing.NewBranchReferenceName(name)

	return p.repo.Storer.RemoveReference(branchRef)
}
