package ps

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v6/osfs"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/cache"
	"github.com/go-git/go-git/v6/storage/filesystem"
	"github.com/nickyhof/StepDB/core"
)

// Attached archives are cloned under this directory inside the archive
// base dir. The clones themselves are never committed, only the
// registry file is.
const (
	attachmentsDir        = ".attachments"
	attachmentsConfigPath = ".stepdb/attachments.json"
)

// Attachment is a named read-only reference to another snapshot archive.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type attachmentsConfig struct {
	Attachments []Attachment `json:"attachments"`
}

// Attach clones the archive at url and records it under name. Snapshots
// in an attached archive can be read through OpenAttachment and copied
// into this archive.
func (p *Persistence) Attach(name, url string, auth *RemoteAuth, identity core.Identity) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	if p.isMemoryMode {
		return fmt.Errorf("attachments are not supported in memory mode")
	}
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid attachment name %q", name)
	}

	p.Lock()
	defer p.Unlock()

	attachments, err := p.loadAttachments()
	if err != nil {
		return err
	}
	for _, attachment := range attachments {
		if attachment.Name == name {
			return fmt.Errorf("attachment %q already exists", name)
		}
	}

	wt, err := p.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	baseDir := filepath.Join(wt.Filesystem.Root(), attachmentsDir)
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return fmt.Errorf("failed to create attachments directory: %w", err)
	}

	authMethod, err := auth.getAuthMethod()
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	if _, err := git.PlainClone(filepath.Join(baseDir, name), &git.CloneOptions{
		URL:  url,
		Auth: authMethod,
	}); err != nil {
		return fmt.Errorf("failed to clone %q: %w", url, err)
	}

	attachments = append(attachments, Attachment{Name: name, URL: url})
	return p.saveAttachments(attachments, identity, fmt.Sprintf("Attaching archive %s", name))
}

// Detach removes an attached archive and its local clone.
func (p *Persistence) Detach(name string, identity core.Identity) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	if p.isMemoryMode {
		return fmt.Errorf("attachments are not supported in memory mode")
	}

	p.Lock()
	defer p.Unlock()

	attachments, err := p.loadAttachments()
	if err != nil {
		return err
	}

	kept := make([]Attachment, 0, len(attachments))
	found := false
	for _, attachment := range attachments {
		if attachment.Name == name {
			found = true
			continue
		}
		kept = append(kept, attachment)
	}
	if !found {
		return fmt.Errorf("attachment %q not found", name)
	}

	wt, err := p.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	dir := filepath.Join(wt.Filesystem.Root(), attachmentsDir, name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove attachment directory: %w", err)
	}

	return p.saveAttachments(kept, identity, fmt.Sprintf("Detaching archive %s", name))
}

// SyncAttachment pulls the latest history into an attached archive.
func (p *Persistence) SyncAttachment(name string, auth *RemoteAuth) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	if p.isMemoryMode {
		return fmt.Errorf("attachments are not supported in memory mode")
	}

	// Held for the whole pull so a concurrent Detach cannot remove the
	// clone mid-sync
	p.RLock()
	defer p.RUnlock()

	dir, err := p.attachmentDir(name)
	if err != nil {
		return err
	}

	repo, err := openAttachmentRepo(dir, true)
	if err != nil {
		return err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get attachment worktree: %w", err)
	}

	authMethod, err := auth.getAuthMethod()
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	err = wt.Pull(&git.PullOptions{Auth: authMethod})
	if err == git.NoErrAlreadyUpToDate {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to sync attachment %q: %w", name, err)
	}
	return nil
}

// ListAttachments returns all recorded attachments.
func (p *Persistence) ListAttachments() ([]Attachment, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}
	if p.isMemoryMode {
		return []Attachment{}, nil
	}

	p.RLock()
	defer p.RUnlock()

	return p.loadAttachments()
}

// OpenAttachment opens a read-only view over an attached archive. The
// returned Persistence supports the usual read accessors but must not
// be written through.
func (p *Persistence) OpenAttachment(name string) (*Persistence, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}
	if p.isMemoryMode {
		return nil, fmt.Errorf("attachments are not supported in memory mode")
	}

	p.RLock()
	defer p.RUnlock()

	dir, err := p.attachmentDir(name)
	if err != nil {
		return nil, err
	}

	repo, err := openAttachmentRepo(dir, false)
	if err != nil {
		return nil, err
	}

	return &Persistence{repo: repo}, nil
}

// attachmentDir resolves the clone directory for name. Callers hold the
// archive lock.
func (p *Persistence) attachmentDir(name string) (string, error) {
	wt, err := p.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	dir := filepath.Join(wt.Filesystem.Root(), attachmentsDir, name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return "", fmt.Errorf("attachment %q not found", name)
	}
	return dir, nil
}

func openAttachmentRepo(dir string, exclusive bool) (*git.Repository, error) {
	wt := osfs.New(dir)
	gitDir, err := wt.Chroot(".git")
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment git directory: %w", err)
	}

	storer := filesystem.NewStorageWithOptions(
		gitDir,
		cache.NewObjectLRUDefault(),
		filesystem.Options{ExclusiveAccess: exclusive})

	repo, err := git.Open(storer, wt)
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment repository: %w", err)
	}
	return repo, nil
}

// loadAttachments reads the committed registry. A missing registry is
// an empty one. Callers hold the archive lock.
func (p *Persistence) loadAttachments() ([]Attachment, error) {
	data, err := p.ReadFileDirect(attachmentsConfigPath)
	if err != nil {
		return nil, nil
	}

	var config attachmentsConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to decode attachments config: %w", err)
	}
	return config.Attachments, nil
}

// saveAttachments commits the registry. Callers hold the write lock.
func (p *Persistence) saveAttachments(attachments []Attachment, identity core.Identity, message string) error {
	data, err := json.MarshalIndent(attachmentsConfig{Attachments: attachments}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode attachments config: %w", err)
	}

	_, err = p.writeFileDirect(attachmentsConfigPath, data, identity, message)
	return err
}
