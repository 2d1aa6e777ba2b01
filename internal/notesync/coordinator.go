// Package notesync keeps the repository, the note files and the cache in
// step. Every write goes through one envelope guarded by a single lock:
//
//  1. commit pending local changes
//  2. pull, when a remote is configured (best effort)
//  3. rebuild the cache if the checkpoint is stale
//  4. apply the mutation to files and cache
//  5. commit the mutation
//  6. push, when a remote is configured (best effort)
//  7. record the new head as checkpoint
//
// Failures of steps 2 and 6 are reported through the Notifier and the sync
// state; any other failure aborts the envelope without rolling back the
// steps already done.
package notesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/starford/gitnote/internal/apperr"
	"github.com/starford/gitnote/internal/gitrepo"
	"github.com/starford/gitnote/internal/models"
	"github.com/starford/gitnote/internal/prefs"
	"github.com/starford/gitnote/internal/storage"
)

const (
	defaultAuthor   = "gitnote"
	pendingMessage  = "commit pending changes"
	externalMessage = "commit external changes"
)

// Repository is the subset of the repository gateway the coordinator drives.
type Repository interface {
	CreateRepo(ctx context.Context, path string) error
	OpenRepo(ctx context.Context, path string) error
	CloneRepo(ctx context.Context, path, url string, creds *gitrepo.Credentials, progress gitrepo.ProgressFunc) error
	CommitAll(ctx context.Context, author, message string) error
	Push(ctx context.Context, creds *gitrepo.Credentials, progress gitrepo.ProgressFunc) error
	Pull(ctx context.Context, creds *gitrepo.Credentials, progress gitrepo.ProgressFunc) error
	LastCommitHash(ctx context.Context) (string, error)
	SetRemote(ctx context.Context, url string) error
	HasRemote(ctx context.Context) (bool, error)
	CloseRepo(ctx context.Context)
}

// Cache is the set of cache mutations the envelope applies.
type Cache interface {
	InsertNote(ctx context.Context, n models.Note) error
	RemoveNote(ctx context.Context, path string) (int64, error)
	InsertFolder(ctx context.Context, f models.NoteFolder) error
	DeleteFolder(ctx context.Context, path string) (int64, error)
	IsNoteExist(ctx context.Context, path string) (bool, error)
	GetNote(ctx context.Context, path string) (models.Note, error)
	Clear(ctx context.Context) error
}

// Rebuilder refreshes the cache when it is stale. CheckNote and CheckFolder
// refuse targets a rebuild would leave out of the cache.
type Rebuilder interface {
	EnsureFresh(ctx context.Context, files storage.Provider, force bool) (bool, error)
	CheckNote(path string, size int64) error
	CheckFolder(path string) error
}

// Notifier receives transient, user-facing messages. Notify must not block.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// Options wires a Coordinator.
type Options struct {
	Repo      Repository
	Cache     Cache
	Rebuilder Rebuilder
	Prefs     prefs.Store
	Notifier  Notifier
	// OpenFiles returns the file provider for a repository root.
	// Defaults to storage.NewFS.
	OpenFiles func(root string) (storage.Provider, error)
	// AuthorName signs commits when the preferences hold none.
	AuthorName string
	// PushRetries is the number of extra push attempts after a transport
	// failure.
	PushRetries   int
	RetryInterval time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// Coordinator serializes every data operation against the open repository.
type Coordinator struct {
	opts   Options
	logger *slog.Logger
	hub    *stateHub

	// mu is the global lock; files is only touched while holding it.
	mu    sync.Mutex
	files storage.Provider
}

// New creates a Coordinator. No repository is open until Resume or Bootstrap.
func New(opts Options) *Coordinator {
	if opts.OpenFiles == nil {
		opts.OpenFiles = func(root string) (storage.Provider, error) { return storage.NewFS(root) }
	}
	if opts.Notifier == nil {
		opts.Notifier = NotifierFunc(func(string) {})
	}
	if opts.AuthorName == "" {
		opts.AuthorName = defaultAuthor
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{opts: opts, logger: logger, hub: newStateHub()}
}

// SyncState returns the current sync indicator.
func (c *Coordinator) SyncState() SyncState { return c.hub.get() }

// Subscribe streams sync state transitions until cancel is called.
func (c *Coordinator) Subscribe() (<-chan SyncState, func()) { return c.hub.subscribe() }

// ConsumeOkSyncState marks a pending success as shown. It reports whether
// the state changed.
func (c *Coordinator) ConsumeOkSyncState() bool { return c.hub.consume() }

// Root returns the root of the open repository, or "" when none is open.
func (c *Coordinator) Root() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.files == nil {
		return ""
	}
	return c.files.Root()
}

func (c *Coordinator) requireFiles() (storage.Provider, error) {
	if c.files == nil {
		return nil, apperr.ErrNoRepository
	}
	return c.files, nil
}

func (c *Coordinator) author(p prefs.Preferences) string {
	if p.AuthorName != "" {
		return p.AuthorName
	}
	return c.opts.AuthorName
}

// mutation is applied in step 4 of the envelope. It returns the commit
// message describing the change.
type mutation func(ctx context.Context, files storage.Provider) (string, error)

// envelope runs the full sync sequence around mutate. A nil mutate skips
// steps 4 and 5.
func (c *Coordinator) envelope(ctx context.Context, mutate mutation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := c.requireFiles()
	if err != nil {
		return err
	}
	p, err := c.opts.Prefs.Load()
	if err != nil {
		return err
	}
	author := c.author(p)
	creds := p.Credentials()

	remoteFailed := false
	defer func() {
		// Never leave an in-progress indicator behind an aborted envelope.
		if k := c.hub.get().Kind; k == StatePull || k == StatePush {
			if remoteFailed {
				c.hub.set(SyncState{Kind: StateError})
			} else {
				c.hub.set(Ok(false))
			}
		}
	}()

	if err := c.opts.Repo.CommitAll(ctx, author, pendingMessage); err != nil {
		return fmt.Errorf("notesync: commit pending: %w", err)
	}
	hasRemote, err := c.opts.Repo.HasRemote(ctx)
	if err != nil {
		return fmt.Errorf("notesync: remote: %w", err)
	}

	if hasRemote {
		c.hub.set(SyncState{Kind: StatePull})
		if err := c.opts.Repo.Pull(ctx, creds, nil); err != nil {
			remoteFailed = true
			c.remoteFailure("pull", err)
		}
	}

	if _, err := c.opts.Rebuilder.EnsureFresh(ctx, files, false); err != nil {
		return fmt.Errorf("notesync: refresh cache: %w", err)
	}

	if mutate != nil {
		message, err := mutate(ctx, files)
		if err != nil {
			return err
		}
		if err := c.opts.Repo.CommitAll(ctx, author, message); err != nil {
			return fmt.Errorf("notesync: commit: %w", err)
		}
	}

	if hasRemote {
		c.hub.set(SyncState{Kind: StatePush})
		if err := c.push(ctx, creds); err != nil {
			remoteFailed = true
			c.remoteFailure("push", err)
		}
	}

	head, err := c.opts.Repo.LastCommitHash(ctx)
	if err != nil {
		return fmt.Errorf("notesync: head: %w", err)
	}
	if err := c.opts.Prefs.Update(func(p *prefs.Preferences) { p.Checkpoint = head }); err != nil {
		return fmt.Errorf("notesync: save checkpoint: %w", err)
	}
	if !remoteFailed {
		c.hub.set(Ok(false))
	}
	return nil
}

func (c *Coordinator) remoteFailure(op string, err error) {
	c.logger.Warn("notesync: "+op+" failed",
		slog.String("code", gitrepo.CodeOf(err).String()),
		slog.String("error", err.Error()))
	c.hub.set(SyncState{Kind: StateError})
	c.opts.Notifier.Notify(fmt.Sprintf("%s failed: %v", op, err))
}

// push retries transport failures that may be transient.
func (c *Coordinator) push(ctx context.Context, creds *gitrepo.Credentials) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.RetryInterval
	bo.MaxElapsedTime = 0
	retries := max(c.opts.PushRetries, 0)
	b := backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(retries))

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.opts.Repo.Push(ctx, creds, nil)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		c.logger.Debug("notesync: push attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		return err
	}, b)
}

func retryable(err error) bool {
	if !gitrepo.IsKind(err, gitrepo.KindTransport) {
		return false
	}
	switch gitrepo.CodeOf(err) {
	case gitrepo.CodeAuth, gitrepo.CodeRepositoryNotFound, gitrepo.CodeNonFastForward, gitrepo.CodeCanceled:
		return false
	}
	return true
}

// UpdateDatabaseAndRepo runs the envelope without a mutation: commit
// pending work, pull, refresh the cache, push and save the checkpoint.
func (c *Coordinator) UpdateDatabaseAndRepo(ctx context.Context) error {
	return c.envelope(ctx, nil)
}

// UpdateDatabase refreshes the cache if stale, or unconditionally when
// force is set. It reports whether a rebuild happened.
func (c *Coordinator) UpdateDatabase(ctx context.Context, force bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	files, err := c.requireFiles()
	if err != nil {
		return false, err
	}
	return c.opts.Rebuilder.EnsureFresh(ctx, files, force)
}

// ReconcileLocal commits edits made outside the application and refreshes
// the cache. It does not touch the network.
func (c *Coordinator) ReconcileLocal(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	files, err := c.requireFiles()
	if err != nil {
		return err
	}
	p, err := c.opts.Prefs.Load()
	if err != nil {
		return err
	}
	if err := c.opts.Repo.CommitAll(ctx, c.author(p), externalMessage); err != nil {
		return fmt.Errorf("notesync: commit external: %w", err)
	}
	if _, err := c.opts.Rebuilder.EnsureFresh(ctx, files, false); err != nil {
		return fmt.Errorf("notesync: refresh cache: %w", err)
	}
	return nil
}

// CloseRepo closes the repository, clears the cache and forgets the
// repository in the preferences. In-flight gateway operations are
// cancelled; the lock is taken after that so the close is not queued
// behind a long clone or push.
func (c *Coordinator) CloseRepo(ctx context.Context) error {
	c.opts.Repo.CloseRepo(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = nil
	if err := c.opts.Cache.Clear(ctx); err != nil {
		return fmt.Errorf("notesync: clear cache: %w", err)
	}
	if err := c.opts.Prefs.Update(func(p *prefs.Preferences) { p.ResetRepository() }); err != nil {
		return err
	}
	c.hub.set(Ok(true))
	c.logger.Info("notesync: repository closed")
	return nil
}

// Resume reopens the repository recorded in the preferences and refreshes
// the cache if needed. It reports false when no repository is recorded.
func (c *Coordinator) Resume(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.opts.Prefs.Load()
	if err != nil {
		return false, err
	}
	if p.RepoPath == "" {
		return false, nil
	}
	if err := c.opts.Repo.OpenRepo(ctx, p.RepoPath); err != nil {
		return false, fmt.Errorf("notesync: reopen %s: %w", p.RepoPath, err)
	}
	if err := c.attach(ctx, p.RepoPath, p.RemoteURL); err != nil {
		return false, err
	}
	if _, err := c.opts.Rebuilder.EnsureFresh(ctx, c.files, false); err != nil {
		return true, fmt.Errorf("notesync: refresh cache: %w", err)
	}
	return true, nil
}

// attach points the coordinator at the files of an opened repository and
// makes sure origin is configured when url is set. The repository is
// closed again on failure.
func (c *Coordinator) attach(ctx context.Context, root, url string) (err error) {
	defer func() {
		if err != nil {
			c.opts.Repo.CloseRepo(ctx)
		}
	}()
	if url != "" {
		has, err := c.opts.Repo.HasRemote(ctx)
		if err != nil {
			return err
		}
		if !has {
			if err := c.opts.Repo.SetRemote(ctx, url); err != nil {
				return fmt.Errorf("notesync: set remote: %w", err)
			}
		}
	}
	files, err := c.opts.OpenFiles(root)
	if err != nil {
		return fmt.Errorf("notesync: open files: %w", err)
	}
	c.files = files
	return nil
}

// BootstrapMode selects how Bootstrap obtains the repository.
type BootstrapMode string

const (
	ModeCreate BootstrapMode = "create"
	ModeOpen   BootstrapMode = "open"
	ModeClone  BootstrapMode = "clone"
)

// BootstrapOptions describe the repository to set up.
type BootstrapOptions struct {
	Mode           BootstrapMode
	Path           string
	RemoteURL      string
	Branch         string
	AuthorName     string
	CredentialType prefs.CredentialType
	Username       string
	Password       string
	PrivateKeyFile string
	Passphrase     string
	Progress       gitrepo.ProgressFunc
}

func (o BootstrapOptions) apply(p *prefs.Preferences) {
	p.RepoPath = o.Path
	p.RemoteURL = o.RemoteURL
	p.Branch = o.Branch
	if o.AuthorName != "" {
		p.AuthorName = o.AuthorName
	}
	p.CredentialType = o.CredentialType
	if p.CredentialType == "" {
		p.CredentialType = prefs.CredentialNone
	}
	p.Username = o.Username
	p.Password = o.Password
	p.PrivateKeyFile = o.PrivateKeyFile
	p.Passphrase = o.Passphrase
	p.Checkpoint = ""
}

// ErrRepositoryOpen is returned by Bootstrap when a repository is open.
var ErrRepositoryOpen = errors.New("notesync: a repository is already open")

// Bootstrap creates, opens or clones a repository, records it in the
// preferences and builds the cache from its files.
func (c *Coordinator) Bootstrap(ctx context.Context, o BootstrapOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.files != nil {
		return ErrRepositoryOpen
	}
	if o.Path == "" {
		return fmt.Errorf("notesync: bootstrap: %w: empty repository path", apperr.ErrInvalidName)
	}
	var pending prefs.Preferences
	o.apply(&pending)

	var err error
	switch o.Mode {
	case ModeCreate:
		err = c.opts.Repo.CreateRepo(ctx, o.Path)
	case ModeOpen:
		err = c.opts.Repo.OpenRepo(ctx, o.Path)
	case ModeClone:
		if o.RemoteURL == "" {
			return fmt.Errorf("notesync: bootstrap: clone needs a remote url")
		}
		err = c.opts.Repo.CloneRepo(ctx, o.Path, o.RemoteURL, pending.Credentials(), o.Progress)
	default:
		return fmt.Errorf("notesync: bootstrap: unknown mode %q", o.Mode)
	}
	if err != nil {
		return fmt.Errorf("notesync: bootstrap %s: %w", o.Mode, err)
	}
	if err := c.attach(ctx, o.Path, o.RemoteURL); err != nil {
		return err
	}
	if err := c.opts.Prefs.Update(o.apply); err != nil {
		return err
	}
	if _, err := c.opts.Rebuilder.EnsureFresh(ctx, c.files, true); err != nil {
		return fmt.Errorf("notesync: build cache: %w", err)
	}
	c.logger.Info("notesync: repository ready",
		slog.String("mode", string(o.Mode)),
		slog.String("path", o.Path),
		slog.Bool("remote", o.RemoteURL != ""))
	return nil
}
