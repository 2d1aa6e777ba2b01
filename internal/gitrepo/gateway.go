// Package gitrepo serializes access to the git repository that backs the
// notes tree.
//
// Every Gateway operation runs under one mutex, so at most one repository
// call is in flight. Callers that already serialize through a coarser lock
// (the sync coordinator) still go through it; the mutex protects callers
// that bypass them, such as shutdown paths.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

const (
	RemoteName    = "origin"
	DefaultBranch = "main"
)

// Options configure a Gateway.
type Options struct {
	// Home is created on library initialization and holds gateway state.
	Home string
	// Branch used for new repositories and as push/pull target.
	Branch string
	// MergeAuthor signs merge commits produced by Pull.
	MergeAuthor string
	// HTTPTimeout bounds waiting for remote response headers.
	HTTPTimeout time.Duration
	// Now stamps commits; defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Gateway owns the open repository and its lifecycle.
type Gateway struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	libReady bool
	repo     *git.Repository
	root     string
	branch   string

	// scope is cancelled when the current repository lifecycle ends.
	scopeMu     sync.Mutex
	scope       context.Context
	cancelScope context.CancelFunc
}

var installTransports sync.Once

// New creates a Gateway with no repository open.
func New(opts Options) *Gateway {
	if opts.Branch == "" {
		opts.Branch = DefaultBranch
	}
	if opts.MergeAuthor == "" {
		opts.MergeAuthor = "gitnote"
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{opts: opts, logger: logger}
	g.scope, g.cancelScope = context.WithCancel(context.Background())
	return g
}

// begin waits for the gateway lock and returns a context that is cancelled
// when either ctx or the current lifecycle scope ends.
func (g *Gateway) begin(ctx context.Context, op string) (context.Context, func(), error) {
	g.scopeMu.Lock()
	scope := g.scope
	g.scopeMu.Unlock()

	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(scope, cancel)

	g.mu.Lock()
	release := func() {
		g.mu.Unlock()
		stop()
		cancel()
	}
	if err := opCtx.Err(); err != nil {
		release()
		return nil, nil, classify(op, err)
	}
	if err := g.initLibrary(); err != nil {
		release()
		return nil, nil, err
	}
	return opCtx, release, nil
}

// endScope cancels in-flight operations of the current lifecycle.
func (g *Gateway) endScope() {
	g.scopeMu.Lock()
	defer g.scopeMu.Unlock()
	g.cancelScope()
	g.scope, g.cancelScope = context.WithCancel(context.Background())
}

func (g *Gateway) initLibrary() error {
	if g.libReady {
		return nil
	}
	if g.opts.Home != "" {
		if err := os.MkdirAll(g.opts.Home, 0o700); err != nil {
			return newError(KindInitLib, "init", "create home directory", err)
		}
	}
	installTransports.Do(func() {
		c := githttp.NewClient(&http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				TLSHandshakeTimeout:   g.opts.HTTPTimeout,
				ResponseHeaderTimeout: g.opts.HTTPTimeout,
			},
		})
		client.InstallProtocol("https", c)
		client.InstallProtocol("http", c)
	})
	g.libReady = true
	g.logger.Debug("gitrepo: library ready", slog.String("home", g.opts.Home))
	return nil
}

// InitLibrary prepares the gateway. Other operations call it lazily.
func (g *Gateway) InitLibrary(ctx context.Context) error {
	_, release, err := g.begin(ctx, "init")
	if err != nil {
		return err
	}
	release()
	return nil
}

func (g *Gateway) requireClosed(op string) error {
	if g.repo != nil {
		return newError(KindRepoAlreadyInit, op, "a repository is already open at "+g.root, nil)
	}
	return nil
}

func (g *Gateway) requireOpen(op string) error {
	if g.repo == nil {
		return newError(KindRepoNotInit, op, "no repository is open", nil)
	}
	return nil
}

// CreateRepo initializes a new repository at path, which must be missing or
// an empty directory, and opens it.
func (g *Gateway) CreateRepo(ctx context.Context, path string) error {
	_, release, err := g.begin(ctx, "create")
	if err != nil {
		return err
	}
	defer release()

	if err := g.requireClosed("create"); err != nil {
		return err
	}
	if err := requireEmptyDir("create", path); err != nil {
		return err
	}
	repo, err := git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(g.opts.Branch)},
	})
	if err != nil {
		return classify("create", err)
	}
	g.setOpen(repo, path, g.opts.Branch)
	return nil
}

// OpenRepo opens an existing repository at path.
func (g *Gateway) OpenRepo(ctx context.Context, path string) error {
	_, release, err := g.begin(ctx, "open")
	if err != nil {
		return err
	}
	defer release()

	if err := g.requireClosed("open"); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return newError(KindWrongPath, "open", path+" is not a directory", err)
	}
	repo, err := git.PlainOpen(path)
	if err != nil {
		return classify("open", err)
	}
	g.setOpen(repo, path, headBranch(repo, g.opts.Branch))
	return nil
}

// CloneRepo clones url into path, which must be missing or an empty
// directory, and opens the result. Cloning an empty remote yields a fresh
// repository with the remote configured.
func (g *Gateway) CloneRepo(ctx context.Context, path, url string, creds *Credentials, progress ProgressFunc) error {
	opCtx, release, err := g.begin(ctx, "clone")
	if err != nil {
		return err
	}
	defer release()

	if err := g.requireClosed("clone"); err != nil {
		return err
	}
	if err := requireEmptyDir("clone", path); err != nil {
		return err
	}
	auth, err := creds.authMethod()
	if err != nil {
		return err
	}

	opCtx, stop := context.WithCancel(opCtx)
	defer stop()
	repo, err := git.PlainCloneContext(opCtx, path, false, &git.CloneOptions{
		URL:        url,
		RemoteName: RemoteName,
		Auth:       auth,
		Progress:   newProgressWriter(progress, stop).writer(),
	})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		g.logger.Info("gitrepo: remote is empty, initializing", slog.String("path", path))
		repo, err = initWithRemote(path, url, g.opts.Branch)
	}
	if err != nil {
		return classify("clone", err)
	}
	g.setOpen(repo, path, headBranch(repo, g.opts.Branch))
	return nil
}

func initWithRemote(path, url, branch string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
			InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(branch)},
		})
	}
	if err != nil {
		return nil, err
	}
	if err := setRemote(repo, url); err != nil {
		return nil, err
	}
	return repo, nil
}

func (g *Gateway) setOpen(repo *git.Repository, path, branch string) {
	g.repo = repo
	g.root = path
	g.branch = branch
	g.logger.Info("gitrepo: opened", slog.String("path", path), slog.String("branch", branch))
}

// CommitAll stages every change in the worktree and commits it. It is a
// no-op when nothing changed.
func (g *Gateway) CommitAll(ctx context.Context, author, message string) error {
	_, release, err := g.begin(ctx, "commit")
	if err != nil {
		return err
	}
	defer release()

	if err := g.requireOpen("commit"); err != nil {
		return err
	}
	wt, err := g.repo.Worktree()
	if err != nil {
		return classify("commit", err)
	}
	changed, err := stageAll(wt)
	if err != nil {
		return classify("commit", err)
	}
	if !changed {
		return nil
	}
	hash, err := wt.Commit(message, &git.CommitOptions{Author: g.signature(author)})
	if err != nil {
		return classify("commit", err)
	}
	g.logger.Debug("gitrepo: committed", slog.String("hash", hash.String()), slog.String("message", message))
	return nil
}

// stageAll adds new and modified files and removes deleted ones from the
// index. It reports whether anything is left to commit.
func stageAll(wt *git.Worktree) (bool, error) {
	status, err := wt.Status()
	if err != nil {
		return false, err
	}
	if status.IsClean() {
		return false, nil
	}
	for path, st := range status {
		switch st.Worktree {
		case git.Unmodified:
		case git.Deleted:
			if _, err := wt.Remove(path); err != nil {
				return false, fmt.Errorf("stage removal of %s: %w", path, err)
			}
		default:
			if _, err := wt.Add(path); err != nil {
				return false, fmt.Errorf("stage %s: %w", path, err)
			}
		}
	}
	return true, nil
}

func (g *Gateway) signature(name string) *object.Signature {
	return &object.Signature{Name: name, Email: name, When: g.opts.Now()}
}

// Push sends the current branch to the remote.
func (g *Gateway) Push(ctx context.Context, creds *Credentials, progress ProgressFunc) error {
	opCtx, release, err := g.begin(ctx, "push")
	if err != nil {
		return err
	}
	defer release()

	if err := g.requireOpen("push"); err != nil {
		return err
	}
	if !hasRemote(g.repo) {
		return newError(KindOther, "push", "no remote configured", nil)
	}
	if _, err := g.repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil
	}
	auth, err := creds.authMethod()
	if err != nil {
		return err
	}

	opCtx, stop := context.WithCancel(opCtx)
	defer stop()
	ref := plumbing.NewBranchReferenceName(g.branch)
	err = g.repo.PushContext(opCtx, &git.PushOptions{
		RemoteName: RemoteName,
		Auth:       auth,
		Progress:   newProgressWriter(progress, stop).writer(),
		RefSpecs:   []gitcfg.RefSpec{gitcfg.RefSpec(fmt.Sprintf("%s:%s", ref, ref))},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return classify("push", err)
	}
	return nil
}

// Pull fetches the remote branch and integrates it into the current one.
func (g *Gateway) Pull(ctx context.Context, creds *Credentials, progress ProgressFunc) error {
	opCtx, release, err := g.begin(ctx, "pull")
	if err != nil {
		return err
	}
	defer release()

	if err := g.requireOpen("pull"); err != nil {
		return err
	}
	if !hasRemote(g.repo) {
		return newError(KindOther, "pull", "no remote configured", nil)
	}
	auth, err := creds.authMethod()
	if err != nil {
		return err
	}
	opCtx, stop := context.WithCancel(opCtx)
	defer stop()
	return g.pull(opCtx, auth, newProgressWriter(progress, stop))
}

// LastCommitHash returns the head commit hash, or "" before the first commit.
func (g *Gateway) LastCommitHash(ctx context.Context) (string, error) {
	_, release, err := g.begin(ctx, "last_commit")
	if err != nil {
		return "", err
	}
	defer release()

	if err := g.requireOpen("last_commit"); err != nil {
		return "", err
	}
	head, err := g.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", classify("last_commit", err)
	}
	return head.Hash().String(), nil
}

// SetRemote points origin at url, creating it when missing.
func (g *Gateway) SetRemote(ctx context.Context, url string) error {
	_, release, err := g.begin(ctx, "set_remote")
	if err != nil {
		return err
	}
	defer release()

	if err := g.requireOpen("set_remote"); err != nil {
		return err
	}
	if err := setRemote(g.repo, url); err != nil {
		return classify("set_remote", err)
	}
	return nil
}

// HasRemote reports whether origin is configured.
func (g *Gateway) HasRemote(ctx context.Context) (bool, error) {
	_, release, err := g.begin(ctx, "has_remote")
	if err != nil {
		return false, err
	}
	defer release()

	if err := g.requireOpen("has_remote"); err != nil {
		return false, err
	}
	return hasRemote(g.repo), nil
}

// CloseRepo cancels in-flight operations and closes the repository. The
// on-disk state after a cancelled operation is unknown until the next open.
func (g *Gateway) CloseRepo(ctx context.Context) {
	g.endScope()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closeLocked()
}

// Shutdown closes the repository and tears down the library state.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.endScope()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closeLocked()
	g.libReady = false
}

func (g *Gateway) closeLocked() {
	if g.repo == nil {
		return
	}
	g.logger.Info("gitrepo: closed", slog.String("path", g.root))
	g.repo = nil
	g.root = ""
	g.branch = ""
}

func setRemote(repo *git.Repository, url string) error {
	cfg, err := repo.Config()
	if err != nil {
		return err
	}
	cfg.Remotes[RemoteName] = &gitcfg.RemoteConfig{
		Name:  RemoteName,
		URLs:  []string{url},
		Fetch: []gitcfg.RefSpec{gitcfg.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", RemoteName))},
	}
	return repo.Storer.SetConfig(cfg)
}

func hasRemote(repo *git.Repository) bool {
	_, err := repo.Remote(RemoteName)
	return err == nil
}

// headBranch returns the branch HEAD points at, even when it is unborn.
func headBranch(repo *git.Repository, fallback string) string {
	ref, err := repo.Storer.Reference(plumbing.HEAD)
	if err != nil || ref.Type() != plumbing.SymbolicReference || !ref.Target().IsBranch() {
		return fallback
	}
	return ref.Target().Short()
}

func requireEmptyDir(op, path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return newError(KindWrongPath, op, "stat "+path, err)
	}
	if !info.IsDir() {
		return newError(KindWrongPath, op, path+" is not a directory", nil)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return newError(KindWrongPath, op, "read "+path, err)
	}
	if len(entries) > 0 {
		return newError(KindWrongPath, op, path+" is not empty", nil)
	}
	return nil
}
