package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	git "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

func (g *Gateway) pull(ctx context.Context, auth transport.AuthMethod, progress *progressWriter) error {
	local := plumbing.NewBranchReferenceName(g.branch)
	remote := plumbing.NewRemoteReferenceName(RemoteName, g.branch)

	err := g.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: RemoteName,
		Auth:       auth,
		Progress:   progress.writer(),
		RefSpecs:   []gitcfg.RefSpec{gitcfg.RefSpec(fmt.Sprintf("+%s:%s", local, remote))},
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
	case errors.Is(err, transport.ErrEmptyRemoteRepository), errors.Is(err, git.NoMatchingRefSpecError{}):
		g.logger.Debug("gitrepo: remote has no branch yet", slog.String("branch", g.branch))
		return nil
	default:
		return classify("pull", err)
	}

	ref, err := g.repo.Reference(remote, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil
	}
	if err != nil {
		return classify("pull", err)
	}
	if err := g.integrate(ref.Hash()); err != nil {
		return classify("pull", err)
	}
	return nil
}

// integrate brings the fetched commit into the current branch: adopt it on
// an unborn branch, fast-forward when possible, merge otherwise.
func (g *Gateway) integrate(target plumbing.Hash) error {
	wt, err := g.repo.Worktree()
	if err != nil {
		return err
	}

	head, err := g.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(g.branch), target)
		if err := g.repo.Storer.SetReference(ref); err != nil {
			return err
		}
		return wt.Reset(&git.ResetOptions{Commit: target, Mode: git.HardReset})
	}
	if err != nil {
		return err
	}
	if head.Hash() == target {
		return nil
	}

	ours, err := g.repo.CommitObject(head.Hash())
	if err != nil {
		return err
	}
	theirs, err := g.repo.CommitObject(target)
	if err != nil {
		return err
	}

	if ff, err := ours.IsAncestor(theirs); err != nil {
		return err
	} else if ff {
		g.logger.Debug("gitrepo: fast-forward", slog.String("to", target.String()))
		return wt.Reset(&git.ResetOptions{Commit: target, Mode: git.HardReset})
	}
	if behind, err := theirs.IsAncestor(ours); err != nil {
		return err
	} else if behind {
		return nil
	}
	return g.merge(wt, ours, theirs)
}

// merge records a merge commit of ours and theirs. Paths changed on one side
// only take that side's version; paths changed on both sides take the
// version of the side whose tip commit is newer.
func (g *Gateway) merge(wt *git.Worktree, ours, theirs *object.Commit) error {
	var baseTree *object.Tree
	bases, err := ours.MergeBase(theirs)
	if err != nil {
		return err
	}
	if len(bases) > 0 {
		if baseTree, err = bases[0].Tree(); err != nil {
			return err
		}
	}
	ourTree, err := ours.Tree()
	if err != nil {
		return err
	}
	theirTree, err := theirs.Tree()
	if err != nil {
		return err
	}

	ourChanges, err := object.DiffTree(baseTree, ourTree)
	if err != nil {
		return err
	}
	theirChanges, err := object.DiffTree(baseTree, theirTree)
	if err != nil {
		return err
	}

	touched := changedPaths(ourChanges)
	theirsNewer := theirs.Committer.When.After(ours.Committer.When)
	for _, path := range sortedKeys(changedPaths(theirChanges)) {
		if touched[path] && !theirsNewer {
			continue
		}
		if err := g.checkoutPath(theirTree, path); err != nil {
			return err
		}
	}

	if _, err := stageAll(wt); err != nil {
		return err
	}
	hash, err := wt.Commit(fmt.Sprintf("merge %s/%s", RemoteName, g.branch), &git.CommitOptions{
		Author:            g.signature(g.opts.MergeAuthor),
		Parents:           []plumbing.Hash{ours.Hash, theirs.Hash},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return err
	}
	g.logger.Info("gitrepo: merged remote changes",
		slog.String("ours", ours.Hash.String()),
		slog.String("theirs", theirs.Hash.String()),
		slog.String("merge", hash.String()))
	return nil
}

// checkoutPath makes the worktree file at path match tree.
func (g *Gateway) checkoutPath(tree *object.Tree, path string) error {
	abs := filepath.Join(g.root, filepath.FromSlash(path))
	f, err := tree.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	if err != nil {
		return err
	}
	r, err := f.Reader()
	if err != nil {
		return err
	}
	defer r.Close()
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	out, err := os.Create(abs)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func changedPaths(changes object.Changes) map[string]bool {
	out := make(map[string]bool, len(changes))
	for _, c := range changes {
		if c.From.Name != "" {
			out[c.From.Name] = true
		}
		if c.To.Name != "" {
			out[c.To.Name] = true
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
