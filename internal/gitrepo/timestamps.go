package gitrepo

import (
	"context"
	"errors"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Timestamps maps every path touched in the history reachable from HEAD to
// the committer time, in epoch millis, of the newest commit that changed it.
// Checkouts do not preserve file mtimes, so history is the reliable source.
func (g *Gateway) Timestamps(ctx context.Context) (map[string]int64, error) {
	opCtx, release, err := g.begin(ctx, "timestamps")
	if err != nil {
		return nil, err
	}
	defer release()

	if err := g.requireOpen("timestamps"); err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	head, err := g.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, classify("timestamps", err)
	}

	iter, err := g.repo.Log(&git.LogOptions{From: head.Hash(), Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, classify("timestamps", err)
	}
	defer iter.Close()

	err = iter.ForEach(func(c *object.Commit) error {
		if err := opCtx.Err(); err != nil {
			return err
		}
		var parentTree *object.Tree
		if c.NumParents() > 0 {
			parent, err := c.Parent(0)
			if err != nil {
				return err
			}
			if parentTree, err = parent.Tree(); err != nil {
				return err
			}
		}
		tree, err := c.Tree()
		if err != nil {
			return err
		}
		changes, err := object.DiffTreeWithOptions(opCtx, parentTree, tree, nil)
		if err != nil {
			return err
		}
		when := c.Committer.When.UnixMilli()
		for _, ch := range changes {
			name := ch.To.Name
			if name == "" {
				continue
			}
			if when > out[name] {
				out[name] = when
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify("timestamps", err)
	}
	return out, nil
}
