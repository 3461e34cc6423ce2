package repo

import (
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/metagraft/pkg/object"
)

// CommitSigner signs canonical commit payload bytes and returns an encoded
// signature string to be persisted in CommitObj.Signature.
type CommitSigner func(payload []byte) (string, error)

// CommitRequest describes a commit to write without touching any ref.
type CommitRequest struct {
	Tree      object.Hash
	Parents   []object.Hash
	Author    string
	Message   string
	Timestamp int64 // zero means now
	Signer    CommitSigner
}

// CreateCommit writes a commit object and returns its hash. No branch or
// HEAD is updated; callers decide separately whether to move a ref.
func (r *Repo) CreateCommit(req CommitRequest) (object.Hash, error) {
	if req.Tree == "" {
		return "", fmt.Errorf("create commit: tree is required")
	}
	ts := req.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	c := &object.CommitObj{
		TreeHash:  req.Tree,
		Parents:   req.Parents,
		Author:    req.Author,
		Timestamp: ts,
		Message:   req.Message,
	}
	if req.Signer != nil {
		sig, err := req.Signer(object.CommitSigningPayload(c))
		if err != nil {
			return "", fmt.Errorf("create commit: sign commit: %w", err)
		}
		c.Signature = sig
	}
	h, err := r.Store.WriteCommit(c)
	if err != nil {
		return "", fmt.Errorf("create commit: write commit: %w", err)
	}
	return h, nil
}

// Commit creates a new commit from the staging area and advances the
// current branch (or detached HEAD).
func (r *Repo) Commit(message, author string) (object.Hash, error) {
	return r.CommitWithSigner(message, author, nil)
}

// CommitWithSigner is Commit with an optional signer.
func (r *Repo) CommitWithSigner(message, author string, signer CommitSigner) (object.Hash, error) {
	stg, err := r.ReadStaging()
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	if len(stg.Entries) == 0 {
		return "", fmt.Errorf("commit: nothing staged")
	}
	treeHash, err := r.BuildTree(stg)
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	parent, err := r.HeadCommit()
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	var parents []object.Hash
	if parent != "" {
		parents = append(parents, parent)
	}

	commitHash, err := r.CreateCommit(CommitRequest{
		Tree:    treeHash,
		Parents: parents,
		Author:  author,
		Message: message,
		Signer:  signer,
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	head, err := r.Head()
	if err != nil {
		return "", fmt.Errorf("commit: read HEAD: %w", err)
	}
	if strings.HasPrefix(head, "refs/") {
		if err := r.UpdateRef(head, commitHash, parent); err != nil {
			return "", fmt.Errorf("commit: %w", err)
		}
	} else if err := r.UpdateRef("HEAD", commitHash, parent); err != nil {
		return "", fmt.Errorf("commit: update detached HEAD: %w", err)
	}
	return commitHash, nil
}

// CommitTree returns the root tree of a commit.
func (r *Repo) CommitTree(h object.Hash) (object.Hash, error) {
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		return "", err
	}
	return c.TreeHash, nil
}
