// Package gitsync wraps the git plumbing the agent loop needs: periodic
// fetch/pull across project repositories, and auto-merge of mission
// branches whose name carries a configured prefix.
package gitsync

import (
	"fmt"
	"os/exec"
	"strings"
)

// Repo is a single project's git working directory.
type Repo struct {
	Dir string
}

// New returns a Repo rooted at dir.
func New(dir string) *Repo {
	return &Repo{Dir: dir}
}

func (r *Repo) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w\noutput: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepo reports whether Dir is inside a git working tree.
func (r *Repo) IsRepo() bool {
	out, err := r.run("rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// CommitAll stages every tracked change and commits with message. Returns
// nil without creating a commit if the working tree is already clean.
func (r *Repo) CommitAll(message string) error {
	status, err := r.run("status", "--porcelain")
	if err != nil {
		return err
	}
	if status == "" {
		return nil
	}
	if _, err := r.run("add", "-A"); err != nil {
		return err
	}
	_, err = r.run("commit", "-m", message)
	return err
}

// Sync fetches remoteName and fast-forwards the current branch, failing
// silently (returning the error to the caller) rather than raising on a
// detached HEAD or a remote that rejects fast-forward; this mirrors the
// loop's policy of letting startup collaborators fail without aborting.
func (r *Repo) Sync(remoteName string) error {
	if remoteName == "" {
		remoteName = "origin"
	}
	if _, err := r.run("fetch", remoteName); err != nil {
		return err
	}
	branch, err := r.CurrentBranch()
	if err != nil {
		return err
	}
	if branch == "HEAD" {
		return fmt.Errorf("gitsync: detached HEAD, skipping sync")
	}
	_, err = r.run("merge", "--ff-only", remoteName+"/"+branch)
	return err
}

// ListBranches returns all local branch names.
func (r *Repo) ListBranches() ([]string, error) {
	out, err := r.run("branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// MissionBranches returns local branches whose name starts with prefix,
// the candidates for auto-merge.
func (r *Repo) MissionBranches(prefix string) ([]string, error) {
	branches, err := r.ListBranches()
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, b := range branches {
		if strings.HasPrefix(b, prefix) {
			matches = append(matches, b)
		}
	}
	return matches, nil
}

// IsMerged reports whether branch's history is fully contained in base.
func (r *Repo) IsMerged(branch, base string) (bool, error) {
	out, err := r.run("branch", "--merged", base)
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*")) == branch {
			return true, nil
		}
	}
	return false, nil
}

// AutoMergeResult reports what AutoMerge did for one branch.
type AutoMergeResult struct {
	Branch string
	Merged bool
	Error  error
}

// AutoMerge finds local branches under prefix, fast-forward merges any
// that are not yet merged into base, and deletes branches that were
// already fully merged. A branch that fails to fast-forward is reported
// with its error and left alone for manual resolution.
func (r *Repo) AutoMerge(prefix, base string) ([]AutoMergeResult, error) {
	branches, err := r.MissionBranches(prefix)
	if err != nil {
		return nil, err
	}
	var results []AutoMergeResult
	for _, b := range branches {
		merged, err := r.IsMerged(b, base)
		if err != nil {
			results = append(results, AutoMergeResult{Branch: b, Error: err})
			continue
		}
		if merged {
			_, _ = r.run("branch", "-d", b)
			results = append(results, AutoMergeResult{Branch: b, Merged: true})
			continue
		}
		if _, err := r.run("merge", "--ff-only", b); err != nil {
			results = append(results, AutoMergeResult{Branch: b, Error: err})
			continue
		}
		_, _ = r.run("branch", "-d", b)
		results = append(results, AutoMergeResult{Branch: b, Merged: true})
	}
	return results, nil
}
