package missions

import (
	"fmt"
	"os"

	"github.com/jaakkos/koanctl/internal/fsutil"
)

// Store wraps the pure content-transforming functions above with
// file-backed, lock-protected mutation: open-lock-read-modify-write-close,
// so concurrent writers never interleave.
type Store struct {
	Path     string
	LockPath string
}

// NewStore returns a Store for the missions.md file at path, using a
// sibling ".lock" file for the advisory lock.
func NewStore(path string) *Store {
	return &Store{Path: path, LockPath: path + ".lock"}
}

// Read returns the current file content, or DefaultSkeleton if it does not
// exist yet.
func (s *Store) Read() (string, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return DefaultSkeleton, nil
	}
	if err != nil {
		return "", fmt.Errorf("missions: read %s: %w", s.Path, err)
	}
	return string(data), nil
}

// Mutate acquires the exclusive lock, loads the current content, applies fn,
// and writes the result back atomically. fn receives the current content
// and returns the new content plus an arbitrary result value.
func (s *Store) Mutate(fn func(content string) (newContent string, result any, err error)) (any, error) {
	lock, err := fsutil.AcquireExclusive(s.LockPath)
	if err != nil {
		return nil, fmt.Errorf("missions: acquire lock: %w", err)
	}
	defer lock.Release()

	content, err := s.Read()
	if err != nil {
		return nil, err
	}
	updated, result, err := fn(content)
	if err != nil {
		return nil, err
	}
	if err := fsutil.AtomicWrite(s.Path, []byte(updated), 0o644); err != nil {
		return nil, fmt.Errorf("missions: write %s: %w", s.Path, err)
	}
	return result, nil
}

// InsertMission is the locked, file-backed form of the package-level
// InsertMission.
func (s *Store) InsertMission(entry string, urgent bool) error {
	_, err := s.Mutate(func(content string) (string, any, error) {
		return InsertMission(content, entry, urgent), nil, nil
	})
	return err
}

// InsertIdea is the locked, file-backed form of InsertIdea.
func (s *Store) InsertIdea(entry string) error {
	_, err := s.Mutate(func(content string) (string, any, error) {
		return InsertIdea(content, entry), nil, nil
	})
	return err
}

// StartMission is the locked, file-backed form of StartMission.
func (s *Store) StartMission(needle string) error {
	_, err := s.Mutate(func(content string) (string, any, error) {
		return StartMission(content, needle), nil, nil
	})
	return err
}

// CompleteMission is the locked, file-backed form of CompleteMission.
func (s *Store) CompleteMission(needle string) error {
	_, err := s.Mutate(func(content string) (string, any, error) {
		return CompleteMission(content, needle), nil, nil
	})
	return err
}

// FailMission is the locked, file-backed form of FailMission.
func (s *Store) FailMission(needle string) error {
	_, err := s.Mutate(func(content string) (string, any, error) {
		return FailMission(content, needle), nil, nil
	})
	return err
}

// CancelPendingMission is the locked, file-backed form of
// CancelPendingMission.
func (s *Store) CancelPendingMission(identifier string) (string, error) {
	res, err := s.Mutate(func(content string) (string, any, error) {
		updated, cancelled, err := CancelPendingMission(content, identifier)
		if err != nil {
			return content, "", err
		}
		return updated, cancelled, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// ReorderMission is the locked, file-backed form of ReorderMission.
func (s *Store) ReorderMission(position, target int) (string, error) {
	res, err := s.Mutate(func(content string) (string, any, error) {
		updated, moved, err := ReorderMission(content, position, target)
		if err != nil {
			return content, "", err
		}
		return updated, moved, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// PromoteIdea is the locked, file-backed form of PromoteIdea.
func (s *Store) PromoteIdea(idx int) (string, bool, error) {
	res, err := s.Mutate(func(content string) (string, any, error) {
		updated, promoted, ok := PromoteIdea(content, idx)
		return updated, struct {
			text string
			ok   bool
		}{promoted, ok}, nil
	})
	if err != nil {
		return "", false, err
	}
	r := res.(struct {
		text string
		ok   bool
	})
	return r.text, r.ok, nil
}

// PromoteAllIdeas is the locked, file-backed form of PromoteAllIdeas.
func (s *Store) PromoteAllIdeas() ([]string, error) {
	res, err := s.Mutate(func(content string) (string, any, error) {
		updated, promoted := PromoteAllIdeas(content)
		return updated, promoted, nil
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.([]string), nil
}

// DeleteIdea is the locked, file-backed form of DeleteIdea.
func (s *Store) DeleteIdea(idx int) (string, bool, error) {
	res, err := s.Mutate(func(content string) (string, any, error) {
		updated, deleted, ok := DeleteIdea(content, idx)
		return updated, struct {
			text string
			ok   bool
		}{deleted, ok}, nil
	})
	if err != nil {
		return "", false, err
	}
	r := res.(struct {
		text string
		ok   bool
	})
	return r.text, r.ok, nil
}
