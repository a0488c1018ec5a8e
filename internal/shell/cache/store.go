// Package cache persists deployment step results on the filesystem, keyed
// by step cache keys.
//
// Layout: one directory per step under the cache root, named by the step's
// cache key. Containerized steps store a serialized image tar inside it;
// local steps store their promoted output directory. Because the key is a
// content hash, an entry is immutable and trusted once written; contents
// are deliberately not re-verified on a hit.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
)

// =============================================================================
// Store
// =============================================================================

// Store is a filesystem-backed cache of step results.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir. The directory is created on
// demand, not here.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

// StepDir returns the per-step cache directory for a cache key. Distinct
// steps never collide: the key embeds the step's checksum.
func (s *Store) StepDir(key string) string {
	return filepath.Join(s.root, key)
}

// EnsureStepDir creates the per-step cache directory.
func (s *Store) EnsureStepDir(key string) (string, error) {
	dir := s.StepDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir for %q: %w", key, err)
	}
	return dir, nil
}

// =============================================================================
// Image Entries (containerized steps)
// =============================================================================

// ImagePath returns the path of the serialized image tar for a cache key.
func (s *Store) ImagePath(key string) string {
	return filepath.Join(s.StepDir(key), key+".tar")
}

// HasImage reports whether a serialized image exists for the key.
func (s *Store) HasImage(key string) bool {
	info, err := os.Stat(s.ImagePath(key))
	return err == nil && !info.IsDir()
}

// =============================================================================
// Output Entries (local steps)
// =============================================================================

// OutputDir returns the final output directory for a local step's result.
func (s *Store) OutputDir(key string) string {
	return filepath.Join(s.StepDir(key), "output")
}

// HasOutput reports whether a promoted output directory exists for the key.
// Presence alone signals a hit; a temp directory that was never promoted is
// not visible here.
func (s *Store) HasOutput(key string) bool {
	info, err := os.Stat(s.OutputDir(key))
	return err == nil && info.IsDir()
}

// TempOutputDir returns the temporary output location for a key. Steps
// write here and the result is promoted with a rename, so a crashed run
// never leaves a partial entry that looks valid.
func (s *Store) TempOutputDir(key string) string {
	return filepath.Join(s.StepDir(key), "~output")
}

// PromoteOutput atomically renames a step's temp output into its final
// cache location.
func (s *Store) PromoteOutput(key string) error {
	if err := os.Rename(s.TempOutputDir(key), s.OutputDir(key)); err != nil {
		return fmt.Errorf("promote cache entry %q: %w", key, err)
	}
	return nil
}

// DiscardTempOutput removes a step's temp output, if any. Called before a
// fresh run and after a failed one.
func (s *Store) DiscardTempOutput(key string) error {
	if err := os.RemoveAll(s.TempOutputDir(key)); err != nil {
		return fmt.Errorf("discard temp output %q: %w", key, err)
	}
	return nil
}
