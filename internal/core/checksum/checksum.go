// Package checksum derives stable content identities from filesystem state.
//
// Every deployment step declares the files its result depends on. The digest
// computed here over those files is what makes a step's cache key a content
// address: same tracked content, same key, on any machine and in any process.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrTrackedFileMissing indicates a tracked file reference matched nothing.
	// An incomplete tracked-file list is a configuration error, not a runtime
	// condition to recover from.
	ErrTrackedFileMissing = errors.New("tracked file not found")

	// ErrBadPattern indicates a malformed glob pattern.
	ErrBadPattern = errors.New("malformed glob pattern")
)

// =============================================================================
// Tracked File Resolution
// =============================================================================

// ResolveTrackedFiles expands the given file references against root and
// returns the matched files as sorted root-relative slash paths.
//
// References may be plain paths or glob patterns. Matched directories are
// walked recursively. Expansion happens at call time, so the result reflects
// the current filesystem state, not the state at step construction.
//
// A reference that matches nothing fails immediately with
// ErrTrackedFileMissing.
func ResolveTrackedFiles(root string, refs []string) ([]string, error) {
	seen := map[string]struct{}{}

	for _, ref := range refs {
		pattern := filepath.Join(root, filepath.FromSlash(ref))

		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadPattern, ref)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrTrackedFileMissing, ref)
		}

		for _, match := range matches {
			if err := collect(root, match, seen); err != nil {
				return nil, err
			}
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	return paths, nil
}

// collect adds the file at path to the result set, recursing into
// directories.
func collect(root, path string, seen map[string]struct{}) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrTrackedFileMissing, path)
	}

	if info.IsDir() {
		return filepath.Walk(path, func(child string, childInfo os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if childInfo.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, child)
			if err != nil {
				return err
			}
			seen[filepath.ToSlash(rel)] = struct{}{}
			return nil
		})
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	seen[filepath.ToSlash(rel)] = struct{}{}
	return nil
}

// =============================================================================
// Digest Calculation
// =============================================================================

// Calculate produces a deterministic sha256 digest over the given
// root-relative files.
//
// For each file, in lexicographic path order, the hash input is: the
// root-relative path, the permission-mode bits rendered as a decimal string,
// and the raw file content. An optional seed string is folded in last; it is
// how a step chains its predecessor's checksum into its own identity.
func Calculate(root string, relPaths []string, seed string) (string, error) {
	sorted := make([]string, len(relPaths))
	copy(sorted, relPaths)
	sort.Strings(sorted)

	digest := sha256.New()

	for _, rel := range sorted {
		abs := filepath.Join(root, filepath.FromSlash(rel))

		info, err := os.Stat(abs)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrTrackedFileMissing, rel)
		}

		digest.Write([]byte(filepath.ToSlash(rel)))
		digest.Write([]byte(strconv.FormatUint(uint64(info.Mode().Perm()), 10)))

		if err := hashFileContent(digest, abs); err != nil {
			return "", fmt.Errorf("hash %q: %w", rel, err)
		}
	}

	if seed != "" {
		digest.Write([]byte(seed))
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}

func hashFileContent(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}
