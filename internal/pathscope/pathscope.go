// Coworker is a local-first filesystem coworker server.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package pathscope canonicalizes filesystem paths and checks them against
// an allowlist of roots, rejecting any path that escapes via symlinks or
// ".." segments.
package pathscope

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"coworker/pkg/coworker"
)

// Resolve canonicalizes p (following symlinks, resolving "..") and verifies
// it falls under one of allowedRoots. allowedRoots are assumed already
// canonical (callers canonicalize them once at job-submit time).
//
// If p does not exist yet, Resolve walks up to the nearest existing
// ancestor, canonicalizes that, and reapplies the non-existent suffix, so a
// not-yet-created file under an allowed directory still resolves correctly.
func Resolve(p string, allowedRoots []string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", coworker.ErrInvalidArgument)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", coworker.ErrInvalidArgument, err)
	}
	real, err := canonicalizeNearestExisting(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", coworker.ErrInvalidArgument, err)
	}
	for _, root := range allowedRoots {
		if isDescendant(real, root) {
			return real, nil
		}
	}
	return "", fmt.Errorf("%w: path %q escapes allowed roots", coworker.ErrForbidden, p)
}

// CanonicalizeRoot resolves an allowed-root declaration to its canonical
// absolute form. The root itself must already exist.
func CanonicalizeRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %v", coworker.ErrInvalidArgument, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: allowed root %q: %v", coworker.ErrInvalidArgument, root, err)
	}
	info, err := os.Stat(real)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: allowed root %q is not a directory", coworker.ErrInvalidArgument, root)
	}
	return real, nil
}

// canonicalizeNearestExisting walks up from abs until it finds a component
// that exists, resolves symlinks on that ancestor, then reappends the
// remaining (not-yet-existing) path components verbatim.
func canonicalizeNearestExisting(abs string) (string, error) {
	abs = filepath.Clean(abs)
	var suffix []string
	cur := abs
	for {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			full := real
			for i := len(suffix) - 1; i >= 0; i-- {
				full = filepath.Join(full, suffix[i])
			}
			return filepath.Clean(full), nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("no existing ancestor for %q", abs)
		}
		suffix = append(suffix, filepath.Base(cur))
		cur = parent
	}
}

// isDescendant reports whether path is root itself or a path below it.
func isDescendant(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	sep := string(os.PathSeparator)
	return strings.HasPrefix(path, root+sep)
}
