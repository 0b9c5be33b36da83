// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fsio

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolveWithin joins root and relPath and verifies the result still lives
// under root, rejecting a DIR_INFO/FILE_INFO path that tries to escape the
// destination via ".." components. Grounded on the teacher's
// validatePathInBaseDir (internal/server/sanitize.go), applied here per
// incoming path instead of per agent/storage/backup name since fcp has no
// equivalent naming hierarchy.
func resolveWithin(root, relPath string) (string, error) {
	full := filepath.Join(root, relPath)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving destination root: %w", err)
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", relPath, err)
	}

	rel, err := filepath.Rel(absRoot, absFull)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes destination root", relPath)
	}

	return full, nil
}
