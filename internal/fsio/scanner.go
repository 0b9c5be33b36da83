// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package fsio is the default chunk producer/consumer: a filesystem-backed
// implementation of the transport package's FileSource and FileSink
// interfaces. The wire protocol and Transporter state machines never
// import this package directly — they're handed a FileSource/FileSink at
// construction — so a caller embedding the core elsewhere can substitute
// their own storage backend.
package fsio

import (
	"crypto/md5"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nishisan-dev/fcp/internal/transport"
)

// Scanner walks one or more source paths into a pre-order list: each
// directory comes before its contents, and within a directory the files
// and subdirectories follow in name order, so every DIR_INFO is emitted
// before the FILE_INFOs of the files inside it. Adapted from the teacher's filepath.WalkDir
// traversal (internal/agent/scanner.go), generalized to compute a
// per-file MD5 up front instead of streaming a single tar.gz.
type Scanner struct {
	roots []string
}

// NewScanner returns a Scanner over the given absolute source paths.
func NewScanner(roots []string) *Scanner {
	return &Scanner{roots: roots}
}

// Scan walks every root and returns its entries in pre-order: a
// directory's DIR_INFO-equivalent entry always precedes the entries of
// its children.
func (s *Scanner) Scan() ([]transport.SourceEntry, error) {
	var entries []transport.SourceEntry

	for _, root := range s.roots {
		info, err := os.Lstat(root)
		if err != nil {
			return nil, fmt.Errorf("stating source %s: %w", root, err)
		}
		base := filepath.Base(root)

		if info.IsDir() {
			if err := walkDir(root, base, &entries); err != nil {
				return nil, err
			}
			continue
		}

		entry, err := fileEntry(root, base, info)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func walkDir(absDir, relDir string, entries *[]transport.SourceEntry) error {
	info, err := os.Lstat(absDir)
	if err != nil {
		return fmt.Errorf("stating %s: %w", absDir, err)
	}
	*entries = append(*entries, transport.SourceEntry{
		RelPath: relDir,
		IsDir:   true,
		Perm:    uint16(info.Mode().Perm()),
	})

	children, err := os.ReadDir(absDir)
	if err != nil {
		return fmt.Errorf("reading directory %s: %w", absDir, err)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })

	for _, child := range children {
		childAbs := filepath.Join(absDir, child.Name())
		childRel := strings.TrimPrefix(filepath.Join(relDir, child.Name()), "/")

		childInfo, err := child.Info()
		if err != nil {
			return fmt.Errorf("stating %s: %w", childAbs, err)
		}

		if childInfo.IsDir() {
			if err := walkDir(childAbs, childRel, entries); err != nil {
				return err
			}
			continue
		}

		entry, err := fileEntry(childAbs, childRel, childInfo)
		if err != nil {
			return err
		}
		*entries = append(*entries, entry)
	}
	return nil
}

func fileEntry(absPath, relPath string, info fs.FileInfo) (transport.SourceEntry, error) {
	md5sum, err := md5File(absPath)
	if err != nil {
		return transport.SourceEntry{}, err
	}
	path := absPath
	return transport.SourceEntry{
		RelPath: relPath,
		IsDir:   false,
		Perm:    uint16(info.Mode().Perm()),
		Size:    uint64(info.Size()),
		Mtime:   float64(info.ModTime().UnixNano()) / 1e9,
		MD5:     md5sum,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

func md5File(path string) ([16]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [16]byte{}, fmt.Errorf("opening %s for checksum: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return [16]byte{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
