// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fsio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nishisan-dev/fcp/internal/transport"
)

// Destination is the default FileSink: writes arrive in a `.part` sibling
// file and are atomically renamed into place on Close, the same
// temp-then-rename discipline as the teacher's AtomicWriter
// (internal/server/storage.go), applied per file instead of per whole
// backup archive.
type Destination struct {
	root string
}

// NewDestination returns a Destination rooted at root, creating it if
// necessary.
func NewDestination(root string) (*Destination, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination root: %w", err)
	}
	return &Destination{root: root}, nil
}

// CreateDir implements transport.FileSink.
func (d *Destination) CreateDir(relPath string, perm uint16) error {
	full, err := resolveWithin(d.root, relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, os.FileMode(perm)); err != nil {
		return fmt.Errorf("creating directory %s: %w", relPath, err)
	}
	// MkdirAll leaves a pre-existing directory's mode alone and applies the
	// umask to one it creates; force perm either way.
	if err := os.Chmod(full, os.FileMode(perm)); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", relPath, err)
	}
	return nil
}

// CreateFile implements transport.FileSink.
func (d *Destination) CreateFile(relPath string, perm uint16, expectedSize uint64) (io.WriteCloser, error) {
	full, err := resolveWithin(d.root, relPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent directory for %s: %w", relPath, err)
	}

	tmp := full + ".part"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(perm))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", tmp, err)
	}
	return &atomicFile{f: f, tmpPath: tmp, finalPath: full}, nil
}

// SetMtime implements transport.FileSink.
func (d *Destination) SetMtime(relPath string, mtime float64) error {
	full, err := resolveWithin(d.root, relPath)
	if err != nil {
		return err
	}
	t := time.Unix(0, int64(mtime*1e9))
	if err := os.Chtimes(full, t, t); err != nil {
		return fmt.Errorf("setting mtime on %s: %w", relPath, err)
	}
	return nil
}

// Abort implements transport.FileSink. It closes w's underlying file
// without the rename Close would otherwise perform, then removes the
// partial file.
func (d *Destination) Abort(w io.WriteCloser, relPath string) error {
	af, ok := w.(*atomicFile)
	if !ok {
		return fmt.Errorf("abort: writer for %s was not opened by this Destination", relPath)
	}
	if err := af.f.Close(); err != nil {
		return fmt.Errorf("closing partial file %s: %w", af.tmpPath, err)
	}
	if err := os.Remove(af.tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing partial file %s: %w", af.tmpPath, err)
	}
	return nil
}

// atomicFile writes to a `.part` file and renames it into place on Close.
type atomicFile struct {
	f         *os.File
	tmpPath   string
	finalPath string
}

func (a *atomicFile) Write(p []byte) (int, error) {
	return a.f.Write(p)
}

func (a *atomicFile) Close() error {
	if err := a.f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", a.tmpPath, err)
	}
	if err := os.Rename(a.tmpPath, a.finalPath); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", a.tmpPath, a.finalPath, err)
	}
	return nil
}

var _ transport.FileSink = (*Destination)(nil)
