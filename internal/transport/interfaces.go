// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import "io"

// SourceEntry describes one directory or file a Sender enumerates from
// local storage. Directories carry no Size/MD5/Open; files carry all of
// them. Entries must be pre-order: a directory precedes its children.
type SourceEntry struct {
	RelPath string
	IsDir   bool
	Perm    uint16
	Size    uint64
	Mtime   float64
	MD5     [16]byte
	Open    func() (io.ReadCloser, error)
}

// FileSource is the chunk-producer boundary: everything the Sender needs
// from local storage, decoupled from any particular filesystem layout.
// fsio.Scanner is the default implementation.
type FileSource interface {
	Scan() ([]SourceEntry, error)
}

// FileSink is the chunk-consumer boundary: everything the Receiver needs
// to materialize a transfer on local storage. fsio.Destination is the
// default implementation.
type FileSink interface {
	// CreateDir makes relPath as a directory with the given permissions.
	CreateDir(relPath string, perm uint16) error
	// CreateFile opens relPath for writing with the given permissions,
	// sized to expectedSize as a hint. The returned writer's Close must
	// make the file visible at relPath only once fully written (atomic
	// commit), so a failed transfer never leaves a partial file in place
	// under the final name.
	CreateFile(relPath string, perm uint16, expectedSize uint64) (io.WriteCloser, error)
	// SetMtime is called once a file's content has been fully verified,
	// to restore the source's recorded modification time.
	SetMtime(relPath string, mtime float64) error
	// Abort discards whatever w (as returned by CreateFile for relPath)
	// has staged, called when a file fails MD5 verification. Abort must
	// close w without running the commit-time rename CreateFile's Close
	// would otherwise perform.
	Abort(w io.WriteCloser, relPath string) error
}
