// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package protocol implements the fcp wire protocol: a 7-byte framed head
// (flag, CRC32, length) followed by a flag-specific body, and the
// constructors/decoders for every packet kind exchanged between client and
// server.
package protocol

import "fmt"

// Flag identifies the kind of a Packet. It is encoded as a single byte on
// the wire.
type Flag byte

// The closed set of packet kinds. Any other byte value is a protocol error.
const (
	FlagPull Flag = iota
	FlagPush
	FlagSID
	FlagAttach
	FlagFileCount
	FlagDirInfo
	FlagFileInfo
	FlagFileReady
	FlagFileChunk
	FlagDone
	FlagResend
)

func (f Flag) String() string {
	switch f {
	case FlagPull:
		return "PULL"
	case FlagPush:
		return "PUSH"
	case FlagSID:
		return "SID"
	case FlagAttach:
		return "ATTACH"
	case FlagFileCount:
		return "FILE_COUNT"
	case FlagDirInfo:
		return "DIR_INFO"
	case FlagFileInfo:
		return "FILE_INFO"
	case FlagFileReady:
		return "FILE_READY"
	case FlagFileChunk:
		return "FILE_CHUNK"
	case FlagDone:
		return "DONE"
	case FlagResend:
		return "RESEND"
	default:
		return fmt.Sprintf("Flag(%d)", byte(f))
	}
}

// Valid reports whether f belongs to the closed set of known flags.
func (f Flag) Valid() bool {
	return f <= FlagResend
}

// Contains mirrors the Python source's Flag.contains check and reports the
// same as f.Valid(). Frame readers in this module reject unknown flags
// through UnpackHead rather than calling it.
func Contains(f Flag) bool {
	return f.Valid()
}
