// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortFileInfoBody and ErrShortFileChunkBody flag bodies too small to
// contain their fixed-width prefix.
var (
	ErrShortFileInfoBody  = errors.New("protocol: FILE_INFO body shorter than fixed prefix")
	ErrShortFileChunkBody = errors.New("protocol: FILE_CHUNK body shorter than fixed prefix")
	ErrShortDirInfoBody   = errors.New("protocol: DIR_INFO body shorter than fixed prefix")
)

// NewPullPacket builds a PULL request carrying the remote path.
func NewPullPacket(remotePath string) Packet {
	return Packet{Flag: FlagPull, Body: []byte(remotePath)}
}

// NewPushPacket builds a PUSH request carrying the remote path.
func NewPushPacket(remotePath string) Packet {
	return Packet{Flag: FlagPush, Body: []byte(remotePath)}
}

// DecodePath decodes a PULL or PUSH body into its UTF-8 path string.
func DecodePath(body []byte) string {
	return string(body)
}

// NewSIDPacket builds the server's session-id reply to PULL/PUSH.
func NewSIDPacket(sid uint16) Packet {
	return Packet{Flag: FlagSID, Body: u16Body(sid)}
}

// NewAttachPacket builds an auxiliary socket's first packet, binding it to
// an existing session.
func NewAttachPacket(sid uint16) Packet {
	return Packet{Flag: FlagAttach, Body: u16Body(sid)}
}

// DecodeSID decodes a SID or ATTACH body into the 16-bit session id.
func DecodeSID(body []byte) (uint16, error) {
	return decodeU16(body)
}

// NewFileCountPacket announces how many regular files the session carries.
func NewFileCountPacket(n uint16) Packet {
	return Packet{Flag: FlagFileCount, Body: u16Body(n)}
}

// DecodeFileCount decodes a FILE_COUNT body.
func DecodeFileCount(body []byte) (uint16, error) {
	return decodeU16(body)
}

// NewFileReadyPacket signals the receiver is ready to accept chunks for
// fileID.
func NewFileReadyPacket(fileID uint16) Packet {
	return Packet{Flag: FlagFileReady, Body: u16Body(fileID)}
}

// DecodeFileReady decodes a FILE_READY body into the file id.
func DecodeFileReady(body []byte) (uint16, error) {
	return decodeU16(body)
}

// DirInfo is the decoded body of a DIR_INFO packet.
type DirInfo struct {
	FileID uint16
	Perm   uint16
	Path   string
}

// NewDirInfoPacket builds a DIR_INFO packet: u16 file_id | u16 perm | path.
func NewDirInfoPacket(fileID, perm uint16, relPath string) Packet {
	body := make([]byte, 4+len(relPath))
	binary.BigEndian.PutUint16(body[0:2], fileID)
	binary.BigEndian.PutUint16(body[2:4], perm)
	copy(body[4:], relPath)
	return Packet{Flag: FlagDirInfo, Body: body}
}

// DecodeDirInfo decodes a DIR_INFO body.
func DecodeDirInfo(body []byte) (DirInfo, error) {
	if len(body) < 4 {
		return DirInfo{}, ErrShortDirInfoBody
	}
	return DirInfo{
		FileID: binary.BigEndian.Uint16(body[0:2]),
		Perm:   binary.BigEndian.Uint16(body[2:4]),
		Path:   string(body[4:]),
	}, nil
}

// FileInfo is the decoded body of a FILE_INFO packet.
type FileInfo struct {
	FileID uint16
	Perm   uint16
	Size   uint64
	Mtime  float64
	MD5    [16]byte
	Path   string
}

// fileInfoFixedLen is the size of FILE_INFO's fixed-width prefix:
// file_id(2) + perm(2) + size(8) + mtime(8) + md5(16).
const fileInfoFixedLen = 2 + 2 + 8 + 8 + 16

// NewFileInfoPacket builds a FILE_INFO packet:
// u16 file_id | u16 perm | u64 size | f64 mtime | 16B md5 | path.
func NewFileInfoPacket(fileID, perm uint16, size uint64, mtime float64, md5 [16]byte, relPath string) Packet {
	body := make([]byte, fileInfoFixedLen+len(relPath))
	binary.BigEndian.PutUint16(body[0:2], fileID)
	binary.BigEndian.PutUint16(body[2:4], perm)
	binary.BigEndian.PutUint64(body[4:12], size)
	binary.BigEndian.PutUint64(body[12:20], math.Float64bits(mtime))
	copy(body[20:36], md5[:])
	copy(body[36:], relPath)
	return Packet{Flag: FlagFileInfo, Body: body}
}

// DecodeFileInfo decodes a FILE_INFO body.
func DecodeFileInfo(body []byte) (FileInfo, error) {
	if len(body) < fileInfoFixedLen {
		return FileInfo{}, ErrShortFileInfoBody
	}
	fi := FileInfo{
		FileID: binary.BigEndian.Uint16(body[0:2]),
		Perm:   binary.BigEndian.Uint16(body[2:4]),
		Size:   binary.BigEndian.Uint64(body[4:12]),
		Mtime:  math.Float64frombits(binary.BigEndian.Uint64(body[12:20])),
		Path:   string(body[36:]),
	}
	copy(fi.MD5[:], body[20:36])
	return fi, nil
}

// fileChunkFixedLen is the size of FILE_CHUNK's fixed-width prefix:
// file_id(2) + seq(4).
const fileChunkFixedLen = 2 + 4

// MaxChunkPayload is the largest chunk a single FILE_CHUNK packet can
// carry once its fixed prefix is accounted for, under MaxBodyLength.
const MaxChunkPayload = MaxBodyLength - fileChunkFixedLen

// NewFileChunkPacket builds a FILE_CHUNK packet: u16 file_id | u32 seq | chunk.
func NewFileChunkPacket(fileID uint16, seq uint32, chunk []byte) Packet {
	body := make([]byte, fileChunkFixedLen+len(chunk))
	binary.BigEndian.PutUint16(body[0:2], fileID)
	binary.BigEndian.PutUint32(body[2:6], seq)
	copy(body[6:], chunk)
	return Packet{Flag: FlagFileChunk, Body: body}
}

// FileChunk is the decoded body of a FILE_CHUNK packet. Chunk aliases the
// packet's body slice; callers that retain it across reuse must copy.
type FileChunk struct {
	FileID uint16
	Seq    uint32
	Chunk  []byte
}

// DecodeFileChunk decodes a FILE_CHUNK body.
func DecodeFileChunk(body []byte) (FileChunk, error) {
	if len(body) < fileChunkFixedLen {
		return FileChunk{}, ErrShortFileChunkBody
	}
	return FileChunk{
		FileID: binary.BigEndian.Uint16(body[0:2]),
		Seq:    binary.BigEndian.Uint32(body[2:6]),
		Chunk:  body[6:],
	}, nil
}

// NewDonePacket builds the end-of-transfer sentinel packet.
func NewDonePacket() Packet {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, EOF)
	return Packet{Flag: FlagDone, Body: body}
}

// DecodeDone decodes a DONE body into its sentinel value, for callers that
// want to assert it against protocol.EOF.
func DecodeDone(body []byte) (uint32, error) {
	return decodeU32(body)
}

// Resend is the decoded body of a RESEND packet, identifying the suspect
// frame the peer should retransmit.
type Resend struct {
	OriginalFlag   Flag
	OriginalChksum uint32
	OriginalLength uint16
}

// NewResendPacket builds a RESEND request naming the suspect frame by
// (flag, chksum, length).
func NewResendPacket(originalFlag Flag, originalChksum uint32, originalLength uint16) Packet {
	body := make([]byte, 7)
	body[0] = byte(originalFlag)
	binary.BigEndian.PutUint32(body[1:5], originalChksum)
	binary.BigEndian.PutUint16(body[5:7], originalLength)
	return Packet{Flag: FlagResend, Body: body}
}

// DecodeResend decodes a RESEND body.
func DecodeResend(body []byte) (Resend, error) {
	if len(body) != 7 {
		return Resend{}, ErrTruncatedBody
	}
	return Resend{
		OriginalFlag:   Flag(body[0]),
		OriginalChksum: binary.BigEndian.Uint32(body[1:5]),
		OriginalLength: binary.BigEndian.Uint16(body[5:7]),
	}, nil
}

func u16Body(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func decodeU16(body []byte) (uint16, error) {
	if len(body) != 2 {
		return 0, ErrTruncatedBody
	}
	return binary.BigEndian.Uint16(body), nil
}

func decodeU32(body []byte) (uint32, error) {
	if len(body) != 4 {
		return 0, ErrTruncatedBody
	}
	return binary.BigEndian.Uint32(body), nil
}
