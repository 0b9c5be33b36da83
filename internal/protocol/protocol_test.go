// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"testing"
)

func TestPacket_FrameRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
	}{
		{"PULL", NewPullPacket("user@host:/srv/data")},
		{"PUSH", NewPushPacket("/srv/data")},
		{"SID", NewSIDPacket(42)},
		{"ATTACH", NewAttachPacket(42)},
		{"FILE_COUNT zero", NewFileCountPacket(0)},
		{"FILE_COUNT max", NewFileCountPacket(65535)},
		{"FILE_READY", NewFileReadyPacket(7)},
		{"DIR_INFO", NewDirInfoPacket(3, 0755, "d")},
		{"FILE_INFO", NewFileInfoPacket(1, 0644, 6, 1700000000.0, md5Of("hello\n"), "a.txt")},
		{"FILE_CHUNK", NewFileChunkPacket(1, 0, []byte("hello\n"))},
		{"FILE_CHUNK empty", NewFileChunkPacket(1, 5, nil)},
		{"DONE", NewDonePacket()},
		{"RESEND", NewResendPacket(FlagFileChunk, 0xDEADBEEF, 128)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := tt.packet.Pack()
			if err != nil {
				t.Fatalf("Pack: %v", err)
			}

			flag, chksum, length, err := UnpackHead(buf[:LenHead])
			if err != nil {
				t.Fatalf("UnpackHead: %v", err)
			}
			if flag != tt.packet.Flag {
				t.Errorf("flag = %s, want %s", flag, tt.packet.Flag)
			}
			if int(length) != tt.packet.Length() {
				t.Errorf("length = %d, want %d", length, tt.packet.Length())
			}

			body := buf[LenHead:]
			got := Packet{Flag: flag, Body: body}
			if !got.IsValid(chksum) {
				t.Fatalf("checksum mismatch after round trip")
			}
			if !bytes.Equal(got.Body, tt.packet.Body) {
				t.Errorf("body = %x, want %x", got.Body, tt.packet.Body)
			}
		})
	}
}

func TestUnpackHead_RoundTrip(t *testing.T) {
	cases := []struct {
		flag    Flag
		chksum  uint32
		length  uint16
	}{
		{FlagPull, 0, 0},
		{FlagFileChunk, 0xFFFFFFFF, 65535},
		{FlagDone, 123456789, 4},
	}

	for _, c := range cases {
		head := make([]byte, LenHead)
		head[0] = byte(c.flag)
		head[1] = byte(c.chksum >> 24)
		head[2] = byte(c.chksum >> 16)
		head[3] = byte(c.chksum >> 8)
		head[4] = byte(c.chksum)
		head[5] = byte(c.length >> 8)
		head[6] = byte(c.length)

		flag, chksum, length, err := UnpackHead(head)
		if err != nil {
			t.Fatalf("UnpackHead: %v", err)
		}
		if flag != c.flag || chksum != c.chksum || length != c.length {
			t.Errorf("got (%s,%d,%d), want (%s,%d,%d)", flag, chksum, length, c.flag, c.chksum, c.length)
		}
	}
}

func TestUnpackHead_InvalidFlag(t *testing.T) {
	head := make([]byte, LenHead)
	head[0] = 0xFE // not in the closed set
	_, _, _, err := UnpackHead(head)
	if err != ErrInvalidFlag {
		t.Fatalf("expected ErrInvalidFlag, got %v", err)
	}
}

func TestChecksum_SingleBitFlipInvalidates(t *testing.T) {
	p := NewFileChunkPacket(1, 0, []byte("the quick brown fox"))
	chksum := p.Checksum()

	for i := range p.Body {
		for bit := 0; bit < 8; bit++ {
			flipped := make([]byte, len(p.Body))
			copy(flipped, p.Body)
			flipped[i] ^= 1 << bit
			corrupt := Packet{Flag: p.Flag, Body: flipped}
			if corrupt.IsValid(chksum) {
				t.Fatalf("bit flip at byte %d bit %d did not invalidate checksum", i, bit)
			}
		}
	}
}

func TestDecodeFileInfo_RoundTrip(t *testing.T) {
	md5 := md5Of("hello\n")
	p := NewFileInfoPacket(9, 0644, 6, 1700000000.0, md5, "nested/a.txt")

	fi, err := DecodeFileInfo(p.Body)
	if err != nil {
		t.Fatalf("DecodeFileInfo: %v", err)
	}
	if fi.FileID != 9 || fi.Perm != 0644 || fi.Size != 6 || fi.Mtime != 1700000000.0 {
		t.Errorf("unexpected fixed fields: %+v", fi)
	}
	if fi.MD5 != md5 {
		t.Errorf("md5 = %x, want %x", fi.MD5, md5)
	}
	if fi.Path != "nested/a.txt" {
		t.Errorf("path = %q", fi.Path)
	}
}

func TestDecodeFileChunk_RoundTrip(t *testing.T) {
	p := NewFileChunkPacket(4, 17, []byte{1, 2, 3, 4, 5})
	fc, err := DecodeFileChunk(p.Body)
	if err != nil {
		t.Fatalf("DecodeFileChunk: %v", err)
	}
	if fc.FileID != 4 || fc.Seq != 17 {
		t.Errorf("unexpected fields: %+v", fc)
	}
	if !bytes.Equal(fc.Chunk, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("chunk = %v", fc.Chunk)
	}
}

func TestDecodeDirInfo_RoundTrip(t *testing.T) {
	p := NewDirInfoPacket(2, 0755, "sub/dir")
	di, err := DecodeDirInfo(p.Body)
	if err != nil {
		t.Fatalf("DecodeDirInfo: %v", err)
	}
	if di.FileID != 2 || di.Perm != 0755 || di.Path != "sub/dir" {
		t.Errorf("unexpected fields: %+v", di)
	}
}

func TestDecodeResend_RoundTrip(t *testing.T) {
	p := NewResendPacket(FlagFileInfo, 777, 99)
	r, err := DecodeResend(p.Body)
	if err != nil {
		t.Fatalf("DecodeResend: %v", err)
	}
	if r.OriginalFlag != FlagFileInfo || r.OriginalChksum != 777 || r.OriginalLength != 99 {
		t.Errorf("unexpected fields: %+v", r)
	}
}

func TestDecodeDone(t *testing.T) {
	p := NewDonePacket()
	v, err := DecodeDone(p.Body)
	if err != nil {
		t.Fatalf("DecodeDone: %v", err)
	}
	if v != EOF {
		t.Errorf("DONE sentinel = %x, want %x", v, EOF)
	}
}

func TestWriteReadPacket_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	original := NewFileInfoPacket(1, 0644, 3, 42.5, md5Of("abc"), "a")

	if err := WritePacket(&buf, original); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}

	got, err := ReadPacket(&buf)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if got.Flag != original.Flag || !bytes.Equal(got.Body, original.Body) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, original)
	}
}

func TestReadPacket_ChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	p := NewFileChunkPacket(1, 0, []byte("data"))
	raw, _ := p.Pack()
	raw[LenHead] ^= 0xFF // corrupt first body byte without touching head checksum
	buf.Write(raw)

	if _, err := ReadPacket(&buf); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestRecvMsg_RetriesOnMismatchThenSucceeds(t *testing.T) {
	good := NewSIDPacket(99)
	goodRaw, _ := good.Pack()

	corrupt := make([]byte, len(goodRaw))
	copy(corrupt, goodRaw)
	corrupt[LenHead] ^= 0xFF // flip a body bit, head checksum now stale

	var input bytes.Buffer
	input.Write(corrupt)
	input.Write(goodRaw)

	var output bytes.Buffer
	got, err := RecvMsg(&input, &output, 3)
	if err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}
	if got.Flag != FlagSID {
		t.Fatalf("flag = %s", got.Flag)
	}

	// A single RESEND must have been written back for the corrupted frame.
	resendPkt, err := ReadPacket(&output)
	if err != nil {
		t.Fatalf("decoding RESEND sent by RecvMsg: %v", err)
	}
	if resendPkt.Flag != FlagResend {
		t.Fatalf("expected RESEND, got %s", resendPkt.Flag)
	}
}

func TestRecvMsg_ExceedsRetries(t *testing.T) {
	p := NewSIDPacket(1)
	raw, _ := p.Pack()
	raw[LenHead] ^= 0xFF

	var input bytes.Buffer
	for i := 0; i < 3; i++ {
		input.Write(raw)
	}

	var output bytes.Buffer
	if _, err := RecvMsg(&input, &output, 2); err == nil {
		t.Fatal("expected error after exceeding retries")
	}
}

func md5Of(s string) [16]byte {
	// Local helper avoids importing crypto/md5 into every test case above;
	// kept trivial since tests only need a stable, distinguishable value.
	var out [16]byte
	sum := 0
	for i, c := range []byte(s) {
		out[i%16] ^= c
		sum += int(c)
	}
	out[15] = byte(sum)
	return out
}
