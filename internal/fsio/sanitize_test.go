// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fsio

import "testing"

func TestDestination_RejectsPathEscapingRoot(t *testing.T) {
	root := t.TempDir()
	d, err := NewDestination(root)
	if err != nil {
		t.Fatalf("NewDestination: %v", err)
	}

	cases := []string{"../escape.txt", "a/../../escape.txt", "../../etc/passwd"}
	for _, rel := range cases {
		if err := d.CreateDir(rel, 0o755); err == nil {
			t.Errorf("CreateDir(%q): expected error, got nil", rel)
		}
		if _, err := d.CreateFile(rel, 0o644, 0); err == nil {
			t.Errorf("CreateFile(%q): expected error, got nil", rel)
		}
	}
}

func TestDestination_AllowsNestedRelativePath(t *testing.T) {
	root := t.TempDir()
	d, err := NewDestination(root)
	if err != nil {
		t.Fatalf("NewDestination: %v", err)
	}
	if err := d.CreateDir("a/b/c", 0o755); err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	w, err := d.CreateFile("a/b/c/file.txt", 0o644, 0)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if _, err := w.Write([]byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
