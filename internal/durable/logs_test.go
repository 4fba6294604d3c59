// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package durable

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Test that Append records one patch entry and one entry per source, and that
// Clone detaches the copy from later mutation.
func TestLogsAppendClone(t *testing.T) {
	l := NewLogs()
	l.Append([]int32{3, 7}, "task-a")
	l.Append([]int32{7}, "task-b")

	if len(l.PatchLog) != 2 {
		t.Fatalf("got %d patch entries, want 2", len(l.PatchLog))
	}
	if len(l.SourceLog[3]) != 1 || len(l.SourceLog[7]) != 2 {
		t.Fatalf("per-source entries are %d and %d, want 1 and 2", len(l.SourceLog[3]), len(l.SourceLog[7]))
	}
	if !strings.Contains(l.SourceLog[7][1], "task-b") {
		t.Fatalf("entry %q should carry the task id", l.SourceLog[7][1])
	}

	c := l.Clone()
	l.Append([]int32{3}, "task-c")
	if len(c.PatchLog) != 2 || len(c.SourceLog[3]) != 1 {
		t.Fatal("clone should not see appends made after it was taken")
	}
}

// Test the sidecar path derivation.
func TestLogPath(t *testing.T) {
	if got := LogPath("/tmp/scene.db"); got != "/tmp/scene_log.json" {
		t.Fatalf("log path for /tmp/scene.db is %q", got)
	}
	if got := LogPath("scene"); got != "scene_log.json" {
		t.Fatalf("log path for a bare name is %q", got)
	}
}

// Test that a missing or unreadable sidecar degrades to empty logs instead of
// failing the whole snapshot load.
func TestLoadLogsFallback(t *testing.T) {
	dir := t.TempDir()

	l := loadLogs(filepath.Join(dir, "absent_log.json"))
	if l == nil || len(l.PatchLog) != 0 {
		t.Fatal("missing sidecar should load as empty logs")
	}

	bad := filepath.Join(dir, "bad_log.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0600); err != nil {
		t.Fatalf("failed to write bad sidecar: %s", err)
	}
	l = loadLogs(bad)
	if l == nil || len(l.PatchLog) != 0 {
		t.Fatal("unreadable sidecar should load as empty logs")
	}
	if l.SourceLog == nil {
		t.Fatal("fallback logs should be appendable")
	}
}

// Test that the sidecar is valid JSON on disk.
func TestLogsSidecarFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.db")
	l := NewLogs()
	l.Append([]int32{1}, "task-a")
	if err := saveLogs(LogPath(path), l); err != nil {
		t.Fatalf("failed to save sidecar: %s", err)
	}
	data, err := os.ReadFile(LogPath(path))
	if err != nil {
		t.Fatalf("failed to read sidecar: %s", err)
	}
	if !strings.Contains(string(data), "\"patchlog\"") {
		t.Fatalf("sidecar does not look like the expected JSON: %s", data)
	}
	got := loadLogs(LogPath(path))
	if len(got.PatchLog) != 1 || len(got.SourceLog[1]) != 1 {
		t.Fatal("sidecar did not roundtrip")
	}
}
