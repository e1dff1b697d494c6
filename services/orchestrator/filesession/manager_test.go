// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filesession

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempWav(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(path, []byte("RIFFfake"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestGenerateSessionID_Unique(t *testing.T) {
	m := NewManager()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := m.GenerateSessionID("sub-1", 1)
		if seen[id] {
			t.Fatalf("duplicate session id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestRegister(t *testing.T) {
	t.Run("rejects missing file", func(t *testing.T) {
		m := NewManager()
		err := m.Register("s1", "/nonexistent/audio.wav", []string{"pronunciation"}, 0)
		if !errors.Is(err, ErrFileMissing) {
			t.Fatalf("expected ErrFileMissing, got %v", err)
		}
	})

	t.Run("rejects duplicate registration", func(t *testing.T) {
		m := NewManager()
		path := tempWav(t)
		if err := m.Register("s1", path, []string{"pronunciation"}, 0); err != nil {
			t.Fatalf("first registration: %v", err)
		}
		err := m.Register("s1", path, []string{"pronunciation"}, 0)
		if !errors.Is(err, ErrSessionExists) {
			t.Fatalf("expected ErrSessionExists, got %v", err)
		}
	})
}

func TestMarkServiceComplete_Lifecycle(t *testing.T) {
	m := NewManager()
	path := tempWav(t)
	if err := m.Register("s1", path, []string{"pronunciation", "fluency"}, 0); err != nil {
		t.Fatalf("register: %v", err)
	}

	if !m.MarkServiceComplete("s1", "pronunciation") {
		t.Fatal("completion for known session should be accepted")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("file must survive while fluency is still pending")
	}

	if !m.MarkServiceComplete("s1", "fluency") {
		t.Fatal("second completion should be accepted")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("file should be deleted after the last dependency completes")
	}

	info, ok := m.GetSessionInfo("s1")
	if !ok {
		t.Fatal("completed session should remain queryable")
	}
	if !info.CleanupCompleted {
		t.Error("cleanup_completed should be true after terminal cleanup")
	}
	if len(m.ActiveSessions()) != 0 {
		t.Error("completed session should not be listed as active")
	}

	// Further completions are benign no-ops.
	if !m.MarkServiceComplete("s1", "pronunciation") {
		t.Error("duplicate completion should still be accepted")
	}
}

func TestMarkServiceComplete_UnknownSession(t *testing.T) {
	m := NewManager()
	if m.MarkServiceComplete("ghost", "pronunciation") {
		t.Fatal("unknown session must return a benign negative")
	}
}

func TestForceCleanup(t *testing.T) {
	m := NewManager()
	path := tempWav(t)
	if err := m.Register("s1", path, []string{"pronunciation"}, 0); err != nil {
		t.Fatalf("register: %v", err)
	}

	if !m.ForceCleanup("s1") {
		t.Fatal("force cleanup of known session should succeed")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("file should be deleted by force cleanup")
	}
	if m.ForceCleanup("ghost") {
		t.Error("force cleanup of unknown session should return false")
	}
	// Idempotent on an already-cleaned session.
	if !m.ForceCleanup("s1") {
		t.Error("second force cleanup should be a benign no-op")
	}
}

func TestForceCleanup_ToleratesMissingFile(t *testing.T) {
	m := NewManager()
	path := tempWav(t)
	if err := m.Register("s1", path, []string{"pronunciation"}, 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if !m.ForceCleanup("s1") {
		t.Fatal("cleanup should succeed even when the file is already gone")
	}
	info, _ := m.GetSessionInfo("s1")
	if !info.CleanupCompleted {
		t.Error("session should be marked complete despite missing file")
	}
}

func TestPeriodicCleanup_Timeout(t *testing.T) {
	current := time.Now()
	m := NewManager(WithClock(func() time.Time { return current }))

	path := tempWav(t)
	if err := m.Register("s1", path, []string{"pronunciation"}, time.Minute); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Before the deadline nothing is reclaimed.
	n, err := m.PeriodicCleanup(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected no expirations, got n=%d err=%v", n, err)
	}

	current = current.Add(2 * time.Minute)
	n, err = m.PeriodicCleanup(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one expiration, got n=%d err=%v", n, err)
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("expired session's file should be deleted")
	}
	info, ok := m.GetSessionInfo("s1")
	if !ok || !info.CleanupCompleted {
		t.Fatal("expired session should be marked cleanup_completed")
	}

	// A later sweep evicts the completed record entirely.
	current = current.Add(2 * time.Minute)
	if _, err := m.PeriodicCleanup(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, ok := m.GetSessionInfo("s1"); ok {
		t.Error("completed session past its deadline should be evicted")
	}
}
