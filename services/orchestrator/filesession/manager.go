// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filesession tracks the lifetime of transcoded audio files.
//
// A file session covers one WAV file from the moment the audio service
// finishes conversion until every downstream service that needs local access
// has reported completion. The last completion (or a timeout, or a forced
// cleanup) deletes the file exactly once and flips the session to
// cleanup_completed, a terminal state.
//
// The manager's index is guarded by a single mutex; file deletions happen
// outside it. Filesystem errors during deletion are logged and swallowed
// with the session still marked complete, so a bad disk never turns into a
// retry storm.
package filesession

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/speechassess/services/orchestrator/observability"
)

// DefaultCleanupTimeout is how long a session may stay open before the
// periodic sweep reclaims it.
const DefaultCleanupTimeout = 30 * time.Minute

var (
	// ErrSessionExists indicates a second Register call for a session id.
	// Registration is monotonic; the caller logs this and keeps the first.
	ErrSessionExists = errors.New("file session already registered")

	// ErrFileMissing indicates Register was called for a path that does
	// not exist.
	ErrFileMissing = errors.New("file does not exist")
)

// SessionInfo is an observability snapshot of one session.
type SessionInfo struct {
	SessionID        string    `json:"session_id"`
	FilePath         string    `json:"file_path"`
	CreatedAt        time.Time `json:"created_at"`
	CleanupDeadline  time.Time `json:"cleanup_deadline"`
	Dependencies     []string  `json:"dependencies"`
	CleanupCompleted bool      `json:"cleanup_completed"`
}

// session is the internal mutable state for one tracked file.
type session struct {
	id               string
	filePath         string
	createdAt        time.Time
	cleanupDeadline  time.Time
	deps             map[string]struct{}
	cleaning         bool // a goroutine is deleting the file
	cleanupCompleted bool // terminal; never unset
}

// Manager owns all file sessions in the process.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	counter  atomic.Uint64
	now      func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Tests use this to drive timeouts
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateSessionID builds a unique session id for a question's audio file.
// The id embeds a hash of the submission key, the question number, the
// current timestamp, a monotonically increasing counter, and random entropy,
// so two calls with identical arguments never collide and a broker retry
// produces a distinguishable session.
func (m *Manager) GenerateSessionID(submissionURL string, questionNumber int) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(submissionURL))
	return fmt.Sprintf("session_%d_%d_%d_%d_%s",
		h.Sum32(),
		questionNumber,
		m.now().Unix(),
		m.counter.Add(1),
		uuid.NewString()[:8],
	)
}

// Register records a new session. The file must already exist on disk.
// Registering an id twice returns ErrSessionExists and leaves the first
// registration untouched.
func (m *Manager) Register(sessionID, filePath string, dependencies []string, cleanupTimeout time.Duration) error {
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("%w: %s", ErrFileMissing, filePath)
	}
	if cleanupTimeout <= 0 {
		cleanupTimeout = DefaultCleanupTimeout
	}

	deps := make(map[string]struct{}, len(dependencies))
	for _, d := range dependencies {
		deps[d] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[sessionID]; exists {
		slog.Error("duplicate file session registration", "session_id", sessionID)
		return fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	now := m.now()
	m.sessions[sessionID] = &session{
		id:              sessionID,
		filePath:        filePath,
		createdAt:       now,
		cleanupDeadline: now.Add(cleanupTimeout),
		deps:            deps,
	}
	slog.Info("file session registered",
		"session_id", sessionID,
		"file_path", filePath,
		"dependencies", dependencies,
	)
	return nil
}

// MarkServiceComplete removes serviceName from the session's pending
// dependency set. The last removal triggers the terminal cleanup: the file
// is deleted and the session flips to cleanup_completed. Calls for unknown
// sessions return false and have no effect; services that failed
// mid-analysis still call this so the file is never stranded.
func (m *Manager) MarkServiceComplete(sessionID, serviceName string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		slog.Warn("completion for unknown file session",
			"session_id", sessionID,
			"service", serviceName,
		)
		return false
	}
	delete(s.deps, serviceName)
	remaining := len(s.deps)
	cleanNow := remaining == 0 && !s.cleaning && !s.cleanupCompleted
	if cleanNow {
		s.cleaning = true
	}
	m.mu.Unlock()

	slog.Info("service completed for file session",
		"session_id", sessionID,
		"service", serviceName,
		"remaining", remaining,
	)

	if cleanNow {
		m.cleanup(s, "completed")
	}
	return true
}

// ForceCleanup performs the terminal cleanup immediately, regardless of
// pending dependencies. Invoked by operators and by the submission
// aggregator as a final safety net. Returns false for unknown sessions and
// is a benign no-op for sessions already cleaned.
func (m *Manager) ForceCleanup(sessionID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if s.cleaning || s.cleanupCompleted {
		m.mu.Unlock()
		return true
	}
	s.cleaning = true
	m.mu.Unlock()

	slog.Warn("forcing file session cleanup", "session_id", sessionID)
	m.cleanup(s, "forced")
	return true
}

// PeriodicCleanup force-cleans every session whose cleanup deadline has
// elapsed and returns how many were reclaimed. It also drops completed
// sessions past their deadline from the index so the map does not grow
// without bound. Deadlines are collected under the index lock; deletions
// happen outside it.
func (m *Manager) PeriodicCleanup(_ context.Context) (int, error) {
	now := m.now()

	m.mu.Lock()
	var expired []*session
	for id, s := range m.sessions {
		if !now.After(s.cleanupDeadline) {
			continue
		}
		if s.cleanupCompleted {
			delete(m.sessions, id)
			continue
		}
		if !s.cleaning {
			s.cleaning = true
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		slog.Warn("file session expired", "session_id", s.id, "file_path", s.filePath)
		m.cleanup(s, "expired")
	}
	return len(expired), nil
}

// GetSessionInfo returns a snapshot of one known session (active or
// completed), or false when the id is unknown.
func (m *Manager) GetSessionInfo(sessionID string) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return SessionInfo{}, false
	}
	return snapshot(s), true
}

// ActiveSessions returns snapshots of every session still awaiting its
// terminal cleanup.
func (m *Manager) ActiveSessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.cleanupCompleted {
			continue
		}
		out = append(out, snapshot(s))
	}
	return out
}

// ActiveCount returns the number of sessions awaiting cleanup.
func (m *Manager) ActiveCount() int {
	return len(m.ActiveSessions())
}

// cleanup deletes the session's file and marks the session terminal. Only
// one goroutine reaches this per session (guarded by the cleaning flag).
// A missing file is tolerated; other filesystem errors are logged and
// swallowed so the session still completes.
func (m *Manager) cleanup(s *session, reason string) {
	err := os.Remove(s.filePath)
	switch {
	case err == nil:
		slog.Info("file session cleaned up",
			"session_id", s.id,
			"file_path", s.filePath,
			"reason", reason,
		)
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("file already gone during cleanup", "session_id", s.id, "file_path", s.filePath)
	default:
		slog.Error("failed to delete session file",
			"session_id", s.id,
			"file_path", s.filePath,
			"error", err,
		)
	}
	if metrics := observability.Default(); metrics != nil {
		metrics.RecordSessionCleaned(reason)
	}

	m.mu.Lock()
	s.cleaning = false
	s.cleanupCompleted = true
	s.deps = nil
	m.mu.Unlock()
}

func snapshot(s *session) SessionInfo {
	deps := make([]string, 0, len(s.deps))
	for d := range s.deps {
		deps = append(deps, d)
	}
	return SessionInfo{
		SessionID:        s.id,
		FilePath:         s.filePath,
		CreatedAt:        s.createdAt,
		CleanupDeadline:  s.cleanupDeadline,
		Dependencies:     deps,
		CleanupCompleted: s.cleanupCompleted,
	}
}
