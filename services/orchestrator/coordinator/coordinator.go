// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coordinator fans in the two per-question inputs — converted audio
// and transcript — and emits QUESTION_ANALYSIS_READY once both have arrived.
//
// The broker delivers at-least-once and in no particular order, so both
// entry points follow the same protocol: load-or-create the question's
// state under a lock, record the arriving side, and emit exactly once when
// both sides are present. A side that arrived with an error still counts as
// arrived; the ready event then carries the error so downstream stages can
// short-circuit instead of waiting forever.
//
// State for a question is removed after emission. A redelivery that lands
// after removal creates fresh state and may emit again; downstream
// idempotence (the analysis orchestrator's emitted_complete flag) absorbs
// the re-emission.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
	"github.com/AleutianAI/speechassess/services/orchestrator/eventbus"
)

// DefaultMaxStateAge bounds how long a half-complete question waits for its
// other side before the purge sweep discards it.
const DefaultMaxStateAge = 2 * time.Hour

type questionKey struct {
	submissionURL  string
	questionNumber int
}

// state is the coordination record for one question.
type state struct {
	mu        sync.Mutex
	createdAt time.Time

	audioReady bool
	audio      datatypes.AudioConversionDone

	transcriptReady bool
	transcript      datatypes.TranscriptionDone

	emitted bool
}

// Coordinator holds the per-question coordination map.
type Coordinator struct {
	bus    eventbus.Publisher
	maxAge time.Duration
	now    func() time.Time

	mu     sync.Mutex
	states map[questionKey]*state
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithMaxStateAge overrides the purge bound for half-complete questions.
func WithMaxStateAge(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator publishing ready events on the given bus.
func New(bus eventbus.Publisher, opts ...Option) *Coordinator {
	c := &Coordinator{
		bus:    bus,
		maxAge: DefaultMaxStateAge,
		now:    time.Now,
		states: make(map[questionKey]*state),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) getOrCreate(key questionKey) *state {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[key]
	if !ok {
		st = &state{createdAt: c.now()}
		c.states[key] = st
	}
	return st
}

func (c *Coordinator) remove(key questionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, key)
}

// HandleAudioDone records the audio side for a question and emits the ready
// event when the transcript side has already arrived. An arrival that still
// holds the state of an emitted question is discarded; one that lands after
// the state was removed starts fresh state (see the package comment).
func (c *Coordinator) HandleAudioDone(ctx context.Context, msg datatypes.AudioConversionDone) {
	key := questionKey{msg.SubmissionURL, msg.QuestionNumber}
	st := c.getOrCreate(key)

	st.mu.Lock()
	if st.emitted {
		st.mu.Unlock()
		slog.Debug("duplicate audio-done after emission",
			"submission_url", msg.SubmissionURL,
			"question_number", msg.QuestionNumber,
		)
		return
	}
	st.audioReady = true
	st.audio = msg
	ready := c.readyLocked(st)
	st.mu.Unlock()

	slog.Info("audio side recorded",
		"submission_url", msg.SubmissionURL,
		"question_number", msg.QuestionNumber,
		"has_error", msg.Error != "",
	)

	if ready != nil {
		c.emit(ctx, key, *ready)
	}
}

// HandleTranscriptionDone records the transcript side for a question and
// emits the ready event when the audio side has already arrived.
func (c *Coordinator) HandleTranscriptionDone(ctx context.Context, msg datatypes.TranscriptionDone) {
	key := questionKey{msg.SubmissionURL, msg.QuestionNumber}
	st := c.getOrCreate(key)

	st.mu.Lock()
	if st.emitted {
		st.mu.Unlock()
		slog.Debug("duplicate transcription-done after emission",
			"submission_url", msg.SubmissionURL,
			"question_number", msg.QuestionNumber,
		)
		return
	}
	st.transcriptReady = true
	st.transcript = msg
	ready := c.readyLocked(st)
	st.mu.Unlock()

	slog.Info("transcript side recorded",
		"submission_url", msg.SubmissionURL,
		"question_number", msg.QuestionNumber,
		"has_error", msg.Error != "",
	)

	if ready != nil {
		c.emit(ctx, key, *ready)
	}
}

// readyLocked checks the fan-in condition and, when met, claims the single
// emission and builds the ready payload. Called with st.mu held; the
// publish itself happens outside the lock.
func (c *Coordinator) readyLocked(st *state) *datatypes.QuestionAnalysisReady {
	if !st.audioReady || !st.transcriptReady || st.emitted {
		return nil
	}
	st.emitted = true

	total := st.audio.TotalQuestions
	if total == 0 {
		total = st.transcript.TotalQuestions
	}
	if total == 0 {
		total = 1
	}

	return &datatypes.QuestionAnalysisReady{
		SubmissionURL:   st.audio.SubmissionURL,
		QuestionNumber:  st.audio.QuestionNumber,
		TotalQuestions:  total,
		SessionID:       st.audio.SessionID,
		WavPath:         st.audio.WavPath,
		AudioDuration:   st.audio.AudioDuration,
		AudioURL:        st.audio.OriginalAudioURL,
		Transcript:      st.transcript.Transcript,
		WordDetails:     st.transcript.WordDetails,
		AudioError:      st.audio.Error,
		TranscriptError: st.transcript.Error,
	}
}

func (c *Coordinator) emit(ctx context.Context, key questionKey, ready datatypes.QuestionAnalysisReady) {
	// Best-effort: a failed publish is recovered by broker redelivery of
	// the triggering message, which recreates the state and emits again.
	_ = c.bus.Publish(ctx, eventbus.TopicQuestionAnalysisReady, ready)
	slog.Info("question analysis ready",
		"submission_url", ready.SubmissionURL,
		"question_number", ready.QuestionNumber,
		"audio_error", ready.AudioError,
		"transcript_error", ready.TranscriptError,
	)
	c.remove(key)
}

// PurgeStale discards half-complete question states older than the
// configured bound and returns how many were removed. Wired into the
// maintenance scheduler.
func (c *Coordinator) PurgeStale(_ context.Context) (int, error) {
	cutoff := c.now().Add(-c.maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()
	purged := 0
	for key, st := range c.states {
		if st.createdAt.Before(cutoff) {
			delete(c.states, key)
			purged++
			slog.Warn("purged stale coordination state",
				"submission_url", key.submissionURL,
				"question_number", key.questionNumber,
			)
		}
	}
	return purged, nil
}

// PendingCount returns the number of questions still awaiting fan-in.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}
