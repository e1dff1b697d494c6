// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis runs the five analysis stages for one question.
//
// A QUESTION_ANALYSIS_READY event fans out into four concurrent stages
// (pronunciation, grammar, lexical, vocabulary); fluency is gated on
// pronunciation completion because it consumes pronunciation's word-level
// timing detail. Each stage moves pending → running → done{success|error}
// and never backtracks. Stage failures become {"error": ...} sub-results —
// the stage itself does not retry; redelivery of the triggering event is
// the retry mechanism, and the per-question emitted_complete flag keeps
// redelivered runs from double-counting.
//
// All stage calls run outside locks with a hard per-call timeout. After the
// last stage lands, the consolidated QuestionResult is written to the
// results store and ANALYSIS_COMPLETE is emitted exactly once per state
// lifetime.
package analysis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
	"github.com/AleutianAI/speechassess/services/orchestrator/eventbus"
	"github.com/AleutianAI/speechassess/services/orchestrator/filesession"
	"github.com/AleutianAI/speechassess/services/orchestrator/observability"
	"github.com/AleutianAI/speechassess/services/orchestrator/resultstore"
)

// Stage names. These double as service names in the file session manager
// and as the Service field of stage completion events.
const (
	StagePronunciation = "pronunciation"
	StageGrammar       = "grammar"
	StageLexical       = "lexical"
	StageVocabulary    = "vocabulary"
	StageFluency       = "fluency"
)

// DefaultStageTimeout bounds each outbound analyzer call.
const DefaultStageTimeout = 120 * time.Second

// AnalyzerSet supplies the five stage implementations. Injectable function
// types keep the orchestrator testable without network access.
type AnalyzerSet struct {
	Pronunciation func(ctx context.Context, wavPath, transcript string) (datatypes.SubResult, error)
	Grammar       func(ctx context.Context, transcript string) (datatypes.SubResult, error)
	Lexical       func(ctx context.Context, transcript string) (datatypes.SubResult, error)
	Vocabulary    func(ctx context.Context, transcript string) (datatypes.SubResult, error)
	Fluency       func(ctx context.Context, transcript string, words []datatypes.WordDetail) (datatypes.SubResult, error)
}

// Config holds orchestration tunables.
type Config struct {
	// StageTimeout is the hard per-stage timeout. Default: 120 s.
	StageTimeout time.Duration

	// FluencyUsesWAV marks fluency as a consumer of the local audio file.
	// Off by default: fluency is text-only and the file session dependency
	// set stays {pronunciation}.
	FluencyUsesWAV bool
}

// StageTiming exposes a stage's recorded start and completion instants.
// Used to verify the fluency gate ordering.
type StageTiming struct {
	StartedAt  time.Time
	FinishedAt time.Time
}

type stageStatus int

const (
	stagePending stageStatus = iota
	stageRunning
	stageDone
)

type stageRecord struct {
	status     stageStatus
	result     datatypes.SubResult
	startedAt  time.Time
	finishedAt time.Time
}

type questionKey struct {
	submissionURL  string
	questionNumber int
}

// state is the per-question analysis record. It is retained after
// completion so redelivered ready events hit the emitted_complete guard
// instead of re-running the stages; the purge sweep evicts old records.
type state struct {
	mu              sync.Mutex
	createdAt       time.Time
	ready           datatypes.QuestionAnalysisReady
	launched        bool
	stages          map[string]*stageRecord
	emittedComplete bool
}

// Orchestrator owns the per-question analysis map.
type Orchestrator struct {
	analyzers AnalyzerSet
	bus       eventbus.Publisher
	store     *resultstore.Store
	files     *filesession.Manager
	cfg       Config

	mu     sync.Mutex
	states map[questionKey]*state
	now    func() time.Time
}

// New creates an Orchestrator.
func New(analyzers AnalyzerSet, bus eventbus.Publisher, store *resultstore.Store, files *filesession.Manager, cfg Config) *Orchestrator {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	return &Orchestrator{
		analyzers: analyzers,
		bus:       bus,
		store:     store,
		files:     files,
		cfg:       cfg,
		states:    make(map[questionKey]*state),
		now:       time.Now,
	}
}

// HandleAnalysisReady launches the stage fan-out for a question. The call
// returns once the stages are launched; completion is reported through the
// event bus. Redelivered ready events for a question whose stages are
// already launched are discarded.
func (o *Orchestrator) HandleAnalysisReady(ctx context.Context, ready datatypes.QuestionAnalysisReady) {
	key := questionKey{ready.SubmissionURL, ready.QuestionNumber}

	o.mu.Lock()
	st, ok := o.states[key]
	if !ok {
		st = &state{createdAt: o.now(), stages: map[string]*stageRecord{
			StagePronunciation: {},
			StageGrammar:       {},
			StageLexical:       {},
			StageVocabulary:    {},
			StageFluency:       {},
		}}
		o.states[key] = st
	}
	o.mu.Unlock()

	st.mu.Lock()
	if st.launched {
		st.mu.Unlock()
		slog.Info("duplicate analysis-ready discarded",
			"submission_url", ready.SubmissionURL,
			"question_number", ready.QuestionNumber,
		)
		return
	}
	st.launched = true
	st.ready = ready
	st.mu.Unlock()

	slog.Info("launching analysis stages",
		"submission_url", ready.SubmissionURL,
		"question_number", ready.QuestionNumber,
		"audio_error", ready.AudioError,
		"transcript_error", ready.TranscriptError,
	)

	// The fan-out must outlive the webhook request that delivered the
	// ready event.
	bg := context.WithoutCancel(ctx)
	go o.run(bg, st)
}

// run executes the stage group and finalizes the question once every stage
// has recorded. Pronunciation and its dependent fluency share a goroutine;
// the other three run concurrently alongside.
func (o *Orchestrator) run(ctx context.Context, st *state) {
	ready := st.ready

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		o.runPronunciation(gctx, st, ready)
		o.runFluency(gctx, st, ready)
		return nil
	})
	g.Go(func() error {
		o.runTextStage(gctx, st, ready, StageGrammar, o.analyzers.Grammar)
		return nil
	})
	g.Go(func() error {
		o.runTextStage(gctx, st, ready, StageLexical, o.analyzers.Lexical)
		return nil
	})
	g.Go(func() error {
		o.runTextStage(gctx, st, ready, StageVocabulary, o.analyzers.Vocabulary)
		return nil
	})
	_ = g.Wait()

	o.finalize(ctx, st)
}

// runPronunciation executes the pronunciation stage and releases the WAV
// file dependency afterwards, success or not.
func (o *Orchestrator) runPronunciation(ctx context.Context, st *state, ready datatypes.QuestionAnalysisReady) {
	var result datatypes.SubResult
	switch {
	case ready.AudioError != "":
		o.beginStage(st, StagePronunciation)
		result = datatypes.ErrorSub(ready.AudioError)
	case ready.TranscriptError != "":
		o.beginStage(st, StagePronunciation)
		result = datatypes.ErrorSub(ready.TranscriptError)
	default:
		result = o.call(ctx, st, StagePronunciation, func(cctx context.Context) (datatypes.SubResult, error) {
			return o.analyzers.Pronunciation(cctx, ready.WavPath, ready.Transcript)
		})
	}
	o.completeStage(ctx, st, ready, StagePronunciation, result)

	if ready.SessionID != "" {
		o.files.MarkServiceComplete(ready.SessionID, StagePronunciation)
	}
}

// runFluency executes the fluency stage. It is only ever called after
// runPronunciation returns, which is the gate: fluency's recorded start
// time is never earlier than pronunciation's completion.
func (o *Orchestrator) runFluency(ctx context.Context, st *state, ready datatypes.QuestionAnalysisReady) {
	words := o.pronunciationWords(st)

	var result datatypes.SubResult
	switch {
	case ready.TranscriptError != "":
		o.beginStage(st, StageFluency)
		result = datatypes.ErrorSub(ready.TranscriptError)
	case len(words) == 0:
		o.beginStage(st, StageFluency)
		result = datatypes.ErrorSub("no_pronunciation_detail")
	default:
		result = o.call(ctx, st, StageFluency, func(cctx context.Context) (datatypes.SubResult, error) {
			return o.analyzers.Fluency(cctx, ready.Transcript, words)
		})
	}
	o.completeStage(ctx, st, ready, StageFluency, result)

	if o.cfg.FluencyUsesWAV && ready.SessionID != "" {
		o.files.MarkServiceComplete(ready.SessionID, StageFluency)
	}
}

// runTextStage executes one transcript-only stage.
func (o *Orchestrator) runTextStage(ctx context.Context, st *state, ready datatypes.QuestionAnalysisReady,
	name string, fn func(ctx context.Context, transcript string) (datatypes.SubResult, error)) {

	var result datatypes.SubResult
	if ready.TranscriptError != "" {
		o.beginStage(st, name)
		result = datatypes.ErrorSub(ready.TranscriptError)
	} else {
		result = o.call(ctx, st, name, func(cctx context.Context) (datatypes.SubResult, error) {
			return fn(cctx, ready.Transcript)
		})
	}
	o.completeStage(ctx, st, ready, name, result)
}

// call runs one analyzer with the stage timeout and normalizes its outcome.
// The analyzer call happens outside every lock.
func (o *Orchestrator) call(ctx context.Context, st *state, name string,
	fn func(ctx context.Context) (datatypes.SubResult, error)) datatypes.SubResult {

	o.beginStage(st, name)

	cctx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	result, err := fn(cctx)
	switch {
	case cctx.Err() != nil && ctx.Err() == nil:
		return datatypes.ErrorSub("timeout")
	case err != nil:
		return datatypes.ErrorSub(err.Error())
	case result == nil:
		return datatypes.ErrorSub("analyzer returned no result")
	}
	return result
}

// beginStage flips a stage to running and stamps its start time.
func (o *Orchestrator) beginStage(st *state, name string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	rec := st.stages[name]
	if rec.status == stagePending {
		rec.status = stageRunning
		rec.startedAt = time.Now()
	}
}

// completeStage records a stage result and publishes the stage completion
// event. State transitions are monotonic: a stage already done keeps its
// first result.
func (o *Orchestrator) completeStage(ctx context.Context, st *state, ready datatypes.QuestionAnalysisReady,
	name string, result datatypes.SubResult) {

	st.mu.Lock()
	rec := st.stages[name]
	if rec.status == stageDone {
		st.mu.Unlock()
		return
	}
	rec.status = stageDone
	rec.result = result
	rec.finishedAt = time.Now()
	duration := rec.finishedAt.Sub(rec.startedAt)
	st.mu.Unlock()

	status := "success"
	if result.IsError() {
		status = "error"
		slog.Warn("analysis stage failed",
			"stage", name,
			"submission_url", ready.SubmissionURL,
			"question_number", ready.QuestionNumber,
			"error", result.ErrorMessage(),
		)
	} else {
		slog.Info("analysis stage completed",
			"stage", name,
			"submission_url", ready.SubmissionURL,
			"question_number", ready.QuestionNumber,
			"duration_ms", duration.Milliseconds(),
		)
	}
	if m := observability.Default(); m != nil {
		m.ObserveStage(name, status, duration.Seconds())
	}

	_ = o.bus.Publish(ctx, stageTopic(name), datatypes.StageDone{
		SubmissionURL:  ready.SubmissionURL,
		QuestionNumber: ready.QuestionNumber,
		TotalQuestions: ready.TotalQuestions,
		Service:        name,
		Result:         result,
	})
}

// finalize emits ANALYSIS_COMPLETE once all five stages are done. The
// emitted_complete flag makes the emission single-shot per state lifetime
// even under redelivered ready events.
func (o *Orchestrator) finalize(ctx context.Context, st *state) {
	st.mu.Lock()
	for _, rec := range st.stages {
		if rec.status != stageDone {
			st.mu.Unlock()
			return
		}
	}
	if st.emittedComplete {
		st.mu.Unlock()
		return
	}
	st.emittedComplete = true

	ready := st.ready
	result := datatypes.QuestionResult{
		SubmissionURL:  ready.SubmissionURL,
		QuestionNumber: ready.QuestionNumber,
		SessionID:      ready.SessionID,
		Pronunciation:  st.stages[StagePronunciation].result,
		Grammar:        st.stages[StageGrammar].result,
		Lexical:        st.stages[StageLexical].result,
		Vocabulary:     st.stages[StageVocabulary].result,
		Fluency:        st.stages[StageFluency].result,
		Transcript:     ready.Transcript,
		AudioDuration:  ready.AudioDuration,
	}
	st.mu.Unlock()

	o.store.Put(ready.SubmissionURL, ready.QuestionNumber, ready.TotalQuestions, result)

	_ = o.bus.Publish(ctx, eventbus.TopicAnalysisComplete, datatypes.AnalysisComplete{
		SubmissionURL:  ready.SubmissionURL,
		QuestionNumber: ready.QuestionNumber,
		TotalQuestions: ready.TotalQuestions,
		Result:         result,
	})

	slog.Info("question analysis complete",
		"submission_url", ready.SubmissionURL,
		"question_number", ready.QuestionNumber,
	)
}

// PurgeStale evicts analysis records older than maxAge. Completed records
// linger only to absorb redeliveries, so a coarse bound is fine. Wired into
// the maintenance scheduler.
func (o *Orchestrator) PurgeStale(maxAge time.Duration) func(ctx context.Context) (int, error) {
	return func(_ context.Context) (int, error) {
		cutoff := o.now().Add(-maxAge)
		o.mu.Lock()
		defer o.mu.Unlock()
		purged := 0
		for key, st := range o.states {
			if st.createdAt.Before(cutoff) {
				delete(o.states, key)
				purged++
			}
		}
		return purged, nil
	}
}

// pronunciationWords extracts word-level detail from the recorded
// pronunciation result. An errored pronunciation run may still carry word
// detail, in which case the fluency gate opens normally.
func (o *Orchestrator) pronunciationWords(st *state) []datatypes.WordDetail {
	st.mu.Lock()
	defer st.mu.Unlock()
	rec := st.stages[StagePronunciation]
	if rec.result == nil {
		return nil
	}
	if words, ok := rec.result["word_details"].([]datatypes.WordDetail); ok {
		return words
	}
	return nil
}

// StageTimes returns the recorded timings for a question's stages, or nil
// when the question is unknown. Observability and test support.
func (o *Orchestrator) StageTimes(submissionURL string, questionNumber int) map[string]StageTiming {
	o.mu.Lock()
	st, ok := o.states[questionKey{submissionURL, questionNumber}]
	o.mu.Unlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]StageTiming, len(st.stages))
	for name, rec := range st.stages {
		out[name] = StageTiming{StartedAt: rec.startedAt, FinishedAt: rec.finishedAt}
	}
	return out
}

// stageTopic maps a stage name to its completion topic.
func stageTopic(name string) string {
	switch name {
	case StagePronunciation:
		return eventbus.TopicPronunciationDone
	case StageGrammar:
		return eventbus.TopicGrammarDone
	case StageLexical:
		return eventbus.TopicLexicalDone
	case StageVocabulary:
		return eventbus.TopicVocabularyDone
	case StageFluency:
		return eventbus.TopicFluencyDone
	}
	return name
}
