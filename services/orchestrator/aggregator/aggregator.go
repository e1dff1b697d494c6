// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregator fans in per-question completions and finalizes a
// submission once every question has a stored result.
//
// Finalization is a one-shot act: the results store arbitrates a single
// claim, the database write retries in-process with bounded exponential
// backoff, and the terminal SUBMISSION_ANALYSIS_COMPLETE event is published
// at most once per finalize. A submission whose sub-results are all errors
// still finalizes — partial failure is reported, never a blocker.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/speechassess/services/database"
	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
	"github.com/AleutianAI/speechassess/services/orchestrator/eventbus"
	"github.com/AleutianAI/speechassess/services/orchestrator/filesession"
	"github.com/AleutianAI/speechassess/services/orchestrator/observability"
	"github.com/AleutianAI/speechassess/services/orchestrator/resultstore"
)

// Duration feedback messages. The ratio compares spoken seconds to the
// question's allotted minutes.
const (
	feedbackShort    = "Did not speak that much."
	feedbackLonger   = "User spoke longer."
	feedbackExceeded = "User exceeded the time limit."
)

// persistAttempts and persistBaseDelay bound the in-process database retry:
// 3 attempts, waiting 100 ms and then 400 ms between them.
const (
	persistAttempts  = 3
	persistBaseDelay = 100 * time.Millisecond
)

// Aggregator collects question completions per submission.
type Aggregator struct {
	store *resultstore.Store
	db    database.Store
	bus   eventbus.Publisher
	files *filesession.Manager

	sleep func(time.Duration)
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithSleep overrides the backoff sleep. Tests use this to avoid real
// delays.
func WithSleep(sleep func(time.Duration)) Option {
	return func(a *Aggregator) { a.sleep = sleep }
}

// New creates an Aggregator.
func New(store *resultstore.Store, db database.Store, bus eventbus.Publisher, files *filesession.Manager, opts ...Option) *Aggregator {
	a := &Aggregator{
		store: store,
		db:    db,
		bus:   bus,
		files: files,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HandleAnalysisComplete stores one question result and finalizes the
// submission when it was the last one. Safe under duplicate delivery: the
// store's idempotence rules drop the write and the finalize claim is
// single-shot.
func (a *Aggregator) HandleAnalysisComplete(ctx context.Context, msg datatypes.AnalysisComplete) {
	stored := a.store.Put(msg.SubmissionURL, msg.QuestionNumber, msg.TotalQuestions, msg.Result)

	slog.Info("question result recorded",
		"submission_url", msg.SubmissionURL,
		"question_number", msg.QuestionNumber,
		"stored", stored,
		"total_questions", msg.TotalQuestions,
	)

	if stored < msg.TotalQuestions {
		return
	}
	if !a.store.BeginFinalize(msg.SubmissionURL) {
		return
	}
	a.finalize(ctx, msg.SubmissionURL, msg.TotalQuestions)
}

// finalize composes the final payload, persists it, and publishes the
// terminal event. Called only by the holder of the finalize claim; all
// I/O happens outside store locks.
func (a *Aggregator) finalize(ctx context.Context, submissionURL string, totalQuestions int) {
	results, err := a.store.GetTransformed(submissionURL)
	if err != nil {
		slog.Error("finalize aborted, aggregate vanished", "submission_url", submissionURL, "error", err)
		a.store.AbortFinalize(submissionURL)
		return
	}

	for i := range results {
		results[i].DurationFeedback = a.durationFeedback(ctx, submissionURL, results[i])
	}

	payload := datatypes.SubmissionAnalysisComplete{
		SubmissionURL:  submissionURL,
		TotalQuestions: totalQuestions,
		Status:         "completed",
		Results:        results,
	}

	if err := a.persistWithRetry(ctx, submissionURL, payload); err != nil {
		slog.Error("submission finalization failed",
			"submission_url", submissionURL,
			"error", err,
		)
		// The claim is released so a manual retry or redelivery can re-run
		// the step; finalized stays false.
		a.store.AbortFinalize(submissionURL)

		alert := payload
		alert.Status = "finalization_failed"
		_ = a.bus.Publish(ctx, eventbus.TopicSubmissionAnalysisComplete, alert)
		if m := observability.Default(); m != nil {
			m.RecordFinalization("finalization_failed")
		}
		return
	}

	a.store.CompleteFinalize(submissionURL)
	_ = a.bus.Publish(ctx, eventbus.TopicSubmissionAnalysisComplete, payload)
	if m := observability.Default(); m != nil {
		m.RecordFinalization("completed")
	}

	slog.Info("submission finalized",
		"submission_url", submissionURL,
		"questions", len(results),
	)

	// Safety net: any file session still open for these questions is
	// reclaimed now that nothing will consume the audio again.
	for _, r := range results {
		if r.SessionID != "" {
			a.files.ForceCleanup(r.SessionID)
		}
	}
}

// persistWithRetry writes the final payload with bounded exponential
// backoff (100 ms, then 400 ms between the three attempts).
func (a *Aggregator) persistWithRetry(ctx context.Context, submissionURL string, payload datatypes.SubmissionAnalysisComplete) error {
	var err error
	delay := persistBaseDelay
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		err = a.db.InsertSubmissionResults(ctx, submissionURL, payload)
		if err == nil {
			return nil
		}
		slog.Warn("submission persist attempt failed",
			"submission_url", submissionURL,
			"attempt", attempt,
			"max_attempts", persistAttempts,
			"error", err,
		)
		if attempt < persistAttempts {
			a.sleep(delay)
			delay *= 4
		}
	}
	return err
}

// durationFeedback compares the question's spoken duration against its
// configured time limit. Ratio boundaries are inclusive on the "longer"
// band: r < 50 is short, 50 <= r <= 100 is longer, r > 100 exceeded.
func (a *Aggregator) durationFeedback(ctx context.Context, submissionURL string, r datatypes.QuestionResult) datatypes.SubResult {
	limit, err := a.db.QuestionTimeLimit(ctx, submissionURL, r.QuestionNumber)
	if err != nil {
		if !errors.Is(err, database.ErrNoTimeLimit) {
			slog.Warn("time limit lookup failed",
				"submission_url", submissionURL,
				"question_number", r.QuestionNumber,
				"error", err,
			)
		}
		return datatypes.ErrorSub("no_time_limit")
	}
	return FeedbackForRatio(r.AudioDuration, limit)
}

// FeedbackForRatio maps spoken seconds against a limit in minutes onto the
// three feedback messages. Exported so the direct analysis endpoints can
// reuse the exact rule.
func FeedbackForRatio(durationSeconds, limitMinutes float64) datatypes.SubResult {
	if limitMinutes <= 0 {
		return datatypes.ErrorSub("no_time_limit")
	}
	ratio := durationSeconds / (60 * limitMinutes) * 100

	var message string
	switch {
	case ratio < 50:
		message = feedbackShort
	case ratio <= 100:
		message = feedbackLonger
	default:
		message = feedbackExceeded
	}
	return datatypes.SubResult{"message": message, "ratio": ratio}
}
