// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/speechassess/services/orchestrator/aggregator"
	"github.com/AleutianAI/speechassess/services/orchestrator/analysis"
	"github.com/AleutianAI/speechassess/services/orchestrator/coordinator"
	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
	"github.com/AleutianAI/speechassess/services/orchestrator/eventbus"
)

// SubmissionProcessor is one side of the submission fan-out. The audio and
// transcription services both implement it.
type SubmissionProcessor interface {
	ProcessSubmission(ctx context.Context, msg datatypes.StudentSubmission) error
}

// Submit accepts a student submission and publishes STUDENT_SUBMISSION.
// The broker delivers it back to the student-submission webhook, which is
// where processing starts; submitting and processing stay decoupled so
// either side can be scaled or replayed on its own.
func Submit(bus eventbus.Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg datatypes.StudentSubmission
		if err := c.ShouldBindJSON(&msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := validate.Struct(&msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing required field: " + err.Error()})
			return
		}
		if len(msg.AudioURLs) != msg.TotalQuestions {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "total_questions must match the number of audio_urls",
			})
			return
		}

		slog.Info("submission accepted",
			"submission_url", msg.SubmissionURL,
			"total_questions", msg.TotalQuestions,
		)

		if err := bus.Publish(c.Request.Context(), eventbus.TopicStudentSubmission, msg); err != nil {
			// Nothing has been recorded yet; tell the caller to retry.
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue submission"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "submission accepted",
		})
	}
}

// StudentSubmission consumes STUDENT_SUBMISSION deliveries and starts
// audio conversion and transcription in parallel. Per-question failures
// surface as errored *_DONE events, so the delivery itself always acks.
func StudentSubmission(audio, transcribe SubmissionProcessor) gin.HandlerFunc {
	const route = "student-submission"
	return func(c *gin.Context) {
		var msg datatypes.StudentSubmission
		if !decodePayload(c, route, &msg) {
			return
		}

		g, gctx := errgroup.WithContext(c.Request.Context())
		g.Go(func() error { return audio.ProcessSubmission(gctx, msg) })
		g.Go(func() error { return transcribe.ProcessSubmission(gctx, msg) })
		if err := g.Wait(); err != nil {
			// Both processors report per-question failures via events;
			// an error here means neither side could even start.
			slog.Error("submission processing failed", "submission_url", msg.SubmissionURL, "error", err)
			recordWebhook(route, "error")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "submission processing failed"})
			return
		}
		respondOK(c, route, "audio and transcription processing started")
	}
}

// AudioConversionDone feeds the coordinator's audio side.
func AudioConversionDone(coord *coordinator.Coordinator) gin.HandlerFunc {
	const route = "audio-conversion-done"
	return func(c *gin.Context) {
		var msg datatypes.AudioConversionDone
		if !decodePayload(c, route, &msg) {
			return
		}
		coord.HandleAudioDone(c.Request.Context(), msg)
		respondOK(c, route, "audio conversion done processed")
	}
}

// TranscriptionDone feeds the coordinator's transcript side.
func TranscriptionDone(coord *coordinator.Coordinator) gin.HandlerFunc {
	const route = "transcription-done"
	return func(c *gin.Context) {
		var msg datatypes.TranscriptionDone
		if !decodePayload(c, route, &msg) {
			return
		}
		coord.HandleTranscriptionDone(c.Request.Context(), msg)
		respondOK(c, route, "transcription done processed")
	}
}

// QuestionAnalysisReady launches the analysis stage fan-out. The handler
// acks once the stages are launched; completion flows through the event
// bus.
func QuestionAnalysisReady(orch *analysis.Orchestrator) gin.HandlerFunc {
	const route = "question-analysis-ready"
	return func(c *gin.Context) {
		var msg datatypes.QuestionAnalysisReady
		if !decodePayload(c, route, &msg) {
			return
		}
		orch.HandleAnalysisReady(c.Request.Context(), msg)
		respondOK(c, route, "question analysis started")
	}
}

// StageDone acknowledges per-stage completion events. These routes exist
// for observability and external fluency gating; the in-process gate does
// not depend on them.
func StageDone(stage string) gin.HandlerFunc {
	route := stage + "-done"
	return func(c *gin.Context) {
		var msg datatypes.StageDone
		if !decodePayload(c, route, &msg) {
			return
		}
		slog.Info("stage completion observed",
			"stage", stage,
			"submission_url", msg.SubmissionURL,
			"question_number", msg.QuestionNumber,
			"has_error", msg.Result.IsError(),
		)
		respondOK(c, route, stage+" completion acknowledged")
	}
}

// AnalysisComplete feeds the submission aggregator.
func AnalysisComplete(agg *aggregator.Aggregator) gin.HandlerFunc {
	const route = "analysis-complete"
	return func(c *gin.Context) {
		var msg datatypes.AnalysisComplete
		if !decodePayload(c, route, &msg) {
			return
		}
		agg.HandleAnalysisComplete(c.Request.Context(), msg)
		respondOK(c, route, "analysis completion processed")
	}
}

// SubmissionAnalysisComplete is the terminal webhook. Nothing is left to
// drive; it logs the arrival and acks.
func SubmissionAnalysisComplete() gin.HandlerFunc {
	const route = "submission-analysis-complete"
	return func(c *gin.Context) {
		var msg datatypes.SubmissionAnalysisComplete
		if !decodePayload(c, route, &msg) {
			return
		}
		slog.Info("submission analysis complete",
			"submission_url", msg.SubmissionURL,
			"status", msg.Status,
			"questions", len(msg.Results),
		)
		respondOK(c, route, "submission completion acknowledged")
	}
}
