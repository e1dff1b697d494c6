// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/speechassess/services/orchestrator/aggregator"
	"github.com/AleutianAI/speechassess/services/orchestrator/analysis"
	"github.com/AleutianAI/speechassess/services/orchestrator/coordinator"
	"github.com/AleutianAI/speechassess/services/orchestrator/eventbus"
	"github.com/AleutianAI/speechassess/services/orchestrator/filesession"
	"github.com/AleutianAI/speechassess/services/orchestrator/handlers"
	"github.com/AleutianAI/speechassess/services/orchestrator/maintenance"
	"github.com/AleutianAI/speechassess/services/orchestrator/middleware"
	"github.com/AleutianAI/speechassess/services/orchestrator/resultstore"
)

// Deps carries everything the routes dispatch to.
type Deps struct {
	Bus         eventbus.Publisher
	Coordinator *coordinator.Coordinator
	Analysis    *analysis.Orchestrator
	Aggregator  *aggregator.Aggregator
	Store       *resultstore.Store
	Files       *filesession.Manager
	Scheduler   *maintenance.Scheduler
	Audio       handlers.SubmissionProcessor
	Transcribe  handlers.SubmissionProcessor
	Analyzers   analysis.AnalyzerSet
	EventHub    *handlers.EventHub

	// PushToken guards the webhook group when set.
	PushToken string

	// EnableMetrics mounts /metrics.
	EnableMetrics bool
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	if deps.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Broker push deliveries, one route per logical event.
	webhooks := router.Group("/webhooks")
	webhooks.Use(middleware.PushAuth(deps.PushToken))
	{
		webhooks.POST("/student-submission", handlers.StudentSubmission(deps.Audio, deps.Transcribe))
		webhooks.POST("/audio-conversion-done", handlers.AudioConversionDone(deps.Coordinator))
		webhooks.POST("/transcription-done", handlers.TranscriptionDone(deps.Coordinator))
		webhooks.POST("/question-analysis-ready", handlers.QuestionAnalysisReady(deps.Analysis))
		webhooks.POST("/pronunciation-done", handlers.StageDone(analysis.StagePronunciation))
		webhooks.POST("/grammar-done", handlers.StageDone(analysis.StageGrammar))
		webhooks.POST("/lexical-done", handlers.StageDone(analysis.StageLexical))
		webhooks.POST("/vocabulary-done", handlers.StageDone(analysis.StageVocabulary))
		webhooks.POST("/fluency-done", handlers.StageDone(analysis.StageFluency))
		webhooks.POST("/analysis-complete", handlers.AnalysisComplete(deps.Aggregator))
		webhooks.POST("/submission-analysis-complete", handlers.SubmissionAnalysisComplete())
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/submit", handlers.Submit(deps.Bus))

		results := v1.Group("/results")
		{
			results.GET("/submission/:key", handlers.GetSubmissionResults(deps.Store))
			results.GET("/submission/:key/raw", handlers.GetSubmissionResultsRaw(deps.Store))
			results.GET("/submissions", handlers.ListSubmissions(deps.Store))
			results.DELETE("/submission/:key", handlers.ClearSubmissionResults(deps.Store))
		}

		// Synchronous single-analysis adapters.
		analyze := v1.Group("/analyze")
		{
			analyze.POST("/pronunciation", handlers.AnalyzePronunciation(deps.Analyzers))
			analyze.POST("/grammar", handlers.AnalyzeGrammar(deps.Analyzers))
			analyze.POST("/lexical", handlers.AnalyzeLexical(deps.Analyzers))
			analyze.POST("/vocabulary", handlers.AnalyzeVocabulary(deps.Analyzers))
			analyze.POST("/fluency", handlers.AnalyzeFluency(deps.Analyzers))
		}

		debug := v1.Group("/debug")
		{
			debug.GET("/file-sessions", handlers.GetFileSessions(deps.Files))
			debug.POST("/cleanup-session/:id", handlers.ForceCleanupSession(deps.Files))
			debug.POST("/periodic-cleanup", handlers.TriggerPeriodicCleanup(deps.Scheduler))
			if deps.EventHub != nil {
				debug.GET("/events", deps.EventHub.Handler())
			}
		}
	}
}
