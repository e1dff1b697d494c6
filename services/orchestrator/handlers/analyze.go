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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/speechassess/services/orchestrator/analysis"
	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
)

// The direct analysis endpoints are thin synchronous adapters around the
// same analyzer functions the pipeline uses. They exist for manual testing
// and for callers that want one analysis without a full submission.

type transcriptRequest struct {
	Transcript string `json:"transcript" binding:"required"`
}

type pronunciationRequest struct {
	WavPath    string `json:"wav_path" binding:"required"`
	Transcript string `json:"transcript" binding:"required"`
}

type fluencyRequest struct {
	Transcript  string                 `json:"transcript" binding:"required"`
	WordDetails []datatypes.WordDetail `json:"word_details" binding:"required"`
}

func writeAnalysis(c *gin.Context, result datatypes.SubResult, err error) {
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// AnalyzePronunciation runs pronunciation assessment on a local WAV.
func AnalyzePronunciation(set analysis.AnalyzerSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pronunciationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := set.Pronunciation(c.Request.Context(), req.WavPath, req.Transcript)
		writeAnalysis(c, result, err)
	}
}

// AnalyzeGrammar runs grammar analysis on a transcript.
func AnalyzeGrammar(set analysis.AnalyzerSet) gin.HandlerFunc {
	return textAnalysis(func(ctx context.Context, transcript string) (datatypes.SubResult, error) {
		return set.Grammar(ctx, transcript)
	})
}

// AnalyzeLexical runs lexical analysis on a transcript.
func AnalyzeLexical(set analysis.AnalyzerSet) gin.HandlerFunc {
	return textAnalysis(func(ctx context.Context, transcript string) (datatypes.SubResult, error) {
		return set.Lexical(ctx, transcript)
	})
}

// AnalyzeVocabulary runs vocabulary analysis on a transcript.
func AnalyzeVocabulary(set analysis.AnalyzerSet) gin.HandlerFunc {
	return textAnalysis(func(ctx context.Context, transcript string) (datatypes.SubResult, error) {
		return set.Vocabulary(ctx, transcript)
	})
}

// AnalyzeFluency runs fluency analysis on a transcript with word timing.
func AnalyzeFluency(set analysis.AnalyzerSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req fluencyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := set.Fluency(c.Request.Context(), req.Transcript, req.WordDetails)
		writeAnalysis(c, result, err)
	}
}

func textAnalysis(fn func(ctx context.Context, transcript string) (datatypes.SubResult, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transcriptRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := fn(c.Request.Context(), req.Transcript)
		writeAnalysis(c, result, err)
	}
}
