// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the event payloads and result shapes exchanged
// between the analysis pipeline components.
//
// Every event payload carries the submission URL (the business key for one
// student submission) and, where applicable, the 1-based question number.
// Payload structs double as the wire format for both direct invocations and
// Pub/Sub push deliveries, so field tags match the JSON the broker carries.
package datatypes

// StudentSubmission is published once per submission and fans out into one
// audio-conversion job and one transcription job per recording.
type StudentSubmission struct {
	AudioURLs      []string `json:"audio_urls" validate:"required,min=1,dive,required"`
	SubmissionURL  string   `json:"submission_url" validate:"required"`
	TotalQuestions int      `json:"total_questions" validate:"required,gt=0"`
}

// AudioConversionDone reports one recording transcoded to 16 kHz mono WAV.
// Error is set when conversion failed; WavPath and AudioDuration are then
// meaningless and the coordinator forwards the error downstream.
type AudioConversionDone struct {
	SubmissionURL    string  `json:"submission_url" validate:"required"`
	QuestionNumber   int     `json:"question_number" validate:"required,gt=0"`
	TotalQuestions   int     `json:"total_questions"`
	SessionID        string  `json:"session_id"`
	WavPath          string  `json:"wav_path"`
	AudioDuration    float64 `json:"audio_duration"`
	OriginalAudioURL string  `json:"original_audio_url,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// WordDetail is one recognized word with timing and scoring detail.
// Offset and Duration are seconds from the start of the recording.
type WordDetail struct {
	Word          string  `json:"word"`
	Offset        float64 `json:"offset"`
	Duration      float64 `json:"duration"`
	AccuracyScore float64 `json:"accuracy_score,omitempty"`
	ErrorType     string  `json:"error_type,omitempty"`
}

// TranscriptionDone reports one recording transcribed to text with
// word-level timing. Error is set when transcription failed.
type TranscriptionDone struct {
	SubmissionURL  string       `json:"submission_url" validate:"required"`
	QuestionNumber int          `json:"question_number" validate:"required,gt=0"`
	TotalQuestions int          `json:"total_questions"`
	Transcript     string       `json:"transcript"`
	WordDetails    []WordDetail `json:"word_details,omitempty"`
	AudioURL       string       `json:"audio_url,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// QuestionAnalysisReady is the union of AudioConversionDone and
// TranscriptionDone for one question, emitted by the coordinator once both
// sides have arrived. A side that arrived with an error contributes its
// error string instead of data so downstream stages can short-circuit.
type QuestionAnalysisReady struct {
	SubmissionURL   string       `json:"submission_url" validate:"required"`
	QuestionNumber  int          `json:"question_number" validate:"required,gt=0"`
	TotalQuestions  int          `json:"total_questions" validate:"required,gt=0"`
	SessionID       string       `json:"session_id,omitempty"`
	WavPath         string       `json:"wav_path,omitempty"`
	AudioDuration   float64      `json:"audio_duration,omitempty"`
	AudioURL        string       `json:"audio_url,omitempty"`
	Transcript      string       `json:"transcript,omitempty"`
	WordDetails     []WordDetail `json:"word_details,omitempty"`
	AudioError      string       `json:"audio_error,omitempty"`
	TranscriptError string       `json:"transcript_error,omitempty"`
}

// StageDone reports completion of a single analysis stage. Published on the
// per-stage topics (PRONUNCIATION_DONE, GRAMMAR_DONE, ...) for observability
// and external fluency gating.
type StageDone struct {
	SubmissionURL  string    `json:"submission_url"`
	QuestionNumber int       `json:"question_number"`
	TotalQuestions int       `json:"total_questions"`
	Service        string    `json:"service"`
	Result         SubResult `json:"result"`
}

// AnalysisComplete carries the consolidated result of all five stages for
// one question.
type AnalysisComplete struct {
	SubmissionURL  string         `json:"submission_url" validate:"required"`
	QuestionNumber int            `json:"question_number" validate:"required,gt=0"`
	TotalQuestions int            `json:"total_questions" validate:"required,gt=0"`
	Result         QuestionResult `json:"result"`
}

// SubmissionAnalysisComplete is the terminal event for one submission.
// Status is "completed" on the happy path and "finalization_failed" when
// the database write exhausted its retries.
type SubmissionAnalysisComplete struct {
	SubmissionURL  string           `json:"submission_url"`
	TotalQuestions int              `json:"total_questions"`
	Status         string           `json:"status"`
	Results        []QuestionResult `json:"results"`
}
