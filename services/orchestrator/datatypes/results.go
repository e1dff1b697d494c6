// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// =============================================================================
// Analysis Sub-Results
// =============================================================================

// SubResult is the outcome of a single analysis stage. A successful stage
// produces a free-form object with at least a numeric "grade" (0-100) and an
// "issues" list; a failed stage produces exactly {"error": "<message>"}.
//
// The shape is kept as a map because each analyzer contributes its own
// component-specific detail (phoneme scores, CEFR levels, timing metrics)
// and the aggregation layer treats all of them uniformly.
type SubResult map[string]any

// ErrorSub builds the canonical error shape for a failed stage.
func ErrorSub(msg string) SubResult {
	return SubResult{"error": msg}
}

// IsError reports whether the sub-result is the error shape.
// A nil sub-result counts as an error (the stage never produced output).
func (r SubResult) IsError() bool {
	if r == nil {
		return true
	}
	_, ok := r["error"]
	return ok
}

// ErrorMessage returns the error string of an error-shaped sub-result,
// or "" for a success shape.
func (r SubResult) ErrorMessage() string {
	if r == nil {
		return "missing result"
	}
	if msg, ok := r["error"].(string); ok {
		return msg
	}
	return ""
}

// Grade returns the numeric grade of a success shape, if present.
func (r SubResult) Grade() (float64, bool) {
	if r == nil {
		return 0, false
	}
	switch v := r["grade"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Normalize coerces a missing sub-result to the error shape so that every
// persisted QuestionResult carries all five analyses in one of the two
// canonical forms.
func (r SubResult) Normalize(missing string) SubResult {
	if r == nil {
		return ErrorSub(missing)
	}
	return r
}

// =============================================================================
// Question and Submission Results
// =============================================================================

// QuestionResult is the consolidated analysis outcome for one recording.
// Sub-result ordering inside the struct is fixed by the schema regardless
// of stage completion order.
type QuestionResult struct {
	SubmissionURL    string    `json:"submission_url"`
	QuestionNumber   int       `json:"question_number"`
	SessionID        string    `json:"session_id,omitempty"`
	Pronunciation    SubResult `json:"pronunciation"`
	Grammar          SubResult `json:"grammar"`
	Lexical          SubResult `json:"lexical"`
	Vocabulary       SubResult `json:"vocabulary"`
	Fluency          SubResult `json:"fluency"`
	Transcript       string    `json:"transcript"`
	AudioDuration    float64   `json:"audio_duration"`
	DurationFeedback SubResult `json:"duration_feedback,omitempty"`
}

// Normalized returns a copy with every sub-result coerced to a canonical
// success-or-error shape.
func (q QuestionResult) Normalized() QuestionResult {
	q.Pronunciation = q.Pronunciation.Normalize("pronunciation result missing")
	q.Grammar = q.Grammar.Normalize("grammar result missing")
	q.Lexical = q.Lexical.Normalize("lexical result missing")
	q.Vocabulary = q.Vocabulary.Normalize("vocabulary result missing")
	q.Fluency = q.Fluency.Normalize("fluency result missing")
	return q
}

// HasError reports whether any of the five analyses is an error shape.
// Used by the results store's overwrite rule: an errored entry may be
// replaced by a fully successful one, never the other way around.
func (q QuestionResult) HasError() bool {
	return q.Pronunciation.IsError() ||
		q.Grammar.IsError() ||
		q.Lexical.IsError() ||
		q.Vocabulary.IsError() ||
		q.Fluency.IsError()
}

// SubmissionAggregate is the per-submission collection of question results
// held by the results store until finalization.
type SubmissionAggregate struct {
	SubmissionURL  string                 `json:"submission_url"`
	TotalQuestions int                    `json:"total_questions"`
	Results        map[int]QuestionResult `json:"results"`
	Finalized      bool                   `json:"finalized"`
	StoredAt       time.Time              `json:"stored_at"`
}
