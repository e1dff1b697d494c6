// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eventbus

// Logical topic names used throughout the pipeline. Components publish by
// logical name; the binding to concrete broker topic ids lives in the
// configured topic map so deployments can rename broker resources without
// touching code.
//
// PRONUNCIATION_DONE and GRAMMAR_DONE are the canonical spellings. Earlier
// deployments created the broker topics under misspelled ids, which is why
// DefaultTopicMap still binds to those ids.
const (
	TopicStudentSubmission          = "STUDENT_SUBMISSION"
	TopicAudioConversionDone        = "AUDIO_CONVERSION_DONE"
	TopicTranscriptionDone          = "TRANSCRIPTION_DONE"
	TopicQuestionAnalysisReady      = "QUESTION_ANALYSIS_READY"
	TopicPronunciationDone          = "PRONUNCIATION_DONE"
	TopicGrammarDone                = "GRAMMAR_DONE"
	TopicLexicalDone                = "LEXICAL_DONE"
	TopicVocabularyDone             = "VOCABULARY_DONE"
	TopicFluencyDone                = "FLUENCY_DONE"
	TopicAnalysisComplete           = "ANALYSIS_COMPLETE"
	TopicSubmissionAnalysisComplete = "SUBMISSION_ANALYSIS_COMPLETE"
)

// DefaultTopicMap binds each logical name to the broker topic id used by the
// existing deployment. The grammar and pronunciation ids keep their historic
// spellings so existing subscriptions continue to receive events.
func DefaultTopicMap() map[string]string {
	return map[string]string{
		TopicStudentSubmission:          "student-submission-topic",
		TopicAudioConversionDone:        "audio-conversion-done-topic",
		TopicTranscriptionDone:          "transcription-done-topic",
		TopicQuestionAnalysisReady:      "question-analysis-ready-topic",
		TopicPronunciationDone:          "pronoun-done-topic",
		TopicGrammarDone:                "grammer-done-topic",
		TopicLexicalDone:                "lexical-done-topic",
		TopicVocabularyDone:             "vocabulary-done-topic",
		TopicFluencyDone:                "fluency-done-topic",
		TopicAnalysisComplete:           "analysis-complete-topic",
		TopicSubmissionAnalysisComplete: "submission-analysis-complete-topic",
	}
}
