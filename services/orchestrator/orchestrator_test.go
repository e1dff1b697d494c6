// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/speechassess/services/database"
	"github.com/AleutianAI/speechassess/services/orchestrator/analysis"
	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
	"github.com/AleutianAI/speechassess/services/orchestrator/envelope"
	"github.com/AleutianAI/speechassess/services/orchestrator/eventbus"
)

// fakeDB satisfies database.Store with fixed time limits.
type fakeDB struct{ inserted int }

func (f *fakeDB) InsertSubmissionResults(_ context.Context, _ string, _ datatypes.SubmissionAnalysisComplete) error {
	f.inserted++
	return nil
}

func (f *fakeDB) QuestionTimeLimit(_ context.Context, _ string, _ int) (float64, error) {
	return 2, nil
}

// fakeProcessor publishes canned done events, standing in for the audio
// and transcription services.
type fakeProcessor struct {
	bus   eventbus.Publisher
	topic string
	build func(q int, msg datatypes.StudentSubmission) any
}

func (f *fakeProcessor) ProcessSubmission(ctx context.Context, msg datatypes.StudentSubmission) error {
	for q := 1; q <= len(msg.AudioURLs); q++ {
		if err := f.bus.Publish(ctx, f.topic, f.build(q, msg)); err != nil {
			return err
		}
	}
	return nil
}

func fakeAnalyzers() *analysis.AnalyzerSet {
	return &analysis.AnalyzerSet{
		Pronunciation: func(_ context.Context, _, _ string) (datatypes.SubResult, error) {
			return datatypes.SubResult{
				"grade": 82.0,
				"word_details": []datatypes.WordDetail{
					{Word: "hello", Offset: 0.1, Duration: 0.4},
					{Word: "world", Offset: 0.9, Duration: 0.5},
				},
			}, nil
		},
		Grammar: func(_ context.Context, _ string) (datatypes.SubResult, error) {
			return datatypes.SubResult{"grade": 75.0}, nil
		},
		Lexical: func(_ context.Context, _ string) (datatypes.SubResult, error) {
			return datatypes.SubResult{"grade": 70.0}, nil
		},
		Vocabulary: func(_ context.Context, _ string) (datatypes.SubResult, error) {
			return datatypes.SubResult{"grade": 85.0}, nil
		},
		Fluency: func(_ context.Context, _ string, _ []datatypes.WordDetail) (datatypes.SubResult, error) {
			return datatypes.SubResult{"grade": 88.0}, nil
		},
	}
}

func newTestService(t *testing.T, bus eventbus.Publisher, db database.Store) Service {
	t.Helper()
	svc, err := New(Config{GinMode: "test"}, &Options{
		Bus:       bus,
		DB:        db,
		Analyzers: fakeAnalyzers(),
		Audio: &fakeProcessor{bus: bus, topic: eventbus.TopicAudioConversionDone,
			build: func(q int, msg datatypes.StudentSubmission) any {
				return datatypes.AudioConversionDone{
					SubmissionURL: msg.SubmissionURL, QuestionNumber: q,
					TotalQuestions: msg.TotalQuestions,
					WavPath:        "/tmp/q.wav", AudioDuration: 30,
				}
			}},
		Transcribe: &fakeProcessor{bus: bus, topic: eventbus.TopicTranscriptionDone,
			build: func(q int, msg datatypes.StudentSubmission) any {
				return datatypes.TranscriptionDone{
					SubmissionURL: msg.SubmissionURL, QuestionNumber: q,
					TotalQuestions: msg.TotalQuestions, Transcript: "hello world",
				}
			}},
	})
	require.NoError(t, err)
	return svc
}

func postJSON(t *testing.T, svc Service, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	svc.Router().ServeHTTP(w, req)
	return w
}

func postRaw(t *testing.T, svc Service, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	svc.Router().ServeHTTP(w, req)
	return w
}

func getPath(t *testing.T, svc Service, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	svc.Router().ServeHTTP(w, req)
	return w
}

// TestHappyPathSingleQuestion drives scenario: submit one recording, feed
// the pipeline's own events back through the webhook surface, and verify
// every stage event fires exactly once.
func TestHappyPathSingleQuestion(t *testing.T) {
	bus := eventbus.NewRecorder()
	db := &fakeDB{}
	svc := newTestService(t, bus, db)

	// 1. Submit.
	w := postJSON(t, svc, "/v1/submit", map[string]any{
		"audio_urls":      []string{"https://store/recordings/a.webm"},
		"submission_url":  "sub-e2e",
		"total_questions": 1,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, bus.Count(eventbus.TopicStudentSubmission))

	// 2. Deliver STUDENT_SUBMISSION; the fake processors publish both
	// done events.
	sub := bus.ByTopic(eventbus.TopicStudentSubmission)[0]
	w = postRaw(t, svc, "/webhooks/student-submission", sub.Payload)
	require.Equal(t, http.StatusOK, w.Code)

	// 3. Deliver the done events (audio as a push envelope, transcript
	// direct — both shapes must work).
	audioEvent := bus.ByTopic(eventbus.TopicAudioConversionDone)[0]
	pushBody, err := envelope.EncodePush(json.RawMessage(audioEvent.Payload), "m-audio-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, postRaw(t, svc, "/webhooks/audio-conversion-done", pushBody).Code)

	transcriptEvent := bus.ByTopic(eventbus.TopicTranscriptionDone)[0]
	require.Equal(t, http.StatusOK, postRaw(t, svc, "/webhooks/transcription-done", transcriptEvent.Payload).Code)

	// 4. Fan-in emits the ready event; deliver it and wait for the
	// stage fan-out to complete.
	require.Equal(t, 1, bus.Count(eventbus.TopicQuestionAnalysisReady))
	ready := bus.ByTopic(eventbus.TopicQuestionAnalysisReady)[0]
	require.Equal(t, http.StatusOK, postRaw(t, svc, "/webhooks/question-analysis-ready", ready.Payload).Code)

	require.Eventually(t, func() bool {
		return bus.Count(eventbus.TopicAnalysisComplete) == 1
	}, 5*time.Second, 5*time.Millisecond)

	for _, topic := range []string{
		eventbus.TopicPronunciationDone,
		eventbus.TopicGrammarDone,
		eventbus.TopicLexicalDone,
		eventbus.TopicVocabularyDone,
		eventbus.TopicFluencyDone,
	} {
		assert.Equal(t, 1, bus.Count(topic), "topic %s", topic)
	}

	// 5. Deliver ANALYSIS_COMPLETE; the aggregator finalizes.
	complete := bus.ByTopic(eventbus.TopicAnalysisComplete)[0]
	require.Equal(t, http.StatusOK, postRaw(t, svc, "/webhooks/analysis-complete", complete.Payload).Code)

	require.Equal(t, 1, bus.Count(eventbus.TopicSubmissionAnalysisComplete))
	assert.Equal(t, 1, db.inserted)

	// 6. Results are readable, ordered, and complete.
	w = getPath(t, svc, "/v1/results/submission/sub-e2e")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Results []datatypes.QuestionResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].Grammar.IsError())

	// 7. Terminal webhook acks.
	final := bus.ByTopic(eventbus.TopicSubmissionAnalysisComplete)[0]
	require.Equal(t, http.StatusOK, postRaw(t, svc, "/webhooks/submission-analysis-complete", final.Payload).Code)
}

func TestDuplicateAudioDelivery_SingleReadyEvent(t *testing.T) {
	bus := eventbus.NewRecorder()
	svc := newTestService(t, bus, &fakeDB{})

	audio := datatypes.AudioConversionDone{
		SubmissionURL: "sub-dup", QuestionNumber: 1, TotalQuestions: 1,
		WavPath: "/tmp/q.wav", AudioDuration: 30,
	}
	transcript := datatypes.TranscriptionDone{
		SubmissionURL: "sub-dup", QuestionNumber: 1, TotalQuestions: 1,
		Transcript: "hello world",
	}

	require.Equal(t, http.StatusOK, postJSON(t, svc, "/webhooks/audio-conversion-done", audio).Code)
	require.Equal(t, http.StatusOK, postJSON(t, svc, "/webhooks/audio-conversion-done", audio).Code)
	require.Equal(t, http.StatusOK, postJSON(t, svc, "/webhooks/transcription-done", transcript).Code)

	assert.Equal(t, 1, bus.Count(eventbus.TopicQuestionAnalysisReady))
}

func TestWebhookErrors(t *testing.T) {
	bus := eventbus.NewRecorder()
	svc := newTestService(t, bus, &fakeDB{})

	t.Run("malformed envelope is 400", func(t *testing.T) {
		body := []byte(`{"message":{"data":"!!!"}}`)
		w := postRaw(t, svc, "/webhooks/audio-conversion-done", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing required field is 400", func(t *testing.T) {
		body := []byte(`{"question_number":1}`)
		w := postRaw(t, svc, "/webhooks/audio-conversion-done", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("submit rejects count mismatch", func(t *testing.T) {
		w := postJSON(t, svc, "/v1/submit", map[string]any{
			"audio_urls":      []string{"a", "b"},
			"submission_url":  "s",
			"total_questions": 3,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown submission results are 404", func(t *testing.T) {
		w := getPath(t, svc, "/v1/results/submission/ghost")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown session cleanup is 404", func(t *testing.T) {
		w := postRaw(t, svc, "/v1/debug/cleanup-session/ghost", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDebugEndpoints(t *testing.T) {
	bus := eventbus.NewRecorder()
	svc := newTestService(t, bus, &fakeDB{})

	w := getPath(t, svc, "/v1/debug/file-sessions")
	require.Equal(t, http.StatusOK, w.Code)
	var sessions struct {
		TotalActive int `json:"total_active"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	assert.Equal(t, 0, sessions.TotalActive)

	w = postRaw(t, svc, "/v1/debug/periodic-cleanup", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = getPath(t, svc, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
}
