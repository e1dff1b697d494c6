// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
	"github.com/AleutianAI/speechassess/services/orchestrator/eventbus"
	"github.com/AleutianAI/speechassess/services/orchestrator/filesession"
)

func decodeDone(t *testing.T, e eventbus.RecordedEvent) datatypes.AudioConversionDone {
	t.Helper()
	var msg datatypes.AudioConversionDone
	require.NoError(t, json.Unmarshal(e.Payload, &msg))
	return msg
}

func TestProcessQuestion_DownloadFailurePublishesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	bus := eventbus.NewRecorder()
	files := filesession.NewManager()
	svc := New(bus, files, nil, server.Client(), t.TempDir(), nil, 0)

	svc.ProcessQuestion(context.Background(), server.URL+"/missing.webm", "sub-1", 1, 1)

	events := bus.ByTopic(eventbus.TopicAudioConversionDone)
	require.Len(t, events, 1, "failure must still publish the done event")
	done := decodeDone(t, events[0])
	assert.NotEmpty(t, done.Error)
	assert.Empty(t, done.SessionID)
	assert.Equal(t, 1, done.QuestionNumber)
}

func TestProcessQuestion_GsURLWithoutStorageClient(t *testing.T) {
	bus := eventbus.NewRecorder()
	files := filesession.NewManager()
	svc := New(bus, files, nil, nil, t.TempDir(), nil, 0)

	svc.ProcessQuestion(context.Background(), "gs://bucket/recording.webm", "sub-1", 1, 1)

	events := bus.ByTopic(eventbus.TopicAudioConversionDone)
	require.Len(t, events, 1)
	assert.Contains(t, decodeDone(t, events[0]).Error, "storage client not configured")
}

func TestProcessSubmission_FanOutAllQuestions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound) // every question fails, but all are attempted
	}))
	defer server.Close()

	bus := eventbus.NewRecorder()
	files := filesession.NewManager()
	svc := New(bus, files, nil, server.Client(), t.TempDir(), nil, 0)

	msg := datatypes.StudentSubmission{
		AudioURLs:      []string{server.URL + "/q1.webm", server.URL + "/q2.webm", server.URL + "/q3.webm"},
		SubmissionURL:  "sub-1",
		TotalQuestions: 3,
	}
	require.NoError(t, svc.ProcessSubmission(context.Background(), msg))

	events := bus.ByTopic(eventbus.TopicAudioConversionDone)
	require.Len(t, events, 3)
	seen := make(map[int]bool)
	for _, e := range events {
		seen[decodeDone(t, e).QuestionNumber] = true
	}
	for q := 1; q <= 3; q++ {
		assert.True(t, seen[q], "question %d should have been attempted", q)
	}
}
