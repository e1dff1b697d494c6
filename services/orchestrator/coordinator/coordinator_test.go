// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
	"github.com/AleutianAI/speechassess/services/orchestrator/eventbus"
)

func audioDone(q int) datatypes.AudioConversionDone {
	return datatypes.AudioConversionDone{
		SubmissionURL:  "sub-1",
		QuestionNumber: q,
		TotalQuestions: 1,
		SessionID:      "sess-1",
		WavPath:        "/tmp/q.wav",
		AudioDuration:  30,
	}
}

func transcriptDone(q int) datatypes.TranscriptionDone {
	return datatypes.TranscriptionDone{
		SubmissionURL:  "sub-1",
		QuestionNumber: q,
		TotalQuestions: 1,
		Transcript:     "hello world",
		WordDetails: []datatypes.WordDetail{
			{Word: "hello", Offset: 0.1, Duration: 0.4},
			{Word: "world", Offset: 0.6, Duration: 0.5},
		},
	}
}

func decodeReady(t *testing.T, e eventbus.RecordedEvent) datatypes.QuestionAnalysisReady {
	t.Helper()
	var ready datatypes.QuestionAnalysisReady
	if err := json.Unmarshal(e.Payload, &ready); err != nil {
		t.Fatalf("unmarshal ready event: %v", err)
	}
	return ready
}

func TestFanIn_EitherOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("audio first", func(t *testing.T) {
		bus := eventbus.NewRecorder()
		c := New(bus)

		c.HandleAudioDone(ctx, audioDone(1))
		if bus.Count(eventbus.TopicQuestionAnalysisReady) != 0 {
			t.Fatal("must not emit before both sides arrive")
		}
		c.HandleTranscriptionDone(ctx, transcriptDone(1))

		events := bus.ByTopic(eventbus.TopicQuestionAnalysisReady)
		if len(events) != 1 {
			t.Fatalf("expected one ready event, got %d", len(events))
		}
		ready := decodeReady(t, events[0])
		if ready.WavPath != "/tmp/q.wav" || ready.Transcript != "hello world" {
			t.Errorf("ready event should union both payloads: %+v", ready)
		}
		if ready.SessionID != "sess-1" {
			t.Errorf("session id should be carried through, got %q", ready.SessionID)
		}
	})

	t.Run("transcript first", func(t *testing.T) {
		bus := eventbus.NewRecorder()
		c := New(bus)

		c.HandleTranscriptionDone(ctx, transcriptDone(1))
		c.HandleAudioDone(ctx, audioDone(1))

		if bus.Count(eventbus.TopicQuestionAnalysisReady) != 1 {
			t.Fatal("expected exactly one ready event")
		}
	})
}

func TestFanIn_DuplicatesBeforeEmission(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewRecorder()
	c := New(bus)

	c.HandleAudioDone(ctx, audioDone(1))
	c.HandleAudioDone(ctx, audioDone(1))
	c.HandleTranscriptionDone(ctx, transcriptDone(1))

	if got := bus.Count(eventbus.TopicQuestionAnalysisReady); got != 1 {
		t.Fatalf("duplicate audio side must not cause extra emissions, got %d", got)
	}
}

func TestFanIn_ErrorPassThrough(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewRecorder()
	c := New(bus)

	failed := audioDone(1)
	failed.Error = "ffmpeg exited 1"
	failed.WavPath = ""
	c.HandleAudioDone(ctx, failed)
	c.HandleTranscriptionDone(ctx, transcriptDone(1))

	events := bus.ByTopic(eventbus.TopicQuestionAnalysisReady)
	if len(events) != 1 {
		t.Fatalf("errored side must still emit, got %d events", len(events))
	}
	ready := decodeReady(t, events[0])
	if ready.AudioError != "ffmpeg exited 1" {
		t.Errorf("audio error should be carried, got %q", ready.AudioError)
	}
	if ready.Transcript != "hello world" {
		t.Errorf("healthy side should still be carried, got %q", ready.Transcript)
	}
}

func TestRedeliveryAfterEmission_ReEmits(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewRecorder()
	c := New(bus)

	c.HandleAudioDone(ctx, audioDone(1))
	c.HandleTranscriptionDone(ctx, transcriptDone(1))
	if c.PendingCount() != 0 {
		t.Fatal("state should be removed after emission")
	}

	// Full redelivery of both sides: fresh state, second emission.
	// Downstream emitted_complete absorbs it.
	c.HandleAudioDone(ctx, audioDone(1))
	c.HandleTranscriptionDone(ctx, transcriptDone(1))

	if got := bus.Count(eventbus.TopicQuestionAnalysisReady); got != 2 {
		t.Fatalf("full redelivery should re-emit, got %d events", got)
	}
}

func TestPurgeStale(t *testing.T) {
	ctx := context.Background()
	current := time.Now()
	bus := eventbus.NewRecorder()
	c := New(bus,
		WithMaxStateAge(time.Hour),
		WithClock(func() time.Time { return current }),
	)

	c.HandleAudioDone(ctx, audioDone(1))
	if c.PendingCount() != 1 {
		t.Fatal("half-complete state should be pending")
	}

	current = current.Add(30 * time.Minute)
	if n, _ := c.PurgeStale(ctx); n != 0 {
		t.Fatalf("nothing should be purged before the bound, got %d", n)
	}

	current = current.Add(time.Hour)
	if n, _ := c.PurgeStale(ctx); n != 1 {
		t.Fatalf("expected one purged state, got %d", n)
	}

	// Arrivals after the purge start over and can emit.
	c.HandleAudioDone(ctx, audioDone(1))
	c.HandleTranscriptionDone(ctx, transcriptDone(1))
	if got := bus.Count(eventbus.TopicQuestionAnalysisReady); got != 1 {
		t.Fatalf("post-purge arrivals should emit fresh, got %d", got)
	}
}

func TestConcurrentArrivals_SingleEmission(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewRecorder()
	c := New(bus)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.HandleAudioDone(ctx, audioDone(1))
		}()
		go func() {
			defer wg.Done()
			c.HandleTranscriptionDone(ctx, transcriptDone(1))
		}()
	}
	wg.Wait()

	// Interleaved duplicates may recreate state after an emission removes
	// it, so more than one emission is legal; zero is not, and every
	// emission must carry the full union.
	events := bus.ByTopic(eventbus.TopicQuestionAnalysisReady)
	if len(events) == 0 {
		t.Fatal("at least one ready event must be emitted")
	}
	for _, e := range events {
		ready := decodeReady(t, e)
		if ready.WavPath == "" || ready.Transcript == "" {
			t.Errorf("emission missing a side: %+v", ready)
		}
	}
}
