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

import (
	"context"
	"errors"
	"testing"
)

func TestDefaultTopicMap_CoversAllTopics(t *testing.T) {
	topics := []string{
		TopicStudentSubmission,
		TopicAudioConversionDone,
		TopicTranscriptionDone,
		TopicQuestionAnalysisReady,
		TopicPronunciationDone,
		TopicGrammarDone,
		TopicLexicalDone,
		TopicVocabularyDone,
		TopicFluencyDone,
		TopicAnalysisComplete,
		TopicSubmissionAnalysisComplete,
	}

	m := DefaultTopicMap()
	if len(m) != len(topics) {
		t.Fatalf("map has %d entries, want %d", len(m), len(topics))
	}
	for _, name := range topics {
		if m[name] == "" {
			t.Errorf("logical topic %s has no broker binding", name)
		}
	}

	// The historic misspelled broker ids are preserved on purpose.
	if m[TopicPronunciationDone] != "pronoun-done-topic" {
		t.Errorf("pronunciation binding = %q", m[TopicPronunciationDone])
	}
	if m[TopicGrammarDone] != "grammer-done-topic" {
		t.Errorf("grammar binding = %q", m[TopicGrammarDone])
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	if err := r.Publish(ctx, TopicGrammarDone, map[string]any{"a": 1}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := r.Publish(ctx, TopicLexicalDone, map[string]any{"b": 2}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := r.Count(TopicGrammarDone); got != 1 {
		t.Errorf("Count = %d", got)
	}
	if got := len(r.Events()); got != 2 {
		t.Errorf("Events = %d entries", got)
	}

	r.Reset()
	if got := len(r.Events()); got != 0 {
		t.Errorf("Reset left %d events", got)
	}
}

// failingPublisher always errors, for Multi semantics.
type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, string, any) error {
	f.calls++
	return errors.New("broker down")
}

func (f *failingPublisher) Close() error { return nil }

func TestMulti(t *testing.T) {
	t.Run("primary error propagates, secondaries still run", func(t *testing.T) {
		primary := &failingPublisher{}
		secondary := NewRecorder()
		bus := Multi(primary, secondary)

		err := bus.Publish(context.Background(), TopicGrammarDone, map[string]any{"a": 1})
		if err == nil {
			t.Fatal("primary failure should surface")
		}
		if secondary.Count(TopicGrammarDone) != 1 {
			t.Error("secondary should still receive the event")
		}
	})

	t.Run("secondary error is swallowed", func(t *testing.T) {
		primary := NewRecorder()
		secondary := &failingPublisher{}
		bus := Multi(primary, secondary)

		if err := bus.Publish(context.Background(), TopicGrammarDone, nil); err != nil {
			t.Fatalf("secondary failure must not surface: %v", err)
		}
		if secondary.calls != 1 {
			t.Error("secondary should have been invoked")
		}
	})
}

func TestNopPublisher(t *testing.T) {
	var p NopPublisher
	if err := p.Publish(context.Background(), TopicGrammarDone, map[string]any{"a": 1}); err != nil {
		t.Fatalf("NopPublisher.Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("NopPublisher.Close: %v", err)
	}
}
