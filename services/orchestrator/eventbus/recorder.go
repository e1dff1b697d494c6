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
	"encoding/json"
	"sync"
)

// RecordedEvent is one event captured by a Recorder.
type RecordedEvent struct {
	Topic   string
	Payload json.RawMessage
}

// Recorder is an in-memory Publisher for tests. It captures every published
// event in order and is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []RecordedEvent
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish captures the event.
func (r *Recorder) Publish(_ context.Context, topicName string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, RecordedEvent{Topic: topicName, Payload: data})
	return nil
}

// Close is a no-op.
func (r *Recorder) Close() error { return nil }

// Events returns a copy of all captured events in publish order.
func (r *Recorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ByTopic returns the captured events for one logical topic.
func (r *Recorder) ByTopic(topicName string) []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RecordedEvent
	for _, e := range r.events {
		if e.Topic == topicName {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events were published to the topic.
func (r *Recorder) Count(topicName string) int {
	return len(r.ByTopic(topicName))
}

// Reset discards all captured events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var _ Publisher = (*Recorder)(nil)
