// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eventbus publishes typed pipeline events to the message broker.
//
// Publication is best-effort: emitters treat a failed publish as a logged
// and counted non-event, because the broker's redelivery of the *triggering*
// message is the pipeline's only retry mechanism. Raising publish failures
// into the orchestration path would turn a transient broker hiccup into a
// stuck question.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/AleutianAI/speechassess/services/orchestrator/observability"
)

// Publisher is the emit side of the pipeline. Implementations must be safe
// for concurrent use.
type Publisher interface {
	// Publish serializes payload to JSON and sends it to the broker topic
	// bound to the logical topicName. The returned error is informational;
	// callers emit best-effort and must not propagate it.
	Publish(ctx context.Context, topicName string, payload any) error

	// Close flushes pending messages and releases broker resources.
	Close() error
}

// =============================================================================
// Pub/Sub Publisher
// =============================================================================

// PubSubPublisher publishes to Google Cloud Pub/Sub, resolving logical topic
// names through a configurable topic map.
type PubSubPublisher struct {
	client *pubsub.Client

	mu       sync.Mutex
	topicMap map[string]string
	topics   map[string]*pubsub.Topic
}

// NewPubSubPublisher creates a publisher for the given project. The topicMap
// binds logical names to broker topic ids; nil selects DefaultTopicMap.
// Credentials are resolved from the environment (Application Default
// Credentials), mirroring how the deployment has always authenticated.
func NewPubSubPublisher(ctx context.Context, projectID string, topicMap map[string]string) (*PubSubPublisher, error) {
	if projectID == "" {
		return nil, fmt.Errorf("eventbus: project id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("eventbus: create pubsub client: %w", err)
	}
	if topicMap == nil {
		topicMap = DefaultTopicMap()
	}
	slog.Info("Pub/Sub publisher initialized", "project", projectID, "topics", len(topicMap))
	return &PubSubPublisher{
		client:   client,
		topicMap: topicMap,
		topics:   make(map[string]*pubsub.Topic),
	}, nil
}

// SetTopicMap replaces the logical-to-broker binding. Called by the config
// watcher on hot reload; in-flight publishes keep their old topic handles.
func (p *PubSubPublisher) SetTopicMap(topicMap map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topicMap = topicMap
	p.topics = make(map[string]*pubsub.Topic)
	slog.Info("event bus topic map replaced", "topics", len(topicMap))
}

// topic resolves a logical name to a cached topic handle.
func (p *PubSubPublisher) topic(topicName string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.topics[topicName]; ok {
		return t, nil
	}
	id, ok := p.topicMap[topicName]
	if !ok {
		return nil, fmt.Errorf("eventbus: unknown topic name %q", topicName)
	}
	t := p.client.Topic(id)
	p.topics[topicName] = t
	return t, nil
}

// Publish sends one JSON message to the broker and waits for the server ack.
func (p *PubSubPublisher) Publish(ctx context.Context, topicName string, payload any) error {
	t, err := p.topic(topicName)
	if err != nil {
		slog.Error("event publish failed", "topic", topicName, "error", err)
		recordPublish(topicName, false)
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("event payload not serializable", "topic", topicName, "error", err)
		recordPublish(topicName, false)
		return fmt.Errorf("eventbus: marshal payload for %s: %w", topicName, err)
	}

	id, err := t.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	if err != nil {
		slog.Error("event publish failed", "topic", topicName, "error", err)
		recordPublish(topicName, false)
		return fmt.Errorf("eventbus: publish to %s: %w", topicName, err)
	}

	slog.Debug("event published", "topic", topicName, "message_id", id)
	recordPublish(topicName, true)
	return nil
}

func recordPublish(topicName string, ok bool) {
	if m := observability.Default(); m != nil {
		m.RecordPublish(topicName, ok)
	}
}

// Close stops all topic publish goroutines (flushing pending batches) and
// closes the client connection.
func (p *PubSubPublisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()
	return p.client.Close()
}

// =============================================================================
// Composition and Local Implementations
// =============================================================================

// Multi fans every publish out to all of the given publishers. The first
// publisher is authoritative for the returned error; secondaries (such as
// the debug websocket tap) are best-effort.
func Multi(primary Publisher, secondaries ...Publisher) Publisher {
	return &multiPublisher{primary: primary, secondaries: secondaries}
}

type multiPublisher struct {
	primary     Publisher
	secondaries []Publisher
}

func (m *multiPublisher) Publish(ctx context.Context, topicName string, payload any) error {
	err := m.primary.Publish(ctx, topicName, payload)
	for _, s := range m.secondaries {
		_ = s.Publish(ctx, topicName, payload)
	}
	return err
}

func (m *multiPublisher) Close() error {
	err := m.primary.Close()
	for _, s := range m.secondaries {
		_ = s.Close()
	}
	return err
}

// NopPublisher logs every event instead of sending it anywhere. Used when no
// broker project is configured (local development).
type NopPublisher struct{}

func (NopPublisher) Publish(_ context.Context, topicName string, payload any) error {
	data, _ := json.Marshal(payload)
	slog.Info("event (broker disabled)", "topic", topicName, "payload_bytes", len(data))
	return nil
}

func (NopPublisher) Close() error { return nil }

var (
	_ Publisher = (*PubSubPublisher)(nil)
	_ Publisher = (*multiPublisher)(nil)
	_ Publisher = NopPublisher{}
)
