// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzers implements the five analysis stages: pronunciation
// assessment against the local WAV, and four prompt-driven text analyses
// (grammar, lexical, vocabulary, fluency).
//
// Each analyzer returns a datatypes.SubResult plus an error; the analysis
// orchestrator normalizes errors into {"error": ...} sub-results so a
// failing stage never blocks the question.
package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is the chat model used by the text analyzers.
const DefaultModel = openai.GPT4

// jsonFormat is the expected top-level JSON shape of a model reply.
type jsonFormat int

const (
	wantObject jsonFormat = iota
	wantArray
)

// chatClient is the slice of the OpenAI client the analyzers use.
// Injectable so tests can script replies.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client is the shared LLM access layer for the text analyzers.
type Client struct {
	chat  chatClient
	model string
}

// NewClient creates a Client over the OpenAI API.
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{chat: openai.NewClient(apiKey), model: model}
}

// newClientWith creates a Client over an injected chat backend (tests).
func newClientWith(chat chatClient, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{chat: chat, model: model}
}

// fencedJSON extracts the body of a ```json ... ``` block.
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// formatRetries bounds the re-prompt loop for replies that are not valid
// JSON of the expected shape.
const formatRetries = 2

// jsonCompletion sends one prompt and parses the reply as JSON of the
// expected shape, re-prompting with a format reminder when the model
// wrapped or malformed its output.
func (c *Client) jsonCompletion(ctx context.Context, prompt string, want jsonFormat) (json.RawMessage, error) {
	currentPrompt := prompt
	shape := "object"
	if want == wantArray {
		shape = "array"
	}

	var lastErr error
	for attempt := 0; attempt <= formatRetries; attempt++ {
		if attempt > 0 {
			currentPrompt = fmt.Sprintf(
				"IMPORTANT: your previous response was not a valid JSON %s. "+
					"Return ONLY the raw JSON %s with no explanation text, markdown, or code fences.\n\n%s",
				shape, shape, prompt)
		}

		resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Temperature: 0.1,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: currentPrompt},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("analyzers: chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("analyzers: empty completion response")
			continue
		}

		content := strings.TrimSpace(resp.Choices[0].Message.Content)
		if m := fencedJSON.FindStringSubmatch(content); m != nil {
			content = m[1]
		}

		raw := json.RawMessage(content)
		if validShape(raw, want) {
			return raw, nil
		}
		lastErr = fmt.Errorf("analyzers: response is not a JSON %s", shape)
		slog.Warn("analyzer reply failed format validation",
			"attempt", attempt+1,
			"expected", shape,
		)
	}
	return nil, lastErr
}

// validShape checks the reply parses as the wanted JSON container.
func validShape(raw json.RawMessage, want jsonFormat) bool {
	switch want {
	case wantArray:
		var v []any
		return json.Unmarshal(raw, &v) == nil
	default:
		var v map[string]any
		return json.Unmarshal(raw, &v) == nil
	}
}

// asSubResult unmarshals an object reply into a sub-result map.
func asSubResult(raw json.RawMessage) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("analyzers: decode result object: %w", err)
	}
	return out, nil
}
