// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package envelope decodes inbound webhook bodies.
//
// Every webhook route accepts two invocation shapes:
//
//   - direct: the body is the event payload itself, as a JSON object
//   - push: the body is a broker push envelope whose "message.data" field
//     holds the base64-encoded JSON payload
//
// The two shapes are disambiguated by the presence of the "message" field,
// and the result is a tagged Decoded value rather than a duck-typed map so
// handlers never have to re-inspect the raw body.
//
// Decoding never mutates state and never touches the network.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope indicates a push envelope whose "message" field is
// present but unusable: data missing, not valid base64, or not valid JSON
// once decoded. Webhook handlers respond 4xx so the broker does not
// redeliver a message that can never be parsed.
var ErrMalformedEnvelope = errors.New("malformed push envelope")

// ErrMissingField indicates a structurally valid payload that lacks a field
// required for its event type.
var ErrMissingField = errors.New("missing required field")

// Decoded is the result of decoding one webhook body.
type Decoded struct {
	// Payload is the event payload JSON, ready to unmarshal into the
	// event's typed struct.
	Payload json.RawMessage

	// MessageID is the broker's message id, or "" for direct invocations.
	// Logged alongside every handled event.
	MessageID string

	// PublishTime is the broker's publish timestamp, or "".
	PublishTime string

	// Attributes are the envelope attributes, nil for direct invocations.
	Attributes map[string]string

	// Push is true when the body was a push envelope.
	Push bool
}

// pushBody mirrors the broker's push delivery format.
type pushBody struct {
	Message      *pushMessage `json:"message"`
	Subscription string       `json:"subscription"`
}

type pushMessage struct {
	Data        string            `json:"data"`
	MessageID   string            `json:"messageId"`
	PublishTime string            `json:"publishTime"`
	Attributes  map[string]string `json:"attributes"`
}

// Decode parses a webhook body into a Decoded payload.
//
// A body with a "message" field is treated as a push envelope: its data is
// base64-decoded and must contain valid JSON. Any other JSON object is
// passed through unchanged as a direct invocation.
func Decode(body []byte) (Decoded, error) {
	if !json.Valid(body) {
		return Decoded{}, fmt.Errorf("%w: body is not valid JSON", ErrMalformedEnvelope)
	}

	var env pushBody
	if err := json.Unmarshal(body, &env); err != nil || env.Message == nil {
		// Direct invocation: the body is the payload.
		return Decoded{Payload: json.RawMessage(body)}, nil
	}

	if env.Message.Data == "" {
		return Decoded{}, fmt.Errorf("%w: message present but data missing", ErrMalformedEnvelope)
	}

	raw, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: data is not valid base64: %v", ErrMalformedEnvelope, err)
	}
	if !json.Valid(raw) {
		return Decoded{}, fmt.Errorf("%w: decoded data is not valid JSON", ErrMalformedEnvelope)
	}

	return Decoded{
		Payload:     raw,
		MessageID:   env.Message.MessageID,
		PublishTime: env.Message.PublishTime,
		Attributes:  env.Message.Attributes,
		Push:        true,
	}, nil
}

// EncodePush wraps a payload in a push envelope. Used by tests and the
// local-loopback publisher to mirror what the broker would deliver.
func EncodePush(payload any, messageID string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal payload: %w", err)
	}
	return json.Marshal(pushBody{Message: &pushMessage{
		Data:      base64.StdEncoding.EncodeToString(raw),
		MessageID: messageID,
	}})
}

// EncodeDirect marshals a payload as a direct invocation body.
func EncodeDirect(payload any) ([]byte, error) {
	return json.Marshal(payload)
}
