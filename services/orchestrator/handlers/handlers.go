// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP surface of the orchestrator: the
// submission entry point, one webhook route per pipeline event, the
// results API, and the debug endpoints.
//
// Every webhook route accepts both direct payloads and broker push
// envelopes (see the envelope package). Response policy: 200 for anything
// the pipeline has durably recorded, including business-level failures, so
// the broker does not redeliver; 4xx only for deliveries that can never be
// parsed; 5xx only when the message was not processed and redelivery is
// wanted.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/speechassess/services/orchestrator/envelope"
	"github.com/AleutianAI/speechassess/services/orchestrator/observability"
)

// validate checks the `validate` tags on decoded event payloads.
var validate = validator.New()

// decodePayload reads the request body, unwraps a push envelope if present,
// unmarshals the payload into v, and validates required fields. On failure
// it writes the 400 response and returns false.
func decodePayload(c *gin.Context, route string, v any) bool {
	body, err := c.GetRawData()
	if err != nil {
		recordWebhook(route, "error")
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return false
	}

	dec, err := envelope.Decode(body)
	if err != nil {
		slog.Warn("malformed webhook delivery", "route", route, "error", err)
		recordWebhook(route, "malformed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if dec.Push {
		slog.Debug("push delivery", "route", route, "message_id", dec.MessageID)
	}

	if err := json.Unmarshal(dec.Payload, v); err != nil {
		slog.Warn("undecodable webhook payload", "route", route, "error", err)
		recordWebhook(route, "malformed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload is not valid JSON for this event"})
		return false
	}

	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			slog.Warn("webhook payload missing required field",
				"route", route,
				"field", verrs[0].Field(),
			)
		}
		recordWebhook(route, "malformed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required field: " + err.Error()})
		return false
	}
	return true
}

// respondOK writes the uniform success body used by all webhook routes.
func respondOK(c *gin.Context, route, message string) {
	recordWebhook(route, "ok")
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": message})
}

func recordWebhook(route, status string) {
	if m := observability.Default(); m != nil {
		m.RecordWebhook(route, status)
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
