// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the speech-assessment analysis orchestrator.
//
// This is the main entry point for the containerized service. It reads
// configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12310)
//   - ORCHESTRATOR_CONFIG: path to the YAML config file (optional)
//   - GOOGLE_CLOUD_PROJECT: broker project id (empty: events log-only)
//   - DATABASE_URL: Postgres DSN (empty: results not persisted)
//   - OPENAI_API_KEY / OPENAI_MODEL: text analyzers and transcription
//   - AZURE_SPEECH_KEY / AZURE_SPEECH_REGION: pronunciation assessment
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//   - AUDIO_WORK_DIR: scratch directory for audio files (default: temp)
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	./orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/speechassess/services/orchestrator"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := orchestrator.Config{
		Port:         getEnvInt("ORCHESTRATOR_PORT", 12310),
		GinMode:      os.Getenv("GIN_MODE"),
		ConfigPath:   os.Getenv("ORCHESTRATOR_CONFIG"),
		ProjectID:    os.Getenv("GOOGLE_CLOUD_PROJECT"),
		DatabaseDSN:  os.Getenv("DATABASE_URL"),
		OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:  os.Getenv("OPENAI_MODEL"),
		SpeechKey:    os.Getenv("AZURE_SPEECH_KEY"),
		SpeechRegion: os.Getenv("AZURE_SPEECH_REGION"),
		WorkDir:      os.Getenv("AUDIO_WORK_DIR"),
	}

	slog.Info("Starting analysis orchestrator",
		"port", cfg.Port,
		"broker_project", cfg.ProjectID,
		"database_configured", cfg.DatabaseDSN != "",
	)

	svc, err := orchestrator.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// getEnvInt returns the environment variable parsed as int, or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
