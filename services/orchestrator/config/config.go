// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the orchestrator's YAML configuration file.
//
// The file carries deployment-level settings — most importantly the
// logical-to-broker topic map, which must stay consistent end-to-end and
// is therefore configuration, not code. Secrets (API keys, DSNs) stay in
// environment variables and never appear in the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML configuration document.
type File struct {
	// Topics overrides entries of the default logical-to-broker topic
	// map. Keys are logical names (STUDENT_SUBMISSION, ...).
	Topics map[string]string `yaml:"topics"`

	// PushToken, when set, is required as a bearer token on webhook
	// deliveries.
	PushToken string `yaml:"push_token"`

	Analysis struct {
		// StageTimeoutSeconds bounds each analyzer call. Default 120.
		StageTimeoutSeconds int `yaml:"stage_timeout_seconds"`
		// FluencyUsesWAV adds fluency to each file session's
		// dependency set.
		FluencyUsesWAV bool `yaml:"fluency_uses_wav"`
	} `yaml:"analysis"`

	Cleanup struct {
		// IntervalMinutes is the maintenance sweep interval. Default 5.
		IntervalMinutes int `yaml:"interval_minutes"`
		// SessionTimeoutMinutes is the file session deadline. Default 30.
		SessionTimeoutMinutes int `yaml:"session_timeout_minutes"`
		// CoordinatorMaxAgeMinutes bounds half-complete coordination
		// state. Default 120.
		CoordinatorMaxAgeMinutes int `yaml:"coordinator_max_age_minutes"`
	} `yaml:"cleanup"`

	Vocabulary struct {
		// WordListPath points at the CEFR word list JSON.
		WordListPath string `yaml:"word_list_path"`
	} `yaml:"vocabulary"`
}

// knownTopics guards against typos in the topic map: an unknown logical
// name is a config error, not a new topic.
var knownTopics = map[string]bool{
	"STUDENT_SUBMISSION":           true,
	"AUDIO_CONVERSION_DONE":        true,
	"TRANSCRIPTION_DONE":           true,
	"QUESTION_ANALYSIS_READY":      true,
	"PRONUNCIATION_DONE":           true,
	"GRAMMAR_DONE":                 true,
	"LEXICAL_DONE":                 true,
	"VOCABULARY_DONE":              true,
	"FLUENCY_DONE":                 true,
	"ANALYSIS_COMPLETE":            true,
	"SUBMISSION_ANALYSIS_COMPLETE": true,
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*File, error) {
	cfg := &File{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil // empty file: all defaults
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all failures found.
func Validate(cfg *File) error {
	var errs []error
	for name := range cfg.Topics {
		if !knownTopics[name] {
			errs = append(errs, fmt.Errorf("unknown logical topic %q", name))
		}
	}
	if cfg.Analysis.StageTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("analysis.stage_timeout_seconds must not be negative"))
	}
	if cfg.Cleanup.IntervalMinutes < 0 {
		errs = append(errs, fmt.Errorf("cleanup.interval_minutes must not be negative"))
	}
	if cfg.Cleanup.SessionTimeoutMinutes < 0 {
		errs = append(errs, fmt.Errorf("cleanup.session_timeout_minutes must not be negative"))
	}
	return errors.Join(errs...)
}
