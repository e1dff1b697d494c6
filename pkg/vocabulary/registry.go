// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vocabulary holds the CEFR word-level registry used by the
// vocabulary analyzer.
//
// The registry is a process-wide read-only service: Init loads the word
// list once at startup, before any handler is served. There is no lazy
// loading inside request paths — first-request latency spikes and init
// races are exactly what that rule exists to prevent.
package vocabulary

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/antzucaro/matchr"
)

// CEFRProgression maps each level to the next one up, used for upgrade
// suggestions.
var CEFRProgression = map[string]string{
	"A1": "A2", "A2": "B1", "B1": "B2", "B2": "C1", "C1": "C2",
}

// Entry is one word's registry record.
type Entry struct {
	// Level is the CEFR level (A1..C2).
	Level string
	// OriginalForm is the headword as it appears in the source list.
	OriginalForm string
}

// Registry is an immutable lemma-to-entry lookup table.
type Registry struct {
	entries map[string]Entry
}

// fileEntry mirrors the word-list JSON format: an array of objects whose
// "value" holds the word and its level.
type fileEntry struct {
	Value struct {
		Word  string `json:"word"`
		Level string `json:"level"`
	} `json:"value"`
}

// defaultRegistry is the process-wide instance set by Init.
var defaultRegistry atomic.Pointer[Registry]

// Init loads the word list from path and installs it as the process-wide
// registry. Call once at startup before serving requests.
func Init(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("vocabulary: open word list %q: %w", path, err)
	}
	defer f.Close()

	reg, err := Load(f)
	if err != nil {
		return fmt.Errorf("vocabulary: load word list %q: %w", path, err)
	}
	defaultRegistry.Store(reg)
	return nil
}

// Default returns the process-wide registry, or nil before Init.
func Default() *Registry {
	return defaultRegistry.Load()
}

// Load parses a word-list JSON document into a Registry. Exposed for tests
// that construct registries from literals.
func Load(r io.Reader) (*Registry, error) {
	var raw []fileEntry
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode word list: %w", err)
	}

	entries := make(map[string]Entry, len(raw))
	for _, e := range raw {
		word := strings.TrimSpace(e.Value.Word)
		level := strings.TrimSpace(e.Value.Level)
		if word == "" || level == "" {
			continue
		}
		entries[Lemma(word)] = Entry{Level: level, OriginalForm: word}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("word list is empty")
	}
	return &Registry{entries: entries}, nil
}

// Len returns the number of registered lemmas.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Lookup resolves a word to its registry entry. The word is lemmatised
// first; when the lemma has no exact entry, a close spelling match (one
// edit away) is accepted so minor transcription artifacts still resolve.
func (r *Registry) Lookup(word string) (Entry, bool) {
	lemma := Lemma(word)
	if e, ok := r.entries[lemma]; ok {
		return e, true
	}
	if len(lemma) < 5 {
		// Short words are too easy to confuse with near neighbours.
		return Entry{}, false
	}
	for candidate, e := range r.entries {
		if abs(len(candidate)-len(lemma)) > 1 {
			continue
		}
		if matchr.Levenshtein(candidate, lemma) <= 1 {
			return e, true
		}
	}
	return Entry{}, false
}

// suffixRules are applied longest-first; each maps a suffix to its
// replacement. A crude stemmer is enough here: the registry stores lemmas
// produced by the same rules, so lookups are self-consistent.
var suffixRules = []struct{ suffix, replace string }{
	{"ations", "ate"},
	{"ation", "ate"},
	{"iness", "y"},
	{"ness", ""},
	{"ments", "ment"},
	{"ingly", ""},
	{"edly", ""},
	{"ily", "y"},
	{"ies", "y"},
	{"ied", "y"},
	{"ing", ""},
	{"est", ""},
	{"ers", "er"},
	{"ed", ""},
	{"es", ""},
	{"ly", ""},
	{"s", ""},
}

// Lemma reduces a word to a lookup key: lowercase, punctuation trimmed,
// common inflectional suffixes stripped.
func Lemma(word string) string {
	w := strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('A' <= r && r <= 'Z')
	}))
	if len(w) <= 3 {
		return w
	}
	for _, rule := range suffixRules {
		if strings.HasSuffix(w, rule.suffix) {
			stem := w[:len(w)-len(rule.suffix)] + rule.replace
			if len(stem) >= 3 {
				return stem
			}
		}
	}
	return w
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
