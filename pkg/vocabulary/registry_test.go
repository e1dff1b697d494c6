// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vocabulary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const wordListJSON = `[
	{"value": {"word": "ubiquitous", "level": "C2"}},
	{"value": {"word": "beautiful", "level": "A2"}},
	{"value": {"word": "analyse", "level": "B2"}},
	{"value": {"word": "run", "level": "A1"}},
	{"value": {"word": "", "level": "A1"}}
]`

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Load(strings.NewReader(wordListJSON))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return reg
}

func TestLoad(t *testing.T) {
	reg := testRegistry(t)
	if reg.Len() != 4 {
		t.Fatalf("expected 4 entries (blank word skipped), got %d", reg.Len())
	}
}

func TestLoad_Empty(t *testing.T) {
	if _, err := Load(strings.NewReader(`[]`)); err == nil {
		t.Fatal("empty word list should be rejected")
	}
}

func TestLookup(t *testing.T) {
	reg := testRegistry(t)

	t.Run("exact headword", func(t *testing.T) {
		e, ok := reg.Lookup("ubiquitous")
		if !ok || e.Level != "C2" {
			t.Fatalf("Lookup(ubiquitous) = %+v, %v", e, ok)
		}
	})

	t.Run("inflected form resolves to lemma", func(t *testing.T) {
		e, ok := reg.Lookup("runs")
		if !ok || e.Level != "A1" {
			t.Fatalf("Lookup(runs) = %+v, %v", e, ok)
		}
	})

	t.Run("punctuation is trimmed", func(t *testing.T) {
		if _, ok := reg.Lookup("beautiful,"); !ok {
			t.Fatal("trailing punctuation should not break lookup")
		}
	})

	t.Run("one edit away still resolves", func(t *testing.T) {
		e, ok := reg.Lookup("ubiquitos") // transcription artifact
		if !ok || e.Level != "C2" {
			t.Fatalf("fuzzy Lookup(ubiquitos) = %+v, %v", e, ok)
		}
	})

	t.Run("unknown word misses", func(t *testing.T) {
		if _, ok := reg.Lookup("xylophone"); ok {
			t.Fatal("unregistered word should miss")
		}
	})

	t.Run("short words never fuzzy-match", func(t *testing.T) {
		if _, ok := reg.Lookup("ran"); ok {
			t.Fatal("short words must require an exact lemma hit")
		}
	})
}

func TestLemma(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Walking", "walk"},
		{"cities", "city"},
		{"walked", "walk"},
		{"cats", "cat"},
		{"run", "run"},
		{"quickly", "quick"},
	}
	for _, tc := range cases {
		if got := Lemma(tc.in); got != tc.want {
			t.Errorf("Lemma(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInitAndDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.json")
	if err := os.WriteFile(path, []byte(wordListJSON), 0o644); err != nil {
		t.Fatalf("write word list: %v", err)
	}

	if err := Init(path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if Default() == nil {
		t.Fatal("Default should be set after Init")
	}
	if _, ok := Default().Lookup("beautiful"); !ok {
		t.Fatal("installed registry should resolve known words")
	}
}

func TestInit_MissingFile(t *testing.T) {
	if err := Init("/nonexistent/words.json"); err == nil {
		t.Fatal("missing word list should fail Init")
	}
}
