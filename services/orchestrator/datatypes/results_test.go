// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "testing"

func TestSubResult_IsError(t *testing.T) {
	cases := []struct {
		name string
		r    SubResult
		want bool
	}{
		{"nil is error", nil, true},
		{"error shape", ErrorSub("boom"), true},
		{"success shape", SubResult{"grade": 80.0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.IsError(); got != tc.want {
				t.Errorf("IsError() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSubResult_Grade(t *testing.T) {
	if _, ok := ErrorSub("x").Grade(); ok {
		t.Error("error shape has no grade")
	}
	if g, ok := (SubResult{"grade": 72.5}).Grade(); !ok || g != 72.5 {
		t.Errorf("Grade() = %v, %v", g, ok)
	}
	if g, ok := (SubResult{"grade": 80}).Grade(); !ok || g != 80 {
		t.Errorf("int grade should coerce: %v, %v", g, ok)
	}
}

func TestQuestionResult_Normalized(t *testing.T) {
	q := QuestionResult{
		QuestionNumber: 1,
		Pronunciation:  SubResult{"grade": 80.0},
		// Grammar, Lexical, Vocabulary, Fluency missing
	}
	n := q.Normalized()
	for name, sub := range map[string]SubResult{
		"grammar": n.Grammar, "lexical": n.Lexical,
		"vocabulary": n.Vocabulary, "fluency": n.Fluency,
	} {
		if !sub.IsError() {
			t.Errorf("%s should normalize to an error shape", name)
		}
	}
	if n.Pronunciation.IsError() {
		t.Error("present sub-result must be preserved")
	}
}

func TestQuestionResult_HasError(t *testing.T) {
	full := QuestionResult{
		Pronunciation: SubResult{"grade": 1.0},
		Grammar:       SubResult{"grade": 1.0},
		Lexical:       SubResult{"grade": 1.0},
		Vocabulary:    SubResult{"grade": 1.0},
		Fluency:       SubResult{"grade": 1.0},
	}
	if full.HasError() {
		t.Error("fully successful result should have no error")
	}

	broken := full
	broken.Vocabulary = ErrorSub("x")
	if !broken.HasError() {
		t.Error("one errored analysis should flag the result")
	}
}
