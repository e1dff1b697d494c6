// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package textutil

import "testing"

func TestCountWords(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hello world", 2},
		{"hello, world!", 2},
		{"  spaced   out  ", 2},
		{"one. two. three.", 3},
		{"...", 0},
	}
	for _, tc := range cases {
		if got := CountWords(tc.text); got != tc.want {
			t.Errorf("CountWords(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestCountSentences(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"Hello world.", 1},
		{"One. Two! Three?", 3},
		{"No terminator at all", 1},
		{"Trailing spaces.   ", 1},
	}
	for _, tc := range cases {
		if got := CountSentences(tc.text); got != tc.want {
			t.Errorf("CountSentences(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}
