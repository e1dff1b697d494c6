// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package textutil provides small text measurement helpers shared by the
// analyzers.
package textutil

import "strings"

// punctReplacer strips punctuation that would otherwise be counted as words.
var punctReplacer = strings.NewReplacer(
	".", " ", ",", " ", "!", " ", "?", " ", ";", " ", ":", " ",
	`"`, " ", "'", " ", "(", " ", ")", " ", "[", " ", "]", " ",
	"{", " ", "}", " ",
)

// CountWords counts actual words in text, excluding punctuation and
// special characters.
func CountWords(text string) int {
	return len(strings.Fields(punctReplacer.Replace(text)))
}

// SplitSentences splits text into trimmed non-empty sentences on the
// common sentence terminators.
func SplitSentences(text string) []string {
	var sentences []string
	start := 0
	flush := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			sentences = append(sentences, s)
		}
	}
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			flush(i)
			start = i + 1
		}
	}
	flush(len(text))
	return sentences
}

// CountSentences counts the sentences in text.
func CountSentences(text string) int {
	return len(SplitSentences(text))
}
