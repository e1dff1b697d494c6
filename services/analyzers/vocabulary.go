// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/speechassess/pkg/vocabulary"
	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
)

const vocabularyPromptTemplate = `You are an expert in vocabulary assessment for spoken English.
Answer in 2nd person. The learner used the following words at these CEFR levels:

%s

Transcript:
"%s"

Suggest upgrades from lower CEFR levels toward the next level up, keeping each
suggestion natural for spoken language.

Return ONLY a JSON object with this structure:
{
  "grade": <0-100 vocabulary score weighing level distribution and variety>,
  "issues": [
    {
      "word": "<word used>",
      "level": "<its CEFR level>",
      "suggestion": "<higher-level alternative>",
      "target_level": "<the alternative's CEFR level>"
    }
  ]
}`

// Vocabulary analyzes the CEFR vocabulary profile of a transcript. The
// level distribution comes from the process-wide word registry; the model
// only proposes upgrades on top of it.
func (c *Client) Vocabulary(ctx context.Context, transcript string) (datatypes.SubResult, error) {
	reg := vocabulary.Default()
	if reg == nil {
		return nil, fmt.Errorf("analyzers: vocabulary registry not initialized")
	}
	if transcript == "" {
		return nil, fmt.Errorf("analyzers: empty transcript")
	}

	levels := levelProfile(reg, transcript)
	if len(levels) == 0 {
		return nil, fmt.Errorf("analyzers: no recognizable vocabulary in transcript")
	}

	raw, err := c.jsonCompletion(ctx,
		fmt.Sprintf(vocabularyPromptTemplate, formatProfile(levels), transcript), wantObject)
	if err != nil {
		return nil, err
	}
	result, err := asSubResult(raw)
	if err != nil {
		return nil, err
	}
	result["level_distribution"] = levelCounts(levels)
	return result, nil
}

// levelProfile maps each distinct recognized word to its CEFR level.
func levelProfile(reg *vocabulary.Registry, transcript string) map[string]string {
	levels := make(map[string]string)
	for _, w := range strings.Fields(transcript) {
		entry, ok := reg.Lookup(w)
		if !ok {
			continue
		}
		levels[entry.OriginalForm] = entry.Level
	}
	return levels
}

// formatProfile renders "word (level)" lines in stable order for the prompt.
func formatProfile(levels map[string]string) string {
	words := make([]string, 0, len(levels))
	for w := range levels {
		words = append(words, w)
	}
	sort.Strings(words)

	var sb strings.Builder
	for _, w := range words {
		fmt.Fprintf(&sb, "- %s (%s)\n", w, levels[w])
	}
	return sb.String()
}

// levelCounts tallies how many distinct words sit at each CEFR level.
func levelCounts(levels map[string]string) map[string]any {
	counts := make(map[string]any)
	for _, level := range levels {
		n, _ := counts[level].(int)
		counts[level] = n + 1
	}
	return counts
}
