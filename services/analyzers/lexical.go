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
	"strings"

	"github.com/AleutianAI/speechassess/pkg/textutil"
	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
)

const lexicalPromptTemplate = `You are an expert in lexical resource assessment for spoken English.
Answer in 2nd person. Evaluate the range, precision, and appropriateness of the
vocabulary used in these sentences:

%s

Return ONLY a JSON object with this structure:
{
  "grade": <0-100 overall lexical resource score>,
  "issues": [
    {
      "sentence": "<sentence>",
      "word": "<imprecise or repetitive word>",
      "suggestion": "<stronger alternative>",
      "reason": "<why the alternative is better>"
    }
  ],
  "range_observations": ["<1-3 observations about lexical range>"]
}`

// Lexical analyzes the lexical resources of a transcript. The transcript
// is split into sentences first; every non-empty sentence is sent, with no
// minimum length.
func (c *Client) Lexical(ctx context.Context, transcript string) (datatypes.SubResult, error) {
	sentences := textutil.SplitSentences(transcript)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("analyzers: transcript has no sentences")
	}

	var sb strings.Builder
	for i, s := range sentences {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}

	raw, err := c.jsonCompletion(ctx, fmt.Sprintf(lexicalPromptTemplate, sb.String()), wantObject)
	if err != nil {
		return nil, err
	}
	result, err := asSubResult(raw)
	if err != nil {
		return nil, err
	}
	result["sentence_count"] = len(sentences)
	result["word_count"] = textutil.CountWords(transcript)
	return result, nil
}
