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

	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
)

const grammarPromptTemplate = `You are an expert English grammar assessor. Answer in 2nd person.
Analyze the grammar of the following transcript from a spoken-English learner.
Spoken language is informal; do not penalize contractions or fillers.

"%s"

Return ONLY a JSON object with this structure:
{
  "grade": <0-100 overall grammar score>,
  "issues": [
    {
      "sentence": "<the sentence containing the issue>",
      "issue": "<short description>",
      "correction": "<corrected sentence>",
      "severity": "<minor|moderate|major>"
    }
  ],
  "strengths": ["<1-3 observed grammatical strengths>"]
}`

// Grammar analyzes the grammatical quality of a transcript.
func (c *Client) Grammar(ctx context.Context, transcript string) (datatypes.SubResult, error) {
	if transcript == "" {
		return nil, fmt.Errorf("analyzers: empty transcript")
	}

	raw, err := c.jsonCompletion(ctx, fmt.Sprintf(grammarPromptTemplate, transcript), wantObject)
	if err != nil {
		return nil, err
	}
	return asSubResult(raw)
}
