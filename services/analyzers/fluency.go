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

const fluencyPromptTemplate = `You are an expert in speech assessment focusing on fluency and
coherence. Answer in 2nd person. Analyze the following transcript from a
language learner:

"%s"

Timing metrics:
- Words per minute: %.1f
- Number of pauses: %d
- Average pause duration: %.2f seconds
- Pause percentage: %.1f%%
- Hesitation ratio: %.2f

Return ONLY a JSON object with this structure:
{
  "grade": <0-100 overall fluency and coherence score>,
  "fluency_metrics": {
    "speech_rate": <0-100>,
    "hesitation_ratio": <0-100>,
    "pause_pattern_score": <0-100>,
    "overall_fluency_score": <0-100>
  },
  "coherence_metrics": {
    "topic_consistency": <0-100>,
    "logical_flow": <0-100>,
    "idea_development": <0-100>,
    "overall_coherence_score": <0-100>
  },
  "key_findings": ["<3-5 specific observations>"],
  "improvement_suggestions": ["<2-3 concrete suggestions>"]
}`

// Fluency analyzes fluency and coherence using the transcript plus timing
// metrics computed from pronunciation word detail.
func (c *Client) Fluency(ctx context.Context, transcript string, words []datatypes.WordDetail) (datatypes.SubResult, error) {
	if transcript == "" {
		return nil, fmt.Errorf("analyzers: empty transcript")
	}

	metrics, ok := CalculateTimingMetrics(words)
	if !ok {
		return nil, fmt.Errorf("analyzers: insufficient word timing for fluency")
	}

	prompt := fmt.Sprintf(fluencyPromptTemplate,
		transcript,
		metrics.WordsPerMinute,
		metrics.PauseCount,
		metrics.AvgPauseDuration,
		metrics.PausePercentage,
		metrics.HesitationRatio,
	)

	raw, err := c.jsonCompletion(ctx, prompt, wantObject)
	if err != nil {
		return nil, err
	}
	result, err := asSubResult(raw)
	if err != nil {
		return nil, err
	}
	result["timing_metrics"] = metrics
	return result, nil
}
