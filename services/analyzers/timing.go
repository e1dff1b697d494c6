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
	"math"

	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
)

// pauseThreshold is the minimum inter-word gap counted as a pause.
const pauseThreshold = 0.3 // seconds

// TimingMetrics summarizes speech-rate features derived from word-level
// timing. All durations are seconds.
type TimingMetrics struct {
	WordsPerMinute   float64 `json:"words_per_minute"`
	PauseCount       int     `json:"pause_count"`
	AvgPauseDuration float64 `json:"avg_pause_duration"`
	PausePercentage  float64 `json:"pause_percentage"`
	HesitationRatio  float64 `json:"hesitation_ratio"`
}

// CalculateTimingMetrics derives timing metrics from pronunciation word
// detail. Returns false when fewer than two words are available or the
// timeline is degenerate.
func CalculateTimingMetrics(words []datatypes.WordDetail) (TimingMetrics, bool) {
	if len(words) < 2 {
		return TimingMetrics{}, false
	}

	first := words[0].Offset
	last := words[len(words)-1].Offset + words[len(words)-1].Duration
	total := last - first
	if total <= 0 {
		return TimingMetrics{}, false
	}

	var pauses []float64
	var totalPause float64
	for i := 1; i < len(words); i++ {
		gap := words[i].Offset - (words[i-1].Offset + words[i-1].Duration)
		if gap > pauseThreshold {
			pauses = append(pauses, gap)
			totalPause += gap
		}
	}

	m := TimingMetrics{
		WordsPerMinute:  round1(float64(len(words)) / total * 60),
		PauseCount:      len(pauses),
		PausePercentage: round1(totalPause / total * 100),
		HesitationRatio: round2(totalPause / total),
	}
	if len(pauses) > 0 {
		m.AvgPauseDuration = round2(totalPause / float64(len(pauses)))
	}
	return m, true
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
