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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
)

// ticksPerSecond converts the speech service's 100 ns ticks to seconds.
const ticksPerSecond = 10_000_000

// problemWordThreshold marks a word as an issue below this accuracy score.
const problemWordThreshold = 70.0

// PronunciationAssessor scores a local WAV recording against a reference
// transcript using the Azure Speech pronunciation assessment REST API.
type PronunciationAssessor struct {
	key    string
	region string
	http   *http.Client
}

// NewPronunciationAssessor creates an assessor for the given speech
// resource. httpClient may be nil to use http.DefaultClient.
func NewPronunciationAssessor(key, region string, httpClient *http.Client) *PronunciationAssessor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &PronunciationAssessor{key: key, region: region, http: httpClient}
}

// assessmentParams is the Pronunciation-Assessment header payload.
type assessmentParams struct {
	ReferenceText string `json:"ReferenceText"`
	GradingSystem string `json:"GradingSystem"`
	Granularity   string `json:"Granularity"`
	EnableMiscue  bool   `json:"EnableMiscue"`
}

// speechResponse mirrors the detailed recognition response.
type speechResponse struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	NBest             []struct {
		Display           string  `json:"Display"`
		AccuracyScore     float64 `json:"AccuracyScore"`
		FluencyScore      float64 `json:"FluencyScore"`
		CompletenessScore float64 `json:"CompletenessScore"`
		PronScore         float64 `json:"PronScore"`
		Words             []struct {
			Word                    string `json:"Word"`
			Offset                  int64  `json:"Offset"`
			Duration                int64  `json:"Duration"`
			PronunciationAssessment struct {
				AccuracyScore float64 `json:"AccuracyScore"`
				ErrorType     string  `json:"ErrorType"`
			} `json:"PronunciationAssessment"`
			Phonemes []struct {
				Phoneme                 string `json:"Phoneme"`
				PronunciationAssessment struct {
					AccuracyScore float64 `json:"AccuracyScore"`
				} `json:"PronunciationAssessment"`
			} `json:"Phonemes"`
		} `json:"Words"`
	} `json:"NBest"`
}

// Analyze scores the WAV at wavPath against referenceText. The returned
// sub-result carries the aggregate grades, per-word detail (consumed by
// the fluency stage), and an issues list of words that scored low or carry
// an error type other than "None".
func (p *PronunciationAssessor) Analyze(ctx context.Context, wavPath, referenceText string) (datatypes.SubResult, error) {
	if p.key == "" || p.region == "" {
		return nil, fmt.Errorf("analyzers: speech service credentials not configured")
	}

	audio, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, fmt.Errorf("analyzers: read wav %s: %w", wavPath, err)
	}

	params, err := json.Marshal(assessmentParams{
		ReferenceText: referenceText,
		GradingSystem: "HundredMark",
		Granularity:   "Phoneme",
		EnableMiscue:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("analyzers: marshal assessment params: %w", err)
	}

	url := fmt.Sprintf(
		"https://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1?language=en-US&format=detailed",
		p.region)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("analyzers: build speech request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.key)
	req.Header.Set("Pronunciation-Assessment", base64.StdEncoding.EncodeToString(params))
	req.Header.Set("Content-Type", "audio/wav; codecs=audio/pcm; samplerate=16000")
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyzers: speech request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("analyzers: read speech response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyzers: speech service returned %d: %s",
			resp.StatusCode, truncate(string(body), 200))
	}

	var parsed speechResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("analyzers: decode speech response: %w", err)
	}
	if parsed.RecognitionStatus != "Success" || len(parsed.NBest) == 0 {
		return nil, fmt.Errorf("analyzers: recognition failed: %s", parsed.RecognitionStatus)
	}

	best := parsed.NBest[0]
	words := make([]datatypes.WordDetail, 0, len(best.Words))
	var issues []any
	for _, w := range best.Words {
		detail := datatypes.WordDetail{
			Word:          w.Word,
			Offset:        float64(w.Offset) / ticksPerSecond,
			Duration:      float64(w.Duration) / ticksPerSecond,
			AccuracyScore: w.PronunciationAssessment.AccuracyScore,
			ErrorType:     w.PronunciationAssessment.ErrorType,
		}
		words = append(words, detail)

		if detail.AccuracyScore < problemWordThreshold || (detail.ErrorType != "" && detail.ErrorType != "None") {
			issues = append(issues, map[string]any{
				"word":           w.Word,
				"accuracy_score": detail.AccuracyScore,
				"error_type":     detail.ErrorType,
				"phonemes":       phonemeDetail(w.Phonemes),
			})
		}
	}
	if issues == nil {
		issues = []any{}
	}

	return datatypes.SubResult{
		"grade":              best.PronScore,
		"accuracy_score":     best.AccuracyScore,
		"fluency_score":      best.FluencyScore,
		"completeness_score": best.CompletenessScore,
		"recognized_text":    best.Display,
		"word_details":       words,
		"issues":             issues,
	}, nil
}

// phonemeDetail converts raw phonemes into IPA-annotated score entries.
func phonemeDetail(phonemes []struct {
	Phoneme                 string `json:"Phoneme"`
	PronunciationAssessment struct {
		AccuracyScore float64 `json:"AccuracyScore"`
	} `json:"PronunciationAssessment"`
}) []map[string]any {
	out := make([]map[string]any, 0, len(phonemes))
	for _, ph := range phonemes {
		out = append(out, map[string]any{
			"phoneme":        ToIPA(ph.Phoneme),
			"accuracy_score": ph.PronunciationAssessment.AccuracyScore,
		})
	}
	return out
}

// azureToIPA maps the speech service's phoneme names to IPA symbols.
var azureToIPA = map[string]string{
	// Vowels
	"ax": "ə", "ay": "aɪ", "ow": "oʊ", "iy": "i", "ih": "ɪ",
	"eh": "ɛ", "ae": "æ", "aa": "ɑ", "ao": "ɔ", "uw": "u",
	"uh": "ʊ", "er": "ɜr",
	// Consonants
	"dh": "ð", "th": "θ", "sh": "ʃ", "zh": "ʒ", "ch": "tʃ",
	"jh": "dʒ", "ng": "ŋ", "y": "j",
}

// ToIPA converts one service phoneme to its IPA representation, keeping
// stress markers (a trailing 1 or 2) as the IPA stress prefixes.
func ToIPA(phoneme string) string {
	p := strings.ToLower(strings.TrimSpace(phoneme))

	stress := ""
	if strings.HasSuffix(p, "1") {
		stress = "ˈ"
		p = strings.TrimSuffix(p, "1")
	} else if strings.HasSuffix(p, "2") {
		stress = "ˌ"
		p = strings.TrimSuffix(p, "2")
	}

	if ipa, ok := azureToIPA[p]; ok {
		return stress + ipa
	}
	return stress + p
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
