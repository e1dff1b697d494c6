// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transcribe produces transcripts with word-level timing for
// submitted recordings.
//
// Transcription runs independently of audio conversion — it downloads its
// own copy of the recording and the two jobs race to the coordinator's
// fan-in. Failures publish TRANSCRIPTION_DONE with the error field set.
package transcribe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
	"github.com/AleutianAI/speechassess/services/orchestrator/eventbus"
)

// transcriber is the slice of the OpenAI client used here, injectable for
// tests.
type transcriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Service transcribes submission recordings.
type Service struct {
	bus     eventbus.Publisher
	stt     transcriber
	http    *http.Client
	workDir string
}

// New creates the transcription service. httpClient nil selects
// http.DefaultClient; workDir "" selects the system temp directory.
func New(bus eventbus.Publisher, apiKey string, httpClient *http.Client, workDir string) *Service {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Service{
		bus:     bus,
		stt:     openai.NewClient(apiKey),
		http:    httpClient,
		workDir: workDir,
	}
}

// ProcessSubmission transcribes every recording concurrently. Per-question
// failures are reported through the transcription-done event and never
// abort the sibling questions.
func (s *Service) ProcessSubmission(ctx context.Context, msg datatypes.StudentSubmission) error {
	slog.Info("processing submission transcription",
		"submission_url", msg.SubmissionURL,
		"recordings", len(msg.AudioURLs),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, audioURL := range msg.AudioURLs {
		questionNumber := i + 1
		url := audioURL
		g.Go(func() error {
			s.ProcessQuestion(gctx, url, msg.SubmissionURL, questionNumber, msg.TotalQuestions)
			return nil
		})
	}
	return g.Wait()
}

// ProcessQuestion transcribes one recording and publishes its outcome.
func (s *Service) ProcessQuestion(ctx context.Context, audioURL, submissionURL string, questionNumber, totalQuestions int) {
	done := datatypes.TranscriptionDone{
		SubmissionURL:  submissionURL,
		QuestionNumber: questionNumber,
		TotalQuestions: totalQuestions,
		AudioURL:       audioURL,
	}

	text, words, err := s.transcribe(ctx, audioURL)
	if err != nil {
		slog.Error("transcription failed",
			"submission_url", submissionURL,
			"question_number", questionNumber,
			"error", err,
		)
		done.Error = err.Error()
		_ = s.bus.Publish(ctx, eventbus.TopicTranscriptionDone, done)
		return
	}

	done.Transcript = text
	done.WordDetails = words
	_ = s.bus.Publish(ctx, eventbus.TopicTranscriptionDone, done)

	slog.Info("transcription done",
		"submission_url", submissionURL,
		"question_number", questionNumber,
		"words", len(words),
	)
}

// transcribe downloads the recording and runs speech-to-text with
// word-level timestamps.
func (s *Service) transcribe(ctx context.Context, audioURL string) (string, []datatypes.WordDetail, error) {
	path, err := s.download(ctx, audioURL)
	if err != nil {
		return "", nil, err
	}
	defer os.Remove(path)

	resp, err := s.stt.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: path,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return "", nil, fmt.Errorf("transcribe: speech-to-text: %w", err)
	}

	words := make([]datatypes.WordDetail, 0, len(resp.Words))
	for _, w := range resp.Words {
		words = append(words, datatypes.WordDetail{
			Word:     w.Word,
			Offset:   w.Start,
			Duration: w.End - w.Start,
		})
	}
	return resp.Text, words, nil
}

// download fetches the recording to a temp file.
func (s *Service) download(ctx context.Context, audioURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("transcribe: build request for %s: %w", audioURL, err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: download %s: %w", audioURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcribe: download %s: status %d", audioURL, resp.StatusCode)
	}

	ext := filepath.Ext(audioURL)
	if ext == "" || len(ext) > 8 {
		ext = ".tmp"
	}
	tmp, err := os.CreateTemp(s.workDir, "transcribe-*"+ext)
	if err != nil {
		return "", fmt.Errorf("transcribe: create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("transcribe: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("transcribe: close %s: %w", tmp.Name(), err)
	}
	return tmp.Name(), nil
}
