// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audio downloads submitted recordings and transcodes them to the
// 16 kHz mono PCM WAV format the pronunciation assessor requires.
//
// Every successfully transcoded file is registered as a file session before
// its AUDIO_CONVERSION_DONE event is published, so the session id in the
// event is always resolvable by downstream consumers. Failures publish the
// same event with the error field set — the coordinator short-circuits the
// question rather than waiting forever.
package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
	"github.com/AleutianAI/speechassess/services/orchestrator/eventbus"
	"github.com/AleutianAI/speechassess/services/orchestrator/filesession"
)

// Service converts submission audio and manages the resulting files.
type Service struct {
	bus     eventbus.Publisher
	files   *filesession.Manager
	gcs     *storage.Client
	http    *http.Client
	workDir string

	// fileDeps is the set of services registered as consumers of each
	// WAV file; {pronunciation} unless fluency is configured to use it.
	fileDeps []string

	// sessionTimeout is passed to every session registration; zero
	// selects the manager's default.
	sessionTimeout time.Duration
}

// New creates the audio service. gcs may be nil when no gs:// URLs are
// expected; httpClient nil selects http.DefaultClient; workDir "" selects
// the system temp directory.
func New(bus eventbus.Publisher, files *filesession.Manager, gcs *storage.Client, httpClient *http.Client, workDir string, fileDeps []string, sessionTimeout time.Duration) *Service {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	if len(fileDeps) == 0 {
		fileDeps = []string{"pronunciation"}
	}
	return &Service{
		bus:            bus,
		files:          files,
		gcs:            gcs,
		http:           httpClient,
		workDir:        workDir,
		fileDeps:       fileDeps,
		sessionTimeout: sessionTimeout,
	}
}

// ProcessSubmission converts every recording of a submission concurrently.
// Per-question failures are reported through the conversion-done event and
// never abort the sibling questions.
func (s *Service) ProcessSubmission(ctx context.Context, msg datatypes.StudentSubmission) error {
	slog.Info("processing submission audio",
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

// ProcessQuestion converts one recording and publishes its outcome.
func (s *Service) ProcessQuestion(ctx context.Context, audioURL, submissionURL string, questionNumber, totalQuestions int) {
	done := datatypes.AudioConversionDone{
		SubmissionURL:    submissionURL,
		QuestionNumber:   questionNumber,
		TotalQuestions:   totalQuestions,
		OriginalAudioURL: audioURL,
	}

	wavPath, duration, err := s.convert(ctx, audioURL)
	if err != nil {
		slog.Error("audio conversion failed",
			"submission_url", submissionURL,
			"question_number", questionNumber,
			"error", err,
		)
		done.Error = err.Error()
		_ = s.bus.Publish(ctx, eventbus.TopicAudioConversionDone, done)
		return
	}

	sessionID := s.files.GenerateSessionID(submissionURL, questionNumber)
	if err := s.files.Register(sessionID, wavPath, s.fileDeps, s.sessionTimeout); err != nil {
		// Unregistered files would leak, so remove it here and fail the
		// question.
		_ = os.Remove(wavPath)
		done.Error = err.Error()
		_ = s.bus.Publish(ctx, eventbus.TopicAudioConversionDone, done)
		return
	}

	done.SessionID = sessionID
	done.WavPath = wavPath
	done.AudioDuration = duration
	_ = s.bus.Publish(ctx, eventbus.TopicAudioConversionDone, done)

	slog.Info("audio conversion done",
		"submission_url", submissionURL,
		"question_number", questionNumber,
		"session_id", sessionID,
		"duration_s", duration,
	)
}

// convert downloads the recording and transcodes it, returning the WAV
// path and its duration in seconds. The downloaded original is always
// removed; the WAV survives under file session management.
func (s *Service) convert(ctx context.Context, audioURL string) (string, float64, error) {
	srcPath, err := s.download(ctx, audioURL)
	if err != nil {
		return "", 0, err
	}
	defer os.Remove(srcPath)

	wavPath := strings.TrimSuffix(srcPath, filepath.Ext(srcPath)) + ".wav"
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", srcPath,
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		wavPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", 0, fmt.Errorf("audio: ffmpeg: %w: %s", err, tail(string(out), 300))
	}

	duration, err := s.probeDuration(ctx, wavPath)
	if err != nil {
		slog.Warn("duration probe failed, reporting zero", "wav_path", wavPath, "error", err)
		duration = 0
	}
	return wavPath, duration, nil
}

// download fetches a recording to a temp file. gs:// URLs go through the
// object storage client, everything else over plain HTTP.
func (s *Service) download(ctx context.Context, audioURL string) (string, error) {
	var reader io.ReadCloser

	switch {
	case strings.HasPrefix(audioURL, "gs://"):
		if s.gcs == nil {
			return "", fmt.Errorf("audio: gs:// URL but storage client not configured")
		}
		bucket, object, ok := strings.Cut(strings.TrimPrefix(audioURL, "gs://"), "/")
		if !ok {
			return "", fmt.Errorf("audio: malformed gs:// URL %q", audioURL)
		}
		r, err := s.gcs.Bucket(bucket).Object(object).NewReader(ctx)
		if err != nil {
			return "", fmt.Errorf("audio: open %s: %w", audioURL, err)
		}
		reader = r

	default:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
		if err != nil {
			return "", fmt.Errorf("audio: build request for %s: %w", audioURL, err)
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return "", fmt.Errorf("audio: download %s: %w", audioURL, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return "", fmt.Errorf("audio: download %s: status %d", audioURL, resp.StatusCode)
		}
		reader = resp.Body
	}
	defer reader.Close()

	ext := filepath.Ext(audioURL)
	if ext == "" || len(ext) > 8 {
		ext = ".tmp"
	}
	tmp, err := os.CreateTemp(s.workDir, "recording-*"+ext)
	if err != nil {
		return "", fmt.Errorf("audio: create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("audio: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("audio: close %s: %w", tmp.Name(), err)
	}
	return tmp.Name(), nil
}

// probeDuration reads the WAV duration via ffprobe.
func (s *Service) probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("audio: ffprobe: %w", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("audio: parse ffprobe output %q: %w", string(out), err)
	}
	return duration, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
