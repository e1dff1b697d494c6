// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/speechassess/services/orchestrator"
)

// --- Global Command Variables ---
var (
	serverURL  string
	configPath string
	port       int

	rootCmd = &cobra.Command{
		Use:   "speechassess",
		Short: "A cli to run and operate the speech assessment orchestrator",
		Long: `speechassess runs the push-based analysis orchestrator and talks
				to a running instance: submit recordings, read results, and
				manage audio file sessions.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP server",
		Run:   runServe,
	}

	submitCmd = &cobra.Command{
		Use:   "submit [submission-url] [audio-url...]",
		Short: "Submit a set of recordings for analysis",
		Args:  cobra.MinimumNArgs(2),
		Run:   runSubmit,
	}

	resultsCmd = &cobra.Command{
		Use:   "results",
		Short: "Inspect analysis results",
	}
	resultsGetCmd = &cobra.Command{
		Use:   "get [submission-url]",
		Short: "Fetch the transformed results for a submission",
		Args:  cobra.ExactArgs(1),
		Run:   runResultsGet,
	}
	resultsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List submissions with stored results",
		Run:   runResultsList,
	}
	resultsClearCmd = &cobra.Command{
		Use:   "clear [submission-url]",
		Short: "Clear stored results for a submission",
		Args:  cobra.ExactArgs(1),
		Run:   runResultsClear,
	}

	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Manage audio file sessions",
	}
	sessionsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List active file sessions",
		Run:   runSessionsList,
	}
	sessionsCleanupCmd = &cobra.Command{
		Use:   "cleanup [session-id]",
		Short: "Force cleanup of one session, or sweep all expired sessions",
		Args:  cobra.MaximumNArgs(1),
		Run:   runSessionsCleanup,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:12310",
		"base URL of a running orchestrator")

	serveCmd.Flags().IntVar(&port, "port", 0, "override the HTTP port")
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to the YAML config file")

	resultsCmd.AddCommand(resultsGetCmd, resultsListCmd, resultsClearCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsCleanupCmd)
	rootCmd.AddCommand(serveCmd, submitCmd, resultsCmd, sessionsCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := orchestrator.Config{
		Port:         port,
		ConfigPath:   configPath,
		ProjectID:    os.Getenv("GOOGLE_CLOUD_PROJECT"),
		DatabaseDSN:  os.Getenv("DATABASE_URL"),
		OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:  os.Getenv("OPENAI_MODEL"),
		SpeechKey:    os.Getenv("AZURE_SPEECH_KEY"),
		SpeechRegion: os.Getenv("AZURE_SPEECH_REGION"),
		WorkDir:      os.Getenv("AUDIO_WORK_DIR"),
	}
	svc, err := orchestrator.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

func runSubmit(cmd *cobra.Command, args []string) {
	payload := map[string]any{
		"submission_url":  args[0],
		"audio_urls":      args[1:],
		"total_questions": len(args) - 1,
	}
	postJSON("/v1/submit", payload)
}

func runResultsGet(cmd *cobra.Command, args []string) {
	getJSON("/v1/results/submission/" + url.PathEscape(args[0]))
}

func runResultsList(cmd *cobra.Command, args []string) {
	getJSON("/v1/results/submissions")
}

func runResultsClear(cmd *cobra.Command, args []string) {
	doRequest(http.MethodDelete, "/v1/results/submission/"+url.PathEscape(args[0]), nil)
}

func runSessionsList(cmd *cobra.Command, args []string) {
	getJSON("/v1/debug/file-sessions")
}

func runSessionsCleanup(cmd *cobra.Command, args []string) {
	if len(args) == 1 {
		postJSON("/v1/debug/cleanup-session/"+url.PathEscape(args[0]), nil)
		return
	}
	postJSON("/v1/debug/periodic-cleanup", nil)
}

// --- HTTP helpers ---

func getJSON(path string) {
	doRequest(http.MethodGet, path, nil)
}

func postJSON(path string, payload any) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Fatalf("Failed to encode request: %v", err)
		}
		body = bytes.NewReader(data)
	}
	doRequest(http.MethodPost, path, body)
}

func doRequest(method, path string, body io.Reader) {
	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		log.Fatalf("Failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(data))
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}
