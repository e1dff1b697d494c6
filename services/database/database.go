// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package database persists final submission results and resolves
// per-question time limits from the assignment definition.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
)

// ErrNoTimeLimit indicates the assignment carries no usable time limit for
// the question. The aggregator maps this to the no_time_limit feedback.
var ErrNoTimeLimit = errors.New("no time limit configured")

// Store is the persistence interface the aggregator depends on.
type Store interface {
	// InsertSubmissionResults writes the finalized submission payload.
	InsertSubmissionResults(ctx context.Context, submissionURL string, payload datatypes.SubmissionAnalysisComplete) error

	// QuestionTimeLimit returns the question's time limit in minutes,
	// resolved from the submission's assignment definition.
	// Returns ErrNoTimeLimit when absent or non-positive.
	QuestionTimeLimit(ctx context.Context, submissionURL string, questionNumber int) (float64, error)
}

// Schema is the SQL DDL for the submission_results table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment. The
// submissions and assignments tables are owned by the assignment platform;
// this service only reads them.
const Schema = `
CREATE TABLE IF NOT EXISTS submission_results (
    id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    submission_url   TEXT NOT NULL,
    total_questions  INT NOT NULL,
    section_feedback JSONB NOT NULL DEFAULT '{}',
    status           TEXT NOT NULL DEFAULT 'completed',
    submitted_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_submission_results_url ON submission_results(submission_url);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Final results are stored
// as JSONB so the assessment frontend can render them without a schema
// migration per analyzer change.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over the given connection or pool. The
// caller is responsible for calling [PostgresStore.Migrate] before issuing
// queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the submission_results table
// and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("database: migrate: %w", err)
	}
	return nil
}

// InsertSubmissionResults writes the finalized payload as one row.
func (s *PostgresStore) InsertSubmissionResults(ctx context.Context, submissionURL string, payload datatypes.SubmissionAnalysisComplete) error {
	feedback, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("database: marshal section feedback: %w", err)
	}

	var id string
	err = s.db.QueryRow(ctx,
		`INSERT INTO submission_results (submission_url, total_questions, section_feedback, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		submissionURL, payload.TotalQuestions, feedback, payload.Status,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("database: insert submission results for %s: %w", submissionURL, err)
	}

	slog.Info("submission results persisted", "submission_url", submissionURL, "row_id", id)
	return nil
}

// QuestionTimeLimit resolves the question's time limit (minutes) by joining
// the submission to its assignment and indexing into the assignment's
// questions array. Question numbers are 1-based; the JSONB array is 0-based.
func (s *PostgresStore) QuestionTimeLimit(ctx context.Context, submissionURL string, questionNumber int) (float64, error) {
	var limit *float64
	err := s.db.QueryRow(ctx,
		`SELECT (a.questions -> ($2::int - 1) ->> 'timeLimit')::float
		 FROM submissions s
		 JOIN assignments a ON a.id = s.assignment_id
		 WHERE s.submission_url = $1`,
		submissionURL, questionNumber,
	).Scan(&limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: submission %s question %d", ErrNoTimeLimit, submissionURL, questionNumber)
	}
	if err != nil {
		return 0, fmt.Errorf("database: time limit lookup for %s q%d: %w", submissionURL, questionNumber, err)
	}
	if limit == nil || *limit <= 0 {
		return 0, fmt.Errorf("%w: submission %s question %d", ErrNoTimeLimit, submissionURL, questionNumber)
	}
	return *limit, nil
}

// =============================================================================
// Nop Store
// =============================================================================

// NopStore satisfies Store without a database. Persisted payloads are
// logged and dropped; time limit lookups report ErrNoTimeLimit. Used for
// local development when no DSN is configured.
type NopStore struct{}

func (NopStore) InsertSubmissionResults(_ context.Context, submissionURL string, payload datatypes.SubmissionAnalysisComplete) error {
	slog.Warn("database disabled, dropping submission results",
		"submission_url", submissionURL,
		"questions", len(payload.Results),
	)
	return nil
}

func (NopStore) QuestionTimeLimit(_ context.Context, _ string, _ int) (float64, error) {
	return 0, ErrNoTimeLimit
}

var _ Store = NopStore{}
