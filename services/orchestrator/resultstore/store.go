// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resultstore holds per-submission analysis results in memory.
//
// The store is process-local and concurrency-safe: writers for different
// questions of the same submission never conflict, and two writers for the
// same question are serialized with a first-writer-wins rule (a later write
// replaces an earlier one only when it upgrades an errored entry to a fully
// successful one). Replaying any event stream therefore converges on the
// same stored aggregate.
//
// Completion counting for a submission lives here and only here; the
// aggregator derives "all questions present" from the count Put returns and
// never keeps its own counter.
package resultstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/speechassess/services/orchestrator/datatypes"
)

// ErrNotFound is returned for reads of unknown submissions.
var ErrNotFound = errors.New("submission not found")

// entry is one submission's aggregate plus its lock and finalization state.
// The entry mutex serializes same-submission writers; the store mutex only
// guards the outer map.
type entry struct {
	mu         sync.Mutex
	aggregate  datatypes.SubmissionAggregate
	finalizing bool
}

// Store is the in-memory results store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// getOrCreate returns the entry for a submission, creating it on first use.
func (s *Store) getOrCreate(submissionURL string, totalQuestions int) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[submissionURL]
	if !ok {
		e = &entry{aggregate: datatypes.SubmissionAggregate{
			SubmissionURL:  submissionURL,
			TotalQuestions: totalQuestions,
			Results:        make(map[int]datatypes.QuestionResult),
		}}
		s.entries[submissionURL] = e
	}
	return e
}

func (s *Store) get(submissionURL string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[submissionURL]
	return e, ok
}

// Put idempotently inserts a question result.
//
// A result for a question that already has an entry is dropped unless the
// existing entry carries at least one errored analysis and the new result
// carries none; in that case the new result replaces the old one (broker
// redelivery can legitimately produce a cleaner second run). Writes for a
// finalized submission are ignored.
//
// It returns the number of distinct questions stored after the write.
func (s *Store) Put(submissionURL string, questionNumber, totalQuestions int, result datatypes.QuestionResult) int {
	e := s.getOrCreate(submissionURL, totalQuestions)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.aggregate.TotalQuestions == 0 {
		e.aggregate.TotalQuestions = totalQuestions
	}
	if e.aggregate.Finalized {
		return len(e.aggregate.Results)
	}

	prev, exists := e.aggregate.Results[questionNumber]
	switch {
	case !exists:
		e.aggregate.Results[questionNumber] = result.Normalized()
		e.aggregate.StoredAt = s.now()
	case prev.HasError() && !result.HasError():
		e.aggregate.Results[questionNumber] = result.Normalized()
		e.aggregate.StoredAt = s.now()
	default:
		// First writer wins; duplicate delivery, drop.
	}
	return len(e.aggregate.Results)
}

// GetRaw returns a deep copy of the stored aggregate.
func (s *Store) GetRaw(submissionURL string) (datatypes.SubmissionAggregate, error) {
	e, ok := s.get(submissionURL)
	if !ok {
		return datatypes.SubmissionAggregate{}, fmt.Errorf("%w: %s", ErrNotFound, submissionURL)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyAggregate(e.aggregate), nil
}

// GetTransformed returns the question results in ascending question order,
// each normalized so all five analyses are a success or error shape.
func (s *Store) GetTransformed(submissionURL string) ([]datatypes.QuestionResult, error) {
	agg, err := s.GetRaw(submissionURL)
	if err != nil {
		return nil, err
	}

	numbers := make([]int, 0, len(agg.Results))
	for n := range agg.Results {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	out := make([]datatypes.QuestionResult, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, agg.Results[n].Normalized())
	}
	return out, nil
}

// ListAll returns the known submission keys in unspecified order.
func (s *Store) ListAll() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Has reports whether the submission is known.
func (s *Store) Has(submissionURL string) bool {
	_, ok := s.get(submissionURL)
	return ok
}

// Clear removes a submission's aggregate. Used by the delete endpoint and
// for test hygiene.
func (s *Store) Clear(submissionURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, submissionURL)
}

// Len returns the number of stored question results for a submission.
func (s *Store) Len(submissionURL string) int {
	e, ok := s.get(submissionURL)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.aggregate.Results)
}

// =============================================================================
// Finalization Claim
// =============================================================================

// BeginFinalize claims the one-shot right to finalize a submission.
//
// It returns true when the submission is complete (every question stored),
// not yet finalized, and no other caller currently holds the claim. The
// database write happens outside any store lock; the winner must follow up
// with CompleteFinalize or AbortFinalize.
func (s *Store) BeginFinalize(submissionURL string) bool {
	e, ok := s.get(submissionURL)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.aggregate.Finalized || e.finalizing {
		return false
	}
	if e.aggregate.TotalQuestions <= 0 || len(e.aggregate.Results) < e.aggregate.TotalQuestions {
		return false
	}
	e.finalizing = true
	return true
}

// CompleteFinalize flips the submission to finalized. Must only be called
// by the claim holder after durable persistence succeeded.
func (s *Store) CompleteFinalize(submissionURL string) {
	e, ok := s.get(submissionURL)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finalizing = false
	e.aggregate.Finalized = true
}

// AbortFinalize releases the claim without finalizing, leaving the
// submission eligible for a manual or redelivery-driven retry.
func (s *Store) AbortFinalize(submissionURL string) {
	e, ok := s.get(submissionURL)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finalizing = false
}

// copyAggregate deep-copies the results map so callers cannot mutate the
// store through a returned aggregate.
func copyAggregate(a datatypes.SubmissionAggregate) datatypes.SubmissionAggregate {
	results := make(map[int]datatypes.QuestionResult, len(a.Results))
	for k, v := range a.Results {
		results[k] = v
	}
	a.Results = results
	return a
}
