// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/speechassess/services/orchestrator/resultstore"
)

// GetSubmissionResults returns the transformed (ordered, normalized)
// question results for a submission.
func GetSubmissionResults(store *resultstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		results, err := store.GetTransformed(key)
		if err != nil {
			if errors.Is(err, resultstore.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no results for submission " + key})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"submission_url": key,
			"results":        results,
		})
	}
}

// GetSubmissionResultsRaw returns the raw stored aggregate.
func GetSubmissionResultsRaw(store *resultstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		agg, err := store.GetRaw(key)
		if err != nil {
			if errors.Is(err, resultstore.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no results for submission " + key})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, agg)
	}
}

// ListSubmissions returns all known submission keys.
func ListSubmissions(store *resultstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		keys := store.ListAll()
		c.JSON(http.StatusOK, gin.H{
			"submissions": keys,
			"count":       len(keys),
		})
	}
}

// ClearSubmissionResults removes a submission's aggregate.
func ClearSubmissionResults(store *resultstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		if !store.Has(key) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no results for submission " + key})
			return
		}
		store.Clear(key)
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "results cleared for submission " + key,
		})
	}
}
