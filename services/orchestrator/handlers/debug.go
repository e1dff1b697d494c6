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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/speechassess/services/orchestrator/filesession"
	"github.com/AleutianAI/speechassess/services/orchestrator/maintenance"
	"github.com/AleutianAI/speechassess/services/orchestrator/observability"
)

// GetFileSessions lists active file sessions.
func GetFileSessions(files *filesession.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions := files.ActiveSessions()
		if m := observability.Default(); m != nil {
			m.SetActiveFileSessions(len(sessions))
		}
		c.JSON(http.StatusOK, gin.H{
			"status":          "success",
			"active_sessions": sessions,
			"total_active":    len(sessions),
		})
	}
}

// ForceCleanupSession force-cleans a single file session.
func ForceCleanupSession(files *filesession.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, ok := files.GetSessionInfo(id); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session " + id + " not found"})
			return
		}
		files.ForceCleanup(id)
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "forced cleanup of session " + id,
		})
	}
}

// TriggerPeriodicCleanup runs one maintenance sweep immediately.
func TriggerPeriodicCleanup(sched *maintenance.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		sched.RunNow(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "periodic cleanup completed",
		})
	}
}
