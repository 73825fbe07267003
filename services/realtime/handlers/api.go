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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/analysis"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/broker"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/cache"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/cloudinfo"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/observability"
)

// HandleAnalyze accepts an architecture description and launches an
// asynchronous analysis job.
//
// # Description
//
// Validates the request, registers the job with the broker, and returns
// 202 Accepted immediately. Progress is delivered on the job's SSE
// stream and over the websocket; the final result is attached to the
// job record and cached.
//
// # Outputs
//
//   - 202 with job_id and initial status on success
//   - 400 on malformed or oversized input
func HandleAnalyze(svc *analysis.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			recordRequest(c, false)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
			return
		}

		job, err := svc.StartAnalysis(&req)
		if err != nil {
			recordRequest(c, false)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}

		slog.Info("Analysis job accepted", "jobID", job.ID, "userID", job.UserID)
		recordRequest(c, true)
		c.JSON(http.StatusAccepted, gin.H{
			"success":  true,
			"job_id":   job.ID,
			"status":   string(job.Status),
			"progress": job.Progress,
			"message":  job.Message,
		})
	}
}

// HandleAssistant answers a one-shot advisory question about an
// architecture. Synchronous: the reply comes back in the response body,
// falling back to the local engine when the primary is unavailable.
func HandleAssistant(svc *analysis.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AssistantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			recordRequest(c, false)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
			return
		}

		reply, err := svc.Assistant(c.Request.Context(), &req)
		if err != nil {
			recordRequest(c, false)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}

		recordRequest(c, true)
		c.JSON(http.StatusOK, gin.H{"success": true, "reply": reply})
	}
}

// HandleGetAnalysis returns the current state of a job, including the
// final result once the job has completed.
func HandleGetAnalysis(b *broker.Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := b.GetJob(c.Param("jobId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "analysis job not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "job": job})
	}
}

// HandleListAnalyses returns every job the broker still tracks. Finished
// jobs age out after the retention period, so this is a live operational
// view, not an archive.
func HandleListAnalyses(b *broker.Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs := b.ListActive()
		c.JSON(http.StatusOK, gin.H{"success": true, "count": len(jobs), "jobs": jobs})
	}
}

// HandleCancelAnalysis cancels an in-flight job on behalf of the client.
//
// # Outputs
//
//   - 200 when the job transitions to its error phase
//   - 404 when no such job exists
//   - 409 when the job already reached a terminal state
func HandleCancelAnalysis(b *broker.Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("jobId")
		err := b.Cancel(jobID, "client")
		switch {
		case errors.Is(err, broker.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "analysis job not found"})
		case errors.Is(err, broker.ErrJobFinished):
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "analysis job already finished"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		default:
			slog.Info("Analysis job cancelled", "jobID", jobID)
			c.JSON(http.StatusOK, gin.H{"success": true, "job_id": jobID, "status": string(broker.StatusError)})
		}
	}
}

// HandleOptimalRegions ranks a provider's regions by estimated latency
// from the caller's location.
//
// Query parameters: location (free-form, default unknown) and provider
// (aws | azure | gcp, default aws).
func HandleOptimalRegions(cloud *cloudinfo.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		location := c.Query("location")
		provider := c.Query("provider")

		regions, err := cloud.OptimalRegions(c.Request.Context(), location, provider)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "regions": regions})
	}
}

// HandleProviderStatus reports reachability of a cloud provider's API,
// served from cache for five minutes between probes.
func HandleProviderStatus(cloud *cloudinfo.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := cloud.ProviderStatus(c.Request.Context(), c.Param("provider"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "provider_status": status})
	}
}

// HandleHealth reports service liveness plus the cache tier's health.
//
// A degraded cache (local fallback or a slow shared backend) still
// returns 200 so orchestrators don't restart a working service; only an
// unhealthy cache yields 503.
func HandleHealth(store cache.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		health := store.HealthCheck(c.Request.Context())

		code := http.StatusOK
		if health.Status == cache.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"service": "stackstage-realtime",
			"status":  string(health.Status),
			"cache": gin.H{
				"status":     string(health.Status),
				"mode":       string(health.Mode),
				"latency_ms": health.LatencyMs,
				"message":    health.Message,
			},
		})
	}
}

// recordRequest is a nil-safe metrics helper; DefaultMetrics is unset in
// unit tests.
func recordRequest(c *gin.Context, success bool) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(c.FullPath(), success)
	}
}
