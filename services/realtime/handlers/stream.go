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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/broker"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/observability"
)

// keepAliveInterval is how often a ping frame is written on an otherwise
// idle stream. Must stay under common proxy idle timeouts (Nginx 60s,
// AWS ALB 60s).
const keepAliveInterval = 30 * time.Second

// StreamJobEvents returns an SSE handler for a single analysis job.
//
// # Description
//
// Subscribes the client to the job's topic and streams every progress
// event until the client disconnects. The first frame is always a
// "connected" acknowledgement; if the job already has history, the
// broker replays its most recent event immediately after, so a client
// that connects mid-run (or after completion) still learns the current
// state without polling.
//
// # Inputs
//
//   - b: Progress broker to subscribe against.
//
// # Outputs
//
//   - gin.HandlerFunc for GET /v1/analysis/:jobId/stream.
//
// # Limitations
//
//   - The stream does not end when the job reaches a terminal state;
//     clients close the connection once they see analysis-complete or
//     analysis-error.
func StreamJobEvents(b *broker.Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("jobId")
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "jobId is required"})
			return
		}

		connected := datatypes.NewProgressEvent(datatypes.EventConnected, jobID, "", 0,
			"Subscribed to analysis updates")
		runStream(c, b, broker.JobTopic(jobID), connected)
	}
}

// StreamUserEvents returns an SSE handler for a user's notification feed.
//
// Events for every job owned by the user, plus direct notifications, are
// mirrored onto the user topic by the broker.
func StreamUserEvents(b *broker.Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "userId is required"})
			return
		}

		connected := datatypes.NewProgressEvent(datatypes.EventConnected, "", "", 0,
			"Subscribed to user notifications")
		runStream(c, b, broker.UserTopic(userID), connected)
	}
}

// runStream is the shared SSE pump for job and user topics.
//
// The subscriber buffers events so the broker never blocks on a slow
// client; this loop drains the buffer onto the wire and interleaves
// keep-alive pings while idle.
func runStream(c *gin.Context, b *broker.Broker, topic string, connected datatypes.ProgressEvent) {
	SetSSEHeaders(c.Writer)

	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		http.Error(c.Writer, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	if err := writer.WriteEvent(connected); err != nil {
		slog.Warn("Failed to write SSE connected event", "topic", topic, "error", err)
		return
	}

	sub := newChannelSubscriber()
	defer sub.Close()

	b.Subscribe(topic, sub)
	defer b.Unsubscribe(topic, sub)

	if m := observability.DefaultMetrics; m != nil {
		m.SubscriberConnected(observability.TransportSSE)
		defer m.SubscriberDisconnected(observability.TransportSSE)
	}

	slog.Info("SSE client connected", "topic", topic, "subscriber", sub.ID())

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Info("SSE client disconnected", "topic", topic, "subscriber", sub.ID())
			return

		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writer.WriteEvent(event); err != nil {
				slog.Warn("Failed to write SSE event", "topic", topic, "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordEventDelivered(observability.TransportSSE)
			}

		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Info("SSE keep-alive failed, closing stream", "topic", topic)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(observability.TransportSSE)
			}
		}
	}
}
