// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Event types fanned out to subscribers. These names travel over the wire
// (both the websocket and SSE transports), so they are stable strings, not
// iota constants.
const (
	EventConnected        = "connected"
	EventAnalysisUpdate   = "analysis-update"
	EventAnalysisComplete = "analysis-complete"
	EventAnalysisError    = "analysis-error"
	EventSystemUpdate     = "system-update"
	EventNotification     = "notification"
	EventPing             = "ping"
)

// ProgressEvent is the payload published on every job state change.
//
// # Fields
//
//   - Type: One of the Event* constants above.
//   - JobID: The analysis job this event belongs to.
//   - Status: Current lifecycle phase ("started", "processing", ...).
//   - Progress: Percentage checkpoint in [0, 100].
//   - Message: Human-readable description of the phase.
//   - Result: Present only on analysis-complete.
//   - Error: Present only on analysis-error.
//   - Timestamp: Emission time, RFC 3339.
type ProgressEvent struct {
	Type      string          `json:"type"`
	JobID     string          `json:"job_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Progress  int             `json:"progress,omitempty"`
	Message   string          `json:"message,omitempty"`
	Result    *AnalysisResult `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// NewProgressEvent builds an event stamped with the current time.
func NewProgressEvent(eventType, jobID, status string, progress int, message string) ProgressEvent {
	return ProgressEvent{
		Type:      eventType,
		JobID:     jobID,
		Status:    status,
		Progress:  progress,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
