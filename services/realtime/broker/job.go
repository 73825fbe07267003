// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package broker

import (
	"time"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
)

// Job is a snapshot of one analysis job's lifecycle state.
//
// # Fields
//
//   - ID: Job identifier (a UUID assigned at start).
//   - UserID: Owner, if the request was authenticated. Events mirror to
//     the user's topic when set.
//   - SessionID: Browser session that started the job.
//   - Status: Current lifecycle phase.
//   - Progress: Last emitted checkpoint percentage.
//   - Message: Last emitted human-readable phase description.
//   - Result: Terminal payload, set only when Status is completed.
//   - Error: Failure description, set only when Status is error.
//   - CreatedAt / UpdatedAt: Lifecycle timestamps.
//   - FinishedAt: Set when the job reaches a terminal phase; drives the
//     retention janitor.
type Job struct {
	ID         string                    `json:"id"`
	UserID     string                    `json:"user_id,omitempty"`
	SessionID  string                    `json:"session_id,omitempty"`
	Status     Status                    `json:"status"`
	Progress   int                       `json:"progress"`
	Message    string                    `json:"message,omitempty"`
	Result     *datatypes.AnalysisResult `json:"result,omitempty"`
	Error      string                    `json:"error,omitempty"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
	FinishedAt time.Time                 `json:"finished_at,omitempty"`
}

// jobState is the broker-internal mutable record behind a Job snapshot.
// lastEvent is retained for replay-on-subscribe so a late subscriber sees
// the current state without the broker re-publishing to everyone.
type jobState struct {
	job       Job
	lastEvent datatypes.ProgressEvent
}

// snapshot returns a copy safe to hand to callers.
func (s *jobState) snapshot() Job {
	return s.job
}
