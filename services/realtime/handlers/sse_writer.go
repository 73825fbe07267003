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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts SSE serialization and writing, enabling testability
// and separation from HTTP response mechanics. Implementations handle the
// SSE wire format (data: json\n\n) internally and flush after every write.
// The event type travels inside the JSON payload ("type" field), so plain
// EventSource onmessage handlers receive every frame.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the keep-alive ticker
// and the event pump write from different goroutines.
//
// # Limitations
//
//   - Must be used with an http.Flusher-compatible ResponseWriter
//   - Response headers must be set before the first write
//
// # Assumptions
//
//   - Caller has set Content-Type: text/event-stream before writing
//   - Caller has disabled buffering (X-Accel-Buffering: no)
type SSEWriter interface {
	// WriteEvent serializes a progress event to JSON and writes it as an
	// SSE data frame, flushing immediately.
	WriteEvent(event datatypes.ProgressEvent) error

	// WriteKeepAlive sends a ping data frame to keep the TCP connection
	// alive through proxies and load balancers. Clients discard frames
	// with type "ping"; intermediaries reset their idle-timeout counters.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter for HTTP SSE responses.
//
// # Description
//
// sseWriter wraps an http.ResponseWriter to emit SSE-formatted events.
// Each event is written in the format:
//
//	data: {json}
//
// # Fields
//
//   - writer: Underlying http.ResponseWriter
//   - flusher: http.Flusher interface for immediate send
//   - mu: Mutex for thread-safe writes
//
// # Limitations
//
//   - Cannot be reused across requests
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// =============================================================================
// Constructor
// =============================================================================

// NewSSEWriter creates a new SSEWriter for the given ResponseWriter.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - SSEWriter: Ready to write SSE events.
//   - error: Non-nil if the ResponseWriter doesn't support flushing.
//
// # Examples
//
//	SetSSEHeaders(w)
//	writer, err := NewSSEWriter(w)
//	if err != nil {
//	    http.Error(w, "Streaming not supported", http.StatusInternalServerError)
//	    return
//	}
//	writer.WriteEvent(event)
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteEvent writes a single SSE event to the response.
func (w *sseWriter) WriteEvent(event datatypes.ProgressEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteKeepAlive sends a ping data frame to keep the connection alive.
func (w *sseWriter) WriteKeepAlive() error {
	return w.WriteEvent(datatypes.NewProgressEvent(datatypes.EventPing, "", "", 0, ""))
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
