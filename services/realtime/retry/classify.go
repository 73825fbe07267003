// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// StatusError wraps an HTTP status code so IsRetryable can classify
// responses from providers whose clients do not surface a typed error.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Message)
}

// retryableStatus reports whether an HTTP status is worth retrying:
// rate limiting and server-side errors, nothing in the 4xx client range.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// IsRetryable classifies an error as transient or permanent.
//
// # Description
//
// Advisory classifier for use with DoIf. Do() itself ignores it — the
// default policy retries everything — but callers wrapping operations with
// a clear permanent-failure mode (bad request, auth rejection) use this to
// stop early instead of burning the attempt budget.
//
// Classification:
//   - nil: not retryable.
//   - context.Canceled: not retryable (the caller gave up).
//   - context.DeadlineExceeded: retryable (the operation timed out).
//   - *net.OpError: retryable (peer may be starting or restarting).
//   - other net.Error: retryable if it reports a timeout.
//   - *openai.APIError / *openai.RequestError / *StatusError: retryable on
//     429 and 5xx, permanent on other client errors.
//   - anything else: not retryable (likely an application error).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.StatusCode)
	}

	// Check OpError first since net.OpError implements net.Error.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
