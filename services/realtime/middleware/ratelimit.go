// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides gin middleware for the realtime service.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/observability"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/ratelimit"
)

// identityKey is the context key an auth layer may set to rate-limit by
// user instead of by address.
const identityKey = "rate_limit_identity"

// SetIdentity lets upstream middleware pin the rate-limit identifier
// (typically the authenticated user ID).
func SetIdentity(c *gin.Context, identifier string) {
	c.Set(identityKey, identifier)
}

// RateLimit enforces per-client admission control.
//
// # Description
//
// Each request is attributed to an identifier — the authenticated identity
// when set, the client IP otherwise — and admitted only within the
// limiter's sliding-window quota. Every response carries the quota
// headers; rejected requests get 429 with a JSON body including when the
// quota recovers.
//
// # Inputs
//
//   - limiter: Shared limiter instance. One limiter serves all routes the
//     middleware is mounted on.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware to mount on a router group.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := c.ClientIP()
		if v, ok := c.Get(identityKey); ok {
			if id, ok := v.(string); ok && id != "" {
				identifier = id
			}
		}

		// One atomic read keeps the headers consistent with the decision.
		allowed, remaining, reset := limiter.AllowDetail(identifier)

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.MaxRequests()))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))

		if !allowed {
			retryAfter := int(time.Until(reset).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))

			slog.Warn("request rate limited",
				"identifier", identifier,
				"path", c.Request.URL.Path,
				"retry_after_s", retryAfter,
			)
			if observability.DefaultMetrics != nil {
				observability.DefaultMetrics.RecordRateLimited(c.FullPath())
			}

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":     false,
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down and try again.",
				"reset_time":  reset.UTC().Format(time.RFC3339),
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
