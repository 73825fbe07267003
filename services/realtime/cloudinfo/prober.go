// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cloudinfo

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// probeTimeout bounds a single reachability check.
const probeTimeout = 5 * time.Second

// probeEndpoints are unauthenticated endpoints that answer for each
// provider's public API edge. An HTTP response of any status (including
// 403) proves reachability; only transport failures count as down.
var probeEndpoints = map[string]string{
	"aws":   "https://sts.amazonaws.com",
	"azure": "https://management.azure.com",
	"gcp":   "https://status.cloud.google.com",
}

// HTTPProber is the production Prober. It issues a HEAD request against
// the provider's public edge and reports transport-level failures.
type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		client: &http.Client{Timeout: probeTimeout},
	}
}

// Probe checks reachability of one provider's API edge.
func (p *HTTPProber) Probe(ctx context.Context, provider string) error {
	endpoint, ok := probeEndpoints[provider]
	if !ok {
		return fmt.Errorf("no probe endpoint for provider %q", provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", provider, err)
	}
	resp.Body.Close()
	return nil
}

var _ Prober = (*HTTPProber)(nil)
