// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cloudinfo serves region guidance and provider status probes,
// cached so repeated dashboard loads do not re-probe providers.
package cloudinfo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/cache"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
)

// statusTTL bounds how stale a cached provider probe may get.
const statusTTL = 5 * time.Minute

// regionsTTL caches ranked region lists; the latency table is static, so
// this mostly saves allocations.
const regionsTTL = time.Hour

type regionLatency struct {
	name      string
	latencyMs int
}

// latencyTable maps a coarse user location to ranked regions per provider.
// Numbers are steady-state estimates, not measurements.
var latencyTable = map[string]map[string][]regionLatency{
	"us-east": {
		"aws":   {{"us-east-1", 10}, {"us-west-2", 70}, {"eu-west-1", 80}},
		"azure": {{"eastus", 8}, {"westus2", 68}, {"westeurope", 82}},
		"gcp":   {{"us-central1", 12}, {"us-west1", 65}, {"europe-west1", 85}},
	},
	"us-west": {
		"aws":   {{"us-west-2", 8}, {"us-east-1", 70}, {"ap-southeast-1", 120}},
		"azure": {{"westus2", 6}, {"eastus", 68}, {"southeastasia", 118}},
		"gcp":   {{"us-west1", 10}, {"us-central1", 45}, {"asia-southeast1", 115}},
	},
	"europe": {
		"aws":   {{"eu-west-1", 8}, {"eu-central-1", 15}, {"us-east-1", 80}},
		"azure": {{"westeurope", 6}, {"germanywestcentral", 12}, {"eastus", 82}},
		"gcp":   {{"europe-west1", 10}, {"europe-central2", 18}, {"us-central1", 85}},
	},
	"asia": {
		"aws":   {{"ap-southeast-1", 8}, {"ap-northeast-1", 25}, {"ap-south-1", 35}},
		"azure": {{"southeastasia", 6}, {"japaneast", 22}, {"southindia", 32}},
		"gcp":   {{"asia-southeast1", 10}, {"asia-northeast1", 28}, {"asia-south1", 38}},
	},
}

// providerRegions lists each provider's commonly used regions for status
// responses.
var providerRegions = map[string][]string{
	"aws": {"us-east-1", "us-west-2", "eu-west-1", "ap-southeast-1",
		"ap-northeast-1", "eu-central-1", "us-west-1", "ap-south-1"},
	"azure": {"eastus", "westus2", "westeurope", "southeastasia",
		"japaneast", "germanywestcentral", "centralus", "southindia"},
	"gcp": {"us-central1", "us-west1", "europe-west1", "asia-southeast1",
		"asia-northeast1", "europe-central2", "us-east1", "asia-south1"},
}

// Prober checks whether a provider account is reachable. The production
// prober hits provider identity endpoints; tests stub it.
type Prober interface {
	Probe(ctx context.Context, provider string) error
}

// Service answers region and provider-status queries.
type Service struct {
	store  cache.Store
	prober Prober
}

// NewService wires the query service. prober may be nil; provider status
// then reports "unconfigured".
func NewService(store cache.Store, prober Prober) *Service {
	return &Service{store: store, prober: prober}
}

// OptimalRegions ranks regions for a user location and provider.
//
// # Inputs
//
//   - userLocation: Free-form location hint ("California", "eu-west-1",
//     "Singapore"). Unrecognized locations default to US East.
//   - provider: "aws", "azure", or "gcp". Unknown providers get an error.
func (s *Service) OptimalRegions(ctx context.Context, userLocation, provider string) ([]datatypes.RegionOption, error) {
	provider = strings.ToLower(provider)
	if provider == "" {
		provider = "aws"
	}
	if _, ok := providerRegions[provider]; !ok {
		return nil, fmt.Errorf("cloudinfo: unknown provider %q", provider)
	}

	locationKey := classifyLocation(userLocation)
	cacheKey := cache.RegionLatencyKey(locationKey + ":" + provider)

	var cached []datatypes.RegionOption
	if found, err := cache.GetJSON(ctx, s.store, cacheKey, &cached); err == nil && found {
		return cached, nil
	}

	ranked := latencyTable[locationKey][provider]
	out := make([]datatypes.RegionOption, 0, len(ranked))
	for i, r := range ranked {
		out = append(out, datatypes.RegionOption{
			Name:               r.name,
			EstimatedLatencyMs: r.latencyMs,
			Recommended:        i == 0,
			Rank:               i + 1,
		})
	}

	if err := cache.SetJSON(ctx, s.store, cacheKey, out, regionsTTL); err != nil {
		slog.Debug("failed to cache region ranking", "key", cacheKey, "error", err)
	}
	return out, nil
}

// ProviderStatus probes one provider, serving a cached result when fresh.
func (s *Service) ProviderStatus(ctx context.Context, provider string) (*datatypes.ProviderStatus, error) {
	provider = strings.ToLower(provider)
	regions, ok := providerRegions[provider]
	if !ok {
		return nil, fmt.Errorf("cloudinfo: unknown provider %q", provider)
	}

	cacheKey := cache.ProviderStatusKey(provider)
	var cached datatypes.ProviderStatus
	if found, err := cache.GetJSON(ctx, s.store, cacheKey, &cached); err == nil && found {
		return &cached, nil
	}

	status := datatypes.ProviderStatus{
		Provider:         provider,
		AvailableRegions: regions,
		CheckedAt:        time.Now().UTC().Format(time.RFC3339),
	}

	switch {
	case s.prober == nil:
		status.Status = "unconfigured"
		status.Message = "no provider credentials configured"
	default:
		if err := s.prober.Probe(ctx, provider); err != nil {
			status.Status = "unreachable"
			status.Message = err.Error()
			slog.Warn("provider probe failed", "provider", provider, "error", err)
		} else {
			status.Status = "connected"
		}
	}

	if err := cache.SetJSON(ctx, s.store, cacheKey, status, statusTTL); err != nil {
		slog.Debug("failed to cache provider status", "key", cacheKey, "error", err)
	}
	return &status, nil
}

// classifyLocation buckets a free-form location hint.
func classifyLocation(location string) string {
	l := strings.ToLower(location)
	// Region-style hints ("eu-west-1") also contain "west", so provider
	// prefixes are checked first.
	switch {
	case containsAny(l, "europe", "eu-", "uk", "germany", "france"):
		return "europe"
	case containsAny(l, "asia", "ap-", "japan", "singapore", "india"):
		return "asia"
	case strings.Contains(l, "west") || strings.Contains(l, "california"):
		return "us-west"
	default:
		return "us-east"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
