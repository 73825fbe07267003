// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the request, response, and event types shared by
// the realtime analysis service: HTTP payloads, analysis results, and the
// events fanned out to push and pull subscribers.
package datatypes

import (
	"fmt"
	"strings"
)

// maxArchitectureTextBytes bounds the inbound architecture description.
// Large pastes are legitimate (whole Terraform modules), but unbounded
// input is not.
const maxArchitectureTextBytes = 256 * 1024

// AnalyzeRequest is the body of POST /v1/analyze.
//
// # Fields
//
//   - ArchitectureText: Required. Free-form description or IaC excerpt of
//     the cloud architecture to analyze.
//   - UserRegion: Optional. Deployment region used for cost and latency
//     guidance. Defaults to "us-east-1".
//   - SessionID: Optional. Browser session identifier for progress routing.
//   - UserID: Optional. Authenticated user identifier; when present, updates
//     are also published to the user's topic.
type AnalyzeRequest struct {
	ArchitectureText string `json:"architecture_text"`
	UserRegion       string `json:"user_region,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	UserID           string `json:"user_id,omitempty"`
}

// Validate checks the request for structural problems.
//
// # Outputs
//
//   - error: Non-nil with a caller-safe message if the request is invalid.
func (r *AnalyzeRequest) Validate() error {
	if strings.TrimSpace(r.ArchitectureText) == "" {
		return fmt.Errorf("architecture_text must not be empty")
	}
	if len(r.ArchitectureText) > maxArchitectureTextBytes {
		return fmt.Errorf("architecture_text exceeds %d bytes", maxArchitectureTextBytes)
	}
	return nil
}

// AnalysisDetails carries the secondary grading fields of a result.
type AnalysisDetails struct {
	SecurityGrade    string `json:"security_grade,omitempty"`
	ScalabilityScore int    `json:"scalability_score,omitempty"`
	ReliabilityScore int    `json:"reliability_score,omitempty"`
	CostEfficiency   string `json:"cost_efficiency,omitempty"`
}

// AnalysisResult is the terminal payload of a completed analysis job.
//
// The shape mirrors what the analysis engine returns: an overall score,
// detected issues, actionable recommendations, a Mermaid diagram of the
// (optimized) architecture, and a monthly cost estimate.
type AnalysisResult struct {
	AnalysisID      string          `json:"analysis_id"`
	Score           int             `json:"score"`
	Issues          []string        `json:"issues"`
	Recommendations []string        `json:"recommendations"`
	Diagram         string          `json:"diagram"`
	EstimatedCost   string          `json:"estimated_cost"`
	Details         AnalysisDetails `json:"details"`
	Method          string          `json:"analysis_method,omitempty"`
	Timestamp       string          `json:"timestamp"`
}

// AssistantRequest is the body of POST /v1/assistant.
//
//   - Prompt: Required. The user's question.
//   - Context: Optional. Prior analysis output or architecture text the
//     assistant should ground its answer in.
//   - RoleHint: Optional. Persona steering ("CTO", "DevOps", ...).
type AssistantRequest struct {
	Prompt   string `json:"prompt"`
	Context  string `json:"context,omitempty"`
	RoleHint string `json:"role_hint,omitempty"`
}

// Validate checks the assistant request.
func (r *AssistantRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("prompt must not be empty")
	}
	return nil
}

// AssistantReply is the assistant response payload.
type AssistantReply struct {
	Response    string   `json:"response"`
	Suggestions []string `json:"suggestions,omitempty"`
	Timestamp   string   `json:"timestamp"`
	Source      string   `json:"source,omitempty"`
}

// RegionOption is a ranked deployment region with a latency estimate.
type RegionOption struct {
	Name               string `json:"name"`
	EstimatedLatencyMs int    `json:"estimated_latency_ms"`
	Recommended        bool   `json:"recommended"`
	Rank               int    `json:"rank"`
}

// ProviderStatus reports reachability of a cloud provider account probe.
type ProviderStatus struct {
	Provider         string   `json:"provider"`
	Status           string   `json:"status"`
	AvailableRegions []string `json:"available_regions,omitempty"`
	Message          string   `json:"message,omitempty"`
	CheckedAt        string   `json:"checked_at"`
}
