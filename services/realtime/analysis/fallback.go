// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis provides the architecture analysis engines: an
// LLM-backed engine for full analyses and a rule-based fallback that keeps
// the service answering when the upstream model is unreachable.
package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
)

// =============================================================================
// Rule-Based Fallback Engine
// =============================================================================

// severity weights drive score deductions.
const (
	severityCritical = "critical"
	severityHigh     = "high"
	severityMedium   = "medium"
	severityLow      = "low"
)

var severityDeduction = map[string]int{
	severityCritical: 15,
	severityHigh:     10,
	severityMedium:   5,
	severityLow:      2,
}

// rule is one pattern-based finding.
type rule struct {
	name     string
	severity string
	message  string
	fix      string
	patterns []*regexp.Regexp
}

func compileRules() []rule {
	mk := func(exprs ...string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, 0, len(exprs))
		for _, e := range exprs {
			out = append(out, regexp.MustCompile(`(?im)`+e))
		}
		return out
	}

	return []rule{
		{
			name:     "hardcoded_secrets",
			severity: severityCritical,
			message:  "Hardcoded credentials detected - security risk",
			fix:      "Move credentials to a secrets manager and rotate the exposed values",
			patterns: mk(
				`password\s*[=:]\s*["'][^"']{8,}["']`,
				`api[_-]?key\s*[=:]\s*["'][A-Za-z0-9]{20,}["']`,
				`secret[_-]?key\s*[=:]\s*["'][^"']{16,}["']`,
				`access[_-]?token\s*[=:]\s*["'][A-Za-z0-9+/=]{20,}["']`,
			),
		},
		{
			name:     "public_access",
			severity: severityHigh,
			message:  "Public access configuration detected",
			fix:      "Block public ACLs and restrict ingress to known CIDR ranges",
			patterns: mk(
				`public[-_]read[-_]write`,
				`0\.0\.0\.0/0`,
				`publicly[-_]accessible\s*=\s*true`,
			),
		},
		{
			name:     "encryption_disabled",
			severity: severityMedium,
			message:  "Encryption is disabled",
			fix:      "Enable server-side encryption and TLS on every data store and transport",
			patterns: mk(
				`encrypted\s*=\s*false`,
				`encryption\s*=\s*["']?none["']?`,
				`ssl\s*=\s*false`,
				`tls\s*=\s*false`,
			),
		},
		{
			name:     "single_az",
			severity: severityHigh,
			message:  "Single AZ deployment - consider multi-AZ for high availability",
			fix:      "Enable multi_az on managed databases and spread compute across zones",
			patterns: mk(
				`multi[-_]?az\s*=\s*false`,
				`single[-_ ]az`,
			),
		},
		{
			name:     "no_backups",
			severity: severityHigh,
			message:  "No backup configuration detected",
			fix:      "Set a non-zero backup retention period and test restores",
			patterns: mk(
				`backup_retention_period\s*=\s*0`,
				`backup\s*=\s*false`,
			),
		},
		{
			name:     "oversized_instances",
			severity: severityMedium,
			message:  "Potentially oversized compute instances detected",
			fix:      "Right-size instances from usage metrics and add autoscaling",
			patterns: mk(
				`instance_type\s*=\s*["']?[a-z0-9]*\.([2-9]|1[0-9]|2[0-9])xlarge`,
				`machine_type\s*=\s*["']?n1-standard-([8-9]|[1-9][0-9])`,
				`vm_size\s*=\s*["']?Standard_D([8-9]|[1-9][0-9])`,
			),
		},
	}
}

// FallbackEngine is the offline rule-based analyzer.
//
// # Description
//
// Produces a complete AnalysisResult from pattern matching alone: issue
// detection, scoring, a Mermaid diagram of recognized components, and a
// rough monthly cost estimate. Quality is intentionally below the LLM
// engine; availability is the point.
//
// # Thread Safety
//
// Safe for concurrent use; rules are compiled once and never mutated.
type FallbackEngine struct {
	rules []rule
}

// NewFallbackEngine compiles the rule set.
func NewFallbackEngine() *FallbackEngine {
	return &FallbackEngine{rules: compileRules()}
}

// Analyze runs the rule-based analysis. It never fails; the error return
// satisfies the Engine interface.
func (e *FallbackEngine) Analyze(ctx context.Context, req *datatypes.AnalyzeRequest) (*datatypes.AnalysisResult, error) {
	text := req.ArchitectureText
	region := req.UserRegion
	if region == "" {
		region = "us-east-1"
	}

	issues, recommendations, deductions := e.findIssues(text)

	score := 100 - deductions
	if score < 20 {
		score = 20
	}

	result := &datatypes.AnalysisResult{
		AnalysisID:      uuid.New().String(),
		Score:           score,
		Issues:          issues,
		Recommendations: recommendations,
		Diagram:         buildDiagram(text),
		EstimatedCost:   estimateMonthlyCost(text, region),
		Details:         buildDetails(score, issues),
		Method:          "local_fallback",
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	return result, nil
}

// AssistantChat produces a canned, topic-routed reply.
func (e *FallbackEngine) AssistantChat(ctx context.Context, req *datatypes.AssistantRequest) (*datatypes.AssistantReply, error) {
	prompt := strings.ToLower(req.Prompt)

	var response string
	switch {
	case containsAny(prompt, "security", "secure", "vulnerability"):
		response = "Start with the essentials: least-privilege IAM, encryption in transit and at rest, " +
			"no public data stores, and audit logging. A secrets manager and MFA close the most common gaps."
	case containsAny(prompt, "cost", "expensive", "budget", "pricing"):
		response = "The fastest savings come from right-sizing compute against real usage, reserved capacity " +
			"for steady workloads, and lifecycle policies that tier cold storage down automatically."
	case containsAny(prompt, "performance", "slow", "latency", "speed"):
		response = "Add a CDN in front of static content, cache hot database queries, and move non-critical " +
			"work onto async queues. Measure first: a tracing layer tells you where the latency actually is."
	case containsAny(prompt, "availability", "reliability", "uptime", "disaster"):
		response = "Spread compute across availability zones, enable managed-database failover, and keep " +
			"tested backups. Aim for an RTO under 15 minutes and verify it with game days."
	default:
		response = "Solid cloud architecture balances four concerns: security, reliability, performance, and " +
			"cost. Tell me which one you want to dig into, or paste your architecture for a full analysis."
	}

	return &datatypes.AssistantReply{
		Response:    response,
		Suggestions: assistantSuggestions(prompt, req.RoleHint),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Source:      "local_fallback",
	}, nil
}

// findIssues applies every rule and accumulates findings.
func (e *FallbackEngine) findIssues(text string) (issues, recommendations []string, deductions int) {
	for _, r := range e.rules {
		for _, p := range r.patterns {
			if p.MatchString(text) {
				issues = append(issues, fmt.Sprintf("[%s] %s", r.severity, r.message))
				recommendations = append(recommendations, r.fix)
				deductions += severityDeduction[r.severity]
				break // one finding per rule
			}
		}
	}
	return issues, recommendations, deductions
}

// buildDetails derives the secondary grades from the overall score and
// finding severities.
func buildDetails(score int, issues []string) datatypes.AnalysisDetails {
	grade := "A"
	switch {
	case score < 40:
		grade = "D"
	case score < 60:
		grade = "C"
	case score < 80:
		grade = "B"
	}
	for _, issue := range issues {
		if strings.HasPrefix(issue, "["+severityCritical+"]") {
			grade = "F"
			break
		}
	}

	efficiency := "good"
	if containsAny(strings.Join(issues, " "), "oversized") {
		efficiency = "needs review"
	}

	return datatypes.AnalysisDetails{
		SecurityGrade:    grade,
		ScalabilityScore: clampScore(score + 5),
		ReliabilityScore: clampScore(score - 5),
		CostEfficiency:   efficiency,
	}
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// =============================================================================
// Diagram and Cost Heuristics
// =============================================================================

type component struct {
	keywords []string
	node     string
	edge     string
}

// diagramComponents are matched in order; edges assume earlier nodes exist.
var diagramComponents = []component{
	{[]string{"cloudfront", "cdn"}, "CDN[CloudFront CDN]", "Users --> CDN"},
	{[]string{"load balancer", "alb", "elb"}, "LB[Load Balancer]", "Users --> LB"},
	{[]string{"ec2", "instance", "server", "compute"}, "App[Compute Instances]", "LB --> App"},
	{[]string{"lambda", "function"}, "Fn[Serverless Functions]", "Users --> Fn"},
	{[]string{"rds", "database", "postgres", "mysql"}, "DB[Managed Database]", "App --> DB"},
	{[]string{"redis", "elasticache", "memcached"}, "Cache[Cache Layer]", "App --> Cache"},
	{[]string{"s3", "bucket", "storage"}, "Store[Object Storage]", "App --> Store"},
}

// buildDiagram produces a Mermaid flowchart of recognized components, or a
// generic three-tier sketch when nothing is recognized.
func buildDiagram(text string) string {
	lower := strings.ToLower(text)

	var nodes, edges []string
	seen := map[string]bool{}
	for _, c := range diagramComponents {
		if containsAny(lower, c.keywords...) {
			nodes = append(nodes, "    "+c.node)
			name := c.node[:strings.IndexByte(c.node, '[')]
			seen[name] = true
			edges = append(edges, "    "+c.edge)
		}
	}

	if len(nodes) == 0 {
		return "flowchart TB\n" +
			"    Users[Users] --> App[Application]\n" +
			"    App --> DB[Database]\n" +
			"    App --> Store[Storage]"
	}

	// Re-root edges whose source component was never recognized so no node
	// ends up orphaned.
	kept := edges[:0]
	for _, e := range edges {
		parts := strings.Fields(e)
		src, dst := parts[0], parts[len(parts)-1]
		if src != "Users" && !seen[src] {
			e = "    Users --> " + dst
		}
		kept = append(kept, e)
	}

	lines := append([]string{"flowchart TB", "    Users[Users]"}, nodes...)
	lines = append(lines, kept...)
	return strings.Join(lines, "\n")
}

// regionCostMultiplier reflects rough relative pricing between regions.
var regionCostMultiplier = map[string]float64{
	"us-east-1":      1.0,
	"us-west-2":      1.05,
	"eu-west-1":      1.1,
	"eu-central-1":   1.12,
	"ap-southeast-1": 1.15,
	"ap-northeast-1": 1.18,
}

// estimateMonthlyCost sums keyword-driven line items into a USD estimate.
func estimateMonthlyCost(text, region string) string {
	lower := strings.ToLower(text)

	total := 0.0
	if containsAny(lower, "ec2", "instance", "server", "compute") {
		switch {
		case strings.Contains(lower, "xlarge"):
			total += 150
		case strings.Contains(lower, "large"):
			total += 75
		default:
			total += 35
		}
	}
	if containsAny(lower, "rds", "database", "postgres", "mysql") {
		total += 100
	}
	if containsAny(lower, "s3", "bucket", "storage") {
		total += 25
	}
	if containsAny(lower, "load balancer", "alb", "elb") {
		total += 25
	}
	if containsAny(lower, "cloudfront", "cdn") {
		total += 15
	}
	if containsAny(lower, "redis", "elasticache") {
		total += 45
	}

	if mult, ok := regionCostMultiplier[region]; ok {
		total *= mult
	}
	if total == 0 {
		return "unknown"
	}
	return fmt.Sprintf("$%.0f/month", total)
}

func assistantSuggestions(prompt, roleHint string) []string {
	suggestions := []string{
		"Run a full architecture analysis",
		"Review security best practices",
		"Create an improvement roadmap",
	}
	switch roleHint {
	case "CTO":
		suggestions = append(suggestions, "Estimate infrastructure ROI")
	case "DevOps":
		suggestions = append(suggestions, "Generate Infrastructure as Code templates")
	}
	if strings.Contains(prompt, "cost") {
		suggestions = append(suggestions, "Break down the monthly cost estimate")
	}
	if len(suggestions) > 5 {
		suggestions = suggestions[:5]
	}
	return suggestions
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
