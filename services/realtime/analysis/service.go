// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/broker"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/cache"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/observability"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/retry"
)

// resultTTL keeps finished analyses retrievable without re-running them.
const resultTTL = time.Hour

// jobTimeout bounds one analysis end to end, including retries.
const jobTimeout = 2 * time.Minute

// Service orchestrates analysis jobs: lifecycle events through the broker,
// engine calls under retry, fallback on engine failure, result caching.
//
// # Thread Safety
//
// Safe for concurrent use; each job runs in its own goroutine.
type Service struct {
	engine   Engine
	fallback Engine
	broker   *broker.Broker
	store    cache.Store
	retryCfg retry.Config
}

// NewService wires the orchestrator.
//
// # Inputs
//
//   - engine: Primary analysis engine. May be nil when no API key is
//     configured; the fallback then serves everything.
//   - fallback: Rule-based engine. Must not be nil.
//   - b: Progress broker for lifecycle events.
//   - store: Result cache.
func NewService(engine Engine, fallback Engine, b *broker.Broker, store cache.Store) *Service {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.InitialDelay = 2 * time.Second

	return &Service{
		engine:   engine,
		fallback: fallback,
		broker:   b,
		store:    store,
		retryCfg: cfg,
	}
}

// StartAnalysis registers a job and runs it asynchronously.
//
// # Description
//
// Returns the job snapshot as soon as the "started" event is published;
// progress flows through the broker. The worker inherits a fresh context
// so an HTTP handler returning does not abort the analysis.
//
// # Outputs
//
//   - broker.Job: The registered job (status "started").
//   - error: Non-nil if the request is invalid or the job ID collides.
func (s *Service) StartAnalysis(req *datatypes.AnalyzeRequest) (broker.Job, error) {
	if err := req.Validate(); err != nil {
		return broker.Job{}, err
	}

	jobID := uuid.New().String()
	job, err := s.broker.StartJob(jobID, req.UserID, req.SessionID)
	if err != nil {
		return broker.Job{}, err
	}

	go s.run(jobID, req)
	return job, nil
}

// run executes one analysis job to a terminal state.
func (s *Service) run(jobID string, req *datatypes.AnalyzeRequest) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.broker.Emit(jobID, broker.StatusProcessing, 25, "Parsing architecture description"); err != nil {
		// The job was cancelled before the worker got going.
		slog.Info("analysis worker stopping early", "job_id", jobID, "reason", err)
		recordJobOutcome("cancelled", start)
		return
	}

	result, err := s.analyze(ctx, jobID, req)
	if err != nil {
		_ = s.broker.Fail(jobID, err.Error())
		recordJobOutcome("error", start)
		return
	}

	if err := s.broker.Emit(jobID, broker.StatusAnalyzing, 80, "Finalizing report"); err != nil {
		slog.Info("analysis finished after cancellation, discarding result", "job_id", jobID)
		recordJobOutcome("cancelled", start)
		return
	}

	s.cacheResult(ctx, result)

	if err := s.broker.Complete(jobID, result); err != nil {
		slog.Info("analysis finished after cancellation, discarding result", "job_id", jobID)
		recordJobOutcome("cancelled", start)
		return
	}
	recordJobOutcome("completed", start)
}

// recordJobOutcome is a nil-safe metrics helper; DefaultMetrics is unset
// in unit tests.
func recordJobOutcome(outcome string, start time.Time) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordJobOutcome(outcome, time.Since(start).Seconds())
	}
}

// analyze runs the primary engine under retry and falls back to the
// rule-based engine when the primary is unavailable or keeps failing.
func (s *Service) analyze(ctx context.Context, jobID string, req *datatypes.AnalyzeRequest) (*datatypes.AnalysisResult, error) {
	if err := s.broker.Emit(jobID, broker.StatusAnalyzing, 50, "Running architecture analysis"); err != nil {
		return nil, err
	}

	if s.engine != nil {
		var result *datatypes.AnalysisResult
		res, err := retry.Do(ctx, s.retryCfg, func(ctx context.Context, attempt int) error {
			var callErr error
			result, callErr = s.engine.Analyze(ctx, req)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		slog.Warn("primary analysis engine failed, using local fallback",
			"job_id", jobID,
			"attempts", res.Attempts,
			"error", err,
		)
	}

	return s.fallback.Analyze(ctx, req)
}

// Assistant answers a chat question, preferring the LLM and degrading to
// the rule-based replies.
func (s *Service) Assistant(ctx context.Context, req *datatypes.AssistantRequest) (*datatypes.AssistantReply, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if s.engine != nil {
		var reply *datatypes.AssistantReply
		_, err := retry.Do(ctx, s.retryCfg, func(ctx context.Context, attempt int) error {
			var callErr error
			reply, callErr = s.engine.AssistantChat(ctx, req)
			return callErr
		})
		if err == nil {
			return reply, nil
		}
		slog.Warn("assistant engine failed, using local fallback", "error", err)
	}

	return s.fallback.AssistantChat(ctx, req)
}

// GetCachedResult fetches a finished analysis by its analysis ID.
func (s *Service) GetCachedResult(ctx context.Context, analysisID string) (*datatypes.AnalysisResult, bool, error) {
	var result datatypes.AnalysisResult
	found, err := cache.GetJSON(ctx, s.store, cache.AnalysisKey(analysisID), &result)
	if err != nil || !found {
		return nil, false, err
	}
	return &result, true, nil
}

// InvalidateResults drops every cached analysis, returning the count.
func (s *Service) InvalidateResults(ctx context.Context) (int, error) {
	return s.store.InvalidateByPattern(ctx, cache.AnalysisPattern())
}

func (s *Service) cacheResult(ctx context.Context, result *datatypes.AnalysisResult) {
	if err := cache.SetJSON(ctx, s.store, cache.AnalysisKey(result.AnalysisID), result, resultTTL); err != nil {
		slog.Warn("failed to cache analysis result",
			"analysis_id", result.AnalysisID,
			"error", err,
		)
	}
}
