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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/broker"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/cache"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
)

// stubEngine returns a fixed result or error.
type stubEngine struct {
	result *datatypes.AnalysisResult
	reply  *datatypes.AssistantReply
	err    error
	calls  int
	mu     sync.Mutex
}

func (s *stubEngine) Analyze(ctx context.Context, req *datatypes.AnalyzeRequest) (*datatypes.AnalysisResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubEngine) AssistantChat(ctx context.Context, req *datatypes.AssistantRequest) (*datatypes.AssistantReply, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

func (s *stubEngine) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// collector subscribes to a job topic and records statuses.
type collector struct {
	mu       sync.Mutex
	statuses []string
	terminal chan struct{}
	once     sync.Once
}

func newCollector() *collector {
	return &collector{terminal: make(chan struct{})}
}

func (c *collector) ID() string { return "test-collector" }

func (c *collector) Send(event datatypes.ProgressEvent) error {
	c.mu.Lock()
	c.statuses = append(c.statuses, event.Status)
	c.mu.Unlock()
	if event.Type == datatypes.EventAnalysisComplete || event.Type == datatypes.EventAnalysisError {
		c.once.Do(func() { close(c.terminal) })
	}
	return nil
}

func (c *collector) waitTerminal(t *testing.T) {
	t.Helper()
	select {
	case <-c.terminal:
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached a terminal state")
	}
}

func (c *collector) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.statuses))
	copy(out, c.statuses)
	return out
}

func fastService(engine Engine) (*Service, *broker.Broker, cache.Store) {
	b := broker.New()
	store := cache.NewLocal()
	svc := NewService(engine, NewFallbackEngine(), b, store)
	svc.retryCfg.InitialDelay = time.Millisecond
	return svc, b, store
}

func TestStartAnalysisHappyPath(t *testing.T) {
	primary := &stubEngine{result: &datatypes.AnalysisResult{
		AnalysisID: "res-1",
		Score:      88,
	}}
	svc, b, _ := fastService(primary)

	job, err := svc.StartAnalysis(&datatypes.AnalyzeRequest{
		ArchitectureText: "EC2 behind an ALB",
		UserID:           "user-1",
	})
	if err != nil {
		t.Fatalf("StartAnalysis failed: %v", err)
	}
	if job.Status != broker.StatusStarted {
		t.Fatalf("expected started snapshot, got %s", job.Status)
	}

	sub := newCollector()
	b.Subscribe(broker.JobTopic(job.ID), sub)
	sub.waitTerminal(t)

	statuses := sub.recorded()
	last := statuses[len(statuses)-1]
	if last != "completed" {
		t.Fatalf("expected completion, got %v", statuses)
	}

	// Lifecycle is forward-only: replay may start anywhere, but statuses
	// never regress.
	rank := map[string]int{"started": 0, "processing": 1, "analyzing": 2, "completed": 3, "error": 3}
	for i := 1; i < len(statuses); i++ {
		if rank[statuses[i]] < rank[statuses[i-1]] {
			t.Fatalf("status regressed: %v", statuses)
		}
	}

	final, err := b.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if final.Result == nil || final.Result.Score != 88 {
		t.Fatalf("expected primary engine result, got %+v", final.Result)
	}
}

func TestStartAnalysisCachesResult(t *testing.T) {
	primary := &stubEngine{result: &datatypes.AnalysisResult{
		AnalysisID: "res-cache",
		Score:      70,
	}}
	svc, b, _ := fastService(primary)

	job, _ := svc.StartAnalysis(&datatypes.AnalyzeRequest{ArchitectureText: "an app"})
	sub := newCollector()
	b.Subscribe(broker.JobTopic(job.ID), sub)
	sub.waitTerminal(t)

	cached, found, err := svc.GetCachedResult(context.Background(), "res-cache")
	if err != nil {
		t.Fatalf("GetCachedResult failed: %v", err)
	}
	if !found || cached.Score != 70 {
		t.Fatalf("expected cached result, found=%v cached=%+v", found, cached)
	}
}

func TestStartAnalysisFallsBackOnEngineFailure(t *testing.T) {
	primary := &stubEngine{err: errors.New("upstream 502")}
	svc, b, _ := fastService(primary)

	job, _ := svc.StartAnalysis(&datatypes.AnalyzeRequest{
		ArchitectureText: `password = "supersecret123"`,
	})
	sub := newCollector()
	b.Subscribe(broker.JobTopic(job.ID), sub)
	sub.waitTerminal(t)

	if primary.callCount() != 2 {
		t.Fatalf("expected 2 primary attempts before fallback, got %d", primary.callCount())
	}

	final, _ := b.GetJob(job.ID)
	if final.Status != broker.StatusCompleted {
		t.Fatalf("fallback should still complete the job, got %s", final.Status)
	}
	if final.Result == nil || final.Result.Method != "local_fallback" {
		t.Fatalf("expected fallback result, got %+v", final.Result)
	}
}

func TestStartAnalysisWithoutPrimaryEngine(t *testing.T) {
	svc, b, _ := fastService(nil)

	job, err := svc.StartAnalysis(&datatypes.AnalyzeRequest{ArchitectureText: "an app"})
	if err != nil {
		t.Fatalf("StartAnalysis failed: %v", err)
	}
	sub := newCollector()
	b.Subscribe(broker.JobTopic(job.ID), sub)
	sub.waitTerminal(t)

	final, _ := b.GetJob(job.ID)
	if final.Status != broker.StatusCompleted {
		t.Fatalf("expected completion via fallback, got %s", final.Status)
	}
}

func TestStartAnalysisRejectsInvalidRequest(t *testing.T) {
	svc, _, _ := fastService(nil)
	if _, err := svc.StartAnalysis(&datatypes.AnalyzeRequest{ArchitectureText: "   "}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestAssistantFallsBack(t *testing.T) {
	primary := &stubEngine{err: errors.New("upstream down")}
	svc, _, _ := fastService(primary)

	reply, err := svc.Assistant(context.Background(), &datatypes.AssistantRequest{
		Prompt: "how do I cut cost?",
	})
	if err != nil {
		t.Fatalf("Assistant failed: %v", err)
	}
	if reply.Source != "local_fallback" {
		t.Fatalf("expected fallback reply, got source %s", reply.Source)
	}
}

func TestAssistantUsesPrimary(t *testing.T) {
	primary := &stubEngine{reply: &datatypes.AssistantReply{Response: "use spot instances", Source: "ai"}}
	svc, _, _ := fastService(primary)

	reply, err := svc.Assistant(context.Background(), &datatypes.AssistantRequest{Prompt: "cost?"})
	if err != nil {
		t.Fatalf("Assistant failed: %v", err)
	}
	if reply.Source != "ai" {
		t.Fatalf("expected primary reply, got %s", reply.Source)
	}
}

func TestInvalidateResults(t *testing.T) {
	svc, _, store := fastService(nil)
	ctx := context.Background()

	cache.SetJSON(ctx, store, cache.AnalysisKey("a"), datatypes.AnalysisResult{Score: 1}, time.Minute)
	cache.SetJSON(ctx, store, cache.AnalysisKey("b"), datatypes.AnalysisResult{Score: 2}, time.Minute)
	store.Set(ctx, cache.SessionKey("s"), []byte("x"), time.Minute)

	removed, err := svc.InvalidateResults(ctx)
	if err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 invalidated, got %d", removed)
	}
}
