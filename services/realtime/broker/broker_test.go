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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
)

// recordingSub collects every delivered event.
type recordingSub struct {
	id     string
	mu     sync.Mutex
	events []datatypes.ProgressEvent
	broken bool
}

func newRecordingSub(id string) *recordingSub {
	return &recordingSub{id: id}
}

func (s *recordingSub) ID() string { return s.id }

func (s *recordingSub) Send(event datatypes.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return errors.New("buffer full")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSub) recorded() []datatypes.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datatypes.ProgressEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusStarted, StatusProcessing, true},
		{StatusStarted, StatusError, true}, // early failure skips phases
		{StatusProcessing, StatusProcessing, true},
		{StatusProcessing, StatusAnalyzing, true},
		{StatusAnalyzing, StatusCompleted, true},
		{StatusAnalyzing, StatusError, true},
		{StatusProcessing, StatusStarted, false}, // no going back
		{StatusAnalyzing, StatusProcessing, false},
		{StatusCompleted, StatusError, false}, // terminal is terminal
		{StatusError, StatusCompleted, false},
		{StatusCompleted, StatusCompleted, false},
		{Status("bogus"), StatusProcessing, false},
		{StatusStarted, Status("bogus"), false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStartJobPublishesStartedEvent(t *testing.T) {
	b := New()
	sub := newRecordingSub("ws-1")
	b.Subscribe(JobTopic("job-1"), sub)

	job, err := b.StartJob("job-1", "user-1", "sess-1")
	if err != nil {
		t.Fatalf("StartJob failed: %v", err)
	}
	if job.Status != StatusStarted || job.Progress != 10 {
		t.Fatalf("unexpected job snapshot: %+v", job)
	}

	events := sub.recorded()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != datatypes.EventAnalysisUpdate || events[0].Status != "started" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestStartJobRejectsDuplicateID(t *testing.T) {
	b := New()
	if _, err := b.StartJob("job-1", "", ""); err != nil {
		t.Fatalf("first StartJob failed: %v", err)
	}
	if _, err := b.StartJob("job-1", "", ""); !errors.Is(err, ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}
}

func TestEmitDeliversInOrder(t *testing.T) {
	b := New()
	sub := newRecordingSub("sse-1")
	b.Subscribe(JobTopic("job-1"), sub)
	b.StartJob("job-1", "", "")

	b.Emit("job-1", StatusProcessing, 25, "Parsing architecture")
	b.Emit("job-1", StatusProcessing, 40, "Building dependency graph")
	b.Emit("job-1", StatusAnalyzing, 50, "Running analysis")
	b.Complete("job-1", &datatypes.AnalysisResult{Score: 85})

	events := sub.recorded()
	wantStatuses := []string{"started", "processing", "processing", "analyzing", "completed"}
	if len(events) != len(wantStatuses) {
		t.Fatalf("expected %d events, got %d", len(wantStatuses), len(events))
	}
	for i, want := range wantStatuses {
		if events[i].Status != want {
			t.Fatalf("event %d: got status %q, want %q", i, events[i].Status, want)
		}
	}
	final := events[len(events)-1]
	if final.Type != datatypes.EventAnalysisComplete || final.Result == nil || final.Result.Score != 85 {
		t.Fatalf("unexpected terminal event: %+v", final)
	}
}

func TestEmitRejectsBackwardTransition(t *testing.T) {
	b := New()
	b.StartJob("job-1", "", "")
	b.Emit("job-1", StatusAnalyzing, 50, "Running analysis")

	err := b.Emit("job-1", StatusProcessing, 25, "rewinding")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestEmitClampsRegressingProgress(t *testing.T) {
	b := New()
	b.StartJob("job-1", "", "")
	if err := b.Emit("job-1", StatusAnalyzing, 80, "finalizing"); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if err := b.Emit("job-1", StatusAnalyzing, 50, "revised estimate"); err != nil {
		t.Fatalf("same-phase re-emit should be accepted, got %v", err)
	}
	job, err := b.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Progress != 80 {
		t.Fatalf("progress regressed to %d, want clamped at 80", job.Progress)
	}
	if job.Message != "revised estimate" {
		t.Fatalf("message should still update, got %q", job.Message)
	}
}

func TestEmitRejectsTerminalStatus(t *testing.T) {
	b := New()
	b.StartJob("job-1", "", "")
	if err := b.Emit("job-1", StatusCompleted, 100, "done"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal phases must go through Complete/Fail/Cancel, got %v", err)
	}
}

func TestEmitAfterTerminalRejected(t *testing.T) {
	b := New()
	sub := newRecordingSub("sse-1")
	b.Subscribe(JobTopic("job-1"), sub)
	b.StartJob("job-1", "", "")
	b.Complete("job-1", &datatypes.AnalysisResult{Score: 90})

	before := len(sub.recorded())
	err := b.Emit("job-1", StatusAnalyzing, 80, "still going")
	if !errors.Is(err, ErrJobFinished) {
		t.Fatalf("expected ErrJobFinished, got %v", err)
	}
	if got := len(sub.recorded()); got != before {
		t.Fatalf("rejected emit must not reach subscribers: %d -> %d events", before, got)
	}
}

func TestEmitUnknownJob(t *testing.T) {
	b := New()
	if err := b.Emit("missing", StatusProcessing, 25, "x"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestCancelSemantics(t *testing.T) {
	b := New()
	sub := newRecordingSub("ws-1")
	b.Subscribe(JobTopic("job-1"), sub)
	b.StartJob("job-1", "", "")

	if err := b.Cancel("missing", "user"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	if err := b.Cancel("job-1", "user"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	job, _ := b.GetJob("job-1")
	if job.Status != StatusError {
		t.Fatalf("cancelled job should be in error phase, got %s", job.Status)
	}
	if job.Error != "Analysis cancelled by user" {
		t.Fatalf("unexpected error message: %q", job.Error)
	}
	if job.Progress != 0 {
		t.Fatalf("cancellation should reset progress to 0, got %d", job.Progress)
	}

	events := sub.recorded()
	final := events[len(events)-1]
	if final.Type != datatypes.EventAnalysisError {
		t.Fatalf("cancellation should publish analysis-error, got %s", final.Type)
	}

	// Cancel is not idempotent: the job is already finished.
	if err := b.Cancel("job-1", "user"); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("expected ErrJobFinished, got %v", err)
	}
}

func TestCancelCompletedJobRejected(t *testing.T) {
	b := New()
	b.StartJob("job-1", "", "")
	b.Complete("job-1", &datatypes.AnalysisResult{Score: 70})

	if err := b.Cancel("job-1", "user"); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("expected ErrJobFinished, got %v", err)
	}

	// The completed result must be untouched.
	job, _ := b.GetJob("job-1")
	if job.Status != StatusCompleted || job.Result == nil {
		t.Fatalf("completed job must stay completed: %+v", job)
	}
}

func TestSubscribeReplaysCurrentState(t *testing.T) {
	b := New()
	b.StartJob("job-1", "", "")
	b.Emit("job-1", StatusAnalyzing, 50, "Running analysis")

	late := newRecordingSub("late")
	b.Subscribe(JobTopic("job-1"), late)

	events := late.recorded()
	if len(events) != 1 {
		t.Fatalf("late subscriber should get exactly the current state, got %d events", len(events))
	}
	if events[0].Status != "analyzing" || events[0].Progress != 50 {
		t.Fatalf("unexpected replayed event: %+v", events[0])
	}

	// The next emission arrives exactly once, no duplicate of the replay.
	b.Emit("job-1", StatusAnalyzing, 80, "Scoring")
	events = late.recorded()
	if len(events) != 2 {
		t.Fatalf("expected 2 events after next emit, got %d", len(events))
	}
}

func TestSubscribeUnknownJobReplaysNothing(t *testing.T) {
	b := New()
	sub := newRecordingSub("early")
	b.Subscribe(JobTopic("job-1"), sub)
	if got := len(sub.recorded()); got != 0 {
		t.Fatalf("nothing to replay before the job exists, got %d events", got)
	}
}

func TestSubscriberIsolation(t *testing.T) {
	b := New()
	subA := newRecordingSub("a")
	subB := newRecordingSub("b")
	b.Subscribe(JobTopic("job-a"), subA)
	b.Subscribe(JobTopic("job-b"), subB)

	b.StartJob("job-a", "", "")
	b.StartJob("job-b", "", "")
	b.Emit("job-a", StatusProcessing, 25, "a only")

	for _, e := range subB.recorded() {
		if e.JobID == "job-a" {
			t.Fatalf("subscriber b received job-a event: %+v", e)
		}
	}
	if len(subA.recorded()) != 2 {
		t.Fatalf("subscriber a expected 2 events, got %d", len(subA.recorded()))
	}
}

func TestUserTopicMirroring(t *testing.T) {
	b := New()
	userSub := newRecordingSub("user-room")
	b.Subscribe(UserTopic("user-7"), userSub)

	b.StartJob("job-1", "user-7", "")
	b.Complete("job-1", &datatypes.AnalysisResult{Score: 60})

	events := userSub.recorded()
	if len(events) != 2 {
		t.Fatalf("owner should see both events, got %d", len(events))
	}

	// Anonymous jobs do not reach user topics.
	b.StartJob("job-2", "", "")
	if len(userSub.recorded()) != 2 {
		t.Fatal("anonymous job leaked into a user topic")
	}
}

func TestBroadcastAndNotify(t *testing.T) {
	b := New()
	global := newRecordingSub("global")
	user := newRecordingSub("user")
	b.Subscribe(GlobalTopic, global)
	b.Subscribe(UserTopic("u1"), user)

	b.BroadcastSystem("maintenance at midnight")
	b.NotifyUser("u1", "your report is ready")

	g := global.recorded()
	if len(g) != 1 || g[0].Type != datatypes.EventSystemUpdate {
		t.Fatalf("unexpected global events: %+v", g)
	}
	u := user.recorded()
	if len(u) != 1 || u[0].Type != datatypes.EventNotification {
		t.Fatalf("unexpected user events: %+v", u)
	}
}

func TestJobEventsReachGlobalTopic(t *testing.T) {
	b := New()
	global := newRecordingSub("monitor")
	b.Subscribe(GlobalTopic, global)

	if _, err := b.StartJob("job-1", "u1", ""); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if err := b.Emit("job-1", StatusProcessing, 25, "parsing"); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	g := global.recorded()
	if len(g) != 2 {
		t.Fatalf("global monitor should see every job transition, got %d events: %+v", len(g), g)
	}
	if g[0].Status != string(StatusStarted) || g[1].Status != string(StatusProcessing) {
		t.Fatalf("unexpected transition order on global topic: %+v", g)
	}
}

func TestDeadSubscriberIsDropped(t *testing.T) {
	b := New()
	sub := newRecordingSub("flaky")
	b.Subscribe(JobTopic("job-1"), sub)
	b.StartJob("job-1", "", "")

	sub.mu.Lock()
	sub.broken = true
	sub.mu.Unlock()

	b.Emit("job-1", StatusProcessing, 25, "x")
	if got := b.SubscriberCount(JobTopic("job-1")); got != 0 {
		t.Fatalf("failing subscriber should be dropped, %d remain", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	sub := newRecordingSub("s")
	b.Subscribe(JobTopic("job-1"), sub)
	b.StartJob("job-1", "", "")
	b.Unsubscribe(JobTopic("job-1"), sub)
	b.Emit("job-1", StatusProcessing, 25, "x")

	if len(sub.recorded()) != 1 {
		t.Fatalf("expected only the pre-unsubscribe event, got %d", len(sub.recorded()))
	}
}

func TestSweepFinishedRespectsRetention(t *testing.T) {
	b := New()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	b.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	b.StartJob("done-job", "", "")
	b.Complete("done-job", &datatypes.AnalysisResult{Score: 50})
	b.StartJob("live-job", "", "")

	// Inside the retention window: nothing removed.
	mu.Lock()
	clock = clock.Add(4 * time.Minute)
	mu.Unlock()
	if removed := b.SweepFinished(); removed != 0 {
		t.Fatalf("sweep inside retention removed %d jobs", removed)
	}
	if _, err := b.GetJob("done-job"); err != nil {
		t.Fatal("finished job should remain queryable inside retention")
	}

	// Past the window: the finished job goes, the live job stays.
	mu.Lock()
	clock = clock.Add(2 * time.Minute)
	mu.Unlock()
	if removed := b.SweepFinished(); removed != 1 {
		t.Fatalf("expected 1 job swept, got %d", removed)
	}
	if _, err := b.GetJob("done-job"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound after sweep, got %v", err)
	}
	if _, err := b.GetJob("live-job"); err != nil {
		t.Fatal("live job must survive the sweep")
	}
}

func TestListActiveKeepsFinishedUntilSwept(t *testing.T) {
	b := New()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	b.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	b.StartJob("a", "", "")
	b.StartJob("b", "", "")
	b.Fail("b", "boom")

	// A finished job stays visible through its retention window.
	if active := b.ListActive(); len(active) != 2 {
		t.Fatalf("expected both jobs listed, got %+v", active)
	}

	mu.Lock()
	clock = clock.Add(retentionPeriod + time.Minute)
	mu.Unlock()
	b.SweepFinished()

	active := b.ListActive()
	if len(active) != 1 || active[0].ID != "a" {
		t.Fatalf("swept set should hold only the live job: %+v", active)
	}
}
