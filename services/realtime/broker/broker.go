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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrJobNotFound is returned for operations on unknown job IDs.
	ErrJobNotFound = errors.New("broker: job not found")

	// ErrJobFinished is returned when an operation requires a live job but
	// the job already reached a terminal phase.
	ErrJobFinished = errors.New("broker: job already finished")

	// ErrJobExists is returned when starting a job whose ID is taken.
	ErrJobExists = errors.New("broker: job already exists")

	// ErrInvalidTransition is returned for emits that would move a job
	// backwards through its lifecycle.
	ErrInvalidTransition = errors.New("broker: invalid status transition")
)

// =============================================================================
// Subscriber Contract
// =============================================================================

// Subscriber receives events for the topics it is subscribed to.
//
// # Description
//
// Send is called with the broker lock held to preserve per-job event
// ordering, so implementations MUST NOT block: buffer into a channel and
// return an error when the buffer is full. A Send error unsubscribes the
// subscriber from every topic.
type Subscriber interface {
	// ID identifies the subscriber in logs.
	ID() string

	// Send delivers one event. Must not block.
	Send(event datatypes.ProgressEvent) error
}

// =============================================================================
// Broker
// =============================================================================

// retentionPeriod is how long a terminal job stays queryable before the
// janitor removes it. Late pollers and reconnecting subscribers get five
// minutes to pick up the final state.
const retentionPeriod = 5 * time.Minute

// janitorInterval is how often the retention sweep runs.
const janitorInterval = time.Minute

// Broker coordinates analysis job lifecycles and event fan-out.
//
// # Description
//
// One Broker serves the whole process. Jobs are registered with StartJob,
// advanced with Emit/Complete/Fail/Cancel, and observed either by polling
// (GetJob/ListActive) or by subscribing a push transport to a topic.
// Events for one job are delivered to each subscriber in emission order.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type Broker struct {
	mu     sync.Mutex
	jobs   map[string]*jobState
	topics map[string]map[Subscriber]struct{}

	done    chan struct{}
	running bool
	runMu   sync.Mutex

	// now is swappable in tests.
	now func() time.Time
}

// New creates a Broker. Call Start() to enable the retention janitor.
func New() *Broker {
	return &Broker{
		jobs:   make(map[string]*jobState),
		topics: make(map[string]map[Subscriber]struct{}),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// =============================================================================
// Job Lifecycle Operations
// =============================================================================

// StartJob registers a new job and publishes its "started" event.
//
// # Inputs
//
//   - jobID: Unique job identifier.
//   - userID: Owner; may be empty for anonymous jobs.
//   - sessionID: Originating browser session; may be empty.
//
// # Outputs
//
//   - Job: Snapshot of the registered job.
//   - error: ErrJobExists if the ID is already registered.
func (b *Broker) StartJob(jobID, userID, sessionID string) (Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.jobs[jobID]; exists {
		return Job{}, fmt.Errorf("%w: %s", ErrJobExists, jobID)
	}

	now := b.now()
	state := &jobState{
		job: Job{
			ID:        jobID,
			UserID:    userID,
			SessionID: sessionID,
			Status:    StatusStarted,
			Progress:  StatusStarted.DefaultProgress(),
			Message:   "Analysis started",
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	b.jobs[jobID] = state

	event := datatypes.NewProgressEvent(
		datatypes.EventAnalysisUpdate, jobID, string(StatusStarted),
		state.job.Progress, state.job.Message,
	)
	b.recordAndPublishLocked(state, event)

	slog.Info("analysis job started",
		"job_id", jobID,
		"user_id", userID,
		"session_id", sessionID,
	)
	return state.snapshot(), nil
}

// Emit advances a job to status and publishes an analysis-update event.
//
// # Description
//
// The lifecycle only moves forward: emitting an earlier phase, or any
// phase on a finished job, is rejected. Re-emitting the current phase is
// allowed and carries updated progress and message, but progress never moves
// backwards: a value below the recorded one is clamped. Terminal phases cannot
// be reached through Emit — use Complete, Fail, or Cancel so the terminal
// payload is recorded alongside the transition.
//
// # Outputs
//
//   - error: ErrJobNotFound, ErrJobFinished, or ErrInvalidTransition.
func (b *Broker) Emit(jobID string, status Status, progress int, message string) error {
	if status.Terminal() {
		return fmt.Errorf("%w: use Complete/Fail/Cancel for terminal phase %q", ErrInvalidTransition, status)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.liveJobLocked(jobID, "emit")
	if err != nil {
		return err
	}
	if !state.job.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state.job.Status, status)
	}

	if progress <= 0 {
		progress = status.DefaultProgress()
	}
	// Progress only moves forward within a run; a lower value is clamped to
	// the recorded one. Reset to 0 happens through Cancel, never Emit.
	if progress < state.job.Progress {
		progress = state.job.Progress
	}
	state.job.Status = status
	state.job.Progress = progress
	state.job.Message = message
	state.job.UpdatedAt = b.now()

	event := datatypes.NewProgressEvent(datatypes.EventAnalysisUpdate, jobID, string(status), progress, message)
	b.recordAndPublishLocked(state, event)
	return nil
}

// Complete moves a job to its completed terminal phase with its result.
func (b *Broker) Complete(jobID string, result *datatypes.AnalysisResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.liveJobLocked(jobID, "complete")
	if err != nil {
		return err
	}

	now := b.now()
	state.job.Status = StatusCompleted
	state.job.Progress = 100
	state.job.Message = "Analysis complete"
	state.job.Result = result
	state.job.UpdatedAt = now
	state.job.FinishedAt = now

	event := datatypes.NewProgressEvent(datatypes.EventAnalysisComplete, jobID, string(StatusCompleted), 100, state.job.Message)
	event.Result = result
	b.recordAndPublishLocked(state, event)

	slog.Info("analysis job completed", "job_id", jobID)
	return nil
}

// Fail moves a job to its error terminal phase.
func (b *Broker) Fail(jobID string, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.liveJobLocked(jobID, "fail")
	if err != nil {
		return err
	}
	b.failLocked(state, errMsg, 100)

	slog.Warn("analysis job failed", "job_id", jobID, "error", errMsg)
	return nil
}

// Cancel aborts a live job on behalf of actor.
//
// # Description
//
// Cancellation is an error transition, not a separate phase: subscribers
// see an analysis-error event whose message names the actor. Cancelling an
// unknown job returns ErrJobNotFound; cancelling a finished job returns
// ErrJobFinished (a completed job stays completed).
func (b *Broker) Cancel(jobID, actor string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if state.job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, jobID, state.job.Status)
	}

	if actor == "" {
		actor = "client"
	}
	b.failLocked(state, fmt.Sprintf("Analysis cancelled by %s", actor), 0)

	slog.Info("analysis job cancelled", "job_id", jobID, "actor", actor)
	return nil
}

// failLocked performs the error transition. Progress is 100 for a genuine
// failure and 0 for a cancellation, where the work never finished.
// Caller holds b.mu.
func (b *Broker) failLocked(state *jobState, errMsg string, progress int) {
	now := b.now()
	state.job.Status = StatusError
	state.job.Progress = progress
	state.job.Message = errMsg
	state.job.Error = errMsg
	state.job.UpdatedAt = now
	state.job.FinishedAt = now

	event := datatypes.NewProgressEvent(datatypes.EventAnalysisError, state.job.ID, string(StatusError), progress, errMsg)
	event.Error = errMsg
	b.recordAndPublishLocked(state, event)
}

// liveJobLocked fetches a job that must still accept transitions. Rejected
// emits on finished jobs are logged: they usually mean a worker kept
// running after cancellation.
func (b *Broker) liveJobLocked(jobID, op string) (*jobState, error) {
	state, ok := b.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if state.job.Status.Terminal() {
		slog.Warn("event rejected for finished job",
			"job_id", jobID,
			"operation", op,
			"status", string(state.job.Status),
		)
		return nil, fmt.Errorf("%w: %s is %s", ErrJobFinished, jobID, state.job.Status)
	}
	return state, nil
}

// =============================================================================
// Queries
// =============================================================================

// GetJob returns a snapshot of the job, ErrJobNotFound otherwise.
func (b *Broker) GetJob(jobID string) (Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.jobs[jobID]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return state.snapshot(), nil
}

// ListActive returns snapshots of every job not yet past retention.
// Finished jobs stay listed until the janitor sweeps them, so late
// status readers still find them.
func (b *Broker) ListActive() []Job {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Job, 0, len(b.jobs))
	for _, state := range b.jobs {
		out = append(out, state.snapshot())
	}
	return out
}

// =============================================================================
// Subscriptions and Fan-Out
// =============================================================================

// Subscribe attaches sub to topic.
//
// # Description
//
// Subscribing to a job topic whose job already exists immediately replays
// the job's most recent event to the new subscriber only, so a transport
// that attaches mid-job renders current state without waiting for the next
// emission. Other subscribers see nothing.
func (b *Broker) Subscribe(topic string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[Subscriber]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}

	slog.Debug("subscriber attached", "topic", topic, "subscriber", sub.ID())

	if jobID := jobIDFromTopic(topic); jobID != "" {
		if state, ok := b.jobs[jobID]; ok && state.lastEvent.Type != "" {
			if err := sub.Send(state.lastEvent); err != nil {
				slog.Warn("replay to new subscriber failed",
					"topic", topic,
					"subscriber", sub.ID(),
					"error", err,
				)
				b.removeSubscriberLocked(sub)
			}
		}
	}
}

// Unsubscribe detaches sub from topic. Unknown pairs are a no-op.
func (b *Broker) Unsubscribe(topic string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.topics[topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

// UnsubscribeAll detaches sub from every topic. Transports call this when
// a connection closes.
func (b *Broker) UnsubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeSubscriberLocked(sub)
}

// BroadcastSystem publishes a system-update event on the global topic.
func (b *Broker) BroadcastSystem(message string) {
	event := datatypes.NewProgressEvent(datatypes.EventSystemUpdate, "", "", 0, message)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked(GlobalTopic, event)
}

// NotifyUser publishes a notification event on one user's topic.
func (b *Broker) NotifyUser(userID, message string) {
	event := datatypes.NewProgressEvent(datatypes.EventNotification, "", "", 0, message)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked(UserTopic(userID), event)
}

// SubscriberCount reports how many subscribers topic has. For metrics and
// tests.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// recordAndPublishLocked stores the event for replay and fans it out to
// three audiences: the job topic, the owner's topic when the job is owned,
// and the global monitoring topic. Caller holds b.mu.
func (b *Broker) recordAndPublishLocked(state *jobState, event datatypes.ProgressEvent) {
	state.lastEvent = event
	b.publishLocked(JobTopic(state.job.ID), event)
	if state.job.UserID != "" {
		b.publishLocked(UserTopic(state.job.UserID), event)
	}
	b.publishLocked(GlobalTopic, event)
}

// publishLocked is the fan-out primitive. Subscribers whose Send fails are
// dropped from every topic: a full buffer means the peer stopped reading.
// Caller holds b.mu.
func (b *Broker) publishLocked(topic string, event datatypes.ProgressEvent) {
	subs, ok := b.topics[topic]
	if !ok {
		return
	}

	var dead []Subscriber
	for sub := range subs {
		if err := sub.Send(event); err != nil {
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		slog.Warn("dropping unresponsive subscriber",
			"topic", topic,
			"subscriber", sub.ID(),
		)
		b.removeSubscriberLocked(sub)
	}
}

// removeSubscriberLocked detaches sub everywhere. Caller holds b.mu.
func (b *Broker) removeSubscriberLocked(sub Subscriber) {
	for topic, subs := range b.topics {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

// =============================================================================
// Retention Janitor
// =============================================================================

// Start begins the retention janitor goroutine.
//
// # Description
//
// Finished jobs stay queryable for retentionPeriod so late pollers can read
// the final state; the janitor then removes them. The broker works without
// Start() (useful in tests), but terminal jobs would accumulate.
//
// # Outputs
//
//   - error: Non-nil if the janitor is already running.
func (b *Broker) Start(ctx context.Context) error {
	b.runMu.Lock()
	if b.running {
		b.runMu.Unlock()
		return fmt.Errorf("broker janitor is already running")
	}
	b.running = true
	b.done = make(chan struct{}) // Reset done channel for potential restart
	b.runMu.Unlock()

	slog.Info("progress broker starting",
		"retention", retentionPeriod.String(),
		"janitor_interval", janitorInterval.String(),
	)

	go b.runLoop(ctx)
	return nil
}

// Stop signals the janitor to stop. Safe to call multiple times.
func (b *Broker) Stop() error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if !b.running {
		return nil // Already stopped
	}

	slog.Info("progress broker stopping")
	close(b.done)
	b.running = false
	return nil
}

// runLoop is the janitor goroutine.
func (b *Broker) runLoop(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("progress broker stopped (context cancelled)")
			return
		case <-b.done:
			slog.Info("progress broker stopped (stop requested)")
			return
		case <-ticker.C:
			b.SweepFinished()
		}
	}
}

// SweepFinished removes terminal jobs older than the retention period and
// returns how many were removed. Exposed for manual invocation and tests.
func (b *Broker) SweepFinished() int {
	cutoff := b.now().Add(-retentionPeriod)

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for jobID, state := range b.jobs {
		if state.job.Status.Terminal() && state.job.FinishedAt.Before(cutoff) {
			delete(b.jobs, jobID)
			removed++
		}
	}

	if removed > 0 {
		slog.Debug("retention sweep completed",
			"jobs_removed", removed,
			"jobs_remaining", len(b.jobs),
		)
	}
	return removed
}
