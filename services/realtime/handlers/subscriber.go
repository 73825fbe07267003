// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
)

// subscriberBufferSize bounds how far a slow client may lag before the
// broker drops it. Events are small (a few hundred bytes) so this is cheap.
const subscriberBufferSize = 64

// ErrSubscriberFull is returned by Send when the client has fallen too far
// behind. The broker treats any Send error as fatal for the subscriber.
var ErrSubscriberFull = errors.New("subscriber buffer full")

// channelSubscriber adapts a buffered channel to the broker.Subscriber
// contract so SSE and WebSocket handlers can share one delivery path.
//
// # Description
//
// Send is invoked with the broker's lock held, so it must never block:
// it buffers the event and returns ErrSubscriberFull when the transport
// goroutine has stopped draining. The transport reads from Events() and
// writes to the wire at its own pace.
//
// # Thread Safety
//
// Send and Close are safe to call concurrently. After Close, Send
// silently drops events so a late broker publish cannot panic on a
// closed channel.
type channelSubscriber struct {
	id     string
	events chan datatypes.ProgressEvent

	mu     sync.Mutex
	closed bool
}

func newChannelSubscriber() *channelSubscriber {
	return &channelSubscriber{
		id:     uuid.New().String(),
		events: make(chan datatypes.ProgressEvent, subscriberBufferSize),
	}
}

// ID returns the stable identity used by the broker for bookkeeping.
func (s *channelSubscriber) ID() string {
	return s.id
}

// Send buffers an event for the transport goroutine. It never blocks.
func (s *channelSubscriber) Send(event datatypes.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	select {
	case s.events <- event:
		return nil
	default:
		return ErrSubscriberFull
	}
}

// Events returns the channel the transport drains. It is closed by Close.
func (s *channelSubscriber) Events() <-chan datatypes.ProgressEvent {
	return s.events
}

// Close stops delivery. Safe to call more than once.
func (s *channelSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
