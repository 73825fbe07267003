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
	"testing"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
)

func TestChannelSubscriber_BuffersWithoutBlocking(t *testing.T) {
	sub := newChannelSubscriber()
	defer sub.Close()

	event := datatypes.NewProgressEvent(datatypes.EventAnalysisUpdate, "job-1", "processing", 25, "")
	if err := sub.Send(event); err != nil {
		t.Fatalf("Send failed on empty buffer: %v", err)
	}

	got := <-sub.Events()
	if got.JobID != "job-1" {
		t.Fatalf("got JobID %q, want job-1", got.JobID)
	}
}

func TestChannelSubscriber_FullBufferErrors(t *testing.T) {
	sub := newChannelSubscriber()
	defer sub.Close()

	event := datatypes.NewProgressEvent(datatypes.EventAnalysisUpdate, "job-1", "processing", 25, "")
	for i := 0; i < subscriberBufferSize; i++ {
		if err := sub.Send(event); err != nil {
			t.Fatalf("Send %d failed before the buffer filled: %v", i, err)
		}
	}

	if err := sub.Send(event); !errors.Is(err, ErrSubscriberFull) {
		t.Fatalf("got %v, want ErrSubscriberFull", err)
	}
}

func TestChannelSubscriber_CloseDropsLateSends(t *testing.T) {
	sub := newChannelSubscriber()
	sub.Close()
	sub.Close() // idempotent

	event := datatypes.NewProgressEvent(datatypes.EventAnalysisUpdate, "job-1", "processing", 25, "")
	if err := sub.Send(event); err != nil {
		t.Fatalf("Send after Close should drop silently, got %v", err)
	}

	if _, ok := <-sub.Events(); ok {
		t.Fatal("Events channel should be closed")
	}
}

func TestChannelSubscriber_StableID(t *testing.T) {
	a := newChannelSubscriber()
	b := newChannelSubscriber()
	defer a.Close()
	defer b.Close()

	if a.ID() == "" || a.ID() != a.ID() {
		t.Fatal("ID must be stable and non-empty")
	}
	if a.ID() == b.ID() {
		t.Fatal("distinct subscribers must have distinct IDs")
	}
}
