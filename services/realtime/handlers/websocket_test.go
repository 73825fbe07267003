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
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/analysis"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/broker"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/cache"
)

// =============================================================================
// Test Setup
// =============================================================================

func dialWebSocket(t *testing.T, b *broker.Broker, svc *analysis.Service) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/v1/realtime/ws", HandleRealtimeWebSocket(svc, b))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/realtime/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	return ws
}

func newWSService(b *broker.Broker) *analysis.Service {
	return analysis.NewService(nil, analysis.NewFallbackEngine(), b, cache.NewLocal())
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()
	var msg map[string]interface{}
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

// readUntilType drains frames (pings, acks, interleaved progress) until
// one with the wanted type arrives.
func readUntilType(t *testing.T, ws *websocket.Conn, wanted string) map[string]interface{} {
	t.Helper()
	for i := 0; i < 50; i++ {
		msg := readMessage(t, ws)
		if msg["type"] == wanted {
			return msg
		}
	}
	t.Fatalf("never received a %q frame", wanted)
	return nil
}

// =============================================================================
// Tests
// =============================================================================

func TestWebSocket_ConnectedFrameFirst(t *testing.T) {
	b := broker.New()
	ws := dialWebSocket(t, b, newWSService(b))

	msg := readMessage(t, ws)
	assert.Equal(t, "connected", msg["type"])
}

func TestWebSocket_SubscribeReplaysLatestEvent(t *testing.T) {
	b := broker.New()
	_, err := b.StartJob("job-ws", "", "")
	require.NoError(t, err)
	require.NoError(t, b.Emit("job-ws", broker.StatusProcessing, 25, "Parsing"))

	ws := dialWebSocket(t, b, newWSService(b))
	readMessage(t, ws) // connected

	require.NoError(t, ws.WriteJSON(WSRequest{Action: "subscribe-analysis", JobID: "job-ws"}))

	// The ack and the replayed event race on the serialized writer;
	// accept either order.
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg := readMessage(t, ws)
		seen[msg["type"].(string)] = true
		if msg["type"] == "analysis-update" {
			assert.Equal(t, "processing", msg["status"])
		}
	}
	assert.True(t, seen["subscribed"], "expected a subscribed ack")
	assert.True(t, seen["analysis-update"], "expected the latest event replayed")
}

func TestWebSocket_StartAnalysisStreamsToCompletion(t *testing.T) {
	b := broker.New()
	ws := dialWebSocket(t, b, newWSService(b))
	readMessage(t, ws) // connected

	require.NoError(t, ws.WriteJSON(WSRequest{
		Action:           "start-analysis",
		ArchitectureText: "EC2 behind an ALB with RDS and S3",
		UserRegion:       "us-east-1",
	}))

	started := readUntilType(t, ws, "analysis-started")
	assert.NotEmpty(t, started["job_id"])

	done := readUntilType(t, ws, "analysis-complete")
	assert.Equal(t, "completed", done["status"])
	require.NotNil(t, done["result"])
}

func TestWebSocket_JoinUserRoomReceivesNotifications(t *testing.T) {
	b := broker.New()
	ws := dialWebSocket(t, b, newWSService(b))
	readMessage(t, ws) // connected

	require.NoError(t, ws.WriteJSON(WSRequest{Action: "join-user-room", UserID: "user-ws"}))
	joined := readUntilType(t, ws, "joined")
	assert.Equal(t, "user-ws", joined["user_id"])

	b.NotifyUser("user-ws", "maintenance at midnight")
	note := readUntilType(t, ws, "notification")
	assert.Equal(t, "maintenance at midnight", note["message"])
}

func TestWebSocket_UnsubscribeStopsDelivery(t *testing.T) {
	b := broker.New()
	_, err := b.StartJob("job-u", "", "")
	require.NoError(t, err)

	ws := dialWebSocket(t, b, newWSService(b))
	readMessage(t, ws) // connected

	require.NoError(t, ws.WriteJSON(WSRequest{Action: "subscribe-analysis", JobID: "job-u"}))
	readUntilType(t, ws, "subscribed")
	readUntilType(t, ws, "analysis-update") // replay

	require.NoError(t, ws.WriteJSON(WSRequest{Action: "unsubscribe-analysis", JobID: "job-u"}))
	readUntilType(t, ws, "unsubscribed")

	require.NoError(t, b.Emit("job-u", broker.StatusProcessing, 25, "Parsing"))

	// Nothing but silence should follow; a short deadline proves it.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var msg map[string]interface{}
	err = ws.ReadJSON(&msg)
	assert.Error(t, err, "no frame should arrive after unsubscribing, got %v", msg)
}

func TestWebSocket_UnknownActionReportsError(t *testing.T) {
	b := broker.New()
	ws := dialWebSocket(t, b, newWSService(b))
	readMessage(t, ws) // connected

	require.NoError(t, ws.WriteJSON(WSRequest{Action: "self-destruct"}))
	msg := readUntilType(t, ws, "error")
	assert.Contains(t, msg["error"], "unknown action")
}

func TestWebSocket_StartAnalysisRejectsEmptyInput(t *testing.T) {
	b := broker.New()
	ws := dialWebSocket(t, b, newWSService(b))
	readMessage(t, ws) // connected

	require.NoError(t, ws.WriteJSON(WSRequest{Action: "start-analysis"}))
	msg := readUntilType(t, ws, "error")
	assert.NotEmpty(t, msg["error"])
}
