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
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/analysis"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/broker"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/observability"
)

// WSRequest is a client-to-server frame. Action selects the operation;
// the remaining fields are read per action.
type WSRequest struct {
	Action string `json:"action"`

	// subscribe-analysis / unsubscribe-analysis
	JobID string `json:"job_id,omitempty"`

	// join-user-room
	UserID string `json:"user_id,omitempty"`

	// start-analysis
	ArchitectureText string `json:"architecture_text,omitempty"`
	UserRegion       string `json:"user_region,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsConn serializes writes to a single websocket connection. gorilla
// permits only one concurrent writer, and the event pump, the ping
// ticker, and the read loop's acks all write.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) sendJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.conn.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleRealtimeWebSocket upgrades the connection and serves the push
// transport for analysis progress.
//
// # Description
//
// After the upgrade the client drives the session with action frames:
//
//   - "join-user-room": subscribe to the user's notification topic
//   - "subscribe-analysis": subscribe to a job's progress topic (the
//     broker replays the latest event immediately if the job exists)
//   - "unsubscribe-analysis": leave a job topic
//   - "start-analysis": validate and launch an analysis job; progress
//     arrives on the job topic the client is auto-subscribed to
//
// A single event pump goroutine drains the shared subscriber and writes
// ping frames every keep-alive interval. All subscriptions are torn down
// when the socket closes.
//
// # Limitations
//
//   - CheckOrigin accepts all origins; browser-facing deployments put an
//     authenticating proxy in front.
func HandleRealtimeWebSocket(svc *analysis.Service, b *broker.Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		conn := &wsConn{conn: ws}
		sub := newChannelSubscriber()
		defer sub.Close()
		defer b.UnsubscribeAll(sub)

		if m := observability.DefaultMetrics; m != nil {
			m.SubscriberConnected(observability.TransportWebsocket)
			defer m.SubscriberDisconnected(observability.TransportWebsocket)
		}

		slog.Info("Websocket client connected", "subscriber", sub.ID())

		if err := conn.sendJSON(datatypes.NewProgressEvent(datatypes.EventConnected, "", "", 0,
			"Connected to StackStage realtime")); err != nil {
			return
		}

		// Event pump: broker events and keep-alive pings share the
		// serialized writer.
		done := make(chan struct{})
		defer close(done)
		go pumpEvents(conn, sub, done)

		for {
			var req WSRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("Websocket client disconnected", "error", err.Error())
				return
			}

			switch req.Action {
			case "join-user-room":
				if req.UserID == "" {
					if conn.sendJSON(gin.H{"type": "error", "error": "user_id is required"}) != nil {
						return
					}
					continue
				}
				b.Subscribe(broker.UserTopic(req.UserID), sub)
				if conn.sendJSON(gin.H{"type": "joined", "user_id": req.UserID}) != nil {
					return
				}

			case "subscribe-analysis":
				if req.JobID == "" {
					if conn.sendJSON(gin.H{"type": "error", "error": "job_id is required"}) != nil {
						return
					}
					continue
				}
				b.Subscribe(broker.JobTopic(req.JobID), sub)
				if conn.sendJSON(gin.H{"type": "subscribed", "job_id": req.JobID}) != nil {
					return
				}

			case "unsubscribe-analysis":
				if req.JobID != "" {
					b.Unsubscribe(broker.JobTopic(req.JobID), sub)
				}
				if conn.sendJSON(gin.H{"type": "unsubscribed", "job_id": req.JobID}) != nil {
					return
				}

			case "start-analysis":
				analyzeReq := &datatypes.AnalyzeRequest{
					ArchitectureText: req.ArchitectureText,
					UserRegion:       req.UserRegion,
					SessionID:        req.SessionID,
					UserID:           req.UserID,
				}
				job, startErr := svc.StartAnalysis(analyzeReq)
				if startErr != nil {
					slog.Warn("Websocket analysis request rejected", "error", startErr)
					if conn.sendJSON(gin.H{"type": "error", "error": startErr.Error()}) != nil {
						return
					}
					continue
				}
				// Auto-subscribe so the client sees progress without a
				// second round trip.
				b.Subscribe(broker.JobTopic(job.ID), sub)
				if conn.sendJSON(gin.H{"type": "analysis-started", "job_id": job.ID, "status": string(job.Status)}) != nil {
					return
				}

			default:
				slog.Warn("Unknown websocket action", "action", req.Action)
				if conn.sendJSON(gin.H{"type": "error", "error": "unknown action: " + req.Action}) != nil {
					return
				}
			}
		}
	}
}

// pumpEvents forwards broker events to the socket and pings while idle.
func pumpEvents(conn *wsConn, sub *channelSubscriber, done <-chan struct{}) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if conn.sendJSON(event) != nil {
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordEventDelivered(observability.TransportWebsocket)
			}

		case <-ticker.C:
			ping := datatypes.NewProgressEvent(datatypes.EventPing, "", "", 0, "")
			if conn.sendJSON(ping) != nil {
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(observability.TransportWebsocket)
			}
		}
	}
}
