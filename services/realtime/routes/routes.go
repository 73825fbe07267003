// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/analysis"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/broker"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/cache"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/cloudinfo"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/handlers"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/middleware"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/ratelimit"
)

// Deps bundles the components the HTTP surface is built from. The two
// limiters are independent instances: exhausting the analysis quota must
// not lock a client out of the assistant.
type Deps struct {
	AnalysisLimiter  *ratelimit.Limiter
	AssistantLimiter *ratelimit.Limiter
	Broker           *broker.Broker
	Analysis         *analysis.Service
	Cloud            *cloudinfo.Service
	Store            cache.Store
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HandleHealth(deps.Store))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/analyze", middleware.RateLimit(deps.AnalysisLimiter), handlers.HandleAnalyze(deps.Analysis))
		v1.POST("/assistant", middleware.RateLimit(deps.AssistantLimiter), handlers.HandleAssistant(deps.Analysis))

		// Analysis job administration routes
		jobs := v1.Group("/analysis")
		{
			jobs.GET("", handlers.HandleListAnalyses(deps.Broker))
			jobs.GET("/:jobId", handlers.HandleGetAnalysis(deps.Broker))
			jobs.GET("/:jobId/stream", handlers.StreamJobEvents(deps.Broker))
			jobs.DELETE("/:jobId", handlers.HandleCancelAnalysis(deps.Broker))
		}

		v1.GET("/users/:userId/stream", handlers.StreamUserEvents(deps.Broker))
		v1.GET("/realtime/ws", handlers.HandleRealtimeWebSocket(deps.Analysis, deps.Broker))

		// Cloud advisory routes
		v1.GET("/regions", handlers.HandleOptimalRegions(deps.Cloud))
		v1.GET("/cloud/:provider/status", handlers.HandleProviderStatus(deps.Cloud))
	}
}
