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

	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
)

// Engine is the analysis contract shared by the LLM engine and the
// rule-based fallback.
type Engine interface {
	// Analyze produces a full architecture analysis.
	Analyze(ctx context.Context, req *datatypes.AnalyzeRequest) (*datatypes.AnalysisResult, error)

	// AssistantChat answers a free-form architecture question.
	AssistantChat(ctx context.Context, req *datatypes.AssistantRequest) (*datatypes.AssistantReply, error)
}
