package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/datatypes"
)

const defaultModel = "openai/gpt-4o"

const analysisSystemPrompt = `You are StackStage, an expert cloud architecture analyst.
Analyze the user's architecture and respond with a single JSON object:
{
  "score": <0-100 integer>,
  "issues": [<strings, worst first>],
  "recommendations": [<actionable strings>],
  "diagram": "<mermaid flowchart of the improved architecture>",
  "estimated_cost": "<monthly estimate, e.g. $240/month>",
  "details": {
    "security_grade": "<A-F>",
    "scalability_score": <0-100>,
    "reliability_score": <0-100>,
    "cost_efficiency": "<short assessment>"
  }
}
Respond with JSON only, no prose.`

// LLMEngine produces analyses through an OpenAI-compatible chat API
// (OpenRouter in production).
type LLMEngine struct {
	client *openai.Client
	model  string
}

// NewLLMEngine builds the engine from environment configuration:
// OPENROUTER_API_KEY (required), OPENROUTER_BASE_URL and OPENROUTER_MODEL
// (optional).
func NewLLMEngine() (*LLMEngine, error) {
	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openrouter_api_key"
		raw, err := os.ReadFile(secretPath)
		if err != nil {
			slog.Error("OPENROUTER_API_KEY not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENROUTER_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(raw))
		slog.Info("Read the OpenRouter API key from container secrets")
	}

	model := os.Getenv("OPENROUTER_MODEL")
	if model == "" {
		model = defaultModel
		slog.Warn("OPENROUTER_MODEL not set, defaulting", "model", model)
	}

	cfg := openai.DefaultConfig(apiKey)
	if base := os.Getenv("OPENROUTER_BASE_URL"); base != "" {
		cfg.BaseURL = base
	} else {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}

	slog.Info("Initializing LLM analysis engine", "model", model, "base_url", cfg.BaseURL)
	return &LLMEngine{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Analyze asks the model for a structured analysis and decodes it.
func (e *LLMEngine) Analyze(ctx context.Context, req *datatypes.AnalyzeRequest) (*datatypes.AnalysisResult, error) {
	region := req.UserRegion
	if region == "" {
		region = "us-east-1"
	}
	userPrompt := fmt.Sprintf("Deployment region: %s\n\nArchitecture:\n%s", region, req.ArchitectureText)

	content, err := e.chat(ctx, analysisSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var result datatypes.AnalysisResult
	if err := json.Unmarshal([]byte(extractJSON(content)), &result); err != nil {
		slog.Warn("LLM returned unparseable analysis", "error", err)
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}

	result.AnalysisID = uuid.New().String()
	result.Method = "ai"
	result.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return &result, nil
}

// AssistantChat answers a free-form question, optionally steered by a role
// persona and grounded in prior analysis context.
func (e *LLMEngine) AssistantChat(ctx context.Context, req *datatypes.AssistantRequest) (*datatypes.AssistantReply, error) {
	system := "You are StackStage, a pragmatic cloud architecture assistant. Be specific and concise."
	if req.RoleHint != "" {
		system += fmt.Sprintf(" Answer from the perspective a %s would find most useful.", req.RoleHint)
	}

	prompt := req.Prompt
	if req.Context != "" {
		prompt = fmt.Sprintf("Context from a previous analysis:\n%s\n\nQuestion: %s", req.Context, req.Prompt)
	}

	content, err := e.chat(ctx, system, prompt)
	if err != nil {
		return nil, err
	}

	return &datatypes.AssistantReply{
		Response:  content,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    "ai",
	}, nil
}

func (e *LLMEngine) chat(ctx context.Context, system, user string) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		slog.Error("LLM API call failed", "error", err)
		return "", fmt.Errorf("LLM API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("LLM returned no choices")
		return "", fmt.Errorf("LLM returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// extractJSON strips markdown fences and any prose around the outermost
// JSON object. Models occasionally wrap their output despite instructions.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
