// Package langchain runs review sessions against hosted or local LLMs through langchaingo.
package langchain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/quickreview/internal/assistant"
	"github.com/quickreview/pkg/models"
)

// Tool names exposed to the model
const (
	ToolSubmitReview = "submit_review"
	ToolGetContext   = "get_pr_context"
)

var tools = []llms.Tool{
	{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        ToolSubmitReview,
			Description: "Submit the finished review. Call exactly once.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"summary": map[string]any{"type": "string", "description": "Overall review summary"},
					"verdict": map[string]any{"type": "string", "enum": []string{"approve", "request-changes", "comment"}},
					"line_comments": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"path": map[string]any{"type": "string"},
								"line": map[string]any{"type": "integer", "minimum": 1},
								"body": map[string]any{"type": "string"},
							},
							"required": []string{"path", "line", "body"},
						},
					},
				},
				"required": []string{"summary"},
			},
		},
	},
	{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        ToolGetContext,
			Description: "Load part of the pull request: title, description, diff or files.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"part": map[string]any{"type": "string", "enum": []string{"title", "description", "diff", "files"}},
				},
				"required": []string{"part"},
			},
		},
	},
}

// Backend drives a tool-calling conversation until the model submits a review
type Backend struct {
	model     llms.Model
	options   ConnectorOptions
	maxRounds int
}

// NewBackend wraps a model. maxRounds bounds the number of model turns.
func NewBackend(model llms.Model, options ConnectorOptions, maxRounds int) *Backend {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &Backend{model: model, options: options, maxRounds: maxRounds}
}

// Name implements assistant.Backend
func (b *Backend) Name() string {
	return "langchain/" + string(b.options.Provider)
}

// Run implements assistant.Backend. The reply text and every tool call are captured verbatim.
func (b *Backend) Run(ctx context.Context, session *assistant.Session) (*models.AssistantReply, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, session.System),
		llms.TextParts(llms.ChatMessageTypeHuman, session.Prompt),
	}
	opts := append(callOptions(b.options), llms.WithTools(tools))

	reply := &models.AssistantReply{Model: b.options.Model}
	var text strings.Builder

	for round := 0; round < b.maxRounds; round++ {
		resp, err := b.model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return nil, fmt.Errorf("generate content (round %d): %w", round+1, err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("model returned no choices")
		}
		choice := resp.Choices[0]
		if choice.Content != "" {
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(choice.Content)
		}
		if len(choice.ToolCalls) == 0 {
			break
		}

		assistantTurn := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		for _, tc := range choice.ToolCalls {
			assistantTurn.Parts = append(assistantTurn.Parts, tc)
		}
		messages = append(messages, assistantTurn)

		submitted := false
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			reply.ToolCalls = append(reply.ToolCalls, models.ToolCall{
				ID:        tc.ID,
				Name:      tc.FunctionCall.Name,
				Arguments: tc.FunctionCall.Arguments,
			})
			result, accepted := b.answer(session, tc.FunctionCall)
			if tc.FunctionCall.Name == ToolSubmitReview && accepted {
				submitted = true
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    result,
				}},
			})
		}
		if submitted {
			break
		}
		if round == b.maxRounds-1 {
			log.Warn().Int("rounds", b.maxRounds).Str("session", session.ID).Msg("Assistant did not submit a review within the tool round limit")
		}
	}

	reply.Text = text.String()
	return reply, nil
}

// answer produces the tool response. accepted is false when the call failed and
// the model should try again.
func (b *Backend) answer(session *assistant.Session, call *llms.FunctionCall) (string, bool) {
	switch call.Name {
	case ToolSubmitReview:
		var args struct {
			Summary string `json:"summary"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "error: arguments are not valid JSON, call submit_review again", false
		}
		if strings.TrimSpace(args.Summary) == "" {
			return "error: summary is required, call submit_review again", false
		}
		return "review recorded", true
	case ToolGetContext:
		var args struct {
			Part string `json:"part"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "error: arguments must be {\"part\": \"title|description|diff|files\"}", false
		}
		if session.Context == nil {
			return "error: context unavailable", false
		}
		content, err := session.Context(args.Part)
		if err != nil {
			return "error: " + err.Error(), false
		}
		return content, true
	default:
		return fmt.Sprintf("error: unknown tool %q", call.Name), false
	}
}
