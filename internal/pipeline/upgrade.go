package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/promptlift/promptlift/internal/llm"
)

// The upgrade step's system prompts live in the rollout-managed template
// store under these names; the constants below are the version-1 baseline
// content and the in-process fallback when resolution fails.
const (
	FirstTurnTemplateName = "upgrade_first_turn"
	FollowUpTemplateName  = "upgrade_follow_up"
)

// DefaultTemplates returns the baseline content for each upgrade template
// name, seeded into the template store at startup.
func DefaultTemplates() map[string]string {
	return map[string]string{
		FirstTurnTemplateName: firstTurnSystemPrompt,
		FollowUpTemplateName:  followUpSystemPrompt,
	}
}

const firstTurnSystemPrompt = `You are a prompt engineer. Rewrite the user's raw prompt into a complete, well-structured prompt for a downstream AI assistant. Establish an explicit role ("You are a ..."), a clear task, and any constraints implied by the prompt. Use the provided knowledge context where relevant.

Respond with JSON only, in this shape:
{"final_prompt": "...", "reasoning": "...", "confidence": 0.0, "missing_questions": ["..."]}`

const followUpSystemPrompt = `You are a prompt engineer continuing an established conversation. Rewrite the user's new message into an upgraded prompt that builds on the existing context. Do NOT restate the role, task, or background already established earlier; produce only the incremental instruction. Use the provided knowledge context where relevant.

Respond with JSON only, in this shape:
{"final_prompt": "...", "reasoning": "...", "confidence": 0.0, "missing_questions": ["..."]}`

// UpgradeInput carries everything the upgrade step knows about the turn.
// SystemPrompt is the resolved template content; when empty the built-in
// baseline for the turn kind is used.
type UpgradeInput struct {
	Prompt       string
	SystemPrompt string
	Summary      string
	RAGContext   string
	FirstTurn    bool
	Role         string
	Task         string
	Domain       string
}

// UpgradeOutput is the upgrade agent's parsed response.
type UpgradeOutput struct {
	FinalPrompt      string   `json:"final_prompt"`
	Reasoning        string   `json:"reasoning"`
	Confidence       float64  `json:"confidence"`
	MissingQuestions []string `json:"missing_questions"`
	Usage            llm.TokenUsage
}

// Upgrader produces the upgraded prompt. Failures are recoverable at the
// pipeline level, which substitutes the fallback result.
type Upgrader interface {
	Upgrade(ctx context.Context, in UpgradeInput) (*UpgradeOutput, error)
}

// LLMUpgrader calls the completion provider with a JSON response contract.
type LLMUpgrader struct {
	completer llm.Completer
}

// NewLLMUpgrader creates the default Upgrader.
func NewLLMUpgrader(completer llm.Completer) *LLMUpgrader {
	return &LLMUpgrader{completer: completer}
}

func (u *LLMUpgrader) Upgrade(ctx context.Context, in UpgradeInput) (*UpgradeOutput, error) {
	system := in.SystemPrompt
	if system == "" {
		system = followUpSystemPrompt
		if in.FirstTurn {
			system = firstTurnSystemPrompt
		}
	}

	resp, err := u.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt:   system,
		UserPrompt:     buildUpgradePrompt(in),
		ResponseFormat: "json",
		MaxTokens:      1024,
		Temperature:    0.4,
	})
	if err != nil {
		return nil, fmt.Errorf("upgrade completion: %w", err)
	}

	out, err := parseUpgradeResponse(resp.Text)
	if err != nil {
		return nil, err
	}
	out.Usage = resp.Usage
	return out, nil
}

func buildUpgradePrompt(in UpgradeInput) string {
	var b strings.Builder
	if !in.FirstTurn {
		if in.Role != "" {
			fmt.Fprintf(&b, "Established role: %s\n", in.Role)
		}
		if in.Task != "" {
			fmt.Fprintf(&b, "Established task: %s\n", in.Task)
		}
		if in.Domain != "" {
			fmt.Fprintf(&b, "Domain: %s\n", in.Domain)
		}
	}
	if in.Summary != "" {
		fmt.Fprintf(&b, "Conversation summary:\n%s\n\n", in.Summary)
	}
	if in.RAGContext != "" {
		fmt.Fprintf(&b, "Knowledge context:\n%s\n\n", in.RAGContext)
	}
	fmt.Fprintf(&b, "User prompt:\n%s", in.Prompt)
	return b.String()
}

// parseUpgradeResponse tolerates markdown code fences around the JSON but
// treats anything else malformed as a recoverable failure.
func parseUpgradeResponse(text string) (*UpgradeOutput, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var out UpgradeOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("parsing upgrade response: %w", err)
	}
	if out.FinalPrompt == "" {
		return nil, fmt.Errorf("upgrade response missing final_prompt")
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return &out, nil
}
