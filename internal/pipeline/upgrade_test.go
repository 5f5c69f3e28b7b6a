package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptlift/promptlift/internal/llm"
)

type scriptedCompleter struct {
	text string
	last llm.CompletionRequest
}

func (c *scriptedCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.last = req
	return &llm.CompletionResponse{
		Text:  c.text,
		Usage: tokenUsage(100, 50),
	}, nil
}

func TestUpgrade_ParsesJSONResponse(t *testing.T) {
	completer := &scriptedCompleter{
		text: `{"final_prompt": "You are a backend developer. Build a REST API.", "reasoning": "added role", "confidence": 0.85, "missing_questions": ["which framework?"]}`,
	}
	u := NewLLMUpgrader(completer)

	out, err := u.Upgrade(context.Background(), UpgradeInput{Prompt: "build api", FirstTurn: true})
	require.NoError(t, err)

	assert.Equal(t, "You are a backend developer. Build a REST API.", out.FinalPrompt)
	assert.Equal(t, "added role", out.Reasoning)
	assert.InDelta(t, 0.85, out.Confidence, 0.001)
	assert.Equal(t, []string{"which framework?"}, out.MissingQuestions)
	assert.Equal(t, 150, out.Usage.TotalTokens)
	assert.Equal(t, "json", completer.last.ResponseFormat)
}

func TestUpgrade_ToleratesCodeFences(t *testing.T) {
	completer := &scriptedCompleter{
		text: "```json\n{\"final_prompt\": \"ok\", \"reasoning\": \"r\", \"confidence\": 0.7}\n```",
	}
	u := NewLLMUpgrader(completer)

	out, err := u.Upgrade(context.Background(), UpgradeInput{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.FinalPrompt)
}

func TestUpgrade_MalformedJSONIsError(t *testing.T) {
	completer := &scriptedCompleter{text: "Sure! Here is your upgraded prompt: ..."}
	u := NewLLMUpgrader(completer)

	_, err := u.Upgrade(context.Background(), UpgradeInput{Prompt: "x"})
	assert.Error(t, err)
}

func TestUpgrade_MissingFinalPromptIsError(t *testing.T) {
	completer := &scriptedCompleter{text: `{"reasoning": "r", "confidence": 0.9}`}
	u := NewLLMUpgrader(completer)

	_, err := u.Upgrade(context.Background(), UpgradeInput{Prompt: "x"})
	assert.Error(t, err)
}

func TestUpgrade_ClampsConfidence(t *testing.T) {
	completer := &scriptedCompleter{text: `{"final_prompt": "p", "confidence": 1.7}`}
	u := NewLLMUpgrader(completer)

	out, err := u.Upgrade(context.Background(), UpgradeInput{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Confidence)
}

func TestUpgrade_FirstTurnAndFollowUpUseDifferentContracts(t *testing.T) {
	completer := &scriptedCompleter{text: `{"final_prompt": "p", "confidence": 0.9}`}
	u := NewLLMUpgrader(completer)

	_, err := u.Upgrade(context.Background(), UpgradeInput{Prompt: "x", FirstTurn: true})
	require.NoError(t, err)
	firstSystem := completer.last.SystemPrompt

	_, err = u.Upgrade(context.Background(), UpgradeInput{
		Prompt: "x", Role: "backend developer", Task: "build an API",
	})
	require.NoError(t, err)

	assert.NotEqual(t, firstSystem, completer.last.SystemPrompt)
	assert.Contains(t, completer.last.SystemPrompt, "Do NOT restate")
	assert.Contains(t, completer.last.UserPrompt, "Established role: backend developer")
}

func TestUpgrade_ResolvedTemplateOverridesBuiltin(t *testing.T) {
	completer := &scriptedCompleter{text: `{"final_prompt": "p", "confidence": 0.9}`}
	u := NewLLMUpgrader(completer)

	_, err := u.Upgrade(context.Background(), UpgradeInput{
		Prompt:       "x",
		SystemPrompt: "custom template body",
		FirstTurn:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "custom template body", completer.last.SystemPrompt)
}

func TestExtractContext_BestEffort(t *testing.T) {
	patch := extractContext("You are a senior backend developer. Your task is to design a REST API in the domain of logistics.")

	require.NotNil(t, patch.Role)
	assert.Equal(t, "senior backend developer", *patch.Role)
	require.NotNil(t, patch.Task)
	assert.Equal(t, "design a REST API in the domain of logistics", *patch.Task)
	require.NotNil(t, patch.Domain)
	assert.Equal(t, "logistics", *patch.Domain)
}

func TestExtractContext_NoMatchLeavesFieldsNil(t *testing.T) {
	patch := extractContext("Just build the thing.")

	assert.Nil(t, patch.Role)
	assert.Nil(t, patch.Task)
	assert.Nil(t, patch.Domain)
}
