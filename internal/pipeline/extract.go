package pipeline

import (
	"regexp"
	"strings"

	"github.com/promptlift/promptlift/internal/conversation"
)

// Context extraction pulls the role/task/domain the upgrade agent wrote
// into the generated text back out with regexes. It is best-effort
// enrichment for follow-up turns; a miss leaves the field unset and never
// affects the pipeline result.
var (
	rolePattern   = regexp.MustCompile(`(?i)\byou are (?:an? )?([^.,\n]{3,80})`)
	taskPattern   = regexp.MustCompile(`(?i)\byour task is to ([^.\n]{3,120})`)
	domainPattern = regexp.MustCompile(`(?i)\bin the (?:field|domain|area) of ([^.,\n]{3,60})`)
)

func extractContext(upgradedPrompt string) conversation.ContextPatch {
	var patch conversation.ContextPatch
	if m := rolePattern.FindStringSubmatch(upgradedPrompt); m != nil {
		role := strings.TrimSpace(m[1])
		patch.Role = &role
	}
	if m := taskPattern.FindStringSubmatch(upgradedPrompt); m != nil {
		task := strings.TrimSpace(m[1])
		patch.Task = &task
	}
	if m := domainPattern.FindStringSubmatch(upgradedPrompt); m != nil {
		domain := strings.TrimSpace(m[1])
		patch.Domain = &domain
	}
	return patch
}
