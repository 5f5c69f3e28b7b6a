package retrieval

import "strings"

// IntentClassifier is the cheap, explainable intent detection used by the
// decision engine. The default is keyword-based; it can be swapped for a
// learned classifier without touching the pipeline.
type IntentClassifier interface {
	IsClarification(message string) bool
	IsContinuation(message string) bool
	IsTopicShift(message string) bool
}

// KeywordClassifier matches bilingual (English + Vietnamese) keyword lists
// against the lowercased message.
type KeywordClassifier struct{}

// NewKeywordClassifier creates the default classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

var clarificationKeywords = []string{
	// English
	"what is", "what are", "explain", "how do", "how does", "how to", "why",
	"what does", "meaning of",
	// Vietnamese
	"là gì", "giải thích", "làm sao", "làm thế nào", "tại sao", "nghĩa là",
}

var continuationKeywords = []string{
	// English
	"and ", "then ", "next", "also", "what about", "continue", "more about",
	// Vietnamese
	"và ", "rồi ", "tiếp theo", "tiếp tục", "còn ", "thêm về", "nữa",
}

var topicShiftKeywords = []string{
	// English
	"new topic", "switch to", "change topic", "forget that", "start over",
	"different question", "something else",
	// Vietnamese
	"chủ đề mới", "chuyển sang", "đổi chủ đề", "quên đi", "bắt đầu lại",
	"câu hỏi khác", "việc khác",
}

func matchesAny(message string, keywords []string) bool {
	lowered := strings.ToLower(message)
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

func (c *KeywordClassifier) IsClarification(message string) bool {
	return matchesAny(message, clarificationKeywords)
}

func (c *KeywordClassifier) IsContinuation(message string) bool {
	return matchesAny(message, continuationKeywords)
}

func (c *KeywordClassifier) IsTopicShift(message string) bool {
	return matchesAny(message, topicShiftKeywords)
}
