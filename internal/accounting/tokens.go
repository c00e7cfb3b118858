package accounting

import (
	"github.com/tiktoken-go/tokenizer"

	"github.com/mcowger/plexus/internal/unified"
)

// countTokens counts tokens with the O200kBase encoding, falling back to
// the chars/4 estimate when the tokenizer is unavailable.
func countTokens(text string) int64 {
	enc, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		return int64(len(text) / 4)
	}
	c, err := enc.Count(text)
	if err != nil {
		return int64(len(text) / 4)
	}
	return int64(c)
}

// estimateUsage fills in token counts when the provider reported none.
// Estimated counts are flagged so downstream reporting can distinguish
// them from provider-reported numbers.
func estimateUsage(req *unified.Request, outputText string, u unified.Usage) (unified.Usage, bool) {
	if u.TotalTokens > 0 || u.InputTokens > 0 || u.OutputTokens > 0 {
		return u, false
	}
	u.InputTokens = countTokens(req.AllText())
	u.OutputTokens = countTokens(outputText)
	u.TotalTokens = u.InputTokens + u.OutputTokens
	return u, true
}
