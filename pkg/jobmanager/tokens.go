package jobmanager

import (
	"math"
	"strings"
)

// PartSeparator joins the pieces SplitTextForLLM produces when a
// prompt exceeds a model's token budget.
const PartSeparator = ":::"

// tokenSafetyFactor inflates a measured token count before comparing
// it against the budget; tokenizer counts drift slightly model to
// model and this keeps a split from landing one token over.
const tokenSafetyFactor = 1.2

// SplitTextForLLM breaks text into pieces sized to fit within
// maxTokens, as measured by countTokens, joined by PartSeparator. Each
// cut is placed by splitTextAtTokenLimit's length estimate, so a piece
// other than the last is not re-measured against maxTokens. A cut
// moves back to the last '.' before the estimate when there is one;
// otherwise it falls at the estimate, which can be mid-sentence.
func SplitTextForLLM(text string, maxTokens int, countTokens func(string) int) string {
	if maxTokens <= 0 || countTokens(text) <= maxTokens {
		return text
	}

	var parts []string
	remaining := text
	for remaining != "" {
		tokenCount := countTokens(remaining)
		if ceilScaled(tokenCount, tokenSafetyFactor) <= maxTokens {
			parts = append(parts, remaining)
			break
		}
		head, tail := splitTextAtTokenLimit(remaining, maxTokens, tokenCount)
		parts = append(parts, head)
		remaining = tail
	}
	return strings.Join(parts, PartSeparator)
}

// splitTextAtTokenLimit carves the largest prefix of text that should
// fit within tokenLimit, estimated by scaling text length by the
// ratio of 80% of the budget to the text's current measured token
// count, then backtracks to just after the last '.' before that point.
// With no '.' in the prefix the cut stays at the estimate.
func splitTextAtTokenLimit(text string, tokenLimit, currentTokenCount int) (head, tail string) {
	runes := []rune(text)
	if currentTokenCount <= 0 {
		currentTokenCount = 1
	}

	safeLimit := int(math.Ceil((float64(tokenLimit) * 0.8 / float64(currentTokenCount)) * float64(len(runes))))
	if safeLimit < 1 {
		safeLimit = 1
	}
	if safeLimit > len(runes) {
		safeLimit = len(runes)
	}

	splitAt := safeLimit
	for i := safeLimit - 1; i >= 0; i-- {
		if runes[i] == '.' {
			splitAt = i + 1
			break
		}
	}

	return string(runes[:splitAt]), string(runes[splitAt:])
}

func ceilScaled(count int, factor float64) int {
	return int(math.Ceil(float64(count) * factor))
}
