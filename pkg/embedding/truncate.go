package embedding

import "strings"

// charsPerToken approximates the tokenizer.
const charsPerToken = 4

// Truncate shortens text to roughly maxTokens tokens. When a sentence or line
// boundary falls in the last fifth of the allowance the cut is made there.
func Truncate(text string, maxTokens int) string {
	maxChars := maxTokens * charsPerToken
	runes := []rune(text)
	if maxTokens <= 0 || len(runes) <= maxChars {
		return text
	}

	truncated := runes[:maxChars]
	boundary := -1
	for i := len(truncated) - 1; i >= 0; i-- {
		if strings.ContainsRune("。.\n", truncated[i]) {
			boundary = i
			break
		}
	}

	if float64(boundary) > float64(maxChars)*0.8 {
		return string(truncated[:boundary+1])
	}
	return string(truncated)
}
