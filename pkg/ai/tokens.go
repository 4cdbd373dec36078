package ai

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

func getEncoding() (*tiktoken.Tiktoken, error) {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("o200k_base")
	})
	return encoding, encodingErr
}

// CountTokens returns the number of tokens in the text under the o200k_base
// encoding. Falls back to a whitespace approximation if the encoding cannot
// be loaded, since token budgeting is advisory.
func CountTokens(text string) int {
	enc, err := getEncoding()
	if err != nil {
		return len(strings.Fields(text))
	}
	return len(enc.Encode(text, nil, nil))
}

// TruncateToTokens cuts the text to at most maxTokens tokens, preserving
// whole tokens.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	enc, err := getEncoding()
	if err != nil {
		fields := strings.Fields(text)
		if len(fields) <= maxTokens {
			return text
		}
		return strings.Join(fields[:maxTokens], " ")
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return enc.Decode(tokens[:maxTokens])
}
