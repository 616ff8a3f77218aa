package chat

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// perMessageOverhead accounts for role tags and separators the backend
// adds around each message.
const perMessageOverhead = 4

// Estimator approximates the token length of message content. The window
// algorithm only requires estimates to be deterministic and monotone
// non-decreasing in content length.
type Estimator interface {
	Estimate(text string) int
}

// HeuristicEstimator approximates one token per four runes.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(text string) int {
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}

// TiktokenEstimator counts tokens with a real encoding.
type TiktokenEstimator struct {
	encoder *tiktoken.Tiktoken
}

// NewEstimator returns the best available estimator for modelID: the
// model's own encoding, the cl100k_base fallback, or the rune heuristic
// when no encoding can be loaded.
func NewEstimator(modelID string) Estimator {
	if encoder, err := tiktoken.EncodingForModel(modelID); err == nil {
		return &TiktokenEstimator{encoder: encoder}
	}
	if encoder, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		return &TiktokenEstimator{encoder: encoder}
	}
	return HeuristicEstimator{}
}

func (e *TiktokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return len(e.encoder.Encode(text, nil, nil))
}
