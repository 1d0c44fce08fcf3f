package composer

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("token encoding unavailable, using estimate", "error", err)
			return
		}
		enc = e
	})
	return enc
}

// CountTokens returns the cl100k_base token count of text, or the
// EstimateTokens heuristic when the encoding cannot be loaded.
func CountTokens(text string) int {
	if e := encoding(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return EstimateTokens(text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
