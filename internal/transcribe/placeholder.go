package transcribe

import (
	"context"
	"fmt"

	"callsense/internal/calls"
)

// Placeholder produces a deterministic analysis without calling any external service.
// Used when no speech-to-text credentials are configured.
type Placeholder struct{}

func (Placeholder) Analyze(ctx context.Context, audio []byte, _ string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	transcript := fmt.Sprintf("TRANSCRIPT_PLACEHOLDER: audio length %d bytes", len(audio))
	return Analysis{
		Transcript: transcript,
		Summary:    FallbackSummary(transcript),
	}, nil
}

const shortSummaryLen = 400

// FallbackSummary is the minimal structure used when no classifier output is usable.
func FallbackSummary(transcript string) calls.Summary {
	return calls.Summary{
		Summary:     shorten(transcript, shortSummaryLen),
		Sentiment:   calls.SentimentNeutral,
		Urgency:     calls.UrgencyLow,
		ActionItems: []calls.ActionItem{},
		Tags:        []string{},
	}
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
