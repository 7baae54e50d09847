package telephony

import "context"

// RecordingProvider is the provider-agnostic boundary used by ingestion.
//
// Rules:
// - No provider-specific HTTP calls outside telephony adapters.
// - Implementations must honor ctx deadlines; ingestion bounds every fetch.
type RecordingProvider interface {
	Name() string
	FetchRecording(ctx context.Context, recordingURL string) ([]byte, error)
}
