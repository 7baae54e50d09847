package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net"

	"callsense/internal/calls"
)

// Analysis is the combined transcription and classification of one recording.
type Analysis struct {
	Transcript string
	Summary    calls.Summary
}

// Analyzer turns audio into a transcript plus structured summary.
// It is an external collaborator: it may fail or time out, and callers bound it with ctx.
type Analyzer interface {
	Analyze(ctx context.Context, audio []byte, filename string) (Analysis, error)
}

// StatusError is a non-2xx reply from a remote analyzer.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.Code, e.Body)
}

// Retryable reports whether err is worth another attempt: throttling, server errors,
// network failures and per-attempt deadlines. Cancellation of the caller is not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, audio []byte, filename string) (Analysis, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, audio []byte, filename string) (Analysis, error) {
	return f(ctx, audio, filename)
}
