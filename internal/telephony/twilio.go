package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callsense/internal/ingest"
)

const defaultMaxRecordingBytes = 100 << 20

// TwilioProvider downloads recordings from Twilio's media endpoints.
type TwilioProvider struct {
	client     *http.Client
	accountSID string
	authToken  string
	maxBytes   int64
}

type TwilioOptions struct {
	AccountSID string
	AuthToken  string
	MaxBytes   int64
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

func NewTwilioProvider(opts TwilioOptions) *TwilioProvider {
	p := &TwilioProvider{
		client:     opts.HTTPClient,
		accountSID: opts.AccountSID,
		authToken:  opts.AuthToken,
		maxBytes:   opts.MaxBytes,
	}
	if p.client == nil {
		// Per-request deadlines come from ctx; this is only a ceiling.
		p.client = &http.Client{Timeout: 5 * time.Minute}
	}
	if p.maxBytes <= 0 {
		p.maxBytes = defaultMaxRecordingBytes
	}
	return p
}

func (p *TwilioProvider) Name() string { return "twilio" }

// FetchRecording downloads the media. Twilio serves the recording resource as JSON
// unless a media extension is requested, so .wav is appended when none is present.
func (p *TwilioProvider) FetchRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	mediaURL, err := MediaURL(recordingURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	if p.accountSID != "" && p.authToken != "" {
		req.SetBasicAuth(p.accountSID, p.authToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio: fetch recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("twilio: fetch recording: status %d", resp.StatusCode)
	}
	if resp.ContentLength > p.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ingest.ErrRecordingTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("twilio: read recording: %w", err)
	}
	if int64(len(data)) > p.maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ingest.ErrRecordingTooLarge, p.maxBytes)
	}
	return data, nil
}

// MediaURL appends .wav to a recording URL that has no media extension.
func MediaURL(recordingURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(recordingURL))
	if err != nil {
		return "", fmt.Errorf("twilio: recording url: %w", err)
	}
	lower := strings.ToLower(u.Path)
	if !strings.HasSuffix(lower, ".wav") && !strings.HasSuffix(lower, ".mp3") {
		u.Path += ".wav"
	}
	return u.String(), nil
}
