package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"callsense/internal/calls"
)

const classifyPrompt = `You analyze phone calls between a business and a customer.
Return a single JSON object with exactly these keys:
"summary" (2-3 sentences), "customer_intent" (short phrase),
"sentiment" (one of very_positive, positive, neutral, negative, very_negative),
"urgency" (one of low, medium, high),
"action_items" (array of {"owner": "business"|"customer"|"unknown", "task": string, "deadline": string|null}),
"tags" (array of short lowercase topics).`

// OpenAIOptions configures the hosted analyzer.
type OpenAIOptions struct {
	APIKey          string
	BaseURL         string
	TranscribeModel string
	ChatModel       string
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// OpenAI transcribes with the audio transcription endpoint and classifies the
// transcript with a JSON-mode chat completion.
type OpenAI struct {
	apiKey          string
	baseURL         string
	transcribeModel string
	chatModel       string
	hc              *http.Client
	log             *slog.Logger
}

func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("transcribe: openai api key is required")
	}
	o := &OpenAI{
		apiKey:          opts.APIKey,
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		transcribeModel: opts.TranscribeModel,
		chatModel:       opts.ChatModel,
		hc:              opts.HTTPClient,
		log:             opts.Logger,
	}
	if o.baseURL == "" {
		o.baseURL = "https://api.openai.com/v1"
	}
	if o.transcribeModel == "" {
		o.transcribeModel = "whisper-1"
	}
	if o.chatModel == "" {
		o.chatModel = "gpt-4o-mini"
	}
	if o.hc == nil {
		// Callers bound each attempt with ctx; this only guards against a hung connection.
		o.hc = &http.Client{Timeout: 10 * time.Minute}
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o, nil
}

func (o *OpenAI) Analyze(ctx context.Context, audio []byte, filename string) (Analysis, error) {
	transcript, err := o.transcribe(ctx, audio, filename)
	if err != nil {
		return Analysis{}, err
	}
	summary, err := o.classify(ctx, transcript)
	if err != nil {
		return Analysis{}, err
	}
	return Analysis{Transcript: transcript, Summary: summary}, nil
}

func (o *OpenAI) transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", o.transcribeModel); err != nil {
		return "", err
	}
	if filename == "" {
		filename = "recording.wav"
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := o.post(ctx, "transcribe", "/audio/transcriptions", mw.FormDataContentType(), &body, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) classify(ctx context.Context, transcript string) (calls.Summary, error) {
	if transcript == "" {
		return FallbackSummary(transcript), nil
	}
	payload, err := json.Marshal(chatRequest{
		Model: o.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: classifyPrompt},
			{Role: "user", Content: "Transcript:\n" + transcript},
		},
		Temperature:    0.2,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return calls.Summary{}, err
	}

	var out chatResponse
	if err := o.post(ctx, "classify", "/chat/completions", "application/json", bytes.NewReader(payload), &out); err != nil {
		return calls.Summary{}, err
	}
	content := ""
	if len(out.Choices) > 0 {
		content = out.Choices[0].Message.Content
	}
	summary, ok := ParseSummary(content, transcript)
	if !ok {
		o.log.Warn("classifier returned unparseable output, using fallback summary", "model", o.chatModel, "content_len", len(content))
	}
	return summary, nil
}

func (o *OpenAI) post(ctx context.Context, op, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := o.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
