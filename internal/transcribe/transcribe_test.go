package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"callsense/internal/calls"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceholder_IsDeterministic(t *testing.T) {
	a, err := Placeholder{}.Analyze(context.Background(), []byte("12345"), "x.wav")
	require.NoError(t, err)
	assert.Equal(t, "TRANSCRIPT_PLACEHOLDER: audio length 5 bytes", a.Transcript)
	assert.Equal(t, calls.SentimentNeutral, a.Summary.Sentiment)
	assert.Equal(t, calls.UrgencyLow, a.Summary.Urgency)
	assert.NoError(t, a.Summary.Validate())
}

func TestFallbackSummary_Truncates(t *testing.T) {
	s := FallbackSummary(strings.Repeat("a", 500))
	assert.Equal(t, strings.Repeat("a", 400)+"...", s.Summary)
}

func TestParseSummary_NormalizesFields(t *testing.T) {
	content := `{"summary":"Billing dispute","customer_intent":"refund","sentiment":"Very Negative",
		"urgency":"URGENT","action_items":[{"owner":"agent","task":"Issue refund","deadline":"tomorrow"},{"task":""}],
		"tags":["Billing Issue","billing-issue","Refund"]}`
	s, ok := ParseSummary(content, "t")
	require.True(t, ok)
	assert.Equal(t, "Billing dispute", s.Summary)
	assert.Equal(t, "refund", s.Intent)
	assert.Equal(t, calls.SentimentVeryNegative, s.Sentiment)
	assert.Equal(t, calls.UrgencyHigh, s.Urgency)
	require.Len(t, s.ActionItems, 1)
	assert.Equal(t, calls.OwnerBusiness, s.ActionItems[0].Owner)
	require.NotNil(t, s.ActionItems[0].Deadline)
	assert.Equal(t, "tomorrow", *s.ActionItems[0].Deadline)
	assert.Equal(t, []string{"billing-issue", "refund"}, s.Tags)
	assert.NoError(t, s.Validate())
}

func TestParseSummary_LegacyShape(t *testing.T) {
	content := `{"short_summary":"Asked about hours","sentiment":"positive","urgency":"low",
		"action_items":[{"text":"Send brochure","owner":"unknown person","due":null}],"topics":["hours"]}`
	s, ok := ParseSummary(content, "t")
	require.True(t, ok)
	assert.Equal(t, "Asked about hours", s.Summary)
	require.Len(t, s.ActionItems, 1)
	assert.Equal(t, "Send brochure", s.ActionItems[0].Task)
	assert.Equal(t, calls.OwnerUnknown, s.ActionItems[0].Owner)
	assert.Nil(t, s.ActionItems[0].Deadline)
	assert.Equal(t, []string{"hours"}, s.Tags)
}

func TestParseSummary_ExtractsEmbeddedObject(t *testing.T) {
	s, ok := ParseSummary("Sure! Here it is:\n```json\n{\"summary\":\"ok\",\"sentiment\":\"negative\",\"urgency\":\"high\"}\n```", "t")
	require.True(t, ok)
	assert.Equal(t, calls.SentimentNegative, s.Sentiment)
	assert.Equal(t, calls.UrgencyHigh, s.Urgency)
}

func TestParseSummary_GarbageFallsBack(t *testing.T) {
	s, ok := ParseSummary("not json at all", "the transcript")
	assert.False(t, ok)
	assert.Equal(t, "the transcript", s.Summary)
	assert.Equal(t, calls.SentimentNeutral, s.Sentiment)
	assert.NoError(t, s.Validate())
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&StatusError{Code: 503}))
	assert.True(t, Retryable(&StatusError{Code: 429}))
	assert.False(t, Retryable(&StatusError{Code: 400}))
	assert.False(t, Retryable(&StatusError{Code: 401}))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(errors.New("decode")))
	assert.False(t, Retryable(nil))
}

func newOpenAIServer(t *testing.T, chatContent string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "abc.wav", hdr.Filename)
		assert.Equal(t, "audio-bytes", string(data))
		_ = json.NewEncoder(w).Encode(map[string]string{"text": " Hello, my order never arrived. "})
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Equal(t, "json_object", req.ResponseFormat["type"])
		assert.Contains(t, req.Messages[1].Content, "my order never arrived")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": chatContent}}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_Analyze(t *testing.T) {
	srv := newOpenAIServer(t, `{"summary":"Late order","sentiment":"negative","urgency":"high","tags":["shipping"]}`)
	o, err := NewOpenAI(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	a, err := o.Analyze(context.Background(), []byte("audio-bytes"), "/rec/abc.wav")
	require.NoError(t, err)
	assert.Equal(t, "Hello, my order never arrived.", a.Transcript)
	assert.Equal(t, calls.SentimentNegative, a.Summary.Sentiment)
	assert.Equal(t, calls.UrgencyHigh, a.Summary.Urgency)
	assert.Equal(t, []string{"shipping"}, a.Summary.Tags)
}

func TestOpenAI_MalformedClassifierOutputFallsBack(t *testing.T) {
	srv := newOpenAIServer(t, "I cannot do that")
	o, err := NewOpenAI(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	a, err := o.Analyze(context.Background(), []byte("audio-bytes"), "abc.wav")
	require.NoError(t, err)
	assert.Equal(t, calls.SentimentNeutral, a.Summary.Sentiment)
	assert.Equal(t, "Hello, my order never arrived.", a.Summary.Summary)
}

func TestOpenAI_StatusErrors(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", int(code.Load()))
	}))
	defer srv.Close()
	o, err := NewOpenAI(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = o.Analyze(context.Background(), []byte("x"), "a.wav")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, se.Code)
	assert.True(t, Retryable(err))

	code.Store(http.StatusBadRequest)
	_, err = o.Analyze(context.Background(), []byte("x"), "a.wav")
	assert.False(t, Retryable(err))
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIOptions{})
	assert.Error(t, err)
}
