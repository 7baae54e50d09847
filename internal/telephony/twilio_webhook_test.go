package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseTwilioVoiceCall(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&From=%2B15551234567&To=%2B15557654321")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/voice", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioVoiceCall(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" {
		t.Fatalf("expected CallSid")
	}
	if form.From != "+15551234567" || form.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", form.From, form.To)
	}
}

func TestParseTwilioRecording(t *testing.T) {
	body := strings.NewReader("CallSid=CA1&RecordingSid=RE1&RecordingUrl=https%3A%2F%2Fapi.twilio.com%2FRecordings%2FRE1&RecordingDuration=42&From=%2B1555&RecordingStatus=completed")
	r := httptest.NewRequest(http.MethodPost, RecordingCallbackPath, body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioRecording(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !form.Completed() {
		t.Fatalf("expected completed")
	}

	req := form.ToIngestRequest("acme")
	if req.ProviderCallID != "CA1" || req.ProviderRecordingID != "RE1" {
		t.Fatalf("unexpected ids: %+v", req)
	}
	if req.RecordingURL != "https://api.twilio.com/Recordings/RE1" {
		t.Fatalf("unexpected url %q", req.RecordingURL)
	}
	if req.DurationSeconds == nil || *req.DurationSeconds != 42 {
		t.Fatalf("expected duration 42")
	}
	if req.CompanyID != "acme" || req.To != "" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestTwilioRecordingForm_CompletedStatus(t *testing.T) {
	if (TwilioRecordingForm{RecordingStatus: "failed"}).Completed() {
		t.Fatalf("failed recording should not be completed")
	}
	if !(TwilioRecordingForm{}).Completed() {
		t.Fatalf("missing status should be treated as completed")
	}
}
