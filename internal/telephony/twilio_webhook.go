package telephony

import (
	"net/http"
	"strconv"
	"strings"

	"callsense/internal/ingest"
)

// TwilioVoiceForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
type TwilioVoiceForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
}

func ParseTwilioVoiceCall(r *http.Request) (TwilioVoiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioVoiceForm{}, err
	}
	return TwilioVoiceForm{
		CallSid:    strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid: strings.TrimSpace(r.PostFormValue("AccountSid")),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: r.PostFormValue("CallStatus"),
	}, nil
}

// TwilioRecordingForm is the recordingStatusCallback payload.
// Ref: https://www.twilio.com/docs/voice/twiml/record#attributes-recording-status-callback
type TwilioRecordingForm struct {
	AccountSid        string
	CallSid           string
	RecordingSid      string
	RecordingURL      string
	RecordingStatus   string
	RecordingDuration string
	From              string
	To                string
}

func ParseTwilioRecording(r *http.Request) (TwilioRecordingForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioRecordingForm{}, err
	}
	return TwilioRecordingForm{
		AccountSid:        strings.TrimSpace(r.PostFormValue("AccountSid")),
		CallSid:           strings.TrimSpace(r.PostFormValue("CallSid")),
		RecordingSid:      strings.TrimSpace(r.PostFormValue("RecordingSid")),
		RecordingURL:      strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		RecordingStatus:   strings.TrimSpace(r.PostFormValue("RecordingStatus")),
		RecordingDuration: strings.TrimSpace(r.PostFormValue("RecordingDuration")),
		From:              normalizePhone(r.PostFormValue("From")),
		To:                normalizePhone(r.PostFormValue("To")),
	}, nil
}

// Completed is false only when Twilio explicitly reports a non-completed recording.
func (f TwilioRecordingForm) Completed() bool {
	return f.RecordingStatus == "" || f.RecordingStatus == "completed"
}

func (f TwilioRecordingForm) ToIngestRequest(companyID string) ingest.Request {
	req := ingest.Request{
		ProviderCallID:      f.CallSid,
		ProviderRecordingID: f.RecordingSid,
		RecordingURL:        f.RecordingURL,
		From:                f.From,
		To:                  f.To,
		CompanyID:           companyID,
	}
	if n, err := strconv.Atoi(f.RecordingDuration); err == nil && n >= 0 {
		req.DurationSeconds = &n
	}
	return req
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}
