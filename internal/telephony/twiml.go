package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// Only include primitives we need at the adapter boundary.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlRecord struct {
	XMLName                       xml.Name `xml:"Record"`
	RecordingStatusCallback       string   `xml:"recordingStatusCallback,attr"`
	RecordingStatusCallbackMethod string   `xml:"recordingStatusCallbackMethod,attr"`
	MaxLength                     int      `xml:"maxLength,attr"`
	PlayBeep                      bool     `xml:"playBeep,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// MaxRecordingSeconds caps a single voicemail.
const MaxRecordingSeconds = 3600

// RenderRecordPrompt greets the caller and records the call, asking Twilio to POST
// the finished recording to callbackURL.
func RenderRecordPrompt(greeting, callbackURL string) (string, error) {
	if strings.TrimSpace(callbackURL) == "" {
		return "", errors.New("telephony: recording callback url required")
	}
	r := twimlResponse{}
	if strings.TrimSpace(greeting) != "" {
		r.Verbs = append(r.Verbs, twimlSay{Voice: "alice", Text: greeting})
	}
	r.Verbs = append(r.Verbs,
		twimlRecord{
			RecordingStatusCallback:       callbackURL,
			RecordingStatusCallbackMethod: "POST",
			MaxLength:                     MaxRecordingSeconds,
			PlayBeep:                      true,
		},
		twimlHangup{},
	)
	return render(r)
}

func render(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
