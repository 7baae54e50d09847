package calls

import (
	"fmt"
	"time"
)

// CallRecord is one ingested call recording and its processing outcome.
//
// Invariants:
// - ID, RecordingLocator and CreatedAt never change after insert.
// - Transcript and Summary are set together, only when Status becomes done.
// - A record in error never carries a transcript.
// - Records are never deleted by the pipeline.
type CallRecord struct {
	ID        string `json:"id" db:"id"`
	CompanyID string `json:"company_id" db:"company_id"`

	ProviderCallID string `json:"provider_call_id" db:"provider_call_id"`
	// ProviderRecordingID is the provider's recording identifier, unique when present.
	ProviderRecordingID string `json:"provider_recording_id,omitempty" db:"provider_recording_id"`

	FromNumber *string `json:"from_number" db:"from_number"`
	ToNumber   *string `json:"to_number" db:"to_number"`

	RecordingLocator string `json:"recording_locator" db:"recording_locator"`
	DurationSeconds  *int   `json:"duration_seconds,omitempty" db:"duration_seconds"`

	Transcript *string  `json:"transcript" db:"transcript"`
	Summary    *Summary `json:"summary_data" db:"summary_data"`

	Status       Status `json:"status" db:"status"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending      Status = "pending"
	StatusTranscribing Status = "transcribing"
	StatusDone         Status = "done"
	StatusError        Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusTranscribing, StatusDone, StatusError:
		return true
	default:
		return false
	}
}

// transitions lists every status change a Mutation may apply.
// transcribing -> pending covers released and expired claims; error -> pending is re-enqueue.
var transitions = map[Status][]Status{
	StatusPending:      {StatusTranscribing, StatusDone, StatusError},
	StatusTranscribing: {StatusDone, StatusError, StatusPending},
	StatusError:        {StatusPending},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Summary is the structured classification produced for a finished call.
type Summary struct {
	Summary     string       `json:"summary"`
	Intent      string       `json:"customer_intent"`
	Sentiment   Sentiment    `json:"sentiment"`
	Urgency     Urgency      `json:"urgency"`
	ActionItems []ActionItem `json:"action_items"`
	Tags        []string     `json:"tags"`
}

type Sentiment string

const (
	SentimentVeryPositive Sentiment = "very_positive"
	SentimentPositive     Sentiment = "positive"
	SentimentNeutral      Sentiment = "neutral"
	SentimentNegative     Sentiment = "negative"
	SentimentVeryNegative Sentiment = "very_negative"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentVeryPositive, SentimentPositive, SentimentNeutral, SentimentNegative, SentimentVeryNegative:
		return true
	default:
		return false
	}
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	default:
		return false
	}
}

type Owner string

const (
	OwnerBusiness Owner = "business"
	OwnerCustomer Owner = "customer"
	OwnerUnknown  Owner = "unknown"
)

type ActionItem struct {
	Owner    Owner   `json:"owner"`
	Task     string  `json:"task"`
	Deadline *string `json:"deadline"`
}

// Validate checks the enumerated fields.
func (s Summary) Validate() error {
	if !s.Sentiment.Valid() {
		return fmt.Errorf("%w: sentiment %q", ErrInvalidArgument, s.Sentiment)
	}
	if !s.Urgency.Valid() {
		return fmt.Errorf("%w: urgency %q", ErrInvalidArgument, s.Urgency)
	}
	for i, a := range s.ActionItems {
		switch a.Owner {
		case OwnerBusiness, OwnerCustomer, OwnerUnknown:
		default:
			return fmt.Errorf("%w: action_items[%d].owner %q", ErrInvalidArgument, i, a.Owner)
		}
	}
	return nil
}

func (s *Summary) clone() *Summary {
	if s == nil {
		return nil
	}
	out := *s
	if s.ActionItems != nil {
		out.ActionItems = make([]ActionItem, len(s.ActionItems))
		for i, a := range s.ActionItems {
			out.ActionItems[i] = a
			if a.Deadline != nil {
				d := *a.Deadline
				out.ActionItems[i].Deadline = &d
			}
		}
	}
	if s.Tags != nil {
		out.Tags = append([]string(nil), s.Tags...)
	}
	return &out
}

// Mutation is the full set of worker-owned fields written by a conditional update.
type Mutation struct {
	Status       Status
	Transcript   *string
	Summary      *Summary
	ErrorMessage string
}

// Validate enforces the per-status field rules.
func (m Mutation) Validate() error {
	if !m.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidArgument, m.Status)
	}
	switch m.Status {
	case StatusDone:
		if m.Transcript == nil || m.Summary == nil {
			return fmt.Errorf("%w: done requires transcript and summary", ErrInvalidArgument)
		}
		if m.ErrorMessage != "" {
			return fmt.Errorf("%w: done must not carry an error message", ErrInvalidArgument)
		}
		if err := m.Summary.Validate(); err != nil {
			return err
		}
	case StatusError:
		if m.Transcript != nil || m.Summary != nil {
			return fmt.Errorf("%w: error must not carry transcript or summary", ErrInvalidArgument)
		}
	default:
		if m.Transcript != nil || m.Summary != nil {
			return fmt.Errorf("%w: %s must not carry transcript or summary", ErrInvalidArgument, m.Status)
		}
		if m.ErrorMessage != "" {
			return fmt.Errorf("%w: %s must not carry an error message", ErrInvalidArgument, m.Status)
		}
	}
	return nil
}

// Done builds the mutation for a successful analysis.
func Done(transcript string, summary Summary) Mutation {
	return Mutation{Status: StatusDone, Transcript: &transcript, Summary: &summary}
}

// Failed builds the mutation for a failed record.
func Failed(reason string) Mutation {
	return Mutation{Status: StatusError, ErrorMessage: truncate(reason, maxErrorMessage)}
}

// To builds a bare status change.
func To(s Status) Mutation {
	return Mutation{Status: s}
}

const maxErrorMessage = 1000

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (r CallRecord) clone() CallRecord {
	out := r
	out.FromNumber = cloneString(r.FromNumber)
	out.ToNumber = cloneString(r.ToNumber)
	out.Transcript = cloneString(r.Transcript)
	out.Summary = r.Summary.clone()
	if r.DurationSeconds != nil {
		d := *r.DurationSeconds
		out.DurationSeconds = &d
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
