package transcribe

import (
	"encoding/json"
	"regexp"
	"strings"

	"callsense/internal/calls"

	"github.com/gosimple/slug"
)

// rawSummary accepts the classifier's JSON loosely. Older prompts used short_summary,
// topics and action item text/due; both shapes are folded into calls.Summary.
type rawSummary struct {
	Summary      string          `json:"summary"`
	ShortSummary string          `json:"short_summary"`
	Intent       string          `json:"customer_intent"`
	Sentiment    string          `json:"sentiment"`
	Urgency      string          `json:"urgency"`
	ActionItems  []rawActionItem `json:"action_items"`
	Tags         []string        `json:"tags"`
	Topics       []string        `json:"topics"`
}

type rawActionItem struct {
	Owner    *string `json:"owner"`
	Task     string  `json:"task"`
	Text     string  `json:"text"`
	Deadline *string `json:"deadline"`
	Due      *string `json:"due"`
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// ParseSummary decodes classifier output into a valid Summary. Content that is not JSON
// is searched for an embedded object; if nothing decodes, ok is false.
func ParseSummary(content, transcript string) (calls.Summary, bool) {
	var raw rawSummary
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		m := jsonObject.FindString(content)
		if m == "" || json.Unmarshal([]byte(m), &raw) != nil {
			return FallbackSummary(transcript), false
		}
	}
	return normalize(raw, transcript), true
}

func normalize(raw rawSummary, transcript string) calls.Summary {
	out := calls.Summary{
		Summary:     strings.TrimSpace(raw.Summary),
		Intent:      strings.TrimSpace(raw.Intent),
		Sentiment:   normalizeSentiment(raw.Sentiment),
		Urgency:     normalizeUrgency(raw.Urgency),
		ActionItems: []calls.ActionItem{},
		Tags:        normalizeTags(append(raw.Tags, raw.Topics...)),
	}
	if out.Summary == "" {
		out.Summary = strings.TrimSpace(raw.ShortSummary)
	}
	if out.Summary == "" {
		out.Summary = shorten(transcript, shortSummaryLen)
	}

	for _, a := range raw.ActionItems {
		task := strings.TrimSpace(a.Task)
		if task == "" {
			task = strings.TrimSpace(a.Text)
		}
		if task == "" {
			continue
		}
		item := calls.ActionItem{Owner: normalizeOwner(a.Owner), Task: task}
		deadline := a.Deadline
		if deadline == nil {
			deadline = a.Due
		}
		if deadline != nil && strings.TrimSpace(*deadline) != "" {
			d := strings.TrimSpace(*deadline)
			item.Deadline = &d
		}
		out.ActionItems = append(out.ActionItems, item)
	}
	return out
}

func normalizeSentiment(s string) calls.Sentiment {
	v := calls.Sentiment(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_"))
	if v.Valid() {
		return v
	}
	switch v {
	case "very-positive":
		return calls.SentimentVeryPositive
	case "very-negative":
		return calls.SentimentVeryNegative
	case "mixed", "":
		return calls.SentimentNeutral
	}
	return calls.SentimentNeutral
}

func normalizeUrgency(s string) calls.Urgency {
	v := calls.Urgency(strings.ToLower(strings.TrimSpace(s)))
	if v.Valid() {
		return v
	}
	switch v {
	case "urgent", "critical":
		return calls.UrgencyHigh
	case "normal", "moderate":
		return calls.UrgencyMedium
	}
	return calls.UrgencyLow
}

func normalizeOwner(s *string) calls.Owner {
	if s == nil {
		return calls.OwnerUnknown
	}
	switch strings.ToLower(strings.TrimSpace(*s)) {
	case "business", "agent", "company", "us":
		return calls.OwnerBusiness
	case "customer", "caller", "client":
		return calls.OwnerCustomer
	}
	return calls.OwnerUnknown
}

const maxTags = 10

// normalizeTags slugs, dedupes and caps tags while keeping first-seen order.
func normalizeTags(in []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, t := range in {
		s := slug.Make(t)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == maxTags {
			break
		}
	}
	return out
}
