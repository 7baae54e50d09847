package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"callsense/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository returns one company's calls created in [from, to).
type Repository interface {
	ListCalls(ctx context.Context, companyID string, from, to time.Time) ([]calls.CallRecord, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

const topTagLimit = 10

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.CompanyID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.CompanyID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{
		CompanyID:   req.CompanyID,
		Range:       req.Range,
		BySentiment: map[calls.Sentiment]int{},
		ByUrgency:   map[calls.Urgency]int{},
		TopTags:     []TagCount{},
	}
	tags := map[string]int{}
	timed := 0
	for _, c := range rows {
		out.TotalCalls++
		if c.DurationSeconds != nil {
			out.TotalDurationSeconds += *c.DurationSeconds
			timed++
		}
		switch c.Status {
		case calls.StatusPending:
			out.PendingCalls++
		case calls.StatusTranscribing:
			out.TranscribingCalls++
		case calls.StatusDone:
			out.DoneCalls++
		case calls.StatusError:
			out.FailedCalls++
		}
		if c.Status != calls.StatusDone || c.Summary == nil {
			continue
		}
		out.BySentiment[c.Summary.Sentiment]++
		out.ByUrgency[c.Summary.Urgency]++
		for _, t := range c.Summary.Tags {
			tags[t]++
		}
		for _, a := range c.Summary.ActionItems {
			if a.Owner == calls.OwnerBusiness {
				out.OpenBusinessActions++
			}
		}
	}
	// Calls without a reported duration stay out of the average.
	if timed > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / timed
	}

	for t, n := range tags {
		out.TopTags = append(out.TopTags, TagCount{Tag: t, Count: n})
	}
	sort.Slice(out.TopTags, func(i, j int) bool {
		if out.TopTags[i].Count != out.TopTags[j].Count {
			return out.TopTags[i].Count > out.TopTags[j].Count
		}
		return out.TopTags[i].Tag < out.TopTags[j].Tag
	})
	if len(out.TopTags) > topTagLimit {
		out.TopTags = out.TopTags[:topTagLimit]
	}
	return out, nil
}
