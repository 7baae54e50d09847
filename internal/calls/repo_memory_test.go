package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(callID string) CallRecord {
	from := "+15550001111"
	return CallRecord{
		CompanyID:        "acme",
		ProviderCallID:   callID,
		FromNumber:       &from,
		RecordingLocator: "local:///rec/" + callID + ".wav",
	}
}

func testSummary() Summary {
	return Summary{
		Summary:   "customer wants a refund",
		Intent:    "refund",
		Sentiment: SentimentNegative,
		Urgency:   UrgencyHigh,
		Tags:      []string{"refund"},
	}
}

func TestMemoryStore_InsertAssignsIdentityAndPending(t *testing.T) {
	s := NewMemoryStore()
	rec, err := s.Insert(context.Background(), newRecord("CA1"))
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Nil(t, rec.Transcript)
	assert.Nil(t, rec.Summary)

	got, err := s.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.RecordingLocator, got.RecordingLocator)
}

func TestMemoryStore_InsertRejectsMissingLocator(t *testing.T) {
	s := NewMemoryStore()
	rec := newRecord("CA1")
	rec.RecordingLocator = ""
	_, err := s.Insert(context.Background(), rec)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMemoryStore_InsertRejectsDuplicateRecordingID(t *testing.T) {
	s := NewMemoryStore()
	a := newRecord("CA1")
	a.ProviderRecordingID = "RE1"
	_, err := s.Insert(context.Background(), a)
	require.NoError(t, err)

	b := newRecord("CA1")
	b.ProviderRecordingID = "RE1"
	_, err = s.Insert(context.Background(), b)
	assert.ErrorIs(t, err, ErrDuplicate)

	found, err := s.FindByProviderRecordingID(context.Background(), "RE1")
	require.NoError(t, err)
	assert.Equal(t, "CA1", found.ProviderCallID)
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListAllNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.clock = func() time.Time {
		// Two records share each timestamp to exercise the tie-break.
		ts := base.Add(time.Duration(tick/2) * time.Second)
		tick++
		return ts
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.Insert(context.Background(), newRecord(id))
		require.NoError(t, err)
	}

	all, err := s.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt), "created_at must be non-increasing")
	}
	assert.Equal(t, "e", all[0].ProviderCallID)
	assert.Equal(t, "a", all[4].ProviderCallID)
}

func TestMemoryStore_ListByStatusOldestFirstWithLimit(t *testing.T) {
	s := NewMemoryStore()
	var ids []string
	for _, id := range []string{"a", "b", "c"} {
		rec, err := s.Insert(context.Background(), newRecord(id))
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	_, err := s.UpdateIfStatus(context.Background(), ids[0], StatusPending, Failed("boom"))
	require.NoError(t, err)

	pending, err := s.ListByStatus(context.Background(), StatusPending, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[1], pending[0].ID)
}

func TestMemoryStore_UpdateIfStatusConflictDoesNotWrite(t *testing.T) {
	s := NewMemoryStore()
	rec, err := s.Insert(context.Background(), newRecord("CA1"))
	require.NoError(t, err)

	_, err = s.UpdateIfStatus(context.Background(), rec.ID, StatusTranscribing, Done("hi", testSummary()))
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.Transcript)
}

func TestMemoryStore_UpdateIfStatusUnknownID(t *testing.T) {
	_, err := NewMemoryStore().UpdateIfStatus(context.Background(), "nope", StatusPending, To(StatusTranscribing))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpdateRejectsInvalidMutations(t *testing.T) {
	s := NewMemoryStore()
	rec, err := s.Insert(context.Background(), newRecord("CA1"))
	require.NoError(t, err)

	transcript := "text"
	cases := map[string]Mutation{
		"done without summary":    {Status: StatusDone, Transcript: &transcript},
		"done without transcript": {Status: StatusDone, Summary: &Summary{Sentiment: SentimentNeutral, Urgency: UrgencyLow}},
		"error with transcript":   {Status: StatusError, Transcript: &transcript},
		"bad sentiment":           Done("x", Summary{Sentiment: "meh", Urgency: UrgencyLow}),
		"pending to pending":      To(StatusPending),
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.UpdateIfStatus(context.Background(), rec.ID, StatusPending, m)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	got, err := s.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestMemoryStore_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	s := NewMemoryStore()
	rec, err := s.Insert(context.Background(), newRecord("CA1"))
	require.NoError(t, err)

	const n = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateIfStatus(context.Background(), rec.ID, StatusPending, To(StatusTranscribing))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
}

func TestMemoryStore_ReturnedRecordsAreCopies(t *testing.T) {
	s := NewMemoryStore()
	rec, err := s.Insert(context.Background(), newRecord("CA1"))
	require.NoError(t, err)
	_, err = s.UpdateIfStatus(context.Background(), rec.ID, StatusPending, Done("hello", testSummary()))
	require.NoError(t, err)

	got, err := s.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	got.Summary.Tags[0] = "mutated"
	*got.Transcript = "mutated"

	again, err := s.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "refund", again.Summary.Tags[0])
	assert.Equal(t, "hello", *again.Transcript)
}

func TestMemoryStore_RecoverStale(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	old, err := s.Insert(context.Background(), newRecord("old"))
	require.NoError(t, err)
	_, err = s.UpdateIfStatus(context.Background(), old.ID, StatusPending, To(StatusTranscribing))
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	fresh, err := s.Insert(context.Background(), newRecord("fresh"))
	require.NoError(t, err)
	_, err = s.UpdateIfStatus(context.Background(), fresh.ID, StatusPending, To(StatusTranscribing))
	require.NoError(t, err)

	n, err := s.RecoverStale(context.Background(), now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := s.Get(context.Background(), old.ID)
	assert.Equal(t, StatusPending, got.Status)
	got, _ = s.Get(context.Background(), fresh.ID)
	assert.Equal(t, StatusTranscribing, got.Status)
}
