package calls

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID = "5b0c3a52-8f5e-4c43-9a3f-3f3c0f9a1c11"

var columnNames = []string{
	"id", "company_id", "provider_call_id", "provider_recording_id", "from_number", "to_number",
	"recording_locator", "duration_seconds", "transcript", "summary_data", "status", "error_message", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewPostgresStore(db)
	s.clock = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestPostgresStore_InsertMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO call_records").
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	rec := newRecord("CA1")
	rec.ProviderRecordingID = "RE1"
	_, err := s.Insert(context.Background(), rec)
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertSetsPending(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO call_records").
		WithArgs(sqlmock.AnyArg(), "acme", "CA1", sql.NullString{}, sqlmock.AnyArg(), sqlmock.AnyArg(),
			"local:///rec/CA1.wav", sqlmock.AnyArg(), StatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := s.Insert(context.Background(), newRecord("CA1"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.NotEmpty(t, rec.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDecodesSummary(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(columnNames).AddRow(
		testID, "acme", "CA1", "RE1", "+1555", nil,
		"gs://bucket/recordings/CA1.wav", 42, "hello",
		[]byte(`{"summary":"s","customer_intent":"refund","sentiment":"negative","urgency":"high","action_items":[{"owner":"business","task":"call back","deadline":null}],"tags":["refund"]}`),
		"done", nil, created, created,
	)
	mock.ExpectQuery("FROM call_records").WithArgs(testID).WillReturnRows(rows)

	rec, err := s.Get(context.Background(), testID)
	require.NoError(t, err)
	require.NotNil(t, rec.Summary)
	assert.Equal(t, SentimentNegative, rec.Summary.Sentiment)
	assert.Equal(t, "refund", rec.Summary.Intent)
	require.Len(t, rec.Summary.ActionItems, 1)
	assert.Nil(t, rec.Summary.ActionItems[0].Deadline)
	assert.Nil(t, rec.ToNumber)
	require.NotNil(t, rec.DurationSeconds)
	assert.Equal(t, 42, *rec.DurationSeconds)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMalformedIDIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	_, err := s.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateIfStatusConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE call_records").
		WithArgs(testID, StatusPending, StatusTranscribing, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(columnNames))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(testID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := s.UpdateIfStatus(context.Background(), testID, StatusPending, To(StatusTranscribing))
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateIfStatusNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE call_records").WillReturnRows(sqlmock.NewRows(columnNames))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(testID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := s.UpdateIfStatus(context.Background(), testID, StatusPending, To(StatusTranscribing))
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateIfStatusDone(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(columnNames).AddRow(
		testID, "acme", "CA1", nil, nil, nil, "local:///rec/CA1.wav", nil, "hi",
		[]byte(`{"summary":"s","customer_intent":"","sentiment":"neutral","urgency":"low","action_items":[],"tags":[]}`),
		"done", nil, now, now,
	)
	mock.ExpectQuery("UPDATE call_records").
		WithArgs(testID, StatusTranscribing, StatusDone, sqlmock.AnyArg(), sqlmock.AnyArg(), sql.NullString{}, now).
		WillReturnRows(rows)

	rec, err := s.UpdateIfStatus(context.Background(), testID, StatusTranscribing,
		Done("hi", Summary{Summary: "s", Sentiment: SentimentNeutral, Urgency: UrgencyLow}))
	require.NoError(t, err)
	assert.Equal(t, StatusDone, rec.Status)
	require.NotNil(t, rec.Transcript)
	assert.Equal(t, "hi", *rec.Transcript)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAllOrdersNewestFirst(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("ORDER BY created_at DESC").WillReturnRows(sqlmock.NewRows(columnNames))

	out, err := s.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NotNil(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecoverStale(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := time.Date(2024, 5, 1, 8, 50, 0, 0, time.UTC)
	mock.ExpectExec("status = 'transcribing' AND updated_at <").
		WithArgs(cutoff, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.RecoverStale(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
