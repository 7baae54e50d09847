package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"callsense/internal/audit"
	"callsense/internal/auth"
	"callsense/internal/calls"
	"callsense/internal/rbac"
	"callsense/internal/reporting"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct{ ids []string }

func (f *fakeNotifier) Notify(_ context.Context, id string) error {
	f.ids = append(f.ids, id)
	return nil
}

type fixture struct {
	store    *calls.MemoryStore
	audit    *audit.MemoryRepo
	notifier *fakeNotifier
	router   *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{store: calls.NewMemoryStore(), audit: audit.NewMemoryRepo(), notifier: &fakeNotifier{}}
	h := Handlers{
		Calls:    f.store,
		Audit:    audit.NewService(f.audit),
		Notifier: f.notifier,
		Reports:  reporting.NewService(reporting.StoreRepo{Store: f.store}),
	}

	r := gin.New()
	r.GET("/healthz", h.Health)
	v1 := r.Group("/v1")
	// Test identity comes from headers instead of a signed token.
	v1.Use(func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "user-1", c.GetHeader("X-Company"), c.GetHeader("X-Role"))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	read := v1.Group("/calls", RequireCompanyAndAnyRole(rbac.RoleAgent)...)
	read.GET("", h.ListCalls)
	read.GET("/:id", h.GetCall)
	v1.GET("/reports/calls-summary", append(RequireCompanyAndAnyRole(rbac.RoleAgent), h.CallsSummary)...)
	admin := v1.Group("/admin", RequireCompanyAndAnyRole(rbac.RoleAdmin)...)
	admin.POST("/calls/:id/requeue", h.RequeueCall)
	f.router = r
	return f
}

func (f *fixture) insert(t *testing.T, company, callID string) calls.CallRecord {
	t.Helper()
	rec, err := f.store.Insert(context.Background(), calls.CallRecord{
		CompanyID:        company,
		ProviderCallID:   callID,
		RecordingLocator: "local:///rec/" + callID + ".wav",
	})
	require.NoError(t, err)
	return rec
}

func (f *fixture) do(method, path, company, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Company", company)
	req.Header.Set("X-Role", role)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeList(t *testing.T, w *httptest.ResponseRecorder) listResponse {
	t.Helper()
	var out listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestListCalls_NewestFirstScopedToCompany(t *testing.T) {
	f := newFixture(t)
	a1 := f.insert(t, "acme", "CA1")
	f.insert(t, "globex", "CA2")
	a3 := f.insert(t, "acme", "CA3")

	w := f.do(http.MethodGet, "/v1/calls", "acme", rbac.RoleAgent)
	require.Equal(t, http.StatusOK, w.Code)
	out := decodeList(t, w)
	require.Equal(t, 2, out.Count)
	assert.Equal(t, a3.ID, out.Calls[0].ID)
	assert.Equal(t, a1.ID, out.Calls[1].ID)

	w = f.do(http.MethodGet, "/v1/calls", "acme", rbac.RoleAdmin)
	assert.Equal(t, 3, decodeList(t, w).Count)
}

func TestListCalls_StatusFilterAndLimit(t *testing.T) {
	f := newFixture(t)
	rec := f.insert(t, "acme", "CA1")
	f.insert(t, "acme", "CA2")
	f.insert(t, "acme", "CA3")
	_, err := f.store.UpdateIfStatus(context.Background(), rec.ID, calls.StatusPending, calls.Failed("boom"))
	require.NoError(t, err)

	out := decodeList(t, f.do(http.MethodGet, "/v1/calls?status=error", "acme", rbac.RoleAgent))
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "boom", out.Calls[0].ErrorMessage)

	out = decodeList(t, f.do(http.MethodGet, "/v1/calls?limit=1", "acme", rbac.RoleAgent))
	assert.Equal(t, 1, out.Count)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/calls?status=lost", "acme", rbac.RoleAgent).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/calls?limit=-1", "acme", rbac.RoleAgent).Code)
}

func TestGetCall(t *testing.T) {
	f := newFixture(t)
	rec := f.insert(t, "acme", "CA1")

	w := f.do(http.MethodGet, "/v1/calls/"+rec.ID, "acme", rbac.RoleAgent)
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "pending", got["status"])
	assert.Nil(t, got["transcript"])
	assert.Nil(t, got["summary_data"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/calls/nope", "acme", rbac.RoleAgent).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/calls/"+rec.ID, "globex", rbac.RoleAgent).Code)
}

func TestRequeueCall(t *testing.T) {
	f := newFixture(t)
	rec := f.insert(t, "acme", "CA1")
	_, err := f.store.UpdateIfStatus(context.Background(), rec.ID, calls.StatusPending, calls.Failed("timeout"))
	require.NoError(t, err)

	path := "/v1/admin/calls/" + rec.ID + "/requeue"
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, path, "acme", rbac.RoleAgent).Code)

	w := f.do(http.MethodPost, path, "acme", rbac.RoleAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	got, _ := f.store.Get(context.Background(), rec.ID)
	assert.Equal(t, calls.StatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage)

	// Idempotent: a second request succeeds without a second audit entry.
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, path, "acme", rbac.RoleAdmin).Code)

	evs := f.audit.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, audit.EventTypeCallRequeued, evs[0].Type)
	assert.Equal(t, rec.ID, evs[0].CallID)
	assert.Equal(t, "acme", evs[0].CompanyID)
	assert.Equal(t, []string{rec.ID}, f.notifier.ids)
}

func TestRequeueCall_ConflictAndNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.insert(t, "acme", "CA1")
	_, err := f.store.UpdateIfStatus(context.Background(), rec.ID, calls.StatusPending, calls.To(calls.StatusTranscribing))
	require.NoError(t, err)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/v1/admin/calls/"+rec.ID+"/requeue", "acme", rbac.RoleAdmin).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/v1/admin/calls/missing/requeue", "acme", rbac.RoleAdmin).Code)
	assert.Empty(t, f.audit.Events())
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", Handlers{Ready: func(context.Context) error { return errors.New("db down") }}.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
