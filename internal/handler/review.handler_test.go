package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"review-service/internal/domain"
	"review-service/internal/handler"
	"review-service/internal/router"
	"review-service/internal/tenant"
	"review-service/pkg/response"
	"review-service/pkg/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeService struct {
	mu sync.Mutex

	submitted []domain.SubmitReviewInput
	tenants   []string
	bulkIDs   []string

	submitErr error
	readErr   error
	healthErr error
}

func (f *fakeService) record(tenantKey string) {
	f.mu.Lock()
	f.tenants = append(f.tenants, tenantKey)
	f.mu.Unlock()
}

func (f *fakeService) SubmitReview(_ context.Context, in domain.SubmitReviewInput, tenantKey string) (*domain.Review, error) {
	f.record(tenantKey)
	f.mu.Lock()
	f.submitted = append(f.submitted, in)
	f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Review{
		ID:        "rv-1",
		OrderID:   in.OrderID,
		UserID:    in.UserID,
		PartnerID: "partner-1",
		Rating:    in.Rating,
		Comment:   in.Comment,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (f *fakeService) ListPartnerReviews(_ context.Context, partnerID, tenantKey string) ([]*domain.Review, error) {
	f.record(tenantKey)
	if f.readErr != nil {
		return nil, f.readErr
	}
	if partnerID != "partner-1" {
		return []*domain.Review{}, nil
	}
	return []*domain.Review{
		{ID: "b", OrderID: 2, PartnerID: partnerID, Rating: 4},
		{ID: "a", OrderID: 1, PartnerID: partnerID, Rating: 2},
	}, nil
}

func (f *fakeService) GetPartnerRating(_ context.Context, partnerID, tenantKey string) (domain.PartnerRating, error) {
	f.record(tenantKey)
	if f.readErr != nil {
		return domain.PartnerRating{}, f.readErr
	}
	if partnerID == "partner-1" {
		return domain.NewPartnerRating(partnerID, 3, 2), nil
	}
	return domain.NewPartnerRating(partnerID, 0, 0), nil
}

func (f *fakeService) GetPartnersRatings(_ context.Context, ids []string, tenantKey string) (map[string]domain.PartnerRating, error) {
	f.record(tenantKey)
	f.mu.Lock()
	f.bulkIDs = ids
	f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make(map[string]domain.PartnerRating, len(ids))
	for _, id := range ids {
		if id == "p1" {
			out[id] = domain.NewPartnerRating(id, 5, 1)
			continue
		}
		out[id] = domain.NewPartnerRating(id, 0, 0)
	}
	return out, nil
}

func (f *fakeService) Health(_ context.Context, tenantKey string) error {
	f.record(tenantKey)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeService) setHealthErr(err error) {
	f.mu.Lock()
	f.healthErr = err
	f.mu.Unlock()
}

func (f *fakeService) seen() (tenants []string, submitted []domain.SubmitReviewInput, bulkIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tenants...), append([]domain.SubmitReviewInput(nil), f.submitted...), f.bulkIDs
}

func newTestServer(t *testing.T, svc *fakeService) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := handler.NewReviewHandler(svc, logger)
	srv := httptest.NewServer(router.SetupRoutes(h, router.Options{}, logger))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) response.ErrorResponse {
	t.Helper()
	var body response.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "error", body.Status)
	return body
}

func TestCreateReview(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp := do(t, http.MethodPost, srv.URL+"/reviews",
		`{"order_id": 42, "user_id": "user-1", "rating": 5, "comment": "great"}`,
		map[string]string{tenant.Header: "tenant_a"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "rv-1", got["id"])
	assert.EqualValues(t, 42, got["order_id"])
	assert.Equal(t, "user-1", got["user_id"])
	assert.Equal(t, "partner-1", got["partner_id"])
	assert.EqualValues(t, 5, got["rating"])
	assert.Equal(t, "great", got["comment"])
	assert.Contains(t, got, "created_at")
	assert.Contains(t, got, "updated_at")

	tenants, submitted, _ := svc.seen()
	require.Len(t, submitted, 1)
	assert.Equal(t, int64(42), submitted[0].OrderID)
	assert.Equal(t, []string{"tenant_a"}, tenants)
}

func TestCreateReview_NullComment(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp := do(t, http.MethodPost, srv.URL+"/reviews", `{"order_id": 1, "user_id": "u", "rating": 3, "comment": null}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Nil(t, got["comment"])
	tenants, _, _ := svc.seen()
	assert.Equal(t, []string{tenant.DefaultTenant}, tenants)
}

func TestCreateReview_MalformedInput(t *testing.T) {
	bodies := map[string]string{
		"rating zero":       `{"order_id": 1, "user_id": "u", "rating": 0}`,
		"rating six":        `{"order_id": 1, "user_id": "u", "rating": 6}`,
		"rating missing":    `{"order_id": 1, "user_id": "u"}`,
		"order id missing":  `{"user_id": "u", "rating": 3}`,
		"user id missing":   `{"order_id": 1, "rating": 3}`,
		"user id empty":     `{"order_id": 1, "user_id": "", "rating": 3}`,
		"rating not an int": `{"order_id": 1, "user_id": "u", "rating": "five"}`,
		"not json":          `order_id=1`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			svc := &fakeService{}
			srv := newTestServer(t, svc)

			resp := do(t, http.MethodPost, srv.URL+"/reviews", body, nil)
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			assert.Equal(t, "malformed_input", decodeError(t, resp).Code)
			_, submitted, _ := svc.seen()
			assert.Empty(t, submitted, "pipeline must not run on malformed input")
		})
	}
}

func TestCreateReview_RejectionStatuses(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{xerrors.Reject(xerrors.ErrMalformedInput, "rating must be between 1 and 5"), http.StatusUnprocessableEntity, "malformed_input"},
		{xerrors.RejectWrap(xerrors.ErrOrderServiceUnavailable, "Order service unavailable", errors.New("deadline exceeded")), http.StatusBadGateway, "order_service_unavailable"},
		{xerrors.Reject(xerrors.ErrOrderNotFound, "Order not found"), http.StatusNotFound, "order_not_found"},
		{xerrors.Reject(xerrors.ErrForbidden, "Order does not belong to user"), http.StatusForbidden, "forbidden"},
		{xerrors.Reject(xerrors.ErrInvalidOrderState, "Order has no partner_id set"), http.StatusBadRequest, "invalid_order_state"},
		{xerrors.Reject(xerrors.ErrConflict, "Order already reviewed"), http.StatusConflict, "conflict"},
		{xerrors.RejectWrap(xerrors.ErrStorageUnavailable, "Database unavailable", errors.New("conn refused")), http.StatusServiceUnavailable, "storage_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			srv := newTestServer(t, &fakeService{submitErr: tt.err})

			resp := do(t, http.MethodPost, srv.URL+"/reviews", `{"order_id": 1, "user_id": "u", "rating": 3}`, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decodeError(t, resp)
			assert.Equal(t, tt.code, body.Code)
			if tt.status != http.StatusInternalServerError {
				assert.Equal(t, xerrors.Message(tt.err), body.Message)
			} else {
				assert.NotContains(t, body.Message, "boom")
			}
		})
	}
}

func TestListPartnerReviews(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp := do(t, http.MethodGet, srv.URL+"/partners/partner-1/reviews", "", map[string]string{tenant.Header: "tenant_b"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []domain.Review
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	tenants, _, _ := svc.seen()
	assert.Equal(t, []string{"tenant_b"}, tenants)
}

func TestListPartnerReviews_EmptyIsArray(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	resp := do(t, http.MethodGet, srv.URL+"/partners/nobody/reviews", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw))
}

func TestGetPartnerRating(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	resp := do(t, http.MethodGet, srv.URL+"/partners/partner-1/rating", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.PartnerRating
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, domain.PartnerRating{PartnerID: "partner-1", AvgRating: 3, Count: 2}, got)

	resp = do(t, http.MethodGet, srv.URL+"/partners/unknown/rating", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `{"partner_id":"unknown","avg_rating":0,"count":0}`, string(raw))
}

func TestGetPartnersRatings(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp := do(t, http.MethodGet, srv.URL+"/partners/ratings?partner_ids=p1,%20p2%20,,", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `{
		"p1": {"partner_id": "p1", "avg_rating": 5, "count": 1},
		"p2": {"partner_id": "p2", "avg_rating": 0, "count": 0}
	}`, string(raw))
	_, _, bulkIDs := svc.seen()
	assert.Equal(t, []string{"p1", "p2"}, bulkIDs)
}

func TestGetPartnersRatings_MissingParam(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp := do(t, http.MethodGet, srv.URL+"/partners/ratings", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "malformed_input", decodeError(t, resp).Code)
	tenants, _, _ := svc.seen()
	assert.Empty(t, tenants)
}

func TestReads_StorageUnavailable(t *testing.T) {
	svc := &fakeService{readErr: xerrors.RejectWrap(xerrors.ErrStorageUnavailable, "Database unavailable", errors.New("conn refused"))}
	srv := newTestServer(t, svc)

	for _, path := range []string{"/partners/p1/reviews", "/partners/p1/rating", "/partners/ratings?partner_ids=p1"} {
		resp := do(t, http.MethodGet, srv.URL+path, "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
		assert.Equal(t, "storage_unavailable", decodeError(t, resp).Code)
	}
}

func TestHealth(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp := do(t, http.MethodGet, srv.URL+"/health", "", map[string]string{tenant.Header: "tenant_a"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `{"status":"ok","db":"ok"}`, string(raw))
	tenants, _, _ := svc.seen()
	assert.Equal(t, []string{"tenant_a"}, tenants)

	svc.setHealthErr(xerrors.RejectWrap(xerrors.ErrStorageUnavailable, "Database unavailable", errors.New("conn refused")))
	resp = do(t, http.MethodGet, srv.URL+"/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, "storage_unavailable", body.Code)
	assert.Equal(t, "Database unavailable: conn refused", body.Message)
}

func TestParsePartnerIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, handler.ParsePartnerIDs(" a ,b,, c ,"))
	assert.Equal(t, []string{}, handler.ParsePartnerIDs(""))
	assert.Equal(t, []string{}, handler.ParsePartnerIDs(" , ,"))
}

func TestStatusFor(t *testing.T) {
	wrapped := errors.Join(errors.New("ctx"), xerrors.Reject(xerrors.ErrConflict, "Order already reviewed"))
	assert.Equal(t, http.StatusConflict, handler.StatusFor(wrapped))
	assert.Equal(t, http.StatusTooManyRequests, handler.StatusFor(xerrors.Reject(xerrors.ErrRateLimited, "slow down")))
}
