package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pawmart/api/internal/platform/auth"
)

const checkoutBody = `{"paymentMethod":"cod"}`

func checkoutRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(DefaultHeader, key)
	}
	return req
}

func asUser(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

type countingHandler struct {
	calls  int
	status int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.calls++
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Date", "Mon, 01 Jan 2024 00:00:00 GMT")
	w.WriteHeader(h.status)
	_, _ = w.Write([]byte(`{"orderId":"ord_01"}`))
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Error
}

func TestMiddlewareReplaysCheckout(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	handler := Middleware(NewMemoryStore())(next)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, asUser(checkoutRequest("checkout-1", checkoutBody), "user_1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, asUser(checkoutRequest("checkout-1", checkoutBody), "user_1"))

	require.Equal(t, 1, next.calls)
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get(ReplayHeader))
	require.Empty(t, first.Header().Get(ReplayHeader))
	require.Equal(t, "application/json", second.Header().Get("Content-Type"))
	require.Empty(t, second.Header().Get("Date"))
	require.Equal(t, first.Body.String(), second.Body.String())
}

func TestMiddlewareScopesKeysPerUser(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	handler := Middleware(NewMemoryStore())(next)

	handler.ServeHTTP(httptest.NewRecorder(), asUser(checkoutRequest("same-key", checkoutBody), "user_1"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, asUser(checkoutRequest("same-key", checkoutBody), "user_2"))

	require.Equal(t, 2, next.calls)
	require.Empty(t, rr.Header().Get(ReplayHeader))
}

func TestMiddlewareRejectsReusedKey(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	handler := Middleware(NewMemoryStore())(next)

	handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest("k", checkoutBody))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest("k", `{"paymentMethod":"online"}`))

	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "idempotency_key_reused", errorCode(t, rr))
	require.Equal(t, 1, next.calls)
}

func TestMiddlewareBusyWhileFirstRequestRuns(t *testing.T) {
	store := NewMemoryStore()
	var inner *httptest.ResponseRecorder
	var handler http.Handler
	handler = Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = httptest.NewRecorder()
		handler.ServeHTTP(inner, checkoutRequest("k", checkoutBody))
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest("k", checkoutBody))

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, http.StatusConflict, inner.Code)
	require.Equal(t, "idempotency_in_progress", errorCode(t, inner))
}

func TestMiddlewareServerErrorsStayRetryable(t *testing.T) {
	next := &countingHandler{status: http.StatusServiceUnavailable}
	handler := Middleware(NewMemoryStore())(next)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, checkoutRequest("k", checkoutBody))
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	}
	require.Equal(t, 2, next.calls)
}

func TestMiddlewarePanicReleasesKey(t *testing.T) {
	store := NewMemoryStore()
	panicking := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	require.Panics(t, func() { panicking.ServeHTTP(httptest.NewRecorder(), checkoutRequest("k", checkoutBody)) })

	next := &countingHandler{status: http.StatusCreated}
	rr := httptest.NewRecorder()
	Middleware(store)(next).ServeHTTP(rr, checkoutRequest("k", checkoutBody))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, 1, next.calls)
}

func TestMiddlewareKeyHandling(t *testing.T) {
	t.Run("optional by default", func(t *testing.T) {
		next := &countingHandler{status: http.StatusCreated}
		handler := Middleware(NewMemoryStore())(next)
		handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest("", checkoutBody))
		handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest("", checkoutBody))
		require.Equal(t, 2, next.calls)
	})
	t.Run("required", func(t *testing.T) {
		next := &countingHandler{status: http.StatusCreated}
		rr := httptest.NewRecorder()
		Middleware(NewMemoryStore(), WithRequiredKey())(next).ServeHTTP(rr, checkoutRequest("", checkoutBody))
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.Equal(t, "idempotency_key_required", errorCode(t, rr))
		require.Zero(t, next.calls)
	})
	t.Run("too long", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Middleware(NewMemoryStore())(&countingHandler{}).ServeHTTP(rr, checkoutRequest(strings.Repeat("k", maxKeyLength+1), checkoutBody))
		require.Equal(t, "idempotency_key_invalid", errorCode(t, rr))
	})
	t.Run("custom header", func(t *testing.T) {
		next := &countingHandler{status: http.StatusCreated}
		handler := Middleware(NewMemoryStore(), WithHeader("X-Checkout-Key"))(next)
		for i := 0; i < 2; i++ {
			req := checkoutRequest("", checkoutBody)
			req.Header.Set("X-Checkout-Key", "abc")
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}
		require.Equal(t, 1, next.calls)
	})
	t.Run("reads bypass", func(t *testing.T) {
		next := &countingHandler{status: http.StatusOK}
		handler := Middleware(NewMemoryStore())(next)
		for i := 0; i < 2; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/me", nil)
			req.Header.Set(DefaultHeader, "k")
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}
		require.Equal(t, 2, next.calls)
	})
}

type failingStore struct {
	*MemoryStore
	completeErr error
	claimErr    error
	abandoned   int
}

func (s *failingStore) Claim(ctx context.Context, key, fp string, hold time.Duration) (Claim, error) {
	if s.claimErr != nil {
		return Claim{}, s.claimErr
	}
	return s.MemoryStore.Claim(ctx, key, fp, hold)
}

func (s *failingStore) Complete(context.Context, string, string, Snapshot, time.Duration) error {
	return s.completeErr
}

func (s *failingStore) Abandon(ctx context.Context, key, fp string) error {
	s.abandoned++
	return s.MemoryStore.Abandon(ctx, key, fp)
}

func TestMiddlewareStoreFailures(t *testing.T) {
	t.Run("complete fails", func(t *testing.T) {
		store := &failingStore{MemoryStore: NewMemoryStore(), completeErr: errors.New("redis down")}
		rr := httptest.NewRecorder()
		Middleware(store)(&countingHandler{status: http.StatusCreated}).ServeHTTP(rr, checkoutRequest("k", checkoutBody))
		require.Equal(t, http.StatusInternalServerError, rr.Code)
		require.Equal(t, "idempotency_store_error", errorCode(t, rr))
		require.Equal(t, 1, store.abandoned)
	})
	t.Run("claim fails", func(t *testing.T) {
		store := &failingStore{MemoryStore: NewMemoryStore(), claimErr: errors.New("redis down")}
		next := &countingHandler{status: http.StatusCreated}
		rr := httptest.NewRecorder()
		Middleware(store)(next).ServeHTTP(rr, checkoutRequest("k", checkoutBody))
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		require.Zero(t, next.calls)
	})
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	claim, err := store.Claim(ctx, "k", "fp-1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, claim.State)

	claim, err = store.Claim(ctx, "k", "fp-1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, ClaimBusy, claim.State)

	now = now.Add(time.Minute)
	claim, err = store.Claim(ctx, "k", "fp-2", time.Minute)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, claim.State)

	require.NoError(t, store.Complete(ctx, "k", "fp-2", Snapshot{Status: http.StatusCreated}, time.Hour))
	_, err = store.Claim(ctx, "k", "fp-3", time.Minute)
	require.ErrorIs(t, err, ErrKeyReused)

	now = now.Add(time.Hour)
	claim, err = store.Claim(ctx, "k", "fp-3", time.Minute)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, claim.State)
}
