package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/nanophoto/nanophoto-backend/api/validators"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func requestWithPattern(method, url, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   time.Duration
		ok     bool
	}{
		{"generation", http.MethodPost, "/api/v1/generations", defaultIdempotencyTTL, true},
		{"admin credits pattern", http.MethodPost, "/api/admin/v1/accounts/{accountID}/credits", criticalIdempotencyTTL, true},
		{"admin credits concrete path", http.MethodPost, "/api/admin/v1/accounts/6f1c/credits", criticalIdempotencyTTL, true},
		{"trailing slash", http.MethodPost, "/api/v1/generations/", defaultIdempotencyTTL, true},
		{"missing account segment", http.MethodPost, "/api/admin/v1/accounts//credits", 0, false},
		{"ban is not keyed", http.MethodPost, "/api/admin/v1/accounts/{accountID}/ban", 0, false},
		{"reads are not keyed", http.MethodGet, "/api/v1/generations", 0, false},
		{"bootstrap", http.MethodPost, "/api/v1/accounts/me", 0, false},
	}

	for _, tt := range tests {
		ttl, ok := routeTTL(tt.method, tt.path)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, ttl)
		}
	}
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/generations", "/api/v1/generations", strings.NewReader(`{"operation":"generate"}`))
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	newReq := func() *http.Request {
		req := requestWithPattern(http.MethodPost, "/api/v1/generations", "/api/v1/generations", strings.NewReader(`{"operation":"generate"}`))
		req.Header.Set("Idempotency-Key", "abc")
		return req.WithContext(WithIdentity(req.Context(), "acc-1", "a@example.com", false))
	}

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, newReq())
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected first response 202 got %d", resp.Code)
	}

	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, newReq())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected replay status 202 got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type header preserved")
	}
	if rec.Header().Get(ReplayedHeader) != "true" {
		t.Fatalf("expected replay marker header")
	}
	if resp.Header().Get(ReplayedHeader) != "" {
		t.Fatalf("first response must not be marked as replayed")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
}

func TestIdempotencyMiddlewareScopesKeysPerAccount(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	for _, account := range []string{"acc-1", "acc-2"} {
		req := requestWithPattern(http.MethodPost, "/api/v1/generations", "/api/v1/generations", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "shared")
		req = req.WithContext(WithIdentity(req.Context(), account, "", false))
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected both accounts to execute, got %d calls", calls)
	}
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	pattern := "/api/admin/v1/accounts/{accountID}/credits"
	req := requestWithPattern(http.MethodPost, "/api/admin/v1/accounts/1/credits", pattern, strings.NewReader(`{"amount":5,"reason":"a"}`))
	req.Header.Set("Idempotency-Key", "xyz")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	replay := requestWithPattern(http.MethodPost, "/api/admin/v1/accounts/1/credits", pattern, strings.NewReader(`{"amount":50,"reason":"a"}`))
	replay.Header.Set("Idempotency-Key", "xyz")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, replay)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, payload.Error.Code)
	}
}

func TestIdempotencyMiddlewareMatchesConcretePathUnderGroupPattern(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/generations", "/api/v1/*", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected missing key rejection, got %d", resp.Code)
	}
}

func TestIdempotencyMiddlewareRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)

	var second *httptest.ResponseRecorder
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a duplicate arrives while the first request still holds the claim
		dup := requestWithPattern(http.MethodPost, "/api/v1/generations", "/api/v1/generations", strings.NewReader(`{}`))
		dup.Header.Set(IdempotencyKeyHeader, "k1")
		second = httptest.NewRecorder()
		Idempotency(store, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("duplicate must not execute")
		})).ServeHTTP(second, dup)
		w.WriteHeader(http.StatusAccepted)
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/generations", "/api/v1/generations", strings.NewReader(`{}`))
	req.Header.Set(IdempotencyKeyHeader, "k1")
	first := httptest.NewRecorder()
	mw(handler).ServeHTTP(first, req)

	if first.Code != http.StatusAccepted {
		t.Fatalf("expected first request to complete, got %d", first.Code)
	}
	if second == nil || second.Code != http.StatusConflict {
		t.Fatalf("expected in-flight duplicate to get 409, got %v", second)
	}
}

func TestIdempotencyMiddlewareReleasesKeyOnPanic(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })

	req := requestWithPattern(http.MethodPost, "/api/v1/generations", "/api/v1/generations", strings.NewReader(`{}`))
	req.Header.Set(IdempotencyKeyHeader, "k2")
	func() {
		defer func() { _ = recover() }()
		mw(panicking).ServeHTTP(httptest.NewRecorder(), req)
	}()
	if len(store.data) != 0 {
		t.Fatalf("expected claim released after panic, have %v", store.data)
	}
}

func TestIdempotencyMiddlewareRejectsLongKey(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	req := requestWithPattern(http.MethodPost, "/api/v1/generations", "/api/v1/generations", strings.NewReader(`{}`))
	req.Header.Set(IdempotencyKeyHeader, strings.Repeat("k", 256))
	resp := httptest.NewRecorder()
	mw(http.NotFoundHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestIdempotencyMiddlewareCapsBodyBeforeClaim(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handlerCalled := false
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { handlerCalled = true })

	body := strings.NewReader(`{"prompt":"` + strings.Repeat("x", int(validators.MaxBodyBytes)) + `"}`)
	req := requestWithPattern(http.MethodPost, "/api/v1/generations", "/api/v1/generations", body)
	req.Header.Set(IdempotencyKeyHeader, "big-1")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "request body too large") {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
	if handlerCalled || len(store.data) != 0 {
		t.Fatalf("oversized body must not claim a key or reach the handler")
	}
}
