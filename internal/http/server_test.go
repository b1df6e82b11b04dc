package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"txreport/internal/cache"
	"txreport/internal/core"
	"txreport/internal/services"
	"txreport/internal/store/memory"
)

type fakeReports struct {
	points []core.ReportPoint
	err    error
	got    core.AggregationRequest
	calls  int
}

func (f *fakeReports) Report(_ context.Context, req core.AggregationRequest) ([]core.ReportPoint, error) {
	f.calls++
	f.got = req
	return f.points, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(reports ReportQuerier, store Pinger, c CacheInspector) *Server {
	return NewServer(":0", reports, store, c, Options{RateLimitRPS: 1000, RateLimitBurst: 1000})
}

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(&fakeReports{}, fakePinger{}, cache.NewLRUCache[[]core.ReportPoint](10, time.Minute))
	defer s.Shutdown(context.Background())

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := serve(t, s, http.MethodGet, path)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	rr := serve(t, s, http.MethodGet, "/metrics")
	if !strings.Contains(rr.Body.String(), "reports_served_total 0") {
		t.Errorf("metrics body missing counter:\n%s", rr.Body.String())
	}
}

func TestReadyFailsWhenStoreDown(t *testing.T) {
	s := newTestServer(&fakeReports{}, fakePinger{err: errors.New("dial tcp: refused")}, nil)
	defer s.Shutdown(context.Background())

	rr := serve(t, s, http.MethodGet, "/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "refused") {
		t.Errorf("readiness body leaks error text: %s", rr.Body.String())
	}
}

func TestReportEndpoint(t *testing.T) {
	reports := &fakeReports{points: []core.ReportPoint{{Key: "1403 فروردین", Value: 150}}}
	s := newTestServer(reports, fakePinger{}, nil)
	defer s.Shutdown(context.Background())

	rr := serve(t, s, http.MethodGet, ReportPath+"?type=amount&mode=monthly&merchantId=")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got []core.ReportPoint
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Key != "1403 فروردین" || got[0].Value != 150 {
		t.Errorf("body = %+v", got)
	}
	if reports.got.MerchantID != "" || reports.got.Mode != "monthly" {
		t.Errorf("request = %+v", reports.got)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestReportEndpointErrors(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		target   string
		err      error
		wantCode int
		reaches  bool
	}{
		{"invalid type", http.MethodGet, ReportPath + "?type=sum&mode=daily", nil, http.StatusBadRequest, false},
		{"missing mode", http.MethodGet, ReportPath + "?type=amount", nil, http.StatusBadRequest, false},
		{"wrong method", http.MethodPost, ReportPath + "?type=amount&mode=daily", nil, http.StatusMethodNotAllowed, false},
		{"sub path", http.MethodGet, ReportPath + "extra?type=amount&mode=daily", nil, http.StatusNotFound, false},
		{"store failure", http.MethodGet, ReportPath + "?type=amount&mode=daily", errors.New("connection reset by peer"), http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reports := &fakeReports{err: tt.err}
			s := newTestServer(reports, fakePinger{}, nil)
			defer s.Shutdown(context.Background())

			rr := serve(t, s, tt.method, tt.target)
			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d, want %d body=%s", rr.Code, tt.wantCode, rr.Body.String())
			}
			if (reports.calls > 0) != tt.reaches {
				t.Errorf("service called %d times, reaches=%v", reports.calls, tt.reaches)
			}
			if strings.Contains(rr.Body.String(), "connection reset") {
				t.Errorf("error text leaked: %s", rr.Body.String())
			}
		})
	}
}

func TestReportEndpointValidationBody(t *testing.T) {
	s := newTestServer(&fakeReports{}, fakePinger{}, nil)
	defer s.Shutdown(context.Background())

	rr := serve(t, s, http.MethodGet, ReportPath+"?type=sum")
	var body ErrorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Errors["type"] == "" || body.Errors["mode"] == "" {
		t.Errorf("field errors = %v", body.Errors)
	}
}

func TestReportEndpointEmptySeries(t *testing.T) {
	s := newTestServer(&fakeReports{points: nil}, fakePinger{}, nil)
	defer s.Shutdown(context.Background())

	rr := serve(t, s, http.MethodGet, ReportPath+"?type=count&mode=daily&merchantId=bad")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestReportRateLimited(t *testing.T) {
	s := NewServer(":0", &fakeReports{}, fakePinger{}, nil, Options{RateLimitRPS: 0.01, RateLimitBurst: 1})
	defer s.Shutdown(context.Background())

	if rr := serve(t, s, http.MethodGet, ReportPath+"?type=count&mode=daily"); rr.Code != http.StatusOK {
		t.Fatalf("first request status=%d", rr.Code)
	}
	rr := serve(t, s, http.MethodGet, ReportPath+"?type=count&mode=daily")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status=%d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	// Probes are not rate limited.
	if rr := serve(t, s, http.MethodGet, "/healthz"); rr.Code != http.StatusOK {
		t.Errorf("healthz status=%d", rr.Code)
	}
}

func TestReportEndToEnd(t *testing.T) {
	at := func(s string) time.Time {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			t.Fatal(err)
		}
		return ts
	}
	st := memory.New(
		core.Transaction{Amount: 100, CreatedAt: at("2024-03-20T10:00:00Z"), Status: "ok"},
		core.Transaction{Amount: 50, CreatedAt: at("2024-03-21T09:00:00Z"), Status: "ok"},
		core.Transaction{Amount: 999, CreatedAt: at("2024-03-21T11:00:00Z"), Status: "failed"},
	)
	c := cache.NewLRUCache[[]core.ReportPoint](10, time.Minute)
	reports := services.NewReportService(st, services.NewFallbackAggregator(st), c)
	s := newTestServer(reports, st, c)
	defer s.Shutdown(context.Background())

	rr := serve(t, s, http.MethodGet, ReportPath+"?type=amount&mode=monthly")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got []core.ReportPoint
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []core.ReportPoint{{Key: "1403 فروردین", Value: 150}}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if c.Size() != 1 {
		t.Errorf("report not cached, size=%d", c.Size())
	}
}
