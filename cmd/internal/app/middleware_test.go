package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
		wantClass  string
	}{
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "2xx"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect", wantClass: "3xx"},
		{status: 404, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error", wantClass: "5xx"},
		{status: 42, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "unknown"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		if level != tc.wantLevel || result != tc.wantResult {
			t.Fatalf("status=%d level=%v result=%q; want level=%v result=%q", tc.status, level, result, tc.wantLevel, tc.wantResult)
		}
		if got := statusClass(tc.status); got != tc.wantClass {
			t.Fatalf("statusClass(%d)=%q want=%q", tc.status, got, tc.wantClass)
		}
	}
}

func TestWithRequestID(t *testing.T) {
	t.Parallel()

	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{name: "generated", inbound: ""},
		{name: "accepted", inbound: "req-123_abc.1", keep: true},
		{name: "rejected charset", inbound: "bad id\n"},
		{name: "rejected length", inbound: strings.Repeat("a", 129)},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		if tc.inbound != "" {
			req.Header.Set(RequestIDHeader, tc.inbound)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		got := rr.Header().Get(RequestIDHeader)
		if got == "" || got != seen {
			t.Fatalf("%s: header=%q context=%q", tc.name, got, seen)
		}
		if tc.keep && got != tc.inbound {
			t.Fatalf("%s: expected inbound id %q, got %q", tc.name, tc.inbound, got)
		}
		if !tc.keep && got == tc.inbound {
			t.Fatalf("%s: inbound id should have been replaced", tc.name)
		}
	}
}

func TestWithRequestLogging(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	h := WithRequestID(WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}), log))

	req := httptest.NewRequest(http.MethodPost, "/brew", nil)
	req.Header.Set(RequestIDHeader, "rid-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json: %v (%q)", err, buf.String())
	}

	want := map[string]any{
		"msg":        "http.request",
		"level":      "WARN",
		"request_id": "rid-1",
		"method":     "POST",
		"path":       "/brew",
		"status":     float64(http.StatusTeapot),
		"class":      "4xx",
		"result":     "client_error",
		"bytes":      float64(len("short and stout")),
	}
	for k, v := range want {
		if rec[k] != v {
			t.Fatalf("%s=%v want %v (record %v)", k, rec[k], v, rec)
		}
	}
}

func TestLoggingResponseWriter_DefaultStatus(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	lrw := &loggingResponseWriter{ResponseWriter: rr, status: http.StatusOK}
	_, _ = lrw.Write([]byte("ok"))

	if lrw.status != http.StatusOK || lrw.bytes != 2 {
		t.Fatalf("status=%d bytes=%d", lrw.status, lrw.bytes)
	}
	if lrw.Unwrap() != rr {
		t.Fatalf("Unwrap did not return the underlying writer")
	}
}
