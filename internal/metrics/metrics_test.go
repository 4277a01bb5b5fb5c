package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if queueLength == nil || submissionsTotal == nil || workerState == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestQueueAndWorkerGauges(t *testing.T) {
	SetQueueLength(3)
	if val := testutil.ToFloat64(queueLength); val != 3 {
		t.Errorf("expected queue length 3, got %f", val)
	}

	SetWorkerState("submitting")
	SetWorkerState("idle")
	if val := testutil.ToFloat64(workerState.WithLabelValues("idle")); val != 1 {
		t.Errorf("expected idle state gauge 1, got %f", val)
	}
	if n := testutil.CollectAndCount(workerState); n != 1 {
		t.Errorf("expected a single active state series, got %d", n)
	}
}

func TestObserveSubmissionAndValidation(t *testing.T) {
	before := testutil.ToFloat64(submissionsTotal.WithLabelValues("posted"))
	ObserveSubmission("posted", 2*time.Second)
	if val := testutil.ToFloat64(submissionsTotal.WithLabelValues("posted")); val != before+1 {
		t.Errorf("expected posted submissions to increase by 1, got %f", val-before)
	}

	ObserveSessionValidation(false)
	if val := testutil.ToFloat64(sessionValidationsTotal.WithLabelValues("invalid")); val < 1 {
		t.Errorf("expected invalid validations to be counted, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://olx.uz", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
