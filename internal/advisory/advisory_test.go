package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"benchguard.io/internal/anomaly"
)

func completionServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(body.Messages) != 2 || !strings.Contains(body.Messages[1].Content, "critical_24h") {
			t.Errorf("digest not submitted: %+v", body.Messages)
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
	}))
}

func sampleSnapshot() Snapshot {
	now := time.Now()
	flags := []anomaly.Flag{
		{Detector: anomaly.DetectorPayment, Risk: anomaly.RiskCritical, Reason: "High-value transfer", Timestamp: now},
		{Detector: anomaly.DetectorOverride, Risk: anomaly.RiskInfo, Reason: "Manual override", Timestamp: now},
	}
	return NewSnapshot(anomaly.Result{
		Report:  anomaly.Report{Flags: flags, Skipped: []anomaly.Skipped{{Detector: anomaly.DetectorMargin}}},
		Summary: anomaly.Summarize(flags, now),
	})
}

func TestNewSnapshotDigests(t *testing.T) {
	snap := sampleSnapshot()
	if snap.ByDetector["PAYMENT"] != 1 || snap.ByRisk["Info"] != 1 {
		t.Fatalf("unexpected counts %+v", snap)
	}
	if len(snap.Highlights) != 1 || len(snap.Skipped) != 1 {
		t.Fatalf("unexpected highlights %+v", snap)
	}
}

func TestReportParsesFencedJSON(t *testing.T) {
	reply := "```json\n{\"headline\": \"One large transfer needs review\", \"risks\": [\"payment fraud\", \" \"], \"recommendations\": [\"confirm with owner\"]}\n```"
	srv := completionServer(t, http.StatusOK, reply)
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, APIKey: "test-key"})
	adv, err := c.Report(context.Background(), sampleSnapshot())
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !adv.Structured || adv.Headline != "One large transfer needs review" {
		t.Fatalf("unexpected advice %+v", adv)
	}
	if len(adv.Risks) != 1 || len(adv.Recommendations) != 1 {
		t.Fatalf("unexpected lists %+v", adv)
	}
}

func TestReportFallsBackToText(t *testing.T) {
	srv := completionServer(t, http.StatusOK, "Everything looks calm today.")
	defer srv.Close()

	adv, err := NewClient(Config{Endpoint: srv.URL, APIKey: "test-key"}).Report(context.Background(), sampleSnapshot())
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if adv.Structured || adv.Headline != "Everything looks calm today." {
		t.Fatalf("unexpected advice %+v", adv)
	}
}

func TestReportFailuresAreUnavailable(t *testing.T) {
	srv := completionServer(t, http.StatusBadGateway, "")
	defer srv.Close()

	if _, err := NewClient(Config{Endpoint: srv.URL, APIKey: "test-key"}).Report(context.Background(), sampleSnapshot()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for upstream error, got %v", err)
	}
	if _, err := NewClient(Config{Endpoint: srv.URL}).Report(context.Background(), sampleSnapshot()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable without key, got %v", err)
	}
}

func TestParseAdviceRejectsHeadlessJSON(t *testing.T) {
	adv := parseAdvice(`{"risks": ["x"]}`)
	if adv.Structured {
		t.Fatalf("JSON without headline must not be treated as structured: %+v", adv)
	}
}
