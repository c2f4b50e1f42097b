package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/recall/internal/predict"
)

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	result := &predict.Result{
		AnalystID:         "alice",
		ThreatID:          "T-9921",
		PredictedPriority: 0.94,
		Confidence:        0.86,
		Recommendation:    predict.RecommendImmediateAlert,
		Reasons: []string{
			"CRITICAL severity at 90% classifier confidence",
			"threat matches an active campaign",
		},
	}

	if err := n.Send(context.Background(), result); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, divider, reasons, divider, context = 7 blocks
	if len(blocks) != 7 {
		t.Errorf("blocks count = %d, want 7", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "T-9921") {
		t.Errorf("header text = %q, want to contain T-9921", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Errorf("header should contain red circle for immediate alert")
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("")
	if err := n.Send(context.Background(), &predict.Result{}); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_TruncatesLongReasons(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	err := n.Send(context.Background(), &predict.Result{
		ThreatID: "T1",
		Reasons:  []string{strings.Repeat("x", 2000)},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks := got["blocks"].([]any)
	reasonsSection := blocks[4].(map[string]any)
	text := reasonsSection["text"].(map[string]any)["text"].(string)

	if len(text) > maxReasonsLen+len("*Why*\n\n") {
		t.Errorf("reasons text length = %d, expected <= %d", len(text), maxReasonsLen+len("*Why*\n\n"))
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("expected truncated reasons to end with ...")
	}
}

func TestRecommendationEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		recommendation string
		want           string
	}{
		{"immediate", predict.RecommendImmediateAlert, "\U0001f534"},
		{"review", predict.RecommendPriorityReview, "\U0001f7e1"},
		{"queue", predict.RecommendStandardQueue, "\U0001f7e2"},
		{"empty", "", "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := recommendationEmoji(tt.recommendation)
			if got != tt.want {
				t.Errorf("recommendationEmoji(%q) = %q, want %q", tt.recommendation, got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("T-1", "alice", "immediate_alert", "CPU is very high on node-1.")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "bob", "priority_review", "*bold* _italic_ ~strike~")
	f.Add("threat\x00\x01\x02", "carol\nline", "rec\ttab", "reason\x00")
	f.Add(strings.Repeat("A", 5000), "dave", "standard_queue", strings.Repeat("x", 10000))

	f.Fuzz(func(t *testing.T, threatID, analystID, recommendation, reason string) {
		result := &predict.Result{
			AnalystID:         analystID,
			ThreatID:          threatID,
			PredictedPriority: 0.5,
			Confidence:        0.5,
			Recommendation:    recommendation,
			Reasons:           []string{reason},
		}

		// Must not panic
		msg := buildMessage(result)

		// Must produce valid JSON
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		// Must round-trip
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}

		blocks, ok := decoded["blocks"].([]any)
		if !ok {
			t.Fatal("expected blocks array")
		}
		if len(blocks) != 7 {
			t.Fatalf("blocks count = %d, want 7", len(blocks))
		}
	})
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL)
	err := n.Send(context.Background(), &predict.Result{ThreatID: "T1"})
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}
