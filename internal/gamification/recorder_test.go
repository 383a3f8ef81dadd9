package gamification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPRecorderPostsActivity(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	recorder := NewHTTPRecorder(server.URL+"/", "key-1")
	err := recorder.Record(context.Background(), Accrual{
		UserID:       42,
		ActivityType: ActivitySessionCompleted,
		SessionID:    9,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if gotPath != "/gamification/activities" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer key-1" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody["activity_type"] != ActivitySessionCompleted {
		t.Fatalf("unexpected activity type %v", gotBody["activity_type"])
	}
	metadata, ok := gotBody["metadata"].(map[string]any)
	if !ok || metadata["session_id"] != float64(9) {
		t.Fatalf("unexpected metadata %v", gotBody["metadata"])
	}
}

func TestHTTPRecorderReportsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "points ledger offline", http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewHTTPRecorder(server.URL, "").Record(context.Background(), Accrual{UserID: 1})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
}
