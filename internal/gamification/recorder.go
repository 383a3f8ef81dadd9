// Package gamification reports session milestones to the external points service.
package gamification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	ActivitySessionBooked    = "session_booked"
	ActivitySessionConfirmed = "session_confirmed"
	ActivitySessionCompleted = "session_completed"
)

type Accrual struct {
	UserID       int64  `json:"user_id"`
	ActivityType string `json:"activity_type"`
	SessionID    int64  `json:"session_id"`
}

type Recorder interface {
	Record(ctx context.Context, accrual Accrual) error
}

type HTTPRecorder struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPRecorder(baseURL, apiKey string) *HTTPRecorder {
	return &HTTPRecorder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *HTTPRecorder) Record(ctx context.Context, accrual Accrual) error {
	payload := map[string]any{
		"user_id":       accrual.UserID,
		"activity_type": accrual.ActivityType,
		"metadata": map[string]any{
			"session_id": accrual.SessionID,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal accrual: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/gamification/activities", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build accrual request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("record accrual: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("record accrual: status %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}
	return nil
}

type NoopRecorder struct{}

func (NoopRecorder) Record(context.Context, Accrual) error { return nil }
