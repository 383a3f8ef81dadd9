// Package apiclient issues session queries and lifecycle commands against the
// scheduling API on behalf of a dashboard.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/services"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
	"github.com/saeid-a/StudioScheduleBack/pkg/utils"
)

// ErrLikelyApplied is returned when a command is retried after an uncertain
// outcome and the server rejects it in a way the earlier attempt explains: an
// invalid transition, or a booking conflict on a slot now held by the caller.
var ErrLikelyApplied = errors.New("command likely applied by an earlier attempt")

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 200 * time.Millisecond
)

// APIError is a non-2xx response decoded from the {"error","code"} body.
type APIError struct {
	Status  int
	Code    string
	Message string
	Index   *int
}

func (e *APIError) Error() string {
	if e.Index != nil {
		return fmt.Sprintf("%s (%d): session %d: %s", e.Code, e.Status, *e.Index, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Unwrap maps the wire code back to the shared sentinel so callers can use
// errors.Is(err, apperrors.ErrConflict) and friends.
func (e *APIError) Unwrap() error {
	if sentinel := apperrors.FromCode(e.Code); sentinel != nil {
		return sentinel
	}
	switch e.Status {
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return apperrors.ErrUnavailable
	case http.StatusGatewayTimeout:
		return apperrors.ErrTimeout
	}
	return nil
}

// UncertainError carries the session state observed after a command whose
// outcome is unknown. Session is nil when the follow-up read failed too.
type UncertainError struct {
	Session *models.Session
	Err     error
}

func (e *UncertainError) Error() string {
	if e.Session != nil {
		return fmt.Sprintf("%v (session %d observed as %s)", e.Err, e.Session.ID, e.Session.Status)
	}
	return e.Err.Error()
}

func (e *UncertainError) Unwrap() error {
	return e.Err
}

type Config struct {
	BaseURL string
	Token   string
	// UserID is the caller's id. Zero reads it from the token's claims.
	UserID       int64
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	HTTPClient   *http.Client
	Log          *logger.Logger
}

type Client struct {
	baseURL      *url.URL
	token        string
	userID       int64
	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration
	http         *http.Client
	log          *logger.Logger

	mu        sync.Mutex
	uncertain map[string]struct{}
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	if cfg.UserID == 0 && cfg.Token != "" {
		if claims, err := utils.TokenClaims(cfg.Token); err == nil {
			cfg.UserID, _ = strconv.ParseInt(claims.UserID, 10, 64)
		}
	}

	return &Client{
		baseURL:      base,
		token:        cfg.Token,
		userID:       cfg.UserID,
		timeout:      cfg.Timeout,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		http:         cfg.HTTPClient,
		log:          cfg.Log,
		uncertain:    make(map[string]struct{}),
	}, nil
}

type ListOptions struct {
	StartDate *time.Time
	EndDate   *time.Time
	Status    models.SessionStatus
	TrainerID *int64
	ClientID  *int64
	Location  string
	Confirmed *bool
	// Scope is "my" or "global"; only admins are affected.
	Scope string
}

func (o ListOptions) values() url.Values {
	values := url.Values{}
	if o.StartDate != nil {
		values.Set("start_date", o.StartDate.Format(time.RFC3339))
	}
	if o.EndDate != nil {
		values.Set("end_date", o.EndDate.Format(time.RFC3339))
	}
	if o.Status != "" {
		values.Set("status", string(o.Status))
	}
	if o.TrainerID != nil {
		values.Set("trainer_id", strconv.FormatInt(*o.TrainerID, 10))
	}
	if o.ClientID != nil {
		values.Set("user_id", strconv.FormatInt(*o.ClientID, 10))
	}
	if o.Location != "" {
		values.Set("location", o.Location)
	}
	if o.Confirmed != nil {
		values.Set("confirmed", strconv.FormatBool(*o.Confirmed))
	}
	if o.Scope != "" {
		values.Set("admin_scope", o.Scope)
	}
	return values
}

func (c *Client) ListSessions(ctx context.Context, opts ListOptions) ([]models.Session, error) {
	var out struct {
		Sessions []models.Session `json:"sessions"`
	}
	if err := c.get(ctx, "/api/v1/sessions", opts.values(), &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// ListPublicSessions reads open slots without credentials.
func (c *Client) ListPublicSessions(ctx context.Context, opts ListOptions) ([]models.Session, error) {
	var out struct {
		Sessions []models.Session `json:"sessions"`
	}
	if err := c.get(ctx, "/api/public/sessions", opts.values(), &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	var out struct {
		Session models.Session `json:"session"`
	}
	if err := c.get(ctx, sessionPath(id, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out.Session, nil
}

func (c *Client) Stats(ctx context.Context, scope string) (*models.SessionStats, error) {
	values := url.Values{}
	if scope != "" {
		values.Set("admin_scope", scope)
	}
	var out struct {
		Stats models.SessionStats `json:"stats"`
	}
	if err := c.get(ctx, "/api/v1/sessions/stats", values, &out); err != nil {
		return nil, err
	}
	return &out.Stats, nil
}

func (c *Client) ListTrainers(ctx context.Context) ([]models.User, error) {
	var out struct {
		Trainers []models.User `json:"trainers"`
	}
	if err := c.get(ctx, "/api/v1/trainers", nil, &out); err != nil {
		return nil, err
	}
	return out.Trainers, nil
}

func (c *Client) ListClients(ctx context.Context) ([]models.User, error) {
	var out struct {
		Clients []models.User `json:"clients"`
	}
	if err := c.get(ctx, "/api/v1/clients", nil, &out); err != nil {
		return nil, err
	}
	return out.Clients, nil
}

// CreateSessions is all-or-nothing; a rejected batch reports the failing
// element through APIError.Index.
func (c *Client) CreateSessions(ctx context.Context, slots []services.SlotInput) ([]models.Session, error) {
	var out struct {
		Sessions []models.Session `json:"sessions"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/v1/sessions", map[string]any{"sessions": slots}, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) CreateRecurring(ctx context.Context, pattern services.RecurringPattern) ([]models.Session, error) {
	var out struct {
		Sessions []models.Session `json:"sessions"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/v1/sessions/recurring", pattern, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// BookSession books for clientID; zero books for the caller.
func (c *Client) BookSession(ctx context.Context, id, clientID int64) (*models.Session, error) {
	return c.command(ctx, http.MethodPost, id, "book", clientBody(clientID), c.claimant(clientID))
}

func (c *Client) RequestSession(ctx context.Context, id, clientID int64) (*models.Session, error) {
	return c.command(ctx, http.MethodPost, id, "request", clientBody(clientID), c.claimant(clientID))
}

func (c *Client) AssignTrainer(ctx context.Context, id, trainerID int64) (*models.Session, error) {
	return c.command(ctx, http.MethodPatch, id, "assign", map[string]int64{"trainer_id": trainerID}, 0)
}

func (c *Client) ConfirmSession(ctx context.Context, id int64) (*models.Session, error) {
	return c.command(ctx, http.MethodPatch, id, "confirm", nil, 0)
}

func (c *Client) CompleteSession(ctx context.Context, id int64, notes string) (*models.Session, error) {
	return c.command(ctx, http.MethodPatch, id, "complete", map[string]string{"notes": notes}, 0)
}

func (c *Client) CancelSession(ctx context.Context, id int64, reason string) (*models.Session, error) {
	return c.command(ctx, http.MethodPatch, id, "cancel", map[string]string{"reason": reason}, 0)
}

func (c *Client) UpdateNotes(ctx context.Context, id int64, notes string) (*models.Session, error) {
	return c.command(ctx, http.MethodPut, id, "notes", map[string]string{"notes": notes}, 0)
}

func (c *Client) RecordAttendance(ctx context.Context, id int64, input services.AttendanceInput) (*models.Session, error) {
	return c.command(ctx, http.MethodPatch, id, "attendance", input, 0)
}

func (c *Client) CancelWarning(ctx context.Context, id int64) (*services.CancellationNotice, error) {
	var out struct {
		Warning services.CancellationNotice `json:"warning"`
	}
	if err := c.get(ctx, sessionPath(id, "cancel-warning"), nil, &out); err != nil {
		return nil, err
	}
	return &out.Warning, nil
}

func (c *Client) UnassignTrainer(ctx context.Context, ids []int64) ([]models.Session, error) {
	return c.batch(ctx, http.MethodPost, "/api/v1/sessions/unassign-trainer", map[string]any{"session_ids": ids})
}

func (c *Client) BulkAssignTrainer(ctx context.Context, ids []int64, trainerID int64) ([]models.Session, error) {
	return c.batch(ctx, http.MethodPost, "/api/v1/sessions/bulk-assign-trainer", map[string]any{"session_ids": ids, "trainer_id": trainerID})
}

func (c *Client) BulkCancel(ctx context.Context, ids []int64, reason string) ([]models.Session, error) {
	return c.batch(ctx, http.MethodPost, "/api/v1/sessions/bulk-cancel", map[string]any{"session_ids": ids, "reason": reason})
}

func (c *Client) ListRecurring(ctx context.Context) ([]services.RecurringGroup, error) {
	var out struct {
		Series []services.RecurringGroup `json:"series"`
	}
	if err := c.get(ctx, "/api/v1/sessions/recurring/mine", nil, &out); err != nil {
		return nil, err
	}
	return out.Series, nil
}

func (c *Client) UpdateSeries(ctx context.Context, groupID string, update services.SeriesUpdate) ([]models.Session, error) {
	return c.batch(ctx, http.MethodPut, seriesPath(groupID), update)
}

func (c *Client) CancelSeries(ctx context.Context, groupID, reason string) ([]models.Session, error) {
	return c.batch(ctx, http.MethodDelete, seriesPath(groupID), map[string]string{"reason": reason})
}

func seriesPath(groupID string) string {
	return "/api/v1/sessions/recurring/" + groupID
}

// batch sends a multi-session command once; a rejected batch reports the
// failing position through APIError.Index.
func (c *Client) batch(ctx context.Context, method, path string, body any) ([]models.Session, error) {
	var out struct {
		Sessions []models.Session `json:"sessions"`
	}
	if err := c.send(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// claimant is the client a book or request is made for.
func (c *Client) claimant(clientID int64) int64 {
	if clientID != 0 {
		return clientID
	}
	return c.userID
}

func clientBody(clientID int64) any {
	if clientID == 0 {
		return map[string]any{}
	}
	return map[string]int64{"user_id": clientID}
}

func sessionPath(id int64, action string) string {
	path := "/api/v1/sessions/" + strconv.FormatInt(id, 10)
	if action != "" {
		path += "/" + action
	}
	return path
}

// command runs one lifecycle transition. When the outcome is unknown
// (timeout, gateway failure) it re-reads the session and returns the observed
// snapshot inside an UncertainError. On the next attempt of the same command
// an InvalidTransition is reported as ErrLikelyApplied, and so is a Conflict
// when the re-read shows claimant already holds the slot.
func (c *Client) command(ctx context.Context, method string, id int64, action string, body any, claimant int64) (*models.Session, error) {
	key := method + " " + sessionPath(id, action)

	var out struct {
		Session models.Session `json:"session"`
	}
	err := c.send(ctx, method, sessionPath(id, action), body, &out)
	if err == nil {
		c.settle(key)
		return &out.Session, nil
	}

	if apperrors.Retryable(err) {
		c.markUncertain(key)
		c.log.Warn("session command outcome unknown", "command", key, "error", err)

		observed, readErr := c.GetSession(context.WithoutCancel(ctx), id)
		if readErr != nil {
			return nil, &UncertainError{Err: err}
		}
		return observed, &UncertainError{Session: observed, Err: err}
	}

	if !c.settle(key) {
		return nil, err
	}
	switch {
	case errors.Is(err, apperrors.ErrInvalidTransition):
		return nil, fmt.Errorf("%w: %v", ErrLikelyApplied, err)
	case errors.Is(err, apperrors.ErrConflict) && claimant > 0:
		observed, readErr := c.GetSession(context.WithoutCancel(ctx), id)
		if readErr == nil && observed.HasClient(claimant) {
			return observed, fmt.Errorf("%w: %v", ErrLikelyApplied, err)
		}
	}
	return nil, err
}

func (c *Client) markUncertain(key string) {
	c.mu.Lock()
	c.uncertain[key] = struct{}{}
	c.mu.Unlock()
}

// settle forgets key and reports whether it had an uncertain outcome.
func (c *Client) settle(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.uncertain[key]
	delete(c.uncertain, key)
	return ok
}

// get is idempotent and retried with exponential backoff on transport
// failures and 5xx responses.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	backoff := c.retryBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = c.do(ctx, http.MethodGet, path, query, nil, out)
		if err == nil || attempt >= c.maxRetries || !retryableRead(err) {
			return err
		}

		c.log.Debug("retrying session query", "path", path, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", apperrors.ErrTimeout, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func retryableRead(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}
	return apperrors.Retryable(err)
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	return c.do(ctx, method, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := *c.baseURL
	target.Path = c.baseURL.Path + path
	target.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
		Index *int   `json:"index"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
	}
	return &APIError{Status: resp.StatusCode, Code: body.Code, Message: body.Error, Index: body.Index}
}
