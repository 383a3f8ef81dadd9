package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/StudioScheduleBack/internal/config"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/repository"
	"github.com/saeid-a/StudioScheduleBack/internal/services"
	syncws "github.com/saeid-a/StudioScheduleBack/internal/websocket"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
	"github.com/saeid-a/StudioScheduleBack/pkg/utils"
)

const testSecret = "routes-test-secret"

func newTestApp(t *testing.T, publicBrowsing bool) *fiber.App {
	t.Helper()

	cfg := &config.Config{
		JWTSecret:      testSecret,
		StudioTimezone: "UTC",
		RequestTimeout: time.Second,
		PublicBrowsing: publicBrowsing,
	}
	service := services.NewSessionService(repository.NewMemorySessionStore(), nil, nil, nil, logger.Discard())
	hub := syncws.NewHub(logger.Discard())

	app := fiber.New()
	if err := RegisterRoutes(app, cfg, service, hub, logger.Discard()); err != nil {
		t.Fatalf("RegisterRoutes: %v", err)
	}
	return app
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := utils.GenerateToken(userID, role, testSecret)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return "Bearer " + token
}

func TestSessionRoutesRequireToken(t *testing.T) {
	app := newTestApp(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestTrainerCreatesAndClientBooksOverHTTP(t *testing.T) {
	app := newTestApp(t, true)
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour).Format(time.RFC3339)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(`{"sessions":[{"start":"`+start+`"}]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, "10", "trainer"))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created struct {
		Sessions []models.Session `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(created.Sessions) != 1 || created.Sessions[0].Status != models.StatusAvailable {
		t.Fatalf("unexpected created sessions %+v", created.Sessions)
	}
	id := created.Sessions[0].ID

	// Anonymous browsing sees the open slot.
	publicReq := httptest.NewRequest(http.MethodGet, "/api/public/sessions", nil)
	publicResp, err := app.Test(publicReq)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer publicResp.Body.Close()
	if publicResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", publicResp.StatusCode)
	}

	bookReq := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+jsonID(id)+"/book", nil)
	bookReq.Header.Set("Authorization", bearer(t, "20", "client"))
	bookResp, err := app.Test(bookReq)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer bookResp.Body.Close()
	if bookResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", bookResp.StatusCode)
	}

	againReq := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+jsonID(id)+"/book", nil)
	againReq.Header.Set("Authorization", bearer(t, "21", "client"))
	againResp, err := app.Test(againReq)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer againResp.Body.Close()
	if againResp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for the second booking, got %d", againResp.StatusCode)
	}
}

func TestPublicBrowsingCanBeDisabled(t *testing.T) {
	app := newTestApp(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/public/sessions", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	app := newTestApp(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426, got %d", resp.StatusCode)
	}
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
