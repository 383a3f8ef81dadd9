package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/services"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
)

const maxBatchSize = 200

type SessionHandler struct {
	service  sessionApplicationService
	timeout  time.Duration
	location *time.Location
	log      *logger.Logger
}

type sessionApplicationService interface {
	ListSessions(ctx context.Context, actor models.Actor, query services.SessionQuery) ([]models.Session, error)
	GetSession(ctx context.Context, actor models.Actor, sessionID int64) (*models.Session, error)
	Stats(ctx context.Context, actor models.Actor, scope services.AdminScope) (*models.SessionStats, error)
	ListTrainers(ctx context.Context, actor models.Actor) ([]models.User, error)
	ListClients(ctx context.Context, actor models.Actor) ([]models.User, error)

	CreateSessions(ctx context.Context, actor models.Actor, slots []services.SlotInput) ([]models.Session, error)
	CreateRecurring(ctx context.Context, actor models.Actor, pattern services.RecurringPattern) ([]models.Session, error)
	RequestSession(ctx context.Context, actor models.Actor, sessionID, clientID int64) (*models.Session, error)
	BookSession(ctx context.Context, actor models.Actor, sessionID, clientID int64) (*models.Session, error)
	AssignTrainer(ctx context.Context, actor models.Actor, sessionID, trainerID int64) (*models.Session, error)
	ConfirmSession(ctx context.Context, actor models.Actor, sessionID int64) (*models.Session, error)
	CompleteSession(ctx context.Context, actor models.Actor, sessionID int64, notes string) (*models.Session, error)
	CancelSession(ctx context.Context, actor models.Actor, sessionID int64, reason string) (*models.Session, error)

	UnassignTrainer(ctx context.Context, actor models.Actor, sessionIDs []int64) ([]models.Session, error)
	BulkAssignTrainer(ctx context.Context, actor models.Actor, sessionIDs []int64, trainerID int64) ([]models.Session, error)
	BulkCancel(ctx context.Context, actor models.Actor, sessionIDs []int64, reason string) ([]models.Session, error)
	ListRecurring(ctx context.Context, actor models.Actor) ([]services.RecurringGroup, error)
	UpdateSeries(ctx context.Context, actor models.Actor, groupID string, update services.SeriesUpdate) ([]models.Session, error)
	CancelSeries(ctx context.Context, actor models.Actor, groupID, reason string) ([]models.Session, error)
	UpdateNotes(ctx context.Context, actor models.Actor, sessionID int64, notes string) (*models.Session, error)
	CancelWarning(ctx context.Context, actor models.Actor, sessionID int64) (*services.CancellationNotice, error)
	RecordAttendance(ctx context.Context, actor models.Actor, sessionID int64, input services.AttendanceInput) (*models.Session, error)
}

func NewSessionHandler(service *services.SessionService, timeout time.Duration, location *time.Location, log *logger.Logger) *SessionHandler {
	if location == nil {
		location = time.UTC
	}
	if log == nil {
		log = logger.Discard()
	}
	return &SessionHandler{service: service, timeout: timeout, location: location, log: log}
}

type createSessionsRequest struct {
	Sessions []services.SlotInput `json:"sessions"`
}

type clientRequest struct {
	ClientID int64 `json:"user_id"`
}

type assignTrainerRequest struct {
	TrainerID int64 `json:"trainer_id"`
}

type completeSessionRequest struct {
	Notes string `json:"notes"`
}

type cancelSessionRequest struct {
	Reason string `json:"reason"`
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	query, err := h.parseSessionQuery(c)
	if err != nil {
		return mapSessionError(c, err)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	sessions, err := h.service.ListSessions(ctx, actor, query)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"sessions": sessions, "count": len(sessions)})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	sessionID, err := parseSessionID(c)
	if err != nil {
		return invalidSessionID(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	session, err := h.service.GetSession(ctx, actor, sessionID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) Stats(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	stats, err := h.service.Stats(ctx, actor, services.ParseAdminScope(queryValue(c, "adminScope", "admin_scope")))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"stats": stats})
}

func (h *SessionHandler) CreateSessions(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	var req createSessionsRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	if len(req.Sessions) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "sessions must contain at least one session",
			"code":  apperrors.CodeValidation,
		})
	}
	if len(req.Sessions) > maxBatchSize {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "sessions must contain at most " + strconv.Itoa(maxBatchSize) + " sessions",
			"code":  apperrors.CodeValidation,
		})
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	sessions, err := h.service.CreateSessions(ctx, actor, req.Sessions)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"sessions": sessions, "count": len(sessions)})
}

func (h *SessionHandler) CreateRecurring(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	var pattern services.RecurringPattern
	if err := c.BodyParser(&pattern); err != nil {
		return invalidBody(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	sessions, err := h.service.CreateRecurring(ctx, actor, pattern)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"sessions": sessions, "count": len(sessions)})
}

func (h *SessionHandler) BookSession(c *fiber.Ctx) error {
	return h.claim(c, h.service.BookSession)
}

func (h *SessionHandler) RequestSession(c *fiber.Ctx) error {
	return h.claim(c, h.service.RequestSession)
}

func (h *SessionHandler) claim(c *fiber.Ctx, command func(context.Context, models.Actor, int64, int64) (*models.Session, error)) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	sessionID, err := parseSessionID(c)
	if err != nil {
		return invalidSessionID(c)
	}

	var req clientRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return invalidBody(c)
		}
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	session, err := command(ctx, actor, sessionID, req.ClientID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) AssignTrainer(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	sessionID, err := parseSessionID(c)
	if err != nil {
		return invalidSessionID(c)
	}

	var req assignTrainerRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	if req.TrainerID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "trainer_id is required",
			"code":  apperrors.CodeValidation,
		})
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	session, err := h.service.AssignTrainer(ctx, actor, sessionID, req.TrainerID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) ConfirmSession(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	sessionID, err := parseSessionID(c)
	if err != nil {
		return invalidSessionID(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	session, err := h.service.ConfirmSession(ctx, actor, sessionID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) CompleteSession(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	sessionID, err := parseSessionID(c)
	if err != nil {
		return invalidSessionID(c)
	}

	var req completeSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return invalidBody(c)
		}
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	session, err := h.service.CompleteSession(ctx, actor, sessionID, strings.TrimSpace(req.Notes))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

// CancelSession also serves DELETE /sessions/:id; sessions are never removed.
func (h *SessionHandler) CancelSession(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	sessionID, err := parseSessionID(c)
	if err != nil {
		return invalidSessionID(c)
	}

	var req cancelSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return invalidBody(c)
		}
	}
	if req.Reason == "" {
		req.Reason = c.Query("reason")
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	session, err := h.service.CancelSession(ctx, actor, sessionID, strings.TrimSpace(req.Reason))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) ListTrainers(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	trainers, err := h.service.ListTrainers(ctx, actor)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"trainers": trainers})
}

func (h *SessionHandler) ListClients(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	clients, err := h.service.ListClients(ctx, actor)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"clients": clients})
}

func (h *SessionHandler) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.UserContext())
	}
	return context.WithTimeout(c.UserContext(), h.timeout)
}

func (h *SessionHandler) fail(c *fiber.Ctx, err error) error {
	if apperrors.HTTPStatus(err) >= fiber.StatusInternalServerError && !errors.Is(err, context.DeadlineExceeded) {
		h.log.Error("session request failed",
			"method", c.Method(),
			"path", c.Path(),
			"error", err,
		)
	}
	return mapSessionError(c, err)
}

func (h *SessionHandler) parseSessionQuery(c *fiber.Ctx) (services.SessionQuery, error) {
	var (
		query services.SessionQuery
		errs  services.ValidationErrors
	)

	if raw := queryValue(c, "startDate", "start_date"); raw != "" {
		start, err := parseQueryTime(raw, h.location, false)
		if err != nil {
			errs = append(errs, services.ValidationError{Field: "start_date", Message: "must be RFC3339 or YYYY-MM-DD"})
		} else {
			query.StartDate = &start
		}
	}
	if raw := queryValue(c, "endDate", "end_date"); raw != "" {
		end, err := parseQueryTime(raw, h.location, true)
		if err != nil {
			errs = append(errs, services.ValidationError{Field: "end_date", Message: "must be RFC3339 or YYYY-MM-DD"})
		} else {
			query.EndDate = &end
		}
	}
	if raw := queryValue(c, "status"); raw != "" {
		status, ok := models.ParseSessionStatus(raw)
		if !ok {
			errs = append(errs, services.ValidationError{Field: "status", Message: "unknown session status"})
		} else {
			query.Status = &status
		}
	}
	if raw := queryValue(c, "trainerId", "trainer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			errs = append(errs, services.ValidationError{Field: "trainer_id", Message: "must be a positive integer"})
		} else {
			query.TrainerID = &id
		}
	}
	if raw := queryValue(c, "userId", "user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			errs = append(errs, services.ValidationError{Field: "user_id", Message: "must be a positive integer"})
		} else {
			query.ClientID = &id
		}
	}
	if raw := queryValue(c, "confirmed"); raw != "" {
		confirmed, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, services.ValidationError{Field: "confirmed", Message: "must be true or false"})
		} else {
			query.Confirmed = &confirmed
		}
	}
	query.Location = queryValue(c, "location")
	query.Scope = services.ParseAdminScope(queryValue(c, "adminScope", "admin_scope"))

	if len(errs) > 0 {
		return query, errs
	}
	return query, nil
}

// parseQueryTime accepts RFC3339 or a bare date in the studio time zone. A
// bare end date covers the whole day.
func parseQueryTime(raw string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	day, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return day, nil
}

func queryValue(c *fiber.Ctx, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(c.Query(key)); value != "" {
			return value
		}
	}
	return ""
}

func actorFromContext(c *fiber.Ctx) (models.Actor, error) {
	roleValue, ok := c.Locals("role").(string)
	if !ok {
		return models.Actor{}, strconv.ErrSyntax
	}
	role, ok := models.ParseRole(roleValue)
	if !ok {
		return models.Actor{}, strconv.ErrSyntax
	}
	if role == models.RoleAnonymous {
		return models.Anonymous(), nil
	}

	userIDStr, ok := c.Locals("user_id").(string)
	if !ok {
		return models.Actor{}, strconv.ErrSyntax
	}
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil || userID <= 0 {
		return models.Actor{}, strconv.ErrSyntax
	}
	return models.Actor{ID: userID, Role: role}, nil
}

func parseSessionID(c *fiber.Ctx) (int64, error) {
	sessionID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || sessionID <= 0 {
		return 0, strconv.ErrSyntax
	}
	return sessionID, nil
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token", "code": apperrors.CodeUnauthorized})
}

func invalidSessionID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id", "code": apperrors.CodeValidation})
}

func invalidBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body", "code": apperrors.CodeValidation})
}

func mapSessionError(c *fiber.Ctx, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	}

	status := apperrors.HTTPStatus(err)
	body := fiber.Map{"code": apperrors.Code(err)}

	if status >= fiber.StatusInternalServerError && !apperrors.Retryable(err) {
		body["error"] = "Failed to process session request"
	} else {
		body["error"] = err.Error()
	}

	var batchErr *apperrors.BatchError
	if errors.As(err, &batchErr) {
		body["index"] = batchErr.Index
	}
	var validationErrs services.ValidationErrors
	if errors.As(err, &validationErrs) {
		body["details"] = validationErrs
	}

	return c.Status(status).JSON(body)
}
