package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/StudioScheduleBack/internal/config"
	"github.com/saeid-a/StudioScheduleBack/internal/handlers"
	"github.com/saeid-a/StudioScheduleBack/internal/middleware"
	"github.com/saeid-a/StudioScheduleBack/internal/services"
	syncws "github.com/saeid-a/StudioScheduleBack/internal/websocket"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
)

func RegisterRoutes(app *fiber.App, cfg *config.Config, sessionService *services.SessionService, hub *syncws.Hub, log *logger.Logger) error {
	sessionHandler := handlers.NewSessionHandler(sessionService, cfg.RequestTimeout, cfg.Location(), log)
	syncHandler := handlers.NewSyncHandler(hub, cfg.JWTSecret, log)

	if err := registerDocsRoutes(app, cfg); err != nil {
		return err
	}

	api := app.Group("/api")

	if cfg.PublicBrowsing {
		public := api.Group("/public", middleware.PublicAccess())
		public.Get("/sessions", sessionHandler.ListSessions)
		public.Get("/sessions/:id", sessionHandler.GetSession)
	}

	// Registered before the authenticated group; the socket carries its token in the query.
	api.Use("/v1/ws", syncHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(syncHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	sessions := authProtected.Group("/sessions")
	sessions.Get("", sessionHandler.ListSessions)
	sessions.Post("", sessionHandler.CreateSessions)
	sessions.Post("/recurring", sessionHandler.CreateRecurring)
	sessions.Get("/stats", sessionHandler.Stats)
	sessions.Post("/unassign-trainer", sessionHandler.UnassignTrainer)
	sessions.Post("/bulk-assign-trainer", sessionHandler.BulkAssignTrainer)
	sessions.Post("/bulk-cancel", sessionHandler.BulkCancel)
	sessions.Get("/recurring/mine", sessionHandler.ListRecurring)
	sessions.Put("/recurring/:groupId", sessionHandler.UpdateSeries)
	sessions.Delete("/recurring/:groupId", sessionHandler.CancelSeries)
	sessions.Get("/:id", sessionHandler.GetSession)
	sessions.Delete("/:id", sessionHandler.CancelSession)
	sessions.Post("/:id/book", sessionHandler.BookSession)
	sessions.Post("/:id/request", sessionHandler.RequestSession)
	sessions.Patch("/:id/assign", sessionHandler.AssignTrainer)
	sessions.Patch("/:id/confirm", sessionHandler.ConfirmSession)
	sessions.Patch("/:id/complete", sessionHandler.CompleteSession)
	sessions.Patch("/:id/cancel", sessionHandler.CancelSession)
	sessions.Put("/:id/notes", sessionHandler.UpdateNotes)
	sessions.Get("/:id/cancel-warning", sessionHandler.CancelWarning)
	sessions.Patch("/:id/attendance", sessionHandler.RecordAttendance)

	authProtected.Get("/trainers", sessionHandler.ListTrainers)
	authProtected.Get("/clients", sessionHandler.ListClients)

	return nil
}
