package handlers

import (
	"errors"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	syncws "github.com/saeid-a/StudioScheduleBack/internal/websocket"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
	"github.com/saeid-a/StudioScheduleBack/pkg/utils"
)

// SyncHandler upgrades dashboard connections onto the session event hub.
type SyncHandler struct {
	hub       *syncws.Hub
	jwtSecret string
	log       *logger.Logger
}

func NewSyncHandler(hub *syncws.Hub, jwtSecret string, log *logger.Logger) *SyncHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &SyncHandler{hub: hub, jwtSecret: jwtSecret, log: log}
}

func (h *SyncHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired token",
			"code":  apperrors.CodeUnauthorized,
		})
	}
	if _, ok := models.ParseRole(claims.Role); !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unknown role",
			"code":  apperrors.CodeUnauthorized,
		})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *SyncHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	roleValue, _ := conn.Locals("role").(string)

	role, _ := models.ParseRole(roleValue)
	actor := models.Actor{Role: role}
	if role != models.RoleAnonymous {
		id, err := strconv.ParseInt(userID, 10, 64)
		if err != nil {
			_ = conn.Close()
			return
		}
		actor.ID = id
	}

	client := syncws.NewClient(h.hub, conn, actor)
	h.log.Debug("sync client connected", "actor_id", actor.ID, "role", actor.Role.String())

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump()
}

func (h *SyncHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}
