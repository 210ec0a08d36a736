package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/chat-relay/internal/audit"
	"github.com/weiawesome/chat-relay/internal/coordinator"
	"github.com/weiawesome/chat-relay/internal/domain"
	"github.com/weiawesome/chat-relay/internal/room"
	"github.com/weiawesome/chat-relay/pkg/log"
	"github.com/weiawesome/chat-relay/pkg/middleware"
	"github.com/weiawesome/chat-relay/pkg/response"
)

// StatsFunc reports runtime counters for GET /stats.
type StatsFunc func() map[string]any

// Handler serves the HTTP API next to the websocket endpoint.
type Handler struct {
	rooms          *room.Service
	coord          *coordinator.Coordinator
	authMiddleware *middleware.AuthMiddleware
	stats          StatsFunc
}

func NewHandler(rooms *room.Service, coord *coordinator.Coordinator, authMiddleware *middleware.AuthMiddleware, stats StatsFunc) *Handler {
	return &Handler{
		rooms:          rooms,
		coord:          coord,
		authMiddleware: authMiddleware,
		stats:          stats,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)

	api := r.Group("/api/v1")
	{
		rooms := api.Group("/rooms")
		{
			rooms.GET("/:code", h.GetRoom)
			rooms.GET("/:code/messages", h.GetMessages)
			rooms.GET("/:code/members", h.GetMembers)

			rooms.POST("", h.authMiddleware.RequireAuth(), h.CreateRoom)
			rooms.GET("/mine", h.authMiddleware.RequireAuth(), h.GetMyRooms)
		}
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Stats(c *gin.Context) {
	if h.stats == nil {
		response.Success(c, gin.H{})
		return
	}
	response.Success(c, h.stats())
}

// CreateRoom reserves a generated room code.
func (h *Handler) CreateRoom(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	username := middleware.GetUsername(c)
	if username == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req domain.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind create room request")
		response.BadRequest(c, err.Error())
		return
	}

	created, err := h.rooms.Create(ctx, username, &req)
	if err != nil {
		l.Error().Err(err).Msg("failed to create room")
		response.InternalError(c, "failed to create room")
		return
	}

	audit.Log(ctx, audit.ActionCreateRoom, username, created.Code, "room created")
	response.Created(c, created)
}

func (h *Handler) GetRoom(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("code")

	found, err := h.rooms.Get(ctx, code)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			response.NotFound(c, "room not found")
			return
		}
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomCode, code).Msg("failed to get room")
		response.InternalError(c, "failed to get room")
		return
	}

	response.Success(c, found)
}

func (h *Handler) GetMyRooms(c *gin.Context) {
	ctx := c.Request.Context()

	rooms, err := h.rooms.ListByCreator(ctx, middleware.GetUsername(c))
	if err != nil {
		response.InternalError(c, "failed to list rooms")
		return
	}
	response.Success(c, rooms)
}

// GetMessages returns the room history in replay order.
func (h *Handler) GetMessages(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("code")

	history, err := h.coord.History(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrProtocol):
			response.BadRequest(c, err.Error())
		case errors.Is(err, domain.ErrPersistence):
			response.Unavailable(c, "history unavailable")
		default:
			response.InternalError(c, "failed to read history")
		}
		return
	}

	response.Success(c, domain.NewHistoryFrame(code, history))
}

func (h *Handler) GetMembers(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("code")

	members, err := h.coord.Members(ctx, code)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomCode, code).Msg("failed to read members")
		response.InternalError(c, "failed to read members")
		return
	}
	if members == nil {
		members = []string{}
	}
	response.Success(c, gin.H{"room_code": code, "members": members})
}
