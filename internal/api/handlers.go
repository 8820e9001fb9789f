package api

import (
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"partyledger/internal/authority"
	"partyledger/internal/dice"
	"partyledger/internal/hub"
	"partyledger/internal/middleware"
	"partyledger/internal/models"
	"partyledger/internal/protocol"
	"partyledger/internal/restock"
	"partyledger/internal/rolltable"
	"partyledger/internal/service"
	"partyledger/pkg"
)

type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Errors string `json:"errors"`
}

type BuyRequest struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type LootRequest struct {
	Items []protocol.ItemLine `json:"items"`
}

type Handlers struct {
	AuthService service.AuthService
	Hub         *hub.Hub
	Restock     *restock.Engine
	Logger      pkg.Logger
	JWTSecret   string

	upgrader websocket.Upgrader
}

func RegisterHandlers(e *echo.Echo, h *Handlers) {
	e.POST("/api/auth", h.PostApiAuth)
	e.GET("/ws", h.GetWs)

	authed := e.Group("/api", middleware.JWTAuthMiddleware(h.JWTSecret, h.Logger))
	authed.POST("/containers/:id/buy", h.PostBuy)
	authed.POST("/containers/:id/loot", h.PostLoot)
	authed.POST("/containers/:id/loot-coins", h.PostLootCoins)
	authed.POST("/containers/:id/distribute-coins", h.PostDistributeCoins)
	authed.POST("/containers/:id/restock", h.PostRestock)
}

func (h *Handlers) PostApiAuth(ctx echo.Context) error {
	var req AuthRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Errors: "Invalid request body"})
	}

	token, err := h.AuthService.Authenticate(req.Username, req.Password)
	if err != nil {
		h.Logger.Warn("invalid credentials", zap.String("username", req.Username), zap.Error(err))
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Errors: "Invalid credentials"})
	}
	return ctx.JSON(http.StatusOK, AuthResponse{Token: token})
}

// GetWs upgrades the connection and keeps the participant on the
// channel until it closes. The token travels as a query parameter
// because browser websocket clients cannot set headers.
func (h *Handlers) GetWs(ctx echo.Context) error {
	participant, err := h.participantFromToken(ctx.QueryParam("token"))
	if err != nil {
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Errors: "Invalid token"})
	}

	conn, err := h.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		h.Logger.Error("websocket upgrade failed", zap.Error(err))
		return err
	}
	h.Hub.Join(participant, conn)
	h.Hub.ReadLoop(participant.ID, conn)
	return nil
}

func (h *Handlers) PostBuy(ctx echo.Context) error {
	participant, err := participantFromContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Errors: err.Error()})
	}
	var req BuyRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Errors: "Invalid request body"})
	}

	d := authority.NewDispatcher(participant, h.Hub, h.Hub)
	return h.dispatched(ctx, d.Buy(ctx.Param("id"), req.ItemID, req.Quantity))
}

func (h *Handlers) PostLoot(ctx echo.Context) error {
	participant, err := participantFromContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Errors: err.Error()})
	}
	var req LootRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Errors: "Invalid request body"})
	}

	d := authority.NewDispatcher(participant, h.Hub, h.Hub)
	return h.dispatched(ctx, d.Loot(ctx.Param("id"), req.Items))
}

func (h *Handlers) PostLootCoins(ctx echo.Context) error {
	participant, err := participantFromContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Errors: err.Error()})
	}
	d := authority.NewDispatcher(participant, h.Hub, h.Hub)
	return h.dispatched(ctx, d.LootCoins(ctx.Param("id")))
}

func (h *Handlers) PostDistributeCoins(ctx echo.Context) error {
	participant, err := participantFromContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Errors: err.Error()})
	}
	d := authority.NewDispatcher(participant, h.Hub, h.Hub)
	return h.dispatched(ctx, d.DistributeCoins(ctx.Param("id")))
}

func (h *Handlers) PostRestock(ctx echo.Context) error {
	participant, err := participantFromContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Errors: err.Error()})
	}
	if !participant.GM {
		return ctx.JSON(http.StatusForbidden, ErrorResponse{Errors: "Only the GM may restock"})
	}

	containerID := ctx.Param("id")
	err = h.Restock.Restock(ctx.Request().Context(), containerID)
	if err != nil {
		if errors.Is(err, rolltable.ErrTableNotFound) ||
			errors.Is(err, rolltable.ErrInsufficientUnique) ||
			errors.Is(err, dice.ErrInvalidFormula) {
			return ctx.JSON(http.StatusBadRequest, ErrorResponse{Errors: err.Error()})
		}
		h.Logger.Error("failed to restock",
			zap.String("container", containerID), zap.Error(err))
		return ctx.JSON(http.StatusInternalServerError, ErrorResponse{Errors: "Internal server error"})
	}
	return ctx.JSON(http.StatusOK, map[string]string{"message": "Container restocked"})
}

func (h *Handlers) dispatched(ctx echo.Context, err error) error {
	if err != nil {
		if errors.Is(err, authority.ErrNoActiveAuthority) {
			return ctx.JSON(http.StatusConflict, ErrorResponse{Errors: "No active GM for your scene"})
		}
		if errors.Is(err, authority.ErrNoActiveContainer) || errors.Is(err, authority.ErrInvalidQuantity) {
			return ctx.JSON(http.StatusBadRequest, ErrorResponse{Errors: err.Error()})
		}
		h.Logger.Error("failed to dispatch request", zap.Error(err))
		return ctx.JSON(http.StatusInternalServerError, ErrorResponse{Errors: "Internal server error"})
	}
	return ctx.JSON(http.StatusAccepted, map[string]string{"message": "Request dispatched"})
}

func (h *Handlers) participantFromToken(tokenString string) (models.Participant, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(h.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return models.Participant{}, errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Participant{}, errors.New("invalid token claims")
	}
	return participantFromClaims(claims)
}

func participantFromContext(ctx echo.Context) (models.Participant, error) {
	claims, ok := ctx.Get("user").(jwt.MapClaims)
	if !ok {
		return models.Participant{}, errors.New("unauthorized")
	}
	return participantFromClaims(claims)
}

func participantFromClaims(claims jwt.MapClaims) (models.Participant, error) {
	id, ok := claims["participant_id"].(string)
	if !ok || id == "" {
		return models.Participant{}, errors.New("invalid token claims")
	}
	name, _ := claims["username"].(string)
	actorID, _ := claims["actor_id"].(string)
	scene, _ := claims["scene"].(string)
	gm, _ := claims["gm"].(bool)
	return models.Participant{ID: id, Name: name, ActorID: actorID, Scene: scene, GM: gm}, nil
}
