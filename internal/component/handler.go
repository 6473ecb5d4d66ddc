package component

import (
	"net/http"

	apiError "collaborative-page-builder/internal/errors"
	"collaborative-page-builder/internal/layout"
	"collaborative-page-builder/internal/realtime"
	"collaborative-page-builder/internal/utils"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// ActorFrom reads the authenticated user and the client id set by the auth
// middleware. Requests without a client id are tagged with the user.
func ActorFrom(c *gin.Context) Actor {
	userID := c.GetUint64("user_id")
	sender := c.GetString("client_id")
	if sender == "" {
		sender = realtime.UserSender(userID)
	}
	return Actor{UserID: userID, SenderID: sender}
}

func (h *Handler) Create(c *gin.Context) {
	pageID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	var input CreateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(apiError.NewValidationError(err))
		return
	}

	view, err := h.service.CreateComponent(c.Request.Context(), ActorFrom(c), pageID, input)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, view)
}

func (h *Handler) List(c *gin.Context) {
	pageID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	result, err := h.service.ListPageComponents(c.Request.Context(), c.GetUint64("user_id"), pageID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) Update(c *gin.Context) {
	componentID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	var input UpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(apiError.NewValidationError(err))
		return
	}

	view, err := h.service.UpdateComponent(c.Request.Context(), ActorFrom(c), componentID, input)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *Handler) Reposition(c *gin.Context) {
	componentID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	var rect layout.Rect
	if err := c.ShouldBindJSON(&rect); err != nil {
		c.Error(apiError.NewValidationError(err))
		return
	}

	view, err := h.service.RepositionComponent(c.Request.Context(), ActorFrom(c), componentID, rect)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *Handler) Delete(c *gin.Context) {
	componentID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.service.DeleteComponent(c.Request.Context(), ActorFrom(c), componentID); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

// RegisterRoutes mounts the component endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/pages/:id/components", h.Create)
	r.GET("/pages/:id/components", h.List)
	r.PATCH("/components/:id", h.Update)
	r.PUT("/components/:id/position", h.Reposition)
	r.DELETE("/components/:id", h.Delete)
}
