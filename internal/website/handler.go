package website

import (
	"net/http"

	"collaborative-page-builder/internal/component"
	"collaborative-page-builder/internal/domain"
	"collaborative-page-builder/internal/errors"
	"collaborative-page-builder/internal/utils"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Create(c *gin.Context) {
	var input WebsiteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	website, err := h.service.CreateWebsite(c.Request.Context(), c.GetUint64("user_id"), input)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, website)
}

func (h *Handler) List(c *gin.Context) {
	page, pageSize := utils.GetPaginationParams(c)

	result, err := h.service.ListWebsites(c.Request.Context(), c.GetUint64("user_id"), page, pageSize)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) Show(c *gin.Context) {
	websiteID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	website, err := h.service.GetWebsite(c.Request.Context(), c.GetUint64("user_id"), websiteID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, website)
}

func (h *Handler) Update(c *gin.Context) {
	websiteID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	var input WebsitePatch
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	website, err := h.service.UpdateWebsite(c.Request.Context(), c.GetUint64("user_id"), websiteID, input)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, website)
}

func (h *Handler) Delete(c *gin.Context) {
	websiteID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.service.DeleteWebsite(c.Request.Context(), c.GetUint64("user_id"), websiteID); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) CreatePage(c *gin.Context) {
	websiteID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	var input PageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	page, err := h.service.CreatePage(c.Request.Context(), c.GetUint64("user_id"), websiteID, input)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, page)
}

func (h *Handler) ListPages(c *gin.Context) {
	websiteID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	pages, err := h.service.ListPages(c.Request.Context(), c.GetUint64("user_id"), websiteID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, pages)
}

func (h *Handler) UpdatePage(c *gin.Context) {
	pageID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	var input PagePatch
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	page, err := h.service.UpdatePage(c.Request.Context(), c.GetUint64("user_id"), pageID, input)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// DeletePage carries the client id so the tab that deleted the page does not
// receive its own shift notices.
func (h *Handler) DeletePage(c *gin.Context) {
	pageID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.service.DeletePage(c.Request.Context(), component.ActorFrom(c), pageID); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ListCollaborators(c *gin.Context) {
	websiteID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	result, err := h.service.ListCollaborators(c.Request.Context(), c.GetUint64("user_id"), websiteID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type CollaboratorRequest struct {
	UserID          uint64                 `json:"user_id" binding:"required"`
	PermissionLevel domain.PermissionLevel `json:"permission_level" binding:"required,oneof=10 20 30"`
}

func (h *Handler) AddCollaborator(c *gin.Context) {
	websiteID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	var req CollaboratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	result, err := h.service.AddCollaborator(
		c.Request.Context(),
		c.GetUint64("user_id"),
		websiteID,
		req.UserID,
		req.PermissionLevel,
	)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h *Handler) ChangeCollaboratorLevel(c *gin.Context) {
	websiteID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	var req CollaboratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	result, err := h.service.ChangeCollaboratorLevel(
		c.Request.Context(),
		c.GetUint64("user_id"),
		websiteID,
		req.UserID,
		req.PermissionLevel,
	)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) RemoveCollaborator(c *gin.Context) {
	websiteID, err := utils.ParamID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	targetID, err := utils.ParamID(c, "userId")
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.service.RemoveCollaborator(c.Request.Context(), c.GetUint64("user_id"), websiteID, targetID); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

// RegisterRoutes mounts the website, page and collaborator endpoints on an
// authenticated group. Page components are served by the component handler.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/websites", h.Create)
	r.GET("/websites", h.List)
	r.GET("/websites/:id", h.Show)
	r.PATCH("/websites/:id", h.Update)
	r.DELETE("/websites/:id", h.Delete)

	r.POST("/websites/:id/pages", h.CreatePage)
	r.GET("/websites/:id/pages", h.ListPages)
	r.PATCH("/pages/:id", h.UpdatePage)
	r.DELETE("/pages/:id", h.DeletePage)

	r.GET("/websites/:id/collaborators", h.ListCollaborators)
	r.POST("/websites/:id/collaborators", h.AddCollaborator)
	r.PUT("/websites/:id/collaborators", h.ChangeCollaboratorLevel)
	r.DELETE("/websites/:id/collaborators/:userId", h.RemoveCollaborator)
}
