package server

import (
	"net/http"
	"strings"

	"recipe-assistant/internal/inventory"

	"github.com/labstack/echo/v4"
)

type itemRequest struct {
	Name     string  `json:"name"`
	Quantity *string `json:"quantity"`
}

type itemsResponse struct {
	Items []inventory.Item `json:"items"`
}

// InventoryHandler exposes one inventory for direct editing.
type InventoryHandler struct {
	Service *inventory.Service
}

func (h *InventoryHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("", h.add)
	g.PUT("/:id", h.edit)
	g.DELETE("", h.remove)
}

func (h *InventoryHandler) list(c echo.Context) error {
	return c.JSON(http.StatusOK, itemsResponse{Items: h.Service.List(c.Request().Context())})
}

func (h *InventoryHandler) add(c echo.Context) error {
	var req itemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if strings.TrimSpace(req.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	return c.JSON(http.StatusOK, itemsResponse{Items: h.Service.Add(c.Request().Context(), req.Name, req.Quantity)})
}

func (h *InventoryHandler) edit(c echo.Context) error {
	var req itemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if strings.TrimSpace(req.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	ok, err := h.Service.Edit(c.Request().Context(), c.Param("id"), req.Name, req.Quantity)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "item not found")
	}
	return c.JSON(http.StatusOK, itemsResponse{Items: h.Service.List(c.Request().Context())})
}

func (h *InventoryHandler) remove(c echo.Context) error {
	name := c.QueryParam("name")
	if strings.TrimSpace(name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	return c.JSON(http.StatusOK, itemsResponse{Items: h.Service.Remove(c.Request().Context(), name)})
}
