package statemanager

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes adds the task-execution diagnostic endpoints to an Echo
// group.
func (m *Manager) RegisterRoutes(g *echo.Group) {
	g.GET("/operations", m.handleListOperations)
	g.GET("/operations/:id", m.handleGetOperation)
	g.GET("/operations/stats", m.handleGetStats)
}

func (m *Manager) handleListOperations(c echo.Context) error {
	return c.JSON(http.StatusOK, m.ListOperations())
}

func (m *Manager) handleGetOperation(c echo.Context) error {
	id := c.Param("id")
	exec := m.GetOperation(id)
	if exec == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "operation not found"})
	}
	return c.JSON(http.StatusOK, exec)
}

func (m *Manager) handleGetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, m.GetStats())
}
