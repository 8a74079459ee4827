package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/padraicbc/orienteer/category"
)

type assignData struct {
	Assigned   map[int64]int64      `json:"assigned"`
	Unassigned []category.Rejection `json:"unassigned"`
}

// AssignEntries places the unplaced entries of a race into its categories.
func (h *Handler) AssignEntries(c echo.Context) error {
	raceID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	a, err := h.store.AssignEntries(c.Request().Context(), raceID)
	if err != nil {
		return httpError(err)
	}

	seen := map[int64]bool{}
	for _, catID := range a.Category {
		if !seen[catID] {
			seen[catID] = true
			h.svc.MarkDirty(catID)
		}
	}

	out := assignData{Assigned: a.Category, Unassigned: a.Unassigned}
	if out.Unassigned == nil {
		out.Unassigned = []category.Rejection{}
	}
	return c.JSON(http.StatusOK, out)
}

// Substitute joins and divides the categories of a race and returns the
// moved starts.
func (h *Handler) Substitute(c echo.Context) error {
	raceID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	moved, err := h.svc.Substitute(c.Request().Context(), raceID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"moved": len(moved), "starts": moved})
}
