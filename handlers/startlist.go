package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/padraicbc/orienteer/startlist"
)

type startListRequest struct {
	FirstStart        time.Time `json:"firstStart"`
	SlotLengthSeconds int       `json:"slotLengthSeconds"`
	Interval          int       `json:"interval"`
	ParallelMax       int       `json:"parallelMax"`
	Conflicts         [][]int64 `json:"conflicts"`
	Window            int       `json:"window"`
	First             []int64   `json:"first"`
	Last              []int64   `json:"last"`
}

// GenerateStartList assigns start times to the starts of a race.
func (h *Handler) GenerateStartList(c echo.Context) error {
	raceID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req startListRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.FirstStart.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "firstStart is required")
	}
	if req.SlotLengthSeconds < 0 || req.Interval < 0 || req.ParallelMax < 0 || req.Window < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "negative setting")
	}

	sl, err := h.store.GenerateStartList(c.Request().Context(), raceID, startlist.Options{
		FirstStart:  req.FirstStart,
		SlotLength:  time.Duration(req.SlotLengthSeconds) * time.Second,
		Interval:    req.Interval,
		ParallelMax: req.ParallelMax,
		Conflicts:   req.Conflicts,
		Window:      req.Window,
		First:       req.First,
		Last:        req.Last,
	})
	if err != nil {
		return httpError(err)
	}
	// Planned starts changed.
	for _, cat := range sl.Categories {
		h.svc.MarkDirty(cat.CategoryID)
	}
	return c.JSON(http.StatusOK, sl)
}
