package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/padraicbc/orienteer/course"
	"github.com/padraicbc/orienteer/models"
)

type segmentData struct {
	Kind     string            `json:"kind"`
	Controls []int64           `json:"controls"`
	Required int               `json:"required"`
	Scores   map[int64]float64 `json:"scores,omitempty"`
}

type courseData struct {
	CourseID int64         `json:"courseID"`
	Name     string        `json:"name"`
	Required int           `json:"required"`
	MaxScore float64       `json:"maxScore,omitempty"`
	Segments []segmentData `json:"segments"`
}

func describe(crs *models.Course, g *course.Graph) courseData {
	out := courseData{
		CourseID: crs.CourseID,
		Name:     crs.Name,
		Required: g.Required(),
		Segments: make([]segmentData, len(g.Segments)),
	}
	if g.Score {
		out.MaxScore = g.MaxScore()
	}
	for i, s := range g.Segments {
		out.Segments[i] = segmentData{Kind: s.Kind.String(), Controls: s.Controls, Required: s.Required, Scores: s.Scores}
	}
	return out
}

// Courses returns the courses of a race.
func (h *Handler) Courses(c echo.Context) error {
	raceID := c.QueryParam("raceID")
	if raceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing raceID param")
	}

	var courses []models.Course
	err := h.db.NewSelect().
		Model(&courses).
		Relation("Controls", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("cc.position")
		}).
		Where("c.race_id = ?", raceID).
		OrderExpr("c.name ASC").
		Scan(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, courses)
}

// CreateCourse stores a course with its controls. A course that can not be
// built is rejected before anyone can run it.
func (h *Handler) CreateCourse(c echo.Context) error {
	var req models.Course
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.RaceID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "raceID is required")
	}
	if len(req.Controls) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "controls are required")
	}
	req.CourseID = 0

	var g *course.Graph
	err := h.store.SaveCourse(c.Request().Context(), &req, func(crs *models.Course) error {
		var err error
		g, err = course.Build(crs, crs.Controls)
		return err
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate key value") {
			return echo.NewHTTPError(http.StatusConflict, "course control already exists")
		}
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, describe(&req, g))
}

// CheckCourse rebuilds a stored course and returns its segments.
func (h *Handler) CheckCourse(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	crs, err := h.store.Course(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}

	h.svc.Graphs().Forget(id)
	g, err := h.svc.Graphs().Get(crs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, describe(crs, g))
}

// Races returns all races, optionally filtered by event ID, newest first.
func (h *Handler) Races(c echo.Context) error {
	eventID := c.QueryParam("eventID")

	var races []models.Race
	q := h.db.NewSelect().
		Model(&races).
		OrderExpr("ra.date DESC, ra.race_id")

	if eventID != "" {
		q = q.Where("ra.event_id = ?", eventID)
	}

	if err := q.Scan(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, races)
}
