package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/padraicbc/orienteer/models"
	"github.com/padraicbc/orienteer/standings"
)

// CategoryResults returns the current ranking of a category. The in-memory
// ranking is served when there is one, the stored one otherwise.
func (h *Handler) CategoryResults(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if r, ok := h.svc.Ranking(id); ok {
		return c.JSON(http.StatusOK, r)
	}

	results, err := h.store.Results(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, &standings.Ranking{CategoryID: id, Results: results})
}

// Recompute recomputes a category now instead of waiting for the sweep.
func (h *Handler) Recompute(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	r, err := h.svc.Recompute(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

// resultRow is a flat scan target for the result list join query.
type resultRow struct {
	// results (alias r)
	StartID  int64               `bun:"start_id"`
	Position int                 `bun:"position"`
	Status   models.ResultStatus `bun:"status"`
	Elapsed  *time.Duration      `bun:"elapsed"`
	Score    *float64            `bun:"score"`
	// categories (alias cat)
	CategoryID int64  `bun:"category_id"`
	Category   string `bun:"category"`
	// entries and organisations
	EntryID      int64   `bun:"entry_id"`
	Number       *int    `bun:"number"`
	Name         string  `bun:"name"`
	Organisation *string `bun:"organisation"`
}

type resultJSON struct {
	StartID      int64               `json:"startID"`
	Position     int                 `json:"position,omitempty"`
	Status       models.ResultStatus `json:"status"`
	Elapsed      string              `json:"elapsed,omitempty"`
	Score        *float64            `json:"score,omitempty"`
	CategoryID   int64               `json:"categoryID"`
	Category     string              `json:"category"`
	EntryID      int64               `json:"entryID"`
	Number       *int                `json:"number,omitempty"`
	Name         string              `json:"name"`
	Organisation *string             `json:"organisation,omitempty"`
}

// ResultList returns the stored results of a race across categories, with
// optional filters.
func (h *Handler) ResultList(c echo.Context) error {
	q := c.QueryParams()
	raceID := q.Get("raceID")
	if raceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing raceID param")
	}

	sb := h.db.NewSelect().
		TableExpr("results r").
		ColumnExpr(`
			r.start_id, r.position, r.status, r.elapsed, r.score,
			cat.category_id, cat.name AS category,
			e.entry_id, e.number, e.name,
			o.name AS organisation`).
		Join("INNER JOIN categories cat ON r.category_id = cat.category_id").
		Join("INNER JOIN starts s ON r.start_id = s.start_id").
		Join("INNER JOIN entries e ON s.entry_id = e.entry_id").
		Join("LEFT JOIN organisations o ON e.organisation_id = o.organisation_id").
		Where("cat.race_id = ?", raceID)

	applyResultFilters(sb, q)

	sb = sb.OrderExpr("cat.name, r.position = 0, r.position, r.start_id")

	var rows []resultRow
	if err := sb.Scan(c.Request().Context(), &rows); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	out := make([]resultJSON, len(rows))
	for i, row := range rows {
		out[i] = resultJSON{
			StartID:      row.StartID,
			Position:     row.Position,
			Status:       row.Status,
			Score:        row.Score,
			CategoryID:   row.CategoryID,
			Category:     row.Category,
			EntryID:      row.EntryID,
			Number:       row.Number,
			Name:         row.Name,
			Organisation: row.Organisation,
		}
		if row.Elapsed != nil {
			out[i].Elapsed = row.Elapsed.String()
		}
	}

	return c.JSON(http.StatusOK, out)
}

func applyResultFilters(sb *bun.SelectQuery, q map[string][]string) {
	get := func(k string) string {
		if v, ok := q[k]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	if v := get("categoryID"); v != "" {
		sb.Where("cat.category_id = ?", v)
	}
	if v := get("status"); v != "" {
		sb.Where("r.status = ?", v)
	}
	if v := get("organisationID"); v != "" {
		sb.Where("e.organisation_id = ?", v)
	}
	if v := get("maxPosition"); v != "" {
		sb.Where("r.position BETWEEN 1 AND ?", v)
	}
	if get("ranked") == "1" {
		sb.Where("r.position > 0")
	}
	if get("complete") == "1" {
		sb.Where("NOT r.incomplete")
	}
}
