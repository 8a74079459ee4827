package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	bundb "github.com/padraicbc/orienteer/db"
	"github.com/padraicbc/orienteer/models"
	"github.com/padraicbc/orienteer/punch"
)

type punchRequest struct {
	PunchID           *uuid.UUID `json:"punchID"`
	CompetitorStartID int64      `json:"competitorStartID"`
	ControlID         int64      `json:"controlID"`
	Time              time.Time  `json:"time"`
	SourceID          string     `json:"sourceID"`
}

// SubmitPunches accepts a batch of read-out punches. Replayed punches are
// counted and otherwise ignored. Results follow on the next sweep.
func (h *Handler) SubmitPunches(c echo.Context) error {
	var reqs []punchRequest
	if err := c.Bind(&reqs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(reqs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no punches")
	}

	ps := make([]models.Punch, len(reqs))
	for i, r := range reqs {
		source := strings.TrimSpace(r.SourceID)
		if r.CompetitorStartID <= 0 || r.ControlID <= 0 || r.Time.IsZero() || source == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "competitorStartID, controlID, time and sourceID are required")
		}
		id := uuid.New()
		if r.PunchID != nil {
			id = *r.PunchID
		}
		ps[i] = models.Punch{
			PunchID:           id,
			CompetitorStartID: r.CompetitorStartID,
			ControlID:         r.ControlID,
			Time:              r.Time,
			SourceID:          source,
		}
	}

	accepted := 0
	for _, p := range ps {
		if h.svc.Submit(p) {
			accepted++
		}
	}

	return c.JSON(http.StatusAccepted, map[string]int{
		"accepted":   accepted,
		"duplicates": len(ps) - accepted,
	})
}

// StreamPunches reads newline-delimited punches from a read-out station until
// the station closes the request. Punches without a sourceID are credited to
// the :source path parameter.
func (h *Handler) StreamPunches(c echo.Context) error {
	source := strings.TrimSpace(c.Param("source"))
	if source == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing source")
	}

	ch := make(chan models.Punch)
	var decodeErr error
	received := 0
	go func() {
		defer close(ch)
		dec := json.NewDecoder(c.Request().Body)
		for {
			var r punchRequest
			if err := dec.Decode(&r); err != nil {
				if !errors.Is(err, io.EOF) {
					decodeErr = err
				}
				return
			}
			if r.CompetitorStartID <= 0 || r.ControlID <= 0 || r.Time.IsZero() {
				h.logger.Warn("incomplete punch from station", zap.String("source", source))
				continue
			}
			received++
			select {
			case ch <- models.Punch{CompetitorStartID: r.CompetitorStartID, ControlID: r.ControlID, Time: r.Time, SourceID: strings.TrimSpace(r.SourceID)}:
			case <-c.Request().Context().Done():
				return
			}
		}
	}()

	// Run returns once the decoder closed ch, so decodeErr is settled.
	if err := h.svc.Ingestor().Run(c.Request().Context(), punch.Source{ID: source, Punches: ch}); err != nil {
		return echo.NewHTTPError(http.StatusRequestTimeout, err.Error())
	}
	if decodeErr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, decodeErr.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"received": received})
}

type punchesData struct {
	CompetitorStartID int64          `json:"competitorStartID"`
	Sequence          []punch.Punch  `json:"sequence"`
	Raw               []models.Punch `json:"raw,omitempty"`
}

// CompetitorPunches returns the reconciled sequence of a competitor start.
// raw=1 adds the logged raw punches.
func (h *Handler) CompetitorPunches(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	out := punchesData{CompetitorStartID: id, Sequence: h.svc.Ingestor().Sequence(id)}
	if c.QueryParam("raw") == "1" {
		out.Raw = h.svc.Ingestor().Raw(id)
	}
	return c.JSON(http.StatusOK, out)
}

// FinalizePunches pins the current sequence of a competitor start, e.g.
// when its result slip is printed.
func (h *Handler) FinalizePunches(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	seq, err := h.svc.Finalize(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, punchesData{CompetitorStartID: id, Sequence: seq})
}

// UpdateTimes corrects the recorded start, finish or adjustment of a
// competitor start.
func (h *Handler) UpdateTimes(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req bundb.CompetitorTimes
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.StartTime != nil && req.FinishTime != nil && req.FinishTime.Before(*req.StartTime) {
		return echo.NewHTTPError(http.StatusBadRequest, "finish before start")
	}

	if err := h.store.UpdateTimes(c.Request().Context(), id, req); err != nil {
		return httpError(err)
	}
	h.svc.Touch(id)
	return c.NoContent(http.StatusNoContent)
}
