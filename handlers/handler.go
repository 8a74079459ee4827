package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/padraicbc/orienteer/category"
	"github.com/padraicbc/orienteer/course"
	bundb "github.com/padraicbc/orienteer/db"
	"github.com/padraicbc/orienteer/relay"
	"github.com/padraicbc/orienteer/standings"
	"github.com/padraicbc/orienteer/startlist"
)

// Handler holds shared dependencies used by all route handlers.
type Handler struct {
	db     *bun.DB
	store  *bundb.Store
	svc    *standings.Service
	logger *zap.Logger
	JWTKey []byte
}

// New creates a Handler with the given database connection, result service
// and JWT signing key.
func New(db *bun.DB, svc *standings.Service, logger *zap.Logger, jwtKey []byte) *Handler {
	return &Handler{db: db, store: bundb.NewStore(db), svc: svc, logger: logger, JWTKey: jwtKey}
}

// httpError maps domain errors to HTTP errors. Configuration errors are
// reported to the official who made them.
func httpError(err error) error {
	var (
		mce *course.MalformedCourseError
		sce *category.SubstitutionCycleError
		lce *relay.LegConfigError
	)
	switch {
	case errors.As(err, &mce), errors.As(err, &sce), errors.As(err, &lce), errors.Is(err, startlist.ErrNoFreeSlot):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, bundb.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, standings.ErrSuperseded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func idParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}
