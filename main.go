package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/padraicbc/orienteer/config"
	"github.com/padraicbc/orienteer/course"
	"github.com/padraicbc/orienteer/db"
	"github.com/padraicbc/orienteer/handlers"
	applog "github.com/padraicbc/orienteer/logger"
	mw "github.com/padraicbc/orienteer/middleware"
	"github.com/padraicbc/orienteer/standings"
)

func main() {
	cfg := config.Load()
	logger, err := applog.New(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bdb := db.Setup(cfg)
	defer bdb.Close()

	if err := db.CreateTables(ctx, bdb); err != nil {
		logger.Fatal("create tables failed", zap.Error(err))
	}

	svc := standings.New(db.NewStore(bdb), course.NewCache(), cfg.Options(), cfg.PunchTolerance, applog.Named(logger, "standings"))
	if err := svc.Prime(ctx); err != nil {
		logger.Fatal("loading punches failed", zap.Error(err))
	}
	if err := svc.Start(ctx, cfg.RecomputeInterval); err != nil {
		logger.Fatal("starting recompute sweep failed", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := svc.Shutdown(sctx); err != nil {
			logger.Error("standings shutdown", zap.Error(err))
		}
	}()

	h := handlers.New(bdb, svc, applog.Named(logger, "http"), cfg.JWTKey())

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.Int("status", v.Status),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			switch {
			case v.Status >= 500:
				logger.Error("http request", fields...)
			case v.Status >= 400:
				logger.Warn("http request", fields...)
			default:
				logger.Debug("http request", fields...)
			}
			return nil
		},
	}))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"*", "Authorization"},
		AllowCredentials: true,
	}))

	// Public
	e.POST("/api/signin", h.Signin)
	e.GET("/api/categories/:id/results", h.CategoryResults)
	e.GET("/api/results", h.ResultList)

	// Protected – require valid JWT in Authorization header
	api := e.Group("/api", mw.JWT(cfg.JWTKey()))
	api.POST("/password-hash", h.PasswordHash)
	api.GET("/races", h.Races)
	api.GET("/courses", h.Courses)
	api.POST("/courses", h.CreateCourse)
	api.GET("/courses/:id/check", h.CheckCourse)
	api.POST("/races/:id/assign", h.AssignEntries)
	api.POST("/races/:id/substitute", h.Substitute)
	api.POST("/races/:id/startlist", h.GenerateStartList)
	api.POST("/categories/:id/recompute", h.Recompute)
	api.POST("/punches", h.SubmitPunches)
	api.POST("/stations/:source/stream", h.StreamPunches)
	api.GET("/competitor-starts/:id/punches", h.CompetitorPunches)
	api.POST("/competitor-starts/:id/finalize", h.FinalizePunches)
	api.PUT("/competitor-starts/:id/times", h.UpdateTimes)

	s := &http.Server{
		Addr:         cfg.Port,
		Handler:      e,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	errc := make(chan error, 1)
	if cfg.Debug || len(cfg.TLSDomains) == 0 {
		logger.Info("starting server", zap.Bool("debug", cfg.Debug), zap.String("addr", cfg.Port))
		go func() { errc <- s.ListenAndServe() }()
	} else {
		autoTLS := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache(".cache"),
			HostPolicy: autocert.HostWhitelist(cfg.TLSDomains...),
		}
		s.Addr = ":443"
		s.TLSConfig = autoTLS.TLSConfig()
		logger.Info("starting tls server", zap.Strings("domains", cfg.TLSDomains))
		go func() { errc <- s.ListenAndServeTLS("", "") }()
	}

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server exited", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
	}
}
