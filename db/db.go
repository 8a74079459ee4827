package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/padraicbc/orienteer/config"
	"github.com/padraicbc/orienteer/models"
)

// Setup opens a PostgreSQL connection using the provided config.
func Setup(cfg *config.Config) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.PostgresDSN())))
	db := bun.NewDB(sqldb, pgdialect.New())

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.PingContext(context.Background()); err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	return db
}

// CreateTables creates all tables in dependency order.
func CreateTables(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.User)(nil),
		(*models.Event)(nil),
		(*models.Race)(nil),
		(*models.EventCategory)(nil),
		(*models.Leg)(nil),
		(*models.Control)(nil),
		(*models.Course)(nil),
		(*models.CourseControl)(nil),
		(*models.Category)(nil),
		(*models.CategoryCourseAssignment)(nil),
		(*models.Person)(nil),
		(*models.Organisation)(nil),
		(*models.ControlCard)(nil),
		(*models.Entry)(nil),
		(*models.EntryCategoryRequest)(nil),
		(*models.Competitor)(nil),
		(*models.Start)(nil),
		(*models.CompetitorStart)(nil),
		(*models.Punch)(nil),
		(*models.PinnedPunch)(nil),
		(*models.Result)(nil),
		(*models.CompetitorResult)(nil),
	}

	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("creating table for %T: %w", model, err)
		}
	}

	constraints := []string{
		`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'legs_no_dupes') THEN ALTER TABLE legs ADD CONSTRAINT legs_no_dupes UNIQUE (event_category_id, leg_number); END IF; END $$`,
		`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'course_controls_no_dupes') THEN ALTER TABLE course_controls ADD CONSTRAINT course_controls_no_dupes UNIQUE (course_id, position, control_id); END IF; END $$`,
		`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'punches_no_dupes') THEN ALTER TABLE punches ADD CONSTRAINT punches_no_dupes UNIQUE (competitor_start_id, control_id, time, source_id); END IF; END $$`,
		`CREATE INDEX IF NOT EXISTS punches_competitor_start ON punches (competitor_start_id)`,
		`CREATE INDEX IF NOT EXISTS results_category ON results (category_id, position)`,
		`CREATE INDEX IF NOT EXISTS competitor_results_start ON competitor_results (start_id)`,
	}
	for _, stmt := range constraints {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			log.Printf("constraint: %v", err)
		}
	}

	return nil
}
