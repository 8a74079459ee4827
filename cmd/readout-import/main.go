// cmd/readout-import/main.go
// Imports punches from a legacy MySQL read-out database into the local
// PostgreSQL database. Cards and controls are matched by label within the
// given race. Re-runs are idempotent.
//
// Usage:
//
//	MYSQL_DSN="user:pass@tcp(host:3306)/readout?parseTime=true" \
//	DB_PASS="pgpass" \
//	go run ./cmd/readout-import -race 3
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/padraicbc/orienteer/config"
	bundb "github.com/padraicbc/orienteer/db"
	"github.com/padraicbc/orienteer/models"
)

const batchSize = 500

// importNamespace seeds the punch ids derived from legacy row ids.
var importNamespace = uuid.MustParse("9a3f4c1e-6b0d-4f7a-8c2e-5d1b7e9f0a42")

func main() {
	raceID := flag.Int64("race", 0, "race id (required)")
	since := flag.String("since", "", "only punches at or after this RFC3339 time")
	flag.Parse()

	if *raceID <= 0 {
		log.Fatal("-race is required")
	}
	var after time.Time
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			log.Fatalf("-since: %v", err)
		}
		after = t
	}

	ctx := context.Background()
	cfg := config.Load()

	// --- MySQL ---
	if cfg.MySQLDSN == "" {
		log.Fatal("MYSQL_DSN required, e.g.: user:pass@tcp(host:3306)/readout?parseTime=true")
	}
	myDB, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("open mysql: %v", err)
	}
	defer myDB.Close()
	myDB.SetMaxOpenConns(4)
	if err := myDB.PingContext(ctx); err != nil {
		log.Fatalf("ping mysql: %v", err)
	}
	log.Println("connected to MySQL")

	// --- PostgreSQL ---
	pgDB := bundb.Setup(cfg)
	defer pgDB.Close()
	log.Println("connected to PostgreSQL")

	if err := bundb.CreateTables(ctx, pgDB); err != nil {
		log.Fatalf("create tables: %v", err)
	}

	cards, err := cardStarts(ctx, pgDB, *raceID)
	if err != nil {
		log.Fatalf("load cards: %v", err)
	}
	controls, err := controlIDs(ctx, pgDB, *raceID)
	if err != nil {
		log.Fatalf("load controls: %v", err)
	}
	log.Printf("race %d: %d cards, %d controls", *raceID, len(cards), len(controls))

	n, skipped, err := importPunches(ctx, myDB, pgDB, cards, controls, after)
	if err != nil {
		log.Fatalf("import punches: %v", err)
	}
	log.Printf("%d punches imported, %d skipped", n, skipped)
}

// cardStarts maps card labels to the competitor start using the card in the race.
func cardStarts(ctx context.Context, pgDB *bun.DB, raceID int64) (map[string]int64, error) {
	var rows []struct {
		Label             string `bun:"label"`
		CompetitorStartID int64  `bun:"competitor_start_id"`
	}
	err := pgDB.NewSelect().
		TableExpr("competitor_starts cs").
		ColumnExpr("cd.label, cs.competitor_start_id").
		Join("INNER JOIN control_cards cd ON cs.control_card_id = cd.control_card_id").
		Join("INNER JOIN starts s ON cs.start_id = s.start_id").
		Join("INNER JOIN categories cat ON s.category_id = cat.category_id").
		Where("cat.race_id = ?", raceID).
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		if prev, ok := out[r.Label]; ok {
			return nil, fmt.Errorf("card %s used by competitor starts %d and %d", r.Label, prev, r.CompetitorStartID)
		}
		out[r.Label] = r.CompetitorStartID
	}
	return out, nil
}

func controlIDs(ctx context.Context, pgDB *bun.DB, raceID int64) (map[string]int64, error) {
	var cs []models.Control
	if err := pgDB.NewSelect().Model(&cs).Where("race_id = ?", raceID).Scan(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(cs))
	for _, c := range cs {
		out[c.Label] = c.ControlID
	}
	return out, nil
}

// bulkInsert inserts a batch, skipping rows that already exist (idempotent re-runs).
func bulkInsert[T any](ctx context.Context, pgDB *bun.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := pgDB.NewInsert().Model(&rows).On("CONFLICT DO NOTHING").Exec(ctx)
	return err
}

func importPunches(ctx context.Context, myDB *sql.DB, pgDB *bun.DB, cards, controls map[string]int64, after time.Time) (int, int, error) {
	rows, err := myDB.QueryContext(ctx,
		`SELECT id, cardNo, controlCode, punchTime, station
		 FROM punches
		 WHERE punchTime >= ?
		 ORDER BY id`, after)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var batch []models.Punch
	total, skipped := 0, 0
	for rows.Next() {
		var (
			id          int64
			cardNo      string
			controlCode string
			punchTime   time.Time
			station     sql.NullString
		)
		if err := rows.Scan(&id, &cardNo, &controlCode, &punchTime, &station); err != nil {
			return total, skipped, err
		}
		csID, ok := cards[cardNo]
		if !ok {
			skipped++
			continue
		}
		controlID, ok := controls[controlCode]
		if !ok {
			log.Printf("punch %d: unknown control %s", id, controlCode)
			skipped++
			continue
		}

		source := "readout"
		if station.Valid && station.String != "" {
			source = "readout:" + station.String
		}
		batch = append(batch, models.Punch{
			PunchID:           uuid.NewSHA1(importNamespace, []byte(fmt.Sprintf("mysql:%d", id))),
			CompetitorStartID: csID,
			ControlID:         controlID,
			Time:              punchTime.UTC(),
			SourceID:          source,
		})
		if len(batch) >= batchSize {
			if err := bulkInsert(ctx, pgDB, batch); err != nil {
				return total, skipped, err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if err := bulkInsert(ctx, pgDB, batch); err != nil {
		return total, skipped, err
	}
	return total + len(batch), skipped, rows.Err()
}
