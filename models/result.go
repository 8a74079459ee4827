package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CompetitorResult is the computed outcome of one CompetitorStart. It is
// always derived and is rewritten on every recomputation.
type CompetitorResult struct {
	bun.BaseModel `bun:"table:competitor_results,alias:cr"`

	CompetitorStartID int64          `bun:"competitor_start_id,pk" json:"competitorStartID"`
	StartID           int64          `bun:"start_id,notnull" json:"startID"`
	StartTime         *time.Time     `bun:"start_time" json:"startTime,omitempty"`
	FinishTime        *time.Time     `bun:"finish_time" json:"finishTime,omitempty"`
	Elapsed           *time.Duration `bun:"elapsed" json:"elapsed,omitempty"`
	TimeAdjustment    time.Duration  `bun:"time_adjustment,notnull,default:0" json:"timeAdjustment"`
	Status            ResultStatus   `bun:"status,notnull" json:"status"`
	Score             *float64       `bun:"score" json:"score,omitempty"`
	Missing           []int64        `bun:"missing,array" json:"missing,omitempty"`
	Extra             []int64        `bun:"extra,array" json:"extra,omitempty"`
	Splits            []Split        `bun:"splits,type:jsonb" json:"splits,omitempty"`
	// Incomplete marks a result kept from an earlier computation because the
	// latest one could not be done.
	Incomplete bool `bun:"incomplete,notnull,default:false" json:"incomplete"`
}

// Split is a matched control punch.
type Split struct {
	ControlID int64     `json:"controlID"`
	Time      time.Time `json:"time"`
}

// Result is the aggregated outcome of a Start (a person or a whole team).
type Result struct {
	bun.BaseModel `bun:"table:results,alias:r"`

	StartID    int64          `bun:"start_id,pk" json:"startID"`
	CategoryID int64          `bun:"category_id,notnull" json:"categoryID"`
	StartTime  *time.Time     `bun:"start_time" json:"startTime,omitempty"`
	FinishTime *time.Time     `bun:"finish_time" json:"finishTime,omitempty"`
	Elapsed    *time.Duration `bun:"elapsed" json:"elapsed,omitempty"`
	Score      *float64       `bun:"score" json:"score,omitempty"`
	Status     ResultStatus   `bun:"status,notnull" json:"status"`
	// Position is zero for unranked results.
	Position   int  `bun:"position,notnull,default:0" json:"position"`
	Incomplete bool `bun:"incomplete,notnull,default:false" json:"incomplete"`

	Competitors []*CompetitorResult `bun:"-" json:"competitors,omitempty"`
}
