package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Start is the start of an entry (a person or a team) in a race category.
type Start struct {
	bun.BaseModel `bun:"table:starts,alias:s"`

	StartID     int64         `bun:"start_id,pk,autoincrement" json:"startID"`
	EntryID     int64         `bun:"entry_id,notnull,unique:starts_entry_category" json:"entryID"`
	CategoryID  int64         `bun:"category_id,notnull,unique:starts_entry_category" json:"categoryID"`
	Competitive bool          `bun:"competitive,notnull,default:true" json:"competitive"`
	TimeOffset  time.Duration `bun:"time_offset,notnull,default:0" json:"timeOffset"`
	// Ranking is the position the entry got when it was assigned to the
	// category. Splitting a full category keeps the lowest values.
	Ranking int `bun:"ranking,notnull,default:0" json:"ranking"`

	CompetitorStarts []*CompetitorStart `bun:"rel:has-many,join:start_id=start_id" json:"competitorStarts,omitempty"`
}

// CompetitorStart is one competitor's start within a Start.
type CompetitorStart struct {
	bun.BaseModel `bun:"table:competitor_starts,alias:cs"`

	CompetitorStartID int64         `bun:"competitor_start_id,pk,autoincrement" json:"competitorStartID"`
	StartID           int64         `bun:"start_id,notnull,unique:competitor_starts_once" json:"startID"`
	CompetitorID      int64         `bun:"competitor_id,notnull,unique:competitor_starts_once" json:"competitorID"`
	ControlCardID     *int64        `bun:"control_card_id" json:"controlCardID,omitempty"`
	TimeOffset        time.Duration `bun:"time_offset,notnull,default:0" json:"timeOffset"`

	// Recorded times. StartTime is the start punch; when it is missing the
	// planned start is used.
	StartTime  *time.Time `bun:"start_time" json:"startTime,omitempty"`
	FinishTime *time.Time `bun:"finish_time" json:"finishTime,omitempty"`
	// TimeAdjustment is an official correction subtracted from the elapsed time.
	TimeAdjustment time.Duration `bun:"time_adjustment,notnull,default:0" json:"timeAdjustment"`

	Competitor *Competitor `bun:"rel:belongs-to,join:competitor_id=competitor_id" json:"competitor,omitempty"`
}
