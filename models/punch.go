package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Punch is one raw read-out record. Raw punches are never updated; the
// reconciled sequence is derived from all of them.
type Punch struct {
	bun.BaseModel `bun:"table:punches,alias:pu"`

	PunchID           uuid.UUID `bun:"punch_id,pk,type:uuid" json:"punchID"`
	CompetitorStartID int64     `bun:"competitor_start_id,notnull" json:"competitorStartID"`
	ControlID         int64     `bun:"control_id,notnull" json:"controlID"`
	Time              time.Time `bun:"time,notnull" json:"time"`
	SourceID          string    `bun:"source_id,notnull" json:"sourceID"`
}

// PinnedPunch is one punch of a finalized sequence. Pinned times survive
// restarts so late read-outs can not move a printed result.
type PinnedPunch struct {
	bun.BaseModel `bun:"table:pinned_punches,alias:pp"`

	CompetitorStartID int64     `bun:"competitor_start_id,pk" json:"competitorStartID"`
	Position          int       `bun:"position,pk" json:"position"`
	ControlID         int64     `bun:"control_id,notnull" json:"controlID"`
	Time              time.Time `bun:"time,notnull" json:"time"`
	Sources           []string  `bun:"sources,array" json:"sources"`
	FinalizedAt       time.Time `bun:"finalized_at,notnull" json:"finalizedAt"`
}
