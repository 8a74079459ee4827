package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event is the largest organisational unit entries are made for. All races
// of an event share its form and categories.
type Event struct {
	bun.BaseModel `bun:"table:events,alias:ev"`

	EventID   int64      `bun:"event_id,pk,autoincrement" json:"eventID"`
	Name      string     `bun:"name,notnull" json:"name"`
	StartTime *time.Time `bun:"start_time" json:"startTime,omitempty"`
	EndTime   *time.Time `bun:"end_time" json:"endTime,omitempty"`
	Form      EventForm  `bun:"form,notnull,default:'Individual'" json:"form"`
}

// Race is one race of an event, e.g. one day of a multi-day event.
type Race struct {
	bun.BaseModel `bun:"table:races,alias:ra"`

	RaceID  int64     `bun:"race_id,pk,autoincrement" json:"raceID"`
	EventID int64     `bun:"event_id,notnull" json:"eventID"`
	Name    string    `bun:"name" json:"name"`
	Date    time.Time `bun:"date,notnull" json:"date"`
}

// EventCategory holds category settings common to all races of an event:
// eligibility restrictions, team size bounds and the legs.
type EventCategory struct {
	bun.BaseModel `bun:"table:event_categories,alias:ec"`

	EventCategoryID int64  `bun:"event_category_id,pk,autoincrement" json:"eventCategoryID"`
	EventID         int64  `bun:"event_id,notnull" json:"eventID"`
	Name            string `bun:"name,notnull" json:"name"`
	ShortName       string `bun:"short_name" json:"shortName,omitempty"`

	MinAge         *int `bun:"min_age" json:"minAge,omitempty"`
	MaxAge         *int `bun:"max_age" json:"maxAge,omitempty"`
	Sex            *Sex `bun:"sex" json:"sex,omitempty"`
	MinTeamMembers int  `bun:"min_team_members,notnull,default:1" json:"minTeamMembers"`
	MaxTeamMembers int  `bun:"max_team_members,notnull,default:1" json:"maxTeamMembers"`
	MaxCompetitors *int `bun:"max_competitors" json:"maxCompetitors,omitempty"`

	Legs []*Leg `bun:"rel:has-many,join:event_category_id=event_category_id" json:"legs,omitempty"`
}

// Leg is one stage of a relay or team category.
type Leg struct {
	bun.BaseModel `bun:"table:legs,alias:lg"`

	LegID           int64 `bun:"leg_id,pk,autoincrement" json:"legID"`
	EventCategoryID int64 `bun:"event_category_id,notnull" json:"eventCategoryID"`
	LegNumber       int   `bun:"leg_number,notnull" json:"legNumber"`
	MinCompetitors  int   `bun:"min_competitors,notnull,default:1" json:"minCompetitors"`
	MaxCompetitors  int   `bun:"max_competitors,notnull,default:1" json:"maxCompetitors"`
}
