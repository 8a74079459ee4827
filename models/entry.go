package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Person struct {
	bun.BaseModel `bun:"table:persons,alias:p"`

	PersonID   int64      `bun:"person_id,pk,autoincrement" json:"personID"`
	FamilyName string     `bun:"family_name" json:"familyName"`
	GivenName  string     `bun:"given_name" json:"givenName"`
	BirthDate  *time.Time `bun:"birth_date" json:"birthDate,omitempty"`
	Sex        *Sex       `bun:"sex" json:"sex,omitempty"`
}

type Organisation struct {
	bun.BaseModel `bun:"table:organisations,alias:o"`

	OrganisationID int64  `bun:"organisation_id,pk,autoincrement" json:"organisationID"`
	Name           string `bun:"name,notnull" json:"name"`
	ShortName      string `bun:"short_name" json:"shortName,omitempty"`
}

// Entry is a registration for an event: one person or a whole team.
type Entry struct {
	bun.BaseModel `bun:"table:entries,alias:e"`

	EntryID        int64  `bun:"entry_id,pk,autoincrement" json:"entryID"`
	EventID        int64  `bun:"event_id,notnull" json:"eventID"`
	Number         *int   `bun:"number" json:"number,omitempty"`
	Name           string `bun:"name" json:"name"`
	OrganisationID *int64 `bun:"organisation_id" json:"organisationID,omitempty"`
	// StartRequest is honoured by the start list generator.
	StartRequest StartRequest `bun:"start_request,nullzero" json:"startRequest,omitempty"`

	Competitors      []*Competitor           `bun:"rel:has-many,join:entry_id=entry_id" json:"competitors,omitempty"`
	CategoryRequests []*EntryCategoryRequest `bun:"rel:has-many,join:entry_id=entry_id" json:"categoryRequests,omitempty"`
}

// EntryCategoryRequest is a requested category. Lower preference wins.
type EntryCategoryRequest struct {
	bun.BaseModel `bun:"table:entry_category_requests,alias:ecr"`

	EntryID         int64 `bun:"entry_id,pk" json:"entryID"`
	Preference      int   `bun:"preference,pk" json:"preference"`
	EventCategoryID int64 `bun:"event_category_id,notnull" json:"eventCategoryID"`
}

// Competitor binds a person to a leg of an entry. LegOrder separates
// parallel runners of the same leg; one person running two legs has two rows.
type Competitor struct {
	bun.BaseModel `bun:"table:competitors,alias:cp"`

	CompetitorID   int64  `bun:"competitor_id,pk,autoincrement" json:"competitorID"`
	EntryID        int64  `bun:"entry_id,notnull" json:"entryID"`
	PersonID       int64  `bun:"person_id,notnull" json:"personID"`
	OrganisationID *int64 `bun:"organisation_id" json:"organisationID,omitempty"`
	LegNumber      int    `bun:"leg_number,notnull,default:0" json:"legNumber"`
	LegOrder       int    `bun:"leg_order,notnull,default:1" json:"legOrder"`

	Person *Person `bun:"rel:belongs-to,join:person_id=person_id" json:"person,omitempty"`
}

type ControlCard struct {
	bun.BaseModel `bun:"table:control_cards,alias:cd"`

	ControlCardID int64          `bun:"control_card_id,pk,autoincrement" json:"controlCardID"`
	System        PunchingSystem `bun:"system,notnull" json:"system"`
	Label         string         `bun:"label,notnull" json:"label"`
}
