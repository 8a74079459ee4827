// Package category assigns entries to categories and moves starts of
// categories that had too few or too many entries.
package category

import (
	"fmt"
	"sort"
	"time"

	"github.com/padraicbc/orienteer/models"
)

// Rejection lists why an entry got none of its requested categories.
type Rejection struct {
	EntryID int64    `json:"entryID"`
	Reasons []string `json:"reasons"`
}

// Assignment is the outcome of Assign.
type Assignment struct {
	// Category maps entry id to event category id.
	Category map[int64]int64
	// Ranking is the 1-based order in which entries were accepted into their
	// category. Splitting a full category keeps the lowest rankings.
	Ranking    map[int64]int
	Unassigned []Rejection
}

// Assign walks entries in registration order and gives each the most
// preferred requested category it is eligible for and that still has a
// vacancy. Entries must have their competitors with persons loaded.
func Assign(entries []*models.Entry, categories []*models.EventCategory, eventDate time.Time) Assignment {
	byID := make(map[int64]*models.EventCategory, len(categories))
	for _, c := range categories {
		byID[c.EventCategoryID] = c
	}

	ordered := append([]*models.Entry(nil), entries...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].EntryID < ordered[j].EntryID })

	a := Assignment{Category: map[int64]int64{}, Ranking: map[int64]int{}}
	taken := map[int64]int{}
	for _, e := range ordered {
		reqs := append([]*models.EntryCategoryRequest(nil), e.CategoryRequests...)
		sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].Preference < reqs[j].Preference })

		var reasons []string
		assigned := false
		for _, req := range reqs {
			ec, ok := byID[req.EventCategoryID]
			if !ok {
				reasons = append(reasons, fmt.Sprintf("category %d does not exist", req.EventCategoryID))
				continue
			}
			if why := Ineligible(ec, e, eventDate); why != "" {
				reasons = append(reasons, fmt.Sprintf("%s: %s", ec.Name, why))
				continue
			}
			if ec.MaxCompetitors != nil && taken[ec.EventCategoryID] >= *ec.MaxCompetitors {
				reasons = append(reasons, fmt.Sprintf("%s: no vacancy", ec.Name))
				continue
			}
			taken[ec.EventCategoryID]++
			a.Category[e.EntryID] = ec.EventCategoryID
			a.Ranking[e.EntryID] = taken[ec.EventCategoryID]
			assigned = true
			break
		}
		if !assigned {
			if len(reqs) == 0 {
				reasons = append(reasons, "no category requested")
			}
			a.Unassigned = append(a.Unassigned, Rejection{EntryID: e.EntryID, Reasons: reasons})
		}
	}
	return a
}

// Ineligible returns why the entry can not run in the category, or "" if it
// can. Ages are reached in the calendar year of the event.
func Ineligible(ec *models.EventCategory, e *models.Entry, eventDate time.Time) string {
	n := len(e.Competitors)
	if n < ec.MinTeamMembers || (ec.MaxTeamMembers > 0 && n > ec.MaxTeamMembers) {
		return fmt.Sprintf("team of %d, allowed %d to %d", n, ec.MinTeamMembers, ec.MaxTeamMembers)
	}
	for _, c := range e.Competitors {
		p := c.Person
		if ec.Sex != nil && (p == nil || p.Sex == nil || *p.Sex != *ec.Sex) {
			return fmt.Sprintf("competitor %d does not match sex %s", c.CompetitorID, *ec.Sex)
		}
		if ec.MinAge == nil && ec.MaxAge == nil {
			continue
		}
		if p == nil || p.BirthDate == nil {
			return fmt.Sprintf("competitor %d has no birth date", c.CompetitorID)
		}
		age := eventDate.Year() - p.BirthDate.Year()
		if ec.MinAge != nil && age < *ec.MinAge {
			return fmt.Sprintf("competitor %d is %d, minimum %d", c.CompetitorID, age, *ec.MinAge)
		}
		if ec.MaxAge != nil && age > *ec.MaxAge {
			return fmt.Sprintf("competitor %d is %d, maximum %d", c.CompetitorID, age, *ec.MaxAge)
		}
	}
	return ""
}
