package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Category realises an EventCategory for one race.
type Category struct {
	bun.BaseModel `bun:"table:categories,alias:cat"`

	CategoryID      int64          `bun:"category_id,pk,autoincrement" json:"categoryID"`
	RaceID          int64          `bun:"race_id,notnull" json:"raceID"`
	EventCategoryID int64          `bun:"event_category_id,notnull" json:"eventCategoryID"`
	Name            string         `bun:"name,notnull" json:"name"`
	Status          CategoryStatus `bun:"status,notnull,default:'Normal'" json:"status"`
	FirstStart      *time.Time     `bun:"first_start" json:"firstStart,omitempty"`
	VacanciesBefore int            `bun:"vacancies_before,notnull,default:0" json:"vacanciesBefore"`
	VacanciesAfter  int            `bun:"vacancies_after,notnull,default:0" json:"vacanciesAfter"`
	MaxCompetitors  *int           `bun:"max_competitors" json:"maxCompetitors,omitempty"`

	TooFewEntriesSubstituteID  *int64 `bun:"too_few_substitute_id" json:"tooFewEntriesSubstituteID,omitempty"`
	TooManyEntriesSubstituteID *int64 `bun:"too_many_substitute_id" json:"tooManyEntriesSubstituteID,omitempty"`

	Courses []*CategoryCourseAssignment `bun:"rel:has-many,join:category_id=category_id" json:"courses,omitempty"`
}

// CourseFor returns the course id assigned to a leg. Solo categories use leg 0.
func (c *Category) CourseFor(leg int) (int64, bool) {
	for _, a := range c.Courses {
		if a.LegNumber == leg {
			return a.CourseID, true
		}
	}
	return 0, false
}

// CategoryCourseAssignment binds a category leg to a course.
type CategoryCourseAssignment struct {
	bun.BaseModel `bun:"table:category_courses,alias:cca"`

	CategoryID int64 `bun:"category_id,pk" json:"categoryID"`
	LegNumber  int   `bun:"leg_number,pk" json:"legNumber"`
	CourseID   int64 `bun:"course_id,notnull" json:"courseID"`
}
