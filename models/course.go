package models

import "github.com/uptrace/bun"

// Control is a physical or radio checkpoint of a race.
type Control struct {
	bun.BaseModel `bun:"table:controls,alias:ct"`

	ControlID int64  `bun:"control_id,pk,autoincrement" json:"controlID"`
	RaceID    int64  `bun:"race_id,notnull,unique:controls_label" json:"raceID"`
	Label     string `bun:"label,notnull,unique:controls_label" json:"label"`
}

// Course is a route of one race. Courses are immutable once competition
// starts; a change means a new course row.
type Course struct {
	bun.BaseModel `bun:"table:courses,alias:c"`

	CourseID int64   `bun:"course_id,pk,autoincrement" json:"courseID"`
	RaceID   int64   `bun:"race_id,notnull" json:"raceID"`
	Name     string  `bun:"name,notnull" json:"name"`
	Length   float64 `bun:"length" json:"length"` // kilometers
	Climb    float64 `bun:"climb" json:"climb"`   // meters

	// MinFreeControls is the number of controls of each free-order segment a
	// competitor must punch. Nil means all of them.
	MinFreeControls *int `bun:"min_free_controls" json:"minFreeControls,omitempty"`
	// TimeLimitSeconds is zero for no limit.
	TimeLimitSeconds int  `bun:"time_limit_seconds,notnull,default:0" json:"timeLimitSeconds"`
	NoExtraPunches   bool `bun:"no_extra_punches,notnull,default:false" json:"noExtraPunches"`
	Score            bool `bun:"score,notnull,default:false" json:"score"`

	Controls []*CourseControl `bun:"rel:has-many,join:course_id=course_id" json:"controls,omitempty"`
}

// CourseControl places one control on a course. After and Before are
// sequencing hints naming other course controls of the same course.
type CourseControl struct {
	bun.BaseModel `bun:"table:course_controls,alias:cc"`

	CourseControlID int64       `bun:"course_control_id,pk,autoincrement" json:"courseControlID"`
	CourseID        int64       `bun:"course_id,notnull" json:"courseID"`
	ControlID       int64       `bun:"control_id,notnull" json:"controlID"`
	Position        int         `bun:"position,notnull" json:"position"`
	Kind            ControlKind `bun:"kind,notnull,default:'ordered'" json:"kind"`
	LegLength       float64     `bun:"leg_length" json:"legLength,omitempty"`
	LegClimb        float64     `bun:"leg_climb" json:"legClimb,omitempty"`
	Score           float64     `bun:"score" json:"score,omitempty"`
	After           *int64      `bun:"after_id" json:"after,omitempty"`
	Before          *int64      `bun:"before_id" json:"before,omitempty"`
}
