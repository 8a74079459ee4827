// Package course turns the controls of a course into an immutable traversal
// plan of fixed and free-order segments.
package course

import (
	"fmt"
	"sort"
	"time"

	"github.com/padraicbc/orienteer/models"
)

// SegmentKind tells how the controls of a segment must be punched.
type SegmentKind int

const (
	// Fixed holds one control that must be punched next.
	Fixed SegmentKind = iota
	// FreeSet holds controls that may be punched in any order.
	FreeSet
)

func (k SegmentKind) String() string {
	if k == FreeSet {
		return "free"
	}
	return "fixed"
}

// Segment is one step of a course.
type Segment struct {
	Kind     SegmentKind
	Controls []int64
	// Required is the number of controls that must be punched. For a fixed
	// optional control it is zero.
	Required int
	Scores   map[int64]float64
}

// Contains reports whether the segment includes the control.
func (s Segment) Contains(controlID int64) bool {
	for _, c := range s.Controls {
		if c == controlID {
			return true
		}
	}
	return false
}

// Graph is the traversal plan of one course. It is never modified after
// Build and may be shared between goroutines.
type Graph struct {
	CourseID       int64
	Segments       []Segment
	TimeLimit      time.Duration
	NoExtraPunches bool
	Score          bool
}

// Required returns the number of punches a complete run needs.
func (g *Graph) Required() int {
	n := 0
	for _, s := range g.Segments {
		n += s.Required
	}
	return n
}

// MaxScore is the sum of all control scores.
func (g *Graph) MaxScore() float64 {
	var total float64
	for _, s := range g.Segments {
		for _, v := range s.Scores {
			total += v
		}
	}
	return total
}

// MalformedCourseError reports course controls whose sequencing cannot be
// resolved. A course with this error must not be used for validation.
type MalformedCourseError struct {
	CourseID int64
	Reason   string
}

func (e *MalformedCourseError) Error() string {
	return fmt.Sprintf("course %d is malformed: %s", e.CourseID, e.Reason)
}

func malformed(courseID int64, format string, args ...any) error {
	return &MalformedCourseError{CourseID: courseID, Reason: fmt.Sprintf(format, args...)}
}

// Build resolves the course controls into segments.
//
// Controls are kept in an arena ordered by position. After/Before hints add
// precedence edges between arena slots; the final order is a topological
// sort of those edges that falls back to position for unrelated controls.
// Consecutive free-order controls form one FreeSet segment.
func Build(c *models.Course, controls []*models.CourseControl) (*Graph, error) {
	arena := make([]*models.CourseControl, len(controls))
	copy(arena, controls)
	sort.SliceStable(arena, func(i, j int) bool { return arena[i].Position < arena[j].Position })

	slot := make(map[int64]int, len(arena))
	for i, cc := range arena {
		if cc.CourseID != c.CourseID {
			return nil, malformed(c.CourseID, "control %d belongs to course %d", cc.CourseControlID, cc.CourseID)
		}
		if _, dup := slot[cc.CourseControlID]; dup {
			return nil, malformed(c.CourseID, "course control %d listed twice", cc.CourseControlID)
		}
		slot[cc.CourseControlID] = i
	}

	for i := 1; i < len(arena); i++ {
		a, b := arena[i-1], arena[i]
		if a.Position == b.Position && (a.Kind != models.ControlFreeOrder || b.Kind != models.ControlFreeOrder) {
			return nil, malformed(c.CourseID, "controls %d and %d overlap at position %d",
				a.CourseControlID, b.CourseControlID, a.Position)
		}
	}

	succ := make([][]int, len(arena))
	indeg := make([]int, len(arena))
	link := func(from, to int) {
		succ[from] = append(succ[from], to)
		indeg[to]++
	}
	for i, cc := range arena {
		if cc.After != nil {
			j, ok := slot[*cc.After]
			if !ok {
				return nil, malformed(c.CourseID, "control %d is after unknown control %d", cc.CourseControlID, *cc.After)
			}
			if j == i {
				return nil, malformed(c.CourseID, "control %d is after itself", cc.CourseControlID)
			}
			link(j, i)
		}
		if cc.Before != nil {
			j, ok := slot[*cc.Before]
			if !ok {
				return nil, malformed(c.CourseID, "control %d is before unknown control %d", cc.CourseControlID, *cc.Before)
			}
			if j == i {
				return nil, malformed(c.CourseID, "control %d is before itself", cc.CourseControlID)
			}
			link(i, j)
		}
	}

	order, err := topoOrder(c.CourseID, arena, succ, indeg)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		CourseID:       c.CourseID,
		TimeLimit:      time.Duration(c.TimeLimitSeconds) * time.Second,
		NoExtraPunches: c.NoExtraPunches,
		Score:          c.Score,
	}

	for k := 0; k < len(order); {
		cc := arena[order[k]]
		if cc.Kind != models.ControlFreeOrder {
			seg := Segment{Kind: Fixed, Controls: []int64{cc.ControlID}, Required: 1}
			if cc.Kind == models.ControlOptional {
				seg.Required = 0
			}
			if cc.Score != 0 {
				seg.Scores = map[int64]float64{cc.ControlID: cc.Score}
			}
			g.Segments = append(g.Segments, seg)
			k++
			continue
		}

		seg := Segment{Kind: FreeSet, Scores: map[int64]float64{}}
		members := map[int]bool{}
		for ; k < len(order) && arena[order[k]].Kind == models.ControlFreeOrder; k++ {
			m := arena[order[k]]
			if seg.Contains(m.ControlID) {
				return nil, malformed(c.CourseID, "control %d appears twice in one free-order segment", m.ControlID)
			}
			members[order[k]] = true
			seg.Controls = append(seg.Controls, m.ControlID)
			if m.Score != 0 {
				seg.Scores[m.ControlID] = m.Score
			}
		}
		// Hints between members of one set would order an unordered segment.
		for from := range members {
			for _, to := range succ[from] {
				if members[to] {
					return nil, malformed(c.CourseID, "free-order controls %d and %d are sequenced against each other",
						arena[from].CourseControlID, arena[to].CourseControlID)
				}
			}
		}
		seg.Required = len(seg.Controls)
		if c.MinFreeControls != nil && *c.MinFreeControls < seg.Required {
			seg.Required = max(*c.MinFreeControls, 0)
		}
		g.Segments = append(g.Segments, seg)
	}

	if err := checkRepeats(c.CourseID, g.Segments); err != nil {
		return nil, err
	}
	return g, nil
}

// topoOrder is Kahn's algorithm picking the lowest arena slot among the
// ready controls, so hint-free courses keep their position order.
func topoOrder(courseID int64, arena []*models.CourseControl, succ [][]int, indeg []int) ([]int, error) {
	indeg = append([]int(nil), indeg...)
	ready := make([]int, 0, len(arena))
	for i := range arena {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, len(arena))
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, to := range succ[next] {
			indeg[to]--
			if indeg[to] == 0 {
				ready = append(ready, to)
			}
		}
	}

	if len(order) != len(arena) {
		for i := range arena {
			if indeg[i] > 0 {
				return nil, malformed(courseID, "control %d precedes itself through after/before hints", arena[i].CourseControlID)
			}
		}
	}
	return order, nil
}

// checkRepeats rejects a control used both in a free-order segment and
// anywhere else on the course; the validator could not tell which one a
// punch belongs to.
func checkRepeats(courseID int64, segs []Segment) error {
	free := map[int64]int{}
	for i, s := range segs {
		if s.Kind == FreeSet {
			for _, c := range s.Controls {
				free[c] = i
			}
		}
	}
	for i, s := range segs {
		for _, c := range s.Controls {
			if j, ok := free[c]; ok && j != i {
				return malformed(courseID, "control %d is shared between segments %d and %d", c, j, i)
			}
		}
	}
	return nil
}
