package standings

import (
	"testing"
	"time"

	"github.com/padraicbc/orienteer/course"
	"github.com/padraicbc/orienteer/models"
	"github.com/padraicbc/orienteer/punch"
)

var t0 = time.Date(2024, 8, 17, 10, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := t0.Add(d)
	return &t
}

type seqs map[int64][]punch.Punch

func (s seqs) Sequence(id int64) []punch.Punch { return s[id] }

// visit punches the given controls one minute apart from the start offset.
func visit(from time.Duration, controls ...int64) []punch.Punch {
	out := make([]punch.Punch, len(controls))
	for i, c := range controls {
		out[i] = punch.Punch{ControlID: c, Time: t0.Add(from + time.Duration(i+1)*time.Minute)}
	}
	return out
}

func testCourse() *models.Course {
	return &models.Course{
		CourseID: 1,
		Controls: []*models.CourseControl{
			{CourseControlID: 1, CourseID: 1, ControlID: 101, Position: 1, Kind: models.ControlOrdered},
			{CourseControlID: 2, CourseID: 1, ControlID: 102, Position: 2, Kind: models.ControlOrdered},
		},
	}
}

func soloStart(startID, csID int64, categoryID int64) *models.Start {
	return &models.Start{
		StartID:     startID,
		CategoryID:  categoryID,
		Competitive: true,
		CompetitorStarts: []*models.CompetitorStart{
			{CompetitorStartID: csID, StartID: startID},
		},
	}
}

func soloSnapshot(starts ...*models.Start) *Snapshot {
	return &Snapshot{
		Event:         &models.Event{EventID: 1, Form: models.FormIndividual},
		EventCategory: &models.EventCategory{EventCategoryID: 1, Name: "H21"},
		Category: &models.Category{
			CategoryID:      7,
			EventCategoryID: 1,
			FirstStart:      at(0),
			Courses:         []*models.CategoryCourseAssignment{{CategoryID: 7, LegNumber: 0, CourseID: 1}},
		},
		Courses:  map[int64]*models.Course{1: testCourse()},
		Starts:   starts,
		Previous: map[int64]*models.CompetitorResult{},
	}
}

func TestComputeSoloCategory(t *testing.T) {
	a := soloStart(1, 11, 7)
	a.CompetitorStarts[0].StartTime = at(0)
	a.CompetitorStarts[0].FinishTime = at(30 * time.Minute)

	// No start punch: planned start is first start + 2m + 1m.
	b := soloStart(2, 12, 7)
	b.TimeOffset = 2 * time.Minute
	b.CompetitorStarts[0].TimeOffset = time.Minute
	b.CompetitorStarts[0].FinishTime = at(38 * time.Minute)

	c := soloStart(3, 13, 7)
	c.Competitive = false
	c.CompetitorStarts[0].StartTime = at(0)
	c.CompetitorStarts[0].FinishTime = at(20 * time.Minute)

	d := soloStart(4, 14, 7)
	d.CompetitorStarts[0].StartTime = at(0)
	d.CompetitorStarts[0].FinishTime = at(25 * time.Minute)

	e := soloStart(5, 15, 7)

	punches := seqs{
		11: visit(0, 101, 102),
		12: visit(3*time.Minute, 101, 102),
		13: visit(0, 101, 102),
		14: visit(0, 102),
	}
	results, err := Compute(soloSnapshot(e, d, c, b, a), punches, course.NewCache(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	want := []struct {
		start  int64
		status models.ResultStatus
		pos    int
	}{
		{1, models.StatusOK, 1},
		{2, models.StatusOK, 2},
		{3, models.StatusNotCompeting, 0},
		{4, models.StatusDisqualified, 0},
		{5, models.StatusDidNotStart, 0},
	}
	if len(results) != len(want) {
		t.Fatalf("got %d results", len(results))
	}
	for i, w := range want {
		r := results[i]
		if r.StartID != w.start || r.Status != w.status || r.Position != w.pos {
			t.Errorf("results[%d] = start %d %s pos %d, want start %d %s pos %d", i, r.StartID, r.Status, r.Position, w.start, w.status, w.pos)
		}
	}
	if got := *results[1].Elapsed; got != 35*time.Minute {
		t.Errorf("planned start elapsed = %v, want 35m", got)
	}
	if m := results[3].Competitors[0].Missing; len(m) != 1 || m[0] != 101 {
		t.Errorf("missing = %v", m)
	}
	if len(results[0].Competitors[0].Splits) != 2 {
		t.Errorf("splits = %v", results[0].Competitors[0].Splits)
	}
}

func TestComputeStartPunchWithoutControls(t *testing.T) {
	// Left the start box and never came back.
	a := soloStart(1, 11, 7)
	a.CompetitorStarts[0].StartTime = at(0)
	// Planned start only.
	b := soloStart(2, 12, 7)

	results, err := Compute(soloSnapshot(a, b), seqs{}, course.NewCache(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	got := map[int64]models.ResultStatus{}
	for _, r := range results {
		got[r.StartID] = r.Status
	}
	if got[1] != models.StatusDidNotFinish {
		t.Errorf("start punched: status = %s, want %s", got[1], models.StatusDidNotFinish)
	}
	if got[2] != models.StatusDidNotStart {
		t.Errorf("planned start: status = %s, want %s", got[2], models.StatusDidNotStart)
	}
}

func TestComputeKeepsPreviousWhenIncomplete(t *testing.T) {
	a := soloStart(1, 11, 7)
	a.CompetitorStarts[0].FinishTime = at(31 * time.Minute)
	snap := soloSnapshot(a)
	snap.Category.FirstStart = nil
	elapsed := 31 * time.Minute
	snap.Previous[11] = &models.CompetitorResult{CompetitorStartID: 11, StartID: 1, Status: models.StatusOK, Elapsed: &elapsed}

	results, err := Compute(snap, seqs{11: visit(0, 101, 102)}, course.NewCache(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	r := results[0]
	if !r.Incomplete || r.Status != models.StatusOK || *r.Elapsed != elapsed {
		t.Errorf("result = %+v", r)
	}
}

func TestComputeRelayCategory(t *testing.T) {
	snap := &Snapshot{
		Event: &models.Event{EventID: 1, Form: models.FormRelay},
		EventCategory: &models.EventCategory{EventCategoryID: 2, Legs: []*models.Leg{
			{EventCategoryID: 2, LegNumber: 1, MinCompetitors: 1, MaxCompetitors: 1},
			{EventCategoryID: 2, LegNumber: 2, MinCompetitors: 1, MaxCompetitors: 1},
		}},
		Category: &models.Category{
			CategoryID:      8,
			EventCategoryID: 2,
			FirstStart:      at(0),
			Courses: []*models.CategoryCourseAssignment{
				{CategoryID: 8, LegNumber: 1, CourseID: 1},
				{CategoryID: 8, LegNumber: 2, CourseID: 1},
			},
		},
		Courses: map[int64]*models.Course{1: testCourse()},
		Starts: []*models.Start{{
			StartID:     1,
			CategoryID:  8,
			Competitive: true,
			CompetitorStarts: []*models.CompetitorStart{
				{CompetitorStartID: 22, StartID: 1, FinishTime: at(62 * time.Minute), Competitor: &models.Competitor{LegNumber: 2, LegOrder: 1}},
				{CompetitorStartID: 21, StartID: 1, FinishTime: at(30 * time.Minute), Competitor: &models.Competitor{LegNumber: 1, LegOrder: 1}},
			},
		}},
	}
	punches := seqs{21: visit(0, 101, 102), 22: visit(30*time.Minute, 101, 102)}

	results, err := Compute(snap, punches, course.NewCache(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	r := results[0]
	if r.Status != models.StatusOK || r.Position != 1 || *r.Elapsed != 62*time.Minute {
		t.Fatalf("team result = %s pos %d elapsed %v", r.Status, r.Position, r.Elapsed)
	}
	if len(r.Competitors) != 2 || *r.Competitors[1].Elapsed != 32*time.Minute {
		t.Errorf("leg 2 elapsed = %v", r.Competitors[1].Elapsed)
	}
}

func TestComputeMissingCourse(t *testing.T) {
	snap := soloSnapshot(soloStart(1, 11, 7))
	snap.Category.Courses = nil
	if _, err := Compute(snap, seqs{}, course.NewCache(), Options{}); err == nil {
		t.Fatal("expected an error for a category without course")
	}
}
