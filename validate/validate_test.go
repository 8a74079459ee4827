package validate

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/padraicbc/orienteer/course"
	"github.com/padraicbc/orienteer/models"
	"github.com/padraicbc/orienteer/punch"
)

var t0 = time.Date(2024, 5, 11, 10, 0, 0, 0, time.UTC)

func graph(t *testing.T, c *models.Course, kinds map[int64]models.ControlKind, ids ...int64) *course.Graph {
	t.Helper()
	ccs := make([]*models.CourseControl, len(ids))
	for i, id := range ids {
		kind := models.ControlOrdered
		if k, ok := kinds[id]; ok {
			kind = k
		}
		ccs[i] = &models.CourseControl{
			CourseControlID: int64(i + 1),
			CourseID:        c.CourseID,
			ControlID:       id,
			Position:        i + 1,
			Kind:            kind,
			Score:           10,
		}
	}
	g, err := course.Build(c, ccs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func run(ids ...int64) []punch.Punch {
	out := make([]punch.Punch, len(ids))
	for i, id := range ids {
		out[i] = punch.Punch{ControlID: id, Time: t0.Add(time.Duration(i+1) * time.Minute), Sources: []string{"station"}}
	}
	return out
}

func finished(ps []punch.Punch, after time.Duration) Input {
	start, finish := t0, t0.Add(after)
	return Input{Punches: ps, Start: &start, Finish: &finish}
}

func TestValidFixedOrder(t *testing.T) {
	g := graph(t, &models.Course{CourseID: 1}, nil, 101, 102, 103)
	out := Validate(g, finished(run(101, 102, 103), 30*time.Minute), Policy{})
	if out.Kind != Valid {
		t.Fatalf("kind = %v, want Valid (%+v)", out.Kind, out)
	}
	if len(out.Matched) != 3 || len(out.Missing) != 0 || len(out.Extra) != 0 {
		t.Errorf("outcome = %+v", out)
	}
	if *out.Elapsed != 30*time.Minute {
		t.Errorf("elapsed = %v", *out.Elapsed)
	}
}

func TestMisPunchMissingControl(t *testing.T) {
	g := graph(t, &models.Course{CourseID: 1}, nil, 101, 102, 103)
	out := Validate(g, finished(run(101, 103), 30*time.Minute), Policy{})
	if out.Kind != MisPunch {
		t.Fatalf("kind = %v, want MisPunch", out.Kind)
	}
	if !reflect.DeepEqual(out.Missing, []int64{102}) {
		t.Errorf("missing = %v, want [102]", out.Missing)
	}
	if len(out.Extra) != 0 {
		t.Errorf("extra = %v, want none", out.Extra)
	}
	if out.Severity != Minor {
		t.Errorf("severity = %v, want Minor", out.Severity)
	}
}

func TestMisPunchOutOfOrder(t *testing.T) {
	g := graph(t, &models.Course{CourseID: 1}, nil, 101, 102, 103, 104)
	out := Validate(g, finished(run(101, 103, 104, 102), 30*time.Minute), Policy{})
	if out.Kind != MisPunch || out.Severity != Minor {
		t.Fatalf("outcome = %v/%v, want MisPunch/Minor", out.Kind, out.Severity)
	}
	if !reflect.DeepEqual(out.Missing, []int64{102}) || out.Shortfall != 1 {
		t.Errorf("missing = %v shortfall=%d, want [102] 1", out.Missing, out.Shortfall)
	}
	if !reflect.DeepEqual(out.Extra, []int64{102}) {
		t.Errorf("extra = %v, want [102]", out.Extra)
	}
}

func TestButterflyRevisitedControl(t *testing.T) {
	g := graph(t, &models.Course{CourseID: 1}, nil, 31, 32, 33, 32, 34)

	out := Validate(g, finished(run(31, 32, 33, 32, 34), 30*time.Minute), Policy{})
	if out.Kind != Valid || len(out.Matched) != 5 {
		t.Fatalf("full loop: %v matched=%d", out.Kind, len(out.Matched))
	}

	out = Validate(g, finished(run(31, 33, 32, 34), 30*time.Minute), Policy{})
	if out.Kind != MisPunch {
		t.Fatalf("kind = %v, want MisPunch", out.Kind)
	}
	if !reflect.DeepEqual(out.Missing, []int64{32}) {
		t.Errorf("missing = %v, want [32]", out.Missing)
	}
	if len(out.Extra) != 0 {
		t.Errorf("extra = %v, want none", out.Extra)
	}
}

func TestWrongCourse(t *testing.T) {
	g := graph(t, &models.Course{CourseID: 1}, nil, 101, 102, 103, 104)
	out := Validate(g, finished(run(201, 202, 104), 30*time.Minute), Policy{})
	if out.Kind != MisPunch || out.Severity != WrongCourse {
		t.Fatalf("outcome = %v/%v, want MisPunch/WrongCourse", out.Kind, out.Severity)
	}
	if !reflect.DeepEqual(out.Extra, []int64{201, 202}) {
		t.Errorf("extra = %v", out.Extra)
	}
}

func TestExtraPunches(t *testing.T) {
	g := graph(t, &models.Course{CourseID: 1}, nil, 101, 102)
	in := finished(run(101, 150, 102), 20*time.Minute)

	if out := Validate(g, in, Policy{}); out.Kind != Valid || !reflect.DeepEqual(out.Extra, []int64{150}) {
		t.Errorf("extra punches allowed: %v extra=%v", out.Kind, out.Extra)
	}
	if out := Validate(g, in, Policy{NoExtraPunches: true}); out.Kind != MisPunch {
		t.Errorf("extra punches forbidden: kind = %v, want MisPunch", out.Kind)
	}
}

func TestDidNotStartAndFinish(t *testing.T) {
	g := graph(t, &models.Course{CourseID: 1}, nil, 101, 102)
	if out := Validate(g, Input{}, Policy{}); out.Kind != DidNotStart {
		t.Errorf("no punches: kind = %v", out.Kind)
	}
	start := t0
	if out := Validate(g, Input{Punches: run(101), Start: &start}, Policy{}); out.Kind != DidNotFinish {
		t.Errorf("no finish: kind = %v", out.Kind)
	}
	if out := Validate(g, Input{Start: &start}, Policy{}); out.Kind != DidNotStart {
		t.Errorf("planned start only: kind = %v, want DidNotStart", out.Kind)
	}
	if out := Validate(g, Input{Start: &start, StartPunched: true}, Policy{}); out.Kind != DidNotFinish {
		t.Errorf("start punched: kind = %v, want DidNotFinish", out.Kind)
	}
}

func TestOverTime(t *testing.T) {
	g := graph(t, &models.Course{CourseID: 1, TimeLimitSeconds: 3600}, nil, 101)
	if out := Validate(g, finished(run(101), 61*time.Minute), Policy{}); out.Kind != OverTime {
		t.Errorf("kind = %v, want OverTime", out.Kind)
	}
	in := finished(run(101), 61*time.Minute)
	in.Adjustment = 2 * time.Minute
	if out := Validate(g, in, Policy{}); out.Kind != Valid {
		t.Errorf("with adjustment: kind = %v, want Valid", out.Kind)
	}
	if out := Validate(g, finished(run(101), 61*time.Minute), Policy{TimeLimit: 2 * time.Hour}); out.Kind != Valid {
		t.Errorf("category limit: kind = %v, want Valid", out.Kind)
	}
}

func TestFreeSetAnyPermutation(t *testing.T) {
	free := map[int64]models.ControlKind{
		201: models.ControlFreeOrder,
		202: models.ControlFreeOrder,
		203: models.ControlFreeOrder,
		204: models.ControlFreeOrder,
	}
	g := graph(t, &models.Course{CourseID: 1, MinFreeControls: ptr(3)}, free, 101, 201, 202, 203, 204, 102)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 40; i++ {
		set := []int64{201, 202, 203, 204}
		rng.Shuffle(len(set), func(a, b int) { set[a], set[b] = set[b], set[a] })
		set = set[:3+rng.Intn(2)]
		ids := append(append([]int64{101}, set...), 102)
		out := Validate(g, finished(run(ids...), 40*time.Minute), Policy{})
		if out.Kind != Valid {
			t.Fatalf("punches %v: kind = %v missing=%v", ids, out.Kind, out.Missing)
		}
	}

	out := Validate(g, finished(run(101, 203, 201, 102), 40*time.Minute), Policy{})
	if out.Kind != MisPunch || out.Shortfall != 1 {
		t.Errorf("two of four: %v shortfall=%d", out.Kind, out.Shortfall)
	}
	if !reflect.DeepEqual(out.Missing, []int64{202, 204}) {
		t.Errorf("missing = %v", out.Missing)
	}
}

func TestFreeSetIgnoresForeignPunches(t *testing.T) {
	free := map[int64]models.ControlKind{201: models.ControlFreeOrder, 202: models.ControlFreeOrder}
	g := graph(t, &models.Course{CourseID: 1}, free, 201, 202, 102)
	out := Validate(g, finished(run(202, 999, 202, 201, 102), 20*time.Minute), Policy{})
	if out.Kind != Valid {
		t.Fatalf("kind = %v", out.Kind)
	}
	if !reflect.DeepEqual(out.Extra, []int64{999}) {
		t.Errorf("extra = %v, want [999]", out.Extra)
	}
	if out.Points != 30 {
		t.Errorf("points = %v, want 30", out.Points)
	}
}

func TestValidateDoesNotModifyInput(t *testing.T) {
	g := graph(t, &models.Course{CourseID: 1}, nil, 101, 102)
	ps := run(102, 101)
	before := append([]punch.Punch(nil), ps...)
	Validate(g, finished(ps, time.Hour), Policy{})
	if !reflect.DeepEqual(ps, before) {
		t.Error("input punches changed")
	}
}

func ptr[T any](v T) *T { return &v }
