package result

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/padraicbc/orienteer/models"
	"github.com/padraicbc/orienteer/validate"
)

var t0 = time.Date(2024, 5, 11, 10, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := t0.Add(d)
	return &t
}

func TestComputeStatusMapping(t *testing.T) {
	times := Times{Start: at(0), Finish: at(42 * time.Minute), Adjustment: 2 * time.Minute}
	tests := []struct {
		kind validate.Kind
		want models.ResultStatus
	}{
		{validate.Valid, models.StatusOK},
		{validate.MisPunch, models.StatusDisqualified},
		{validate.DidNotFinish, models.StatusDidNotFinish},
		{validate.OverTime, models.StatusOverTime},
	}
	for _, tt := range tests {
		r, err := Compute(1, 1, validate.Outcome{Kind: tt.kind}, times, Scoring{})
		if err != nil {
			t.Fatalf("%v: %v", tt.kind, err)
		}
		if r.Status != tt.want {
			t.Errorf("%v: status = %s, want %s", tt.kind, r.Status, tt.want)
		}
		if *r.Elapsed != 40*time.Minute {
			t.Errorf("%v: elapsed = %v, want 40m", tt.kind, *r.Elapsed)
		}
	}

	r, err := Compute(1, 1, validate.Outcome{Kind: validate.DidNotStart}, Times{}, Scoring{})
	if err != nil || r.Status != models.StatusDidNotStart || r.Elapsed != nil {
		t.Errorf("DNS: %+v %v", r, err)
	}
}

func TestComputeMissingStart(t *testing.T) {
	_, err := Compute(1, 1, validate.Outcome{Kind: validate.Valid}, Times{Finish: at(time.Hour)}, Scoring{})
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("err = %v, want ErrIncomplete", err)
	}

	elapsed := 30 * time.Minute
	prev := &models.CompetitorResult{CompetitorStartID: 1, Status: models.StatusOK, Elapsed: &elapsed}
	kept := Carry(prev, models.CompetitorResult{CompetitorStartID: 1})
	if !kept.Incomplete || kept.Status != models.StatusOK || *kept.Elapsed != elapsed {
		t.Errorf("carried = %+v", kept)
	}
	if prev.Incomplete {
		t.Error("previous result modified")
	}
	fresh := Carry(nil, models.CompetitorResult{CompetitorStartID: 1})
	if !fresh.Incomplete || fresh.Status != models.StatusActive {
		t.Errorf("fresh = %+v", fresh)
	}
}

func TestComputeScore(t *testing.T) {
	s := Scoring{Score: true, PenaltyPerMissing: 5, PenaltyPerMinute: 2, TimeLimit: time.Hour}
	o := validate.Outcome{Kind: validate.MisPunch, Points: 100, Shortfall: 1}
	r, err := Compute(1, 1, o, Times{Start: at(0), Finish: at(62*time.Minute + 10*time.Second)}, s)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.StatusOK {
		t.Errorf("status = %s, want OK", r.Status)
	}
	// 100 - 5 for the missing control - 3 started minutes over * 2
	if *r.Score != 89 {
		t.Errorf("score = %v, want 89", *r.Score)
	}
}

func res(id int64, status models.ResultStatus, minutes int) *models.Result {
	r := &models.Result{StartID: id, Status: status}
	if minutes > 0 {
		e := time.Duration(minutes) * time.Minute
		r.Elapsed = &e
	}
	return r
}

func TestRankTies(t *testing.T) {
	in := []*models.Result{
		res(1, models.StatusOK, 40),
		res(2, models.StatusDisqualified, 30),
		res(3, models.StatusOK, 35),
		res(4, models.StatusOK, 35),
		res(5, models.StatusOK, 50),
		res(6, models.StatusDidNotStart, 0),
	}
	out := Rank(in, false)

	want := []struct {
		id  int64
		pos int
	}{{3, 1}, {4, 1}, {1, 3}, {5, 4}, {2, 0}, {6, 0}}
	for i, w := range want {
		if out[i].StartID != w.id || out[i].Position != w.pos {
			t.Errorf("out[%d] = start %d pos %d, want start %d pos %d", i, out[i].StartID, out[i].Position, w.id, w.pos)
		}
	}
	for _, r := range in {
		if r.Position != 0 {
			t.Fatal("input modified")
		}
	}
}

func TestRankScore(t *testing.T) {
	mk := func(id int64, score float64, minutes int) *models.Result {
		r := res(id, models.StatusOK, minutes)
		r.Score = &score
		return r
	}
	out := Rank([]*models.Result{mk(1, 80, 50), mk(2, 90, 59), mk(3, 80, 45), mk(4, 80, 45)}, true)
	want := []struct {
		id  int64
		pos int
	}{{2, 1}, {3, 2}, {4, 2}, {1, 4}}
	for i, w := range want {
		if out[i].StartID != w.id || out[i].Position != w.pos {
			t.Errorf("out[%d] = start %d pos %d, want start %d pos %d", i, out[i].StartID, out[i].Position, w.id, w.pos)
		}
	}
}

func TestRankIsTotalPreorder(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	statuses := []models.ResultStatus{models.StatusOK, models.StatusOK, models.StatusOK, models.StatusDisqualified, models.StatusDidNotFinish}
	var in []*models.Result
	for i := 0; i < 60; i++ {
		in = append(in, res(int64(i+1), statuses[rng.Intn(len(statuses))], 30+rng.Intn(10)))
	}
	out := Rank(in, false)

	for i := 1; i < len(out); i++ {
		a, b := out[i-1], out[i]
		if before(b, a, false) {
			t.Fatalf("start %d sorted before %d", a.StartID, b.StartID)
		}
		if a.Position > 0 && b.Position > 0 {
			if tied(a, b, false) != (a.Position == b.Position) {
				t.Fatalf("tie mismatch between %d and %d", a.StartID, b.StartID)
			}
		}
	}

	// Shuffled input gives the same ranking.
	rng.Shuffle(len(in), func(i, j int) { in[i], in[j] = in[j], in[i] })
	again := Rank(in, false)
	for i := range out {
		if out[i].StartID != again[i].StartID || out[i].Position != again[i].Position {
			t.Fatalf("ranking depends on input order at %d", i)
		}
	}
}
