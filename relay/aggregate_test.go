package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/padraicbc/orienteer/course"
	"github.com/padraicbc/orienteer/models"
	"github.com/padraicbc/orienteer/punch"
	"github.com/padraicbc/orienteer/result"
)

var t0 = time.Date(2024, 9, 21, 11, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := t0.Add(d)
	return &t
}

func legs(n int, maxRunners int) []*models.Leg {
	out := make([]*models.Leg, n)
	for i := range out {
		out[i] = &models.Leg{EventCategoryID: 1, LegNumber: i + 1, MinCompetitors: 1, MaxCompetitors: maxRunners}
	}
	return out
}

func simpleGraph(t *testing.T) *course.Graph {
	t.Helper()
	g, err := course.Build(&models.Course{CourseID: 1}, []*models.CourseControl{
		{CourseControlID: 1, CourseID: 1, ControlID: 101, Position: 1, Kind: models.ControlOrdered},
	})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func member(g *course.Graph, id int64, leg int, start *time.Time, finish time.Duration, controls ...int64) Member {
	var ps []punch.Punch
	for _, c := range controls {
		ps = append(ps, punch.Punch{ControlID: c, Time: t0.Add(finish - time.Minute)})
	}
	return Member{
		CompetitorStartID: id,
		LegNumber:         leg,
		LegOrder:          1,
		Graph:             g,
		Punches:           ps,
		Times:             result.Times{Start: start, Finish: at(finish)},
	}
}

func TestThreeLegRelay(t *testing.T) {
	g := simpleGraph(t)
	members := []Member{
		member(g, 3, 3, nil, 95*time.Minute, 101),
		member(g, 1, 1, at(0), 30*time.Minute, 101),
		member(g, 2, 2, nil, 65*time.Minute, 101),
	}
	team, err := Aggregate(10, legs(3, 1), members, Policy{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if team.Status != models.StatusOK {
		t.Fatalf("status = %s", team.Status)
	}
	if *team.Elapsed != 95*time.Minute {
		t.Errorf("team elapsed = %v, want 95m", *team.Elapsed)
	}
	if !team.Legs[1].Start.Equal(t0.Add(30*time.Minute)) || !team.Legs[2].HandoffIn.Equal(t0.Add(65*time.Minute)) {
		t.Errorf("handoffs: leg2 start %v, leg3 handoff %v", team.Legs[1].Start, team.Legs[2].HandoffIn)
	}
	if got := *team.Legs[1].Competitors[0].Elapsed; got != 35*time.Minute {
		t.Errorf("leg 2 runner elapsed = %v, want 35m", got)
	}
	if team.Legs[0].Competitors[0].StartID != 10 {
		t.Errorf("competitor result start id = %d", team.Legs[0].Competitors[0].StartID)
	}
}

func TestWorstStatusPropagates(t *testing.T) {
	g := simpleGraph(t)
	members := []Member{
		member(g, 1, 1, at(0), 30*time.Minute, 101),
		member(g, 2, 2, nil, 65*time.Minute, 999), // mispunch
		member(g, 3, 3, nil, 95*time.Minute, 101),
	}
	team, err := Aggregate(10, legs(3, 1), members, Policy{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if team.Status != models.StatusDisqualified {
		t.Errorf("status = %s, want Disqualified", team.Status)
	}
	if team.Legs[2].Status != models.StatusOK || team.Legs[2].Finish == nil {
		t.Errorf("leg 3 not computed: %+v", team.Legs[2])
	}
	if *team.Elapsed != 95*time.Minute {
		t.Errorf("elapsed = %v", *team.Elapsed)
	}
}

func TestSumLegTimes(t *testing.T) {
	g := simpleGraph(t)
	members := []Member{
		member(g, 1, 1, at(0), 20*time.Minute, 101),
		// Second sprint has its own start after a break.
		member(g, 2, 2, at(60*time.Minute), 82*time.Minute, 101),
	}
	members[1].Times.Adjustment = time.Minute
	team, err := Aggregate(10, legs(2, 1), members, Policy{SumLegTimes: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if *team.Elapsed != 41*time.Minute {
		t.Errorf("elapsed = %v, want 41m", *team.Elapsed)
	}
}

func TestParallelRunners(t *testing.T) {
	g := simpleGraph(t)
	members := []Member{
		member(g, 1, 1, at(0), 40*time.Minute, 101),
		member(g, 2, 1, at(0), 35*time.Minute, 101),
		member(g, 3, 2, nil, 70*time.Minute, 101),
	}
	members[1].LegOrder = 2

	team, _ := Aggregate(10, legs(2, 2), members, Policy{Handoff: Slowest}, nil)
	if !team.Legs[1].HandoffIn.Equal(t0.Add(40 * time.Minute)) {
		t.Errorf("slowest handoff = %v", team.Legs[1].HandoffIn)
	}

	team, _ = Aggregate(10, legs(2, 2), members, Policy{Handoff: Fastest}, nil)
	if !team.Legs[1].HandoffIn.Equal(t0.Add(35 * time.Minute)) {
		t.Errorf("fastest handoff = %v", team.Legs[1].HandoffIn)
	}
}

func TestIncompleteLeg(t *testing.T) {
	g := simpleGraph(t)
	running := member(g, 2, 2, nil, 0, 101)
	running.Times.Finish = nil
	members := []Member{member(g, 1, 1, at(0), 30*time.Minute, 101), running}

	ls := legs(3, 1)
	team, err := Aggregate(10, ls, members, Policy{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if team.Legs[1].Complete || team.Legs[1].Status != models.StatusDidNotFinish {
		t.Errorf("leg 2 = %+v", team.Legs[1])
	}
	if team.Legs[2].Status != models.StatusDidNotStart {
		t.Errorf("empty leg 3 status = %s", team.Legs[2].Status)
	}
	if team.Status != models.StatusDidNotStart || team.Elapsed != nil {
		t.Errorf("team = %s %v", team.Status, team.Elapsed)
	}
}

func TestLegConfigErrors(t *testing.T) {
	bad := []*models.Leg{{EventCategoryID: 4, LegNumber: 1, MinCompetitors: 1, MaxCompetitors: 1}, {EventCategoryID: 4, LegNumber: 3, MinCompetitors: 1, MaxCompetitors: 1}}
	_, err := Aggregate(1, bad, nil, Policy{}, nil)
	var lce *LegConfigError
	if !errors.As(err, &lce) || lce.EventCategoryID != 4 {
		t.Fatalf("err = %v, want LegConfigError", err)
	}
	if _, err := ParseHandoff("slowest-ish"); err == nil {
		t.Error("expected an error for an unknown handoff rule")
	}
}
