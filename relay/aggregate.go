// Package relay chains leg results of relay and team starts into a team
// result.
package relay

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/padraicbc/orienteer/course"
	"github.com/padraicbc/orienteer/models"
	"github.com/padraicbc/orienteer/punch"
	"github.com/padraicbc/orienteer/result"
	"github.com/padraicbc/orienteer/validate"
)

// Handoff selects which runner of a multi-runner leg hands over.
type Handoff int

const (
	// Slowest waits until every runner of the leg has finished.
	Slowest Handoff = iota
	// Fastest hands over with the first runner to finish.
	Fastest
)

// ParseHandoff reads "slowest" or "fastest".
func ParseHandoff(s string) (Handoff, error) {
	switch s {
	case "", "slowest":
		return Slowest, nil
	case "fastest":
		return Fastest, nil
	}
	return Slowest, fmt.Errorf("unknown handoff rule %q", s)
}

// Policy configures the aggregation of one category.
type Policy struct {
	Handoff Handoff
	// SumLegTimes makes the team time the sum of the leg times instead of
	// last finish minus first start (e.g. a double sprint).
	SumLegTimes bool
}

// Member is one competitor start of a team with everything needed to
// validate and compute its result.
type Member struct {
	CompetitorStartID int64
	LegNumber         int
	LegOrder          int
	Graph             *course.Graph
	Punches           []punch.Punch
	Times             result.Times
	StartPunched      bool
	Policy            validate.Policy
	Scoring           result.Scoring
}

// LegResult is the outcome of one leg.
type LegResult struct {
	LegNumber int
	Status    models.ResultStatus
	// HandoffIn is the finish of the previous leg.
	HandoffIn *time.Time
	Start     *time.Time
	Finish    *time.Time
	Elapsed   *time.Duration
	// Complete is set once every required runner has a finish time.
	Complete    bool
	Competitors []models.CompetitorResult
}

// TeamResult is the outcome of a team start.
type TeamResult struct {
	StartID int64
	Status  models.ResultStatus
	Start   *time.Time
	Finish  *time.Time
	Elapsed *time.Duration
	Legs    []LegResult
}

// LegConfigError reports legs that can not be aggregated.
type LegConfigError struct {
	EventCategoryID int64
	Reason          string
}

func (e *LegConfigError) Error() string {
	return fmt.Sprintf("legs of event category %d: %s", e.EventCategoryID, e.Reason)
}

// CheckLegs verifies that leg numbers run from 1 without gaps and that the
// competitor bounds are consistent. It returns the legs sorted by number.
func CheckLegs(legs []*models.Leg) ([]*models.Leg, error) {
	if len(legs) == 0 {
		return nil, &LegConfigError{Reason: "no legs"}
	}
	sorted := append([]*models.Leg(nil), legs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LegNumber < sorted[j].LegNumber })
	for i, l := range sorted {
		if l.LegNumber != i+1 {
			return nil, &LegConfigError{EventCategoryID: l.EventCategoryID, Reason: fmt.Sprintf("expected leg %d, found leg %d", i+1, l.LegNumber)}
		}
		if l.MinCompetitors < 0 || l.MaxCompetitors < l.MinCompetitors {
			return nil, &LegConfigError{EventCategoryID: l.EventCategoryID, Reason: fmt.Sprintf("leg %d allows %d to %d competitors", l.LegNumber, l.MinCompetitors, l.MaxCompetitors)}
		}
	}
	return sorted, nil
}

// Aggregate computes every member result in leg order and derives the team
// result. A runner without a start time starts at the handoff of the
// previous leg. A failing leg does not stop later legs from being computed;
// the team gets the worst status of all legs. prev holds the last committed
// results and is used when a member can not be computed.
func Aggregate(startID int64, legs []*models.Leg, members []Member, p Policy, prev map[int64]*models.CompetitorResult) (TeamResult, error) {
	legs, err := CheckLegs(legs)
	if err != nil {
		return TeamResult{}, err
	}

	byLeg := map[int][]Member{}
	for _, m := range members {
		byLeg[m.LegNumber] = append(byLeg[m.LegNumber], m)
	}

	team := TeamResult{StartID: startID, Status: models.StatusOK}
	var (
		handoff *time.Time
		sum     time.Duration
		summed  = true
	)
	for _, leg := range legs {
		runners := byLeg[leg.LegNumber]
		sort.Slice(runners, func(i, j int) bool {
			if runners[i].LegOrder != runners[j].LegOrder {
				return runners[i].LegOrder < runners[j].LegOrder
			}
			return runners[i].CompetitorStartID < runners[j].CompetitorStartID
		})

		lr := computeLeg(startID, leg, runners, handoff, p.Handoff, prev)
		team.Legs = append(team.Legs, lr)

		if lr.Status.Worse(team.Status) {
			team.Status = lr.Status
		}
		if team.Start == nil {
			team.Start = lr.Start
		}
		if lr.Elapsed != nil {
			sum += *lr.Elapsed
		} else {
			summed = false
		}
		handoff = lr.Finish
	}

	last := team.Legs[len(team.Legs)-1]
	team.Finish = last.Finish
	switch {
	case p.SumLegTimes && summed:
		team.Elapsed = &sum
	case !p.SumLegTimes && team.Start != nil && team.Finish != nil:
		e := team.Finish.Sub(*team.Start)
		team.Elapsed = &e
	}
	if team.Status == models.StatusOK && team.Elapsed == nil {
		team.Status = models.StatusDidNotFinish
	}
	return team, nil
}

func computeLeg(startID int64, leg *models.Leg, runners []Member, handoff *time.Time, rule Handoff, prev map[int64]*models.CompetitorResult) LegResult {
	lr := LegResult{LegNumber: leg.LegNumber, Status: models.StatusOK, HandoffIn: handoff}

	switch n := len(runners); {
	case n == 0 && leg.MinCompetitors == 0:
		// Optional leg without runners passes the handoff through.
		lr.Finish = handoff
		lr.Complete = true
		zero := time.Duration(0)
		lr.Elapsed = &zero
		return lr
	case n < leg.MinCompetitors:
		lr.Status = models.StatusDidNotStart
	case n > leg.MaxCompetitors:
		lr.Status = models.StatusDisqualified
	}

	finished, decisive := 0, -1
	for _, m := range runners {
		t := m.Times
		if t.Start == nil && handoff != nil {
			h := *handoff
			t.Start = &h
		}
		o := validate.Validate(m.Graph, validate.Input{
			Punches:      m.Punches,
			Start:        t.Start,
			Finish:       t.Finish,
			Adjustment:   t.Adjustment,
			StartPunched: m.StartPunched,
		}, m.Policy)
		r, err := result.Compute(m.CompetitorStartID, startID, o, t, m.Scoring)
		if errors.Is(err, result.ErrIncomplete) {
			r = result.Carry(prev[m.CompetitorStartID], r)
		}
		lr.Competitors = append(lr.Competitors, r)

		if r.Status.Worse(lr.Status) {
			lr.Status = r.Status
		}
		if r.StartTime != nil && (lr.Start == nil || r.StartTime.Before(*lr.Start)) {
			lr.Start = r.StartTime
		}
		if r.FinishTime == nil {
			continue
		}
		finished++
		if decisive < 0 ||
			(rule == Slowest && r.FinishTime.After(*lr.Competitors[decisive].FinishTime)) ||
			(rule == Fastest && r.FinishTime.Before(*lr.Competitors[decisive].FinishTime)) {
			decisive = len(lr.Competitors) - 1
		}
	}

	lr.Complete = len(runners) >= leg.MinCompetitors && finished == len(runners)
	if decisive >= 0 && (lr.Complete || rule == Fastest) {
		lr.Finish = lr.Competitors[decisive].FinishTime
		lr.Elapsed = lr.Competitors[decisive].Elapsed
	}
	return lr
}
