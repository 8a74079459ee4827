// Package standings recomputes category results and publishes rankings.
package standings

import (
	"errors"
	"fmt"
	"time"

	"github.com/padraicbc/orienteer/course"
	"github.com/padraicbc/orienteer/models"
	"github.com/padraicbc/orienteer/punch"
	"github.com/padraicbc/orienteer/relay"
	"github.com/padraicbc/orienteer/result"
	"github.com/padraicbc/orienteer/validate"
)

// Snapshot is everything needed to compute one category. It is treated as
// immutable once loaded.
type Snapshot struct {
	Event         *models.Event
	Race          *models.Race
	EventCategory *models.EventCategory
	Category      *models.Category
	// Courses by id, with their controls loaded.
	Courses map[int64]*models.Course
	// Starts with competitor starts and competitors loaded.
	Starts []*models.Start
	// Previous holds the last committed competitor results by competitor
	// start id.
	Previous map[int64]*models.CompetitorResult
}

// Options are the race wide settings of a computation.
type Options struct {
	Relay             relay.Policy
	NoExtraPunches    bool
	PenaltyPerMissing float64
	PenaltyPerMinute  float64
}

// Punches returns the reconciled punch sequence of a competitor start.
type Punches interface {
	Sequence(competitorStartID int64) []punch.Punch
}

// Compute evaluates every start of the snapshot and ranks the results.
// Course errors fail the whole category; everything else only degrades the
// result of the start it belongs to.
func Compute(snap *Snapshot, punches Punches, graphs *course.Cache, opts Options) ([]*models.Result, error) {
	c := computer{snap: snap, punches: punches, graphs: graphs, opts: opts}

	team := snap.Event != nil && snap.Event.Form != models.FormIndividual
	if snap.EventCategory != nil && len(snap.EventCategory.Legs) > 0 {
		team = true
	}

	results := make([]*models.Result, 0, len(snap.Starts))
	for _, st := range snap.Starts {
		var (
			r   *models.Result
			err error
		)
		if team {
			r, err = c.team(st)
		} else {
			r, err = c.solo(st)
		}
		if err != nil {
			return nil, err
		}
		if !st.Competitive && r.Status != models.StatusDidNotStart {
			r.Status = models.StatusNotCompeting
		}
		results = append(results, r)
	}
	return result.Rank(results, c.score), nil
}

type computer struct {
	snap    *Snapshot
	punches Punches
	graphs  *course.Cache
	opts    Options
	score   bool
}

func (c *computer) graph(leg int) (*course.Graph, error) {
	cat := c.snap.Category
	id, ok := cat.CourseFor(leg)
	if !ok && leg != 0 {
		id, ok = cat.CourseFor(0)
	}
	if !ok {
		return nil, fmt.Errorf("category %d has no course for leg %d", cat.CategoryID, leg)
	}
	crs, ok := c.snap.Courses[id]
	if !ok {
		return nil, fmt.Errorf("category %d: course %d not loaded", cat.CategoryID, id)
	}
	g, err := c.graphs.Get(crs)
	if err != nil {
		return nil, err
	}
	if g.Score {
		c.score = true
	}
	return g, nil
}

// planned is the category first start plus both start offsets.
func (c *computer) planned(st *models.Start, cs *models.CompetitorStart) *time.Time {
	first := c.snap.Category.FirstStart
	if first == nil {
		return nil
	}
	t := first.Add(st.TimeOffset + cs.TimeOffset)
	return &t
}

func (c *computer) scoring(g *course.Graph) result.Scoring {
	return result.Scoring{
		Score:             g.Score,
		PenaltyPerMissing: c.opts.PenaltyPerMissing,
		PenaltyPerMinute:  c.opts.PenaltyPerMinute,
		TimeLimit:         g.TimeLimit,
	}
}

func (c *computer) solo(st *models.Start) (*models.Result, error) {
	if len(st.CompetitorStarts) != 1 {
		// Several people running together without legs are a team of one
		// leg that finishes with its last runner.
		return c.aggregate(st, []*models.Leg{{
			EventCategoryID: c.snap.Category.EventCategoryID,
			LegNumber:       1,
			MinCompetitors:  1,
			MaxCompetitors:  max(1, len(st.CompetitorStarts)),
		}}, true)
	}

	cs := st.CompetitorStarts[0]
	g, err := c.graph(0)
	if err != nil {
		return nil, err
	}
	t := result.Times{Start: cs.StartTime, Finish: cs.FinishTime, Adjustment: cs.TimeAdjustment}
	if t.Start == nil {
		t.Start = c.planned(st, cs)
	}
	o := validate.Validate(g, validate.Input{
		Punches:      c.punches.Sequence(cs.CompetitorStartID),
		Start:        t.Start,
		Finish:       t.Finish,
		Adjustment:   t.Adjustment,
		StartPunched: cs.StartTime != nil,
	}, validate.Policy{NoExtraPunches: c.opts.NoExtraPunches})

	cr, err := result.Compute(cs.CompetitorStartID, st.StartID, o, t, c.scoring(g))
	if errors.Is(err, result.ErrIncomplete) {
		cr = result.Carry(c.snap.Previous[cs.CompetitorStartID], cr)
	}
	return &models.Result{
		StartID:     st.StartID,
		CategoryID:  c.snap.Category.CategoryID,
		StartTime:   cr.StartTime,
		FinishTime:  cr.FinishTime,
		Elapsed:     cr.Elapsed,
		Score:       cr.Score,
		Status:      cr.Status,
		Incomplete:  cr.Incomplete,
		Competitors: []*models.CompetitorResult{&cr},
	}, nil
}

func (c *computer) team(st *models.Start) (*models.Result, error) {
	var legs []*models.Leg
	if c.snap.EventCategory != nil {
		legs = c.snap.EventCategory.Legs
	}
	if len(legs) == 0 {
		return c.solo(st)
	}
	return c.aggregate(st, legs, false)
}

// aggregate runs the relay aggregation. With flat set every competitor
// start runs leg 1.
func (c *computer) aggregate(st *models.Start, legs []*models.Leg, flat bool) (*models.Result, error) {
	members := make([]relay.Member, 0, len(st.CompetitorStarts))
	for _, cs := range st.CompetitorStarts {
		leg, order := 1, 1
		if !flat && cs.Competitor != nil {
			leg, order = cs.Competitor.LegNumber, cs.Competitor.LegOrder
		}
		g, err := c.graph(leg)
		if err != nil {
			return nil, err
		}
		t := result.Times{Start: cs.StartTime, Finish: cs.FinishTime, Adjustment: cs.TimeAdjustment}
		// Later legs start with the handoff unless they were restarted.
		if t.Start == nil && leg == 1 {
			t.Start = c.planned(st, cs)
		}
		members = append(members, relay.Member{
			CompetitorStartID: cs.CompetitorStartID,
			LegNumber:         leg,
			LegOrder:          order,
			Graph:             g,
			Punches:           c.punches.Sequence(cs.CompetitorStartID),
			Times:             t,
			StartPunched:      cs.StartTime != nil,
			Policy:            validate.Policy{NoExtraPunches: c.opts.NoExtraPunches},
			Scoring:           c.scoring(g),
		})
	}

	team, err := relay.Aggregate(st.StartID, legs, members, c.opts.Relay, c.snap.Previous)
	if err != nil {
		return nil, err
	}

	r := &models.Result{
		StartID:    st.StartID,
		CategoryID: c.snap.Category.CategoryID,
		StartTime:  team.Start,
		FinishTime: team.Finish,
		Elapsed:    team.Elapsed,
		Status:     team.Status,
	}
	var score float64
	scored := false
	for _, lr := range team.Legs {
		for i := range lr.Competitors {
			cr := &lr.Competitors[i]
			if cr.Incomplete {
				r.Incomplete = true
			}
			if cr.Score != nil {
				score += *cr.Score
				scored = true
			}
			r.Competitors = append(r.Competitors, cr)
		}
	}
	if scored {
		r.Score = &score
	}
	return r, nil
}
