// Package result turns validation outcomes into competitor results and
// ranks the results of a category.
package result

import (
	"errors"
	"math"
	"time"

	"github.com/padraicbc/orienteer/models"
	"github.com/padraicbc/orienteer/validate"
)

// ErrIncomplete is returned when a finished run has no start time. The
// caller keeps the previous result and flags it incomplete.
var ErrIncomplete = errors.New("result: finish recorded without a start time")

// Times are the recorded times of one run.
type Times struct {
	Start      *time.Time
	Finish     *time.Time
	Adjustment time.Duration
}

// Elapsed is finish minus start minus the official adjustment.
func (t Times) Elapsed() (time.Duration, bool) {
	if t.Start == nil || t.Finish == nil {
		return 0, false
	}
	return t.Finish.Sub(*t.Start) - t.Adjustment, true
}

// Scoring configures score courses. With Score unset a MisPunch
// disqualifies and overtime is its own status.
type Scoring struct {
	Score             bool
	PenaltyPerMissing float64
	PenaltyPerMinute  float64
	TimeLimit         time.Duration
}

// Compute derives the result of one competitor start.
func Compute(competitorStartID, startID int64, o validate.Outcome, t Times, s Scoring) (models.CompetitorResult, error) {
	r := models.CompetitorResult{
		CompetitorStartID: competitorStartID,
		StartID:           startID,
		StartTime:         t.Start,
		FinishTime:        t.Finish,
		TimeAdjustment:    t.Adjustment,
		Missing:           o.Missing,
		Extra:             o.Extra,
	}
	for _, p := range o.Matched {
		r.Splits = append(r.Splits, models.Split{ControlID: p.ControlID, Time: p.Time})
	}

	if t.Finish != nil && t.Start == nil && o.Kind != validate.DidNotStart {
		return r, ErrIncomplete
	}
	if e, ok := t.Elapsed(); ok {
		r.Elapsed = &e
	}

	switch o.Kind {
	case validate.Valid:
		r.Status = models.StatusOK
	case validate.MisPunch:
		r.Status = models.StatusDisqualified
	case validate.DidNotStart:
		r.Status = models.StatusDidNotStart
	case validate.DidNotFinish:
		r.Status = models.StatusDidNotFinish
	case validate.OverTime:
		r.Status = models.StatusOverTime
	}

	if s.Score && (o.Kind == validate.Valid || o.Kind == validate.MisPunch || o.Kind == validate.OverTime) {
		points := o.Points - s.PenaltyPerMissing*float64(o.Shortfall)
		if s.TimeLimit > 0 && r.Elapsed != nil && *r.Elapsed > s.TimeLimit {
			over := math.Ceil((*r.Elapsed - s.TimeLimit).Minutes())
			points -= s.PenaltyPerMinute * over
		}
		r.Score = &points
		r.Status = models.StatusOK
	}
	return r, nil
}

// Carry returns the previous result marked incomplete, or a fresh
// incomplete result when there was none.
func Carry(prev *models.CompetitorResult, failed models.CompetitorResult) models.CompetitorResult {
	if prev == nil {
		failed.Status = models.StatusActive
		failed.Elapsed = nil
		failed.Incomplete = true
		return failed
	}
	kept := *prev
	kept.Incomplete = true
	return kept
}
