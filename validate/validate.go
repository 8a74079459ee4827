// Package validate replays a reconciled punch sequence against a course
// graph and classifies the run.
package validate

import (
	"time"

	"github.com/padraicbc/orienteer/course"
	"github.com/padraicbc/orienteer/punch"
)

// Kind is the classification of a run.
type Kind int

const (
	Valid Kind = iota
	MisPunch
	DidNotStart
	DidNotFinish
	OverTime
)

func (k Kind) String() string {
	switch k {
	case Valid:
		return "Valid"
	case MisPunch:
		return "MisPunch"
	case DidNotStart:
		return "DidNotStart"
	case DidNotFinish:
		return "DidNotFinish"
	case OverTime:
		return "OverTime"
	}
	return "Unknown"
}

// Severity grades a MisPunch.
type Severity int

const (
	None Severity = iota
	Minor
	// WrongCourse means fewer than half of the required controls matched.
	WrongCourse
)

// Input is what is known about one run.
type Input struct {
	Punches    []punch.Punch
	Start      *time.Time
	Finish     *time.Time
	Adjustment time.Duration
	// StartPunched is set when Start was recorded by a start punch rather
	// than taken from the start list.
	StartPunched bool
}

// Policy overrides course settings for a category. Zero values keep the
// course's own settings.
type Policy struct {
	TimeLimit      time.Duration
	NoExtraPunches bool
}

// Outcome is the result of a validation. Missing and Extra are reported
// for every kind so partial runs can still be shown.
type Outcome struct {
	Kind     Kind
	Severity Severity
	Missing  []int64
	Extra    []int64
	// Shortfall counts required controls not punched. For free-order
	// segments with a minimum it can be lower than len(Missing).
	Shortfall int
	Matched   []punch.Punch
	Points    float64
	Elapsed   *time.Duration
}

// Validate aligns the punches with the segments of g. It does not modify
// its inputs.
//
// The alignment keeps as many punches as possible in course order, like a
// longest common subsequence in which a free-order segment matches any
// block of punches and counts its distinct members. Course controls left
// unmatched are missing and punches left unmatched are extra, so a
// forgotten or swapped control costs one control and not the rest of the
// run. Repeats of a free-order member inside its block are ignored.
func Validate(g *course.Graph, in Input, p Policy) Outcome {
	var out Outcome
	noExtra := g.NoExtraPunches || p.NoExtraPunches
	limit := g.TimeLimit
	if p.TimeLimit > 0 {
		limit = p.TimeLimit
	}

	if in.Start != nil && in.Finish != nil {
		e := in.Finish.Sub(*in.Start) - in.Adjustment
		out.Elapsed = &e
	}

	punches := in.Punches
	segs := g.Segments
	best := align(segs, punches)
	used := make([]bool, len(punches))

	s, i := 0, 0
	for s < len(segs) {
		seg := segs[s]
		switch seg.Kind {
		case course.Fixed:
			want := seg.Controls[0]
			switch {
			case i < len(punches) && punches[i].ControlID == want && best[s][i] == 1+best[s+1][i+1]:
				used[i] = true
				out.Matched = append(out.Matched, punches[i])
				out.Points += seg.Scores[want]
				s, i = s+1, i+1
			case i < len(punches) && best[s][i] == best[s][i+1]:
				i++
			default:
				if seg.Required > 0 {
					out.Missing = append(out.Missing, want)
					out.Shortfall++
				}
				s++
			}

		case course.FreeSet:
			end := blockEnd(seg, punches, i, best[s][i], best[s+1])
			visited := map[int64]bool{}
			for k := i; k < end; k++ {
				c := punches[k].ControlID
				if !seg.Contains(c) {
					continue
				}
				used[k] = true
				if !visited[c] {
					visited[c] = true
					out.Matched = append(out.Matched, punches[k])
					out.Points += seg.Scores[c]
				}
			}
			if len(visited) < seg.Required {
				out.Shortfall += seg.Required - len(visited)
				for _, c := range seg.Controls {
					if !visited[c] {
						out.Missing = append(out.Missing, c)
					}
				}
			}
			s, i = s+1, end
		}
	}
	for k, x := range punches {
		if !used[k] {
			out.Extra = append(out.Extra, x.ControlID)
		}
	}

	if out.Shortfall > 0 {
		out.Severity = Minor
		if req := g.Required(); req > 0 && 2*(req-out.Shortfall) < req {
			out.Severity = WrongCourse
		}
	}

	switch {
	case len(punches) == 0 && in.Finish == nil && !in.StartPunched:
		out.Kind = DidNotStart
	case in.Finish == nil:
		out.Kind = DidNotFinish
	case out.Shortfall > 0 || (noExtra && len(out.Extra) > 0):
		out.Kind = MisPunch
		if out.Severity == None {
			out.Severity = Minor
		}
	case limit > 0 && out.Elapsed != nil && *out.Elapsed > limit:
		out.Kind = OverTime
	default:
		out.Kind = Valid
	}
	return out
}

// align returns best, where best[s][i] is the most controls segments s..
// can match against punches i.. in order.
func align(segs []course.Segment, punches []punch.Punch) [][]int {
	n, m := len(segs), len(punches)
	best := make([][]int, n+1)
	for s := range best {
		best[s] = make([]int, m+1)
	}
	for s := n - 1; s >= 0; s-- {
		seg := segs[s]
		switch seg.Kind {
		case course.Fixed:
			want := seg.Controls[0]
			best[s][m] = best[s+1][m]
			for i := m - 1; i >= 0; i-- {
				v := max(best[s+1][i], best[s][i+1])
				if punches[i].ControlID == want {
					v = max(v, 1+best[s+1][i+1])
				}
				best[s][i] = v
			}
		case course.FreeSet:
			for i := m; i >= 0; i-- {
				visited := map[int64]bool{}
				v := best[s+1][i]
				for j := i; j < m; j++ {
					if c := punches[j].ControlID; seg.Contains(c) {
						visited[c] = true
					}
					v = max(v, len(visited)+best[s+1][j+1])
				}
				best[s][i] = v
			}
		}
	}
	return best
}

// blockEnd is the end of the longest block of punches from i that a free
// set can take while the alignment stays at want.
func blockEnd(seg course.Segment, punches []punch.Punch, i, want int, next []int) int {
	visited := map[int64]bool{}
	end := i
	for j := i; j < len(punches); j++ {
		if c := punches[j].ControlID; seg.Contains(c) {
			visited[c] = true
		}
		if len(visited)+next[j+1] == want {
			end = j + 1
		}
	}
	return end
}
