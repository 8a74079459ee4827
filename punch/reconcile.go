// Package punch merges raw read-out punches from independent sources into
// one ordered, de-duplicated punch sequence per competitor start.
package punch

import (
	"fmt"
	"sort"
	"time"

	"github.com/padraicbc/orienteer/models"
)

// Punch is a reconciled punch: one physical punch confirmed by one or more
// read-out sources.
type Punch struct {
	ControlID int64     `json:"controlID"`
	Time      time.Time `json:"time"`
	Sources   []string  `json:"sources"`
}

// Confirmations is the number of distinct sources that delivered the punch.
func (p Punch) Confirmations() int { return len(p.Sources) }

// ReconciliationConflict records reads of one physical punch that disagree
// on the time. The earliest (or already finalized) time is kept.
type ReconciliationConflict struct {
	ControlID int64
	Kept      time.Time
	Discarded []time.Time
	Sources   []string
}

func (c ReconciliationConflict) Error() string {
	return fmt.Sprintf("control %d read %d times with different times, kept %s",
		c.ControlID, len(c.Discarded)+1, c.Kept.Format(time.RFC3339Nano))
}

type rawKey struct {
	control int64
	time    int64
	source  string
}

type cluster struct {
	anchor  time.Time
	pinned  bool
	times   map[int64]struct{}
	sources map[string]struct{}
}

// Reconcile folds raw punches into a sequence ordered by time. Reads of the
// same control within tolerance of a cluster's first read are one punch.
// Pinned punches (already finalized against a printed result) keep their
// time; later reads inside their window only add confirmations.
//
// The result depends only on the multiset of raw punches and the pinned
// punches, never on their order, and reconciling the output again yields
// the same output.
func Reconcile(raw []models.Punch, tolerance time.Duration, pinned ...Punch) ([]Punch, []ReconciliationConflict) {
	seen := make(map[rawKey]struct{}, len(raw))
	uniq := make([]models.Punch, 0, len(raw))
	for _, p := range raw {
		p.Time = p.Time.UTC()
		k := rawKey{p.ControlID, p.Time.UnixNano(), p.SourceID}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, p)
	}
	sort.Slice(uniq, func(i, j int) bool {
		a, b := uniq[i], uniq[j]
		if a.ControlID != b.ControlID {
			return a.ControlID < b.ControlID
		}
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.SourceID < b.SourceID
	})

	byControl := map[int64][]*cluster{}
	for _, p := range pinned {
		c := &cluster{anchor: p.Time.UTC(), pinned: true, times: map[int64]struct{}{}, sources: map[string]struct{}{}}
		for _, s := range p.Sources {
			c.sources[s] = struct{}{}
		}
		c.times[c.anchor.UnixNano()] = struct{}{}
		byControl[p.ControlID] = append(byControl[p.ControlID], c)
	}

	for _, p := range uniq {
		clusters := byControl[p.ControlID]
		target := nearestPinned(clusters, p.Time, tolerance)
		if target == nil {
			// Raw punches of a control arrive sorted, so only the newest
			// unpinned cluster can absorb this one.
			for i := len(clusters) - 1; i >= 0; i-- {
				if !clusters[i].pinned {
					if d := p.Time.Sub(clusters[i].anchor); d >= 0 && d <= tolerance {
						target = clusters[i]
					}
					break
				}
			}
		}
		if target == nil {
			target = &cluster{anchor: p.Time, times: map[int64]struct{}{}, sources: map[string]struct{}{}}
			byControl[p.ControlID] = append(byControl[p.ControlID], target)
		}
		target.times[p.Time.UnixNano()] = struct{}{}
		target.sources[p.SourceID] = struct{}{}
	}

	var (
		out       []Punch
		conflicts []ReconciliationConflict
	)
	for control, clusters := range byControl {
		for _, c := range clusters {
			p := Punch{ControlID: control, Time: c.anchor, Sources: sortedKeys(c.sources)}
			out = append(out, p)
			if len(c.times) > 1 {
				conflicts = append(conflicts, ReconciliationConflict{
					ControlID: control,
					Kept:      c.anchor,
					Discarded: discarded(c),
					Sources:   p.Sources,
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].ControlID < out[j].ControlID
	})
	sort.Slice(conflicts, func(i, j int) bool {
		if !conflicts[i].Kept.Equal(conflicts[j].Kept) {
			return conflicts[i].Kept.Before(conflicts[j].Kept)
		}
		return conflicts[i].ControlID < conflicts[j].ControlID
	})
	return out, conflicts
}

func nearestPinned(clusters []*cluster, t time.Time, tolerance time.Duration) *cluster {
	var (
		best     *cluster
		bestDist time.Duration
	)
	for _, c := range clusters {
		if !c.pinned {
			continue
		}
		d := t.Sub(c.anchor)
		if d < 0 {
			d = -d
		}
		if d > tolerance {
			continue
		}
		if best == nil || d < bestDist || (d == bestDist && c.anchor.Before(best.anchor)) {
			best, bestDist = c, d
		}
	}
	return best
}

func discarded(c *cluster) []time.Time {
	out := make([]time.Time, 0, len(c.times)-1)
	for ns := range c.times {
		if ns != c.anchor.UnixNano() {
			out = append(out, time.Unix(0, ns).UTC())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Raw converts reconciled punches back to raw records of one competitor
// start, one per source, for re-reconciliation or persistence.
func Raw(competitorStartID int64, seq []Punch) []models.Punch {
	var out []models.Punch
	for _, p := range seq {
		for _, s := range p.Sources {
			out = append(out, models.Punch{
				CompetitorStartID: competitorStartID,
				ControlID:         p.ControlID,
				Time:              p.Time,
				SourceID:          s,
			})
		}
	}
	return out
}
