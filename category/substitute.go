package category

import (
	"fmt"
	"sort"
	"strings"

	"github.com/padraicbc/orienteer/models"
)

// SubstitutionCycleError reports substitute categories that lead back to
// where they started. Such a configuration must be fixed before use.
type SubstitutionCycleError struct {
	Path []int64
}

func (e *SubstitutionCycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = fmt.Sprint(id)
	}
	return "category substitution cycle: " + strings.Join(parts, " -> ")
}

// Redirect moves starts out of a category. With Overflow set only the
// starts beyond Capacity move.
type Redirect struct {
	From     int64
	To       int64
	Overflow bool
	Capacity int
}

// Redirects are resolved once per assignment pass. Every target is final:
// it is never itself fully redirected, so a lookup is one hop.
type Redirects struct {
	byCategory map[int64]Redirect
	// order lists redirected categories so that a category is handled
	// before any category its starts can move into.
	order []int64
}

// Lookup returns the redirect of a category.
func (r Redirects) Lookup(categoryID int64) (Redirect, bool) {
	rd, ok := r.byCategory[categoryID]
	return rd, ok
}

func (r Redirects) Len() int { return len(r.byCategory) }

// BuildRedirects validates the substitute links of the race categories and
// resolves the redirects for Joined (too few entries) and Divided (too
// many entries) categories.
func BuildRedirects(categories []*models.Category) (Redirects, error) {
	byID := make(map[int64]*models.Category, len(categories))
	for _, c := range categories {
		byID[c.CategoryID] = c
	}

	edges := func(c *models.Category) []int64 {
		var out []int64
		for _, id := range []*int64{c.TooFewEntriesSubstituteID, c.TooManyEntriesSubstituteID} {
			if id != nil {
				out = append(out, *id)
			}
		}
		return out
	}

	ids := make([]int64, 0, len(byID))
	for id, c := range byID {
		for _, to := range edges(c) {
			if _, ok := byID[to]; !ok {
				return Redirects{}, fmt.Errorf("category %d: substitute %d does not exist", id, to)
			}
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// Depth-first search with colours; the post order reversed is a
	// topological order of the substitute links.
	const (
		white = iota
		grey
		black
	)
	colour := map[int64]int{}
	var (
		post  []int64
		stack []int64
		visit func(id int64) error
	)
	visit = func(id int64) error {
		colour[id] = grey
		stack = append(stack, id)
		for _, to := range edges(byID[id]) {
			switch colour[to] {
			case grey:
				i := len(stack) - 1
				for stack[i] != to {
					i--
				}
				path := append(append([]int64(nil), stack[i:]...), to)
				return &SubstitutionCycleError{Path: path}
			case white:
				if err := visit(to); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[id] = black
		post = append(post, id)
		return nil
	}
	for _, id := range ids {
		if colour[id] == white {
			if err := visit(id); err != nil {
				return Redirects{}, err
			}
		}
	}

	// final follows too-few links through joined categories.
	final := func(id int64) int64 {
		for byID[id].Status == models.CategoryJoined && byID[id].TooFewEntriesSubstituteID != nil {
			id = *byID[id].TooFewEntriesSubstituteID
		}
		return id
	}

	r := Redirects{byCategory: map[int64]Redirect{}}
	for i := len(post) - 1; i >= 0; i-- {
		c := byID[post[i]]
		switch {
		case c.Status == models.CategoryJoined && c.TooFewEntriesSubstituteID != nil:
			r.byCategory[c.CategoryID] = Redirect{From: c.CategoryID, To: final(*c.TooFewEntriesSubstituteID)}
		case c.Status == models.CategoryDivided && c.TooManyEntriesSubstituteID != nil:
			if c.MaxCompetitors == nil {
				return Redirects{}, fmt.Errorf("category %d is divided but has no maximum number of competitors", c.CategoryID)
			}
			r.byCategory[c.CategoryID] = Redirect{
				From:     c.CategoryID,
				To:       final(*c.TooManyEntriesSubstituteID),
				Overflow: true,
				Capacity: *c.MaxCompetitors,
			}
		default:
			continue
		}
		r.order = append(r.order, c.CategoryID)
	}
	return r, nil
}

// ApplySubstitution returns the starts with redirected categories. The
// input is not modified. Applying it again to its own output changes
// nothing.
func ApplySubstitution(starts []*models.Start, r Redirects) []*models.Start {
	out := make([]*models.Start, len(starts))
	byCategory := map[int64][]*models.Start{}
	for i, s := range starts {
		cp := *s
		out[i] = &cp
		byCategory[cp.CategoryID] = append(byCategory[cp.CategoryID], &cp)
	}

	for _, from := range r.order {
		rd := r.byCategory[from]
		group := byCategory[from]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Ranking != group[j].Ranking {
				return group[i].Ranking < group[j].Ranking
			}
			return group[i].StartID < group[j].StartID
		})

		keep := 0
		if rd.Overflow {
			keep = min(rd.Capacity, len(group))
		}
		for _, s := range group[keep:] {
			s.CategoryID = rd.To
		}
		byCategory[rd.To] = append(byCategory[rd.To], group[keep:]...)
		byCategory[from] = group[:keep]
	}
	return out
}
