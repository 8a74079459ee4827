package result

import (
	"sort"

	"github.com/padraicbc/orienteer/models"
)

func rankable(r *models.Result, score bool) bool {
	if !r.Status.Ranked() {
		return false
	}
	if score {
		return r.Score != nil
	}
	return r.Elapsed != nil
}

// tied reports whether two rankable results share a position. Score
// results tie only when both score and time are equal.
func tied(a, b *models.Result, score bool) bool {
	if score && *a.Score != *b.Score {
		return false
	}
	if a.Elapsed == nil || b.Elapsed == nil {
		return a.Elapsed == nil && b.Elapsed == nil
	}
	return *a.Elapsed == *b.Elapsed
}

func before(a, b *models.Result, score bool) bool {
	ra, rb := rankable(a, score), rankable(b, score)
	if ra != rb {
		return ra
	}
	if !ra {
		if a.Status != b.Status {
			return a.Status.Severity() < b.Status.Severity()
		}
		return a.StartID < b.StartID
	}
	if score && *a.Score != *b.Score {
		return *a.Score > *b.Score
	}
	if !tied(a, b, score) {
		switch {
		case a.Elapsed == nil:
			return false
		case b.Elapsed == nil:
			return true
		}
		return *a.Elapsed < *b.Elapsed
	}
	return a.StartID < b.StartID
}

// Rank orders the results of one category and sets positions. Only OK
// results get a position; tied results share one and the next result's
// position skips the size of the tie group. The input is not modified.
func Rank(results []*models.Result, score bool) []*models.Result {
	out := make([]*models.Result, len(results))
	for i, r := range results {
		cp := *r
		cp.Position = 0
		out[i] = &cp
	}
	sort.SliceStable(out, func(i, j int) bool { return before(out[i], out[j], score) })

	for i, r := range out {
		if !rankable(r, score) {
			break
		}
		if i > 0 && tied(out[i-1], r, score) {
			r.Position = out[i-1].Position
			continue
		}
		r.Position = i + 1
	}
	return out
}
