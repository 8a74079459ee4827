// Package startlist assigns start times. Starters of a category start in
// equal intervals. Categories running the same course start one after
// another with one empty slot between them, and courses share the start
// slots of the race up to a limit of parallel starts.
package startlist

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/padraicbc/orienteer/models"
)

// ErrNoFreeSlot is returned when a course does not fit into the start
// window.
var ErrNoFreeSlot = errors.New("no free start slot")

const (
	defaultWindow     = 12 * 60
	defaultSlotLength = time.Minute
)

// Entrant is one start to place.
type Entrant struct {
	Start          *models.Start
	Request        models.StartRequest
	OrganisationID *int64
}

// Category is a category with the course its first leg runs and its
// entrants.
type Category struct {
	Category *models.Category
	CourseID int64
	Entrants []Entrant
}

func (c *Category) requests() (early, late int) {
	for _, e := range c.Entrants {
		switch e.Request {
		case models.StartEarly:
			early++
		case models.StartLate:
			late++
		}
	}
	return early, late
}

// Options configure a start list.
type Options struct {
	// FirstStart is the time of slot 0.
	FirstStart time.Time
	SlotLength time.Duration
	// Interval is the number of slots between two starters of a course.
	Interval int
	// ParallelMax limits the starts per slot. Zero is unlimited.
	ParallelMax int
	// Conflicts are groups of courses that must not start in the same slot,
	// e.g. because they share the first control.
	Conflicts [][]int64
	// Window is the number of usable slots.
	Window int
	// First and Last move categories to the front or back of their course.
	First []int64
	Last  []int64
	// Rand shuffles the starters. Nil uses the global source.
	Rand *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.SlotLength <= 0 {
		o.SlotLength = defaultSlotLength
	}
	if o.Interval <= 0 {
		o.Interval = 1
	}
	if o.Window <= 0 {
		o.Window = defaultWindow
	}
	return o
}

// Slots is the arithmetic sequence of slots of one course.
type Slots struct {
	First int
	Step  int
	Count int
}

// At returns the i-th slot.
func (s Slots) At(i int) int { return s.First + s.Step*i }

// Contains reports whether slot is one of the sequence.
func (s Slots) Contains(slot int) bool {
	if s.Count == 0 || slot < s.First || slot > s.At(s.Count-1) {
		return false
	}
	return (slot-s.First)%s.Step == 0
}

// Order groups the categories by course. Categories with more early
// requests go first and ones with more late requests go last; First and
// Last override that.
func Order(cats []*Category, o Options) map[int64][]*Category {
	out := map[int64][]*Category{}
	for _, c := range cats {
		out[c.CourseID] = append(out[c.CourseID], c)
	}

	rank := map[int64]int{}
	for _, id := range o.First {
		rank[id] = -1
	}
	for _, id := range o.Last {
		rank[id] = 1
	}
	for _, cs := range out {
		sort.SliceStable(cs, func(i, j int) bool {
			a, b := cs[i], cs[j]
			if ra, rb := rank[a.Category.CategoryID], rank[b.Category.CategoryID]; ra != rb {
				return ra < rb
			}
			ae, al := a.requests()
			be, bl := b.requests()
			if al-ae != bl-be {
				return al-ae < bl-be
			}
			if ae != be {
				return ae > be
			}
			if al != bl {
				return al < bl
			}
			return a.Category.CategoryID < b.Category.CategoryID
		})
	}
	return out
}

// groups splits entrants into competitive and non-competitive starters.
func groups(c *Category) [][]Entrant {
	var comp, non []Entrant
	for _, e := range c.Entrants {
		if e.Start.Competitive {
			comp = append(comp, e)
		} else {
			non = append(non, e)
		}
	}
	var out [][]Entrant
	for _, g := range [][]Entrant{comp, non} {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}

// SlotCount is the number of slots a course needs: every starter and
// vacancy plus one empty slot between categories and between the
// competitive and non-competitive starters of a category.
func SlotCount(cats []*Category) int {
	if len(cats) == 0 {
		return 0
	}
	n := len(cats) - 1
	for _, c := range cats {
		n += c.Category.VacanciesBefore + len(c.Entrants) + c.Category.VacanciesAfter
		if g := len(groups(c)); g > 1 {
			n += g - 1
		}
	}
	return n
}

// Allocate finds slots for every course, largest course first. Each course
// takes the earliest first slot at which none of its slots exceeds the
// parallel limit or meets a conflicting course.
func Allocate(order map[int64][]*Category, o Options) (map[int64]Slots, error) {
	o = o.withDefaults()

	type course struct {
		id    int64
		count int
	}
	courses := make([]course, 0, len(order))
	for id, cats := range order {
		courses = append(courses, course{id, SlotCount(cats)})
	}
	sort.Slice(courses, func(i, j int) bool {
		if courses[i].count != courses[j].count {
			return courses[i].count > courses[j].count
		}
		return courses[i].id < courses[j].id
	})

	slots := make(map[int64]Slots, len(courses))
	parallel := map[int]int{}
	conflicts := func(id int64, slot int) bool {
		for _, group := range o.Conflicts {
			if !containsID(group, id) {
				continue
			}
			for _, other := range group {
				if s, ok := slots[other]; ok && other != id && s.Contains(slot) {
					return true
				}
			}
		}
		return false
	}
	fits := func(id int64, s Slots) bool {
		for i := range s.Count {
			slot := s.At(i)
			if o.ParallelMax > 0 && parallel[slot] >= o.ParallelMax {
				return false
			}
			if conflicts(id, slot) {
				return false
			}
		}
		return true
	}

	for _, c := range courses {
		s := Slots{Step: o.Interval, Count: c.count}
		found := false
		for first := 0; first+max(c.count-1, 0)*o.Interval < o.Window; first++ {
			s.First = first
			if fits(c.id, s) {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("course %d with %d slots: %w", c.id, c.count, ErrNoFreeSlot)
		}
		slots[c.id] = s
		for i := range s.Count {
			parallel[s.At(i)]++
		}
	}
	return slots, nil
}

func containsID(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// Fill sets the first start of every category and the offset of every
// start within its category.
func Fill(order map[int64][]*Category, slots map[int64]Slots, o Options) {
	o = o.withDefaults()
	for courseID, cats := range order {
		s := slots[courseID]
		k := 0
		for i, c := range cats {
			if i > 0 {
				k++
			}
			first := s.At(k)
			t := o.FirstStart.Add(time.Duration(first) * o.SlotLength)
			c.Category.FirstStart = &t
			k += c.Category.VacanciesBefore

			for gi, g := range groups(c) {
				if gi > 0 {
					k++
				}
				for _, e := range arrange(g, o.Rand) {
					e.Start.TimeOffset = time.Duration(s.At(k)-first) * o.SlotLength
					k++
				}
			}
			k += c.Category.VacanciesAfter
		}
	}
}

// arrange shuffles the starters with early requests first and late ones
// last, then separates neighbours of the same organisation where it can.
func arrange(entrants []Entrant, rng *rand.Rand) []Entrant {
	var early, none, late []Entrant
	for _, e := range entrants {
		switch e.Request {
		case models.StartEarly:
			early = append(early, e)
		case models.StartLate:
			late = append(late, e)
		default:
			none = append(none, e)
		}
	}
	out := make([]Entrant, 0, len(entrants))
	for _, g := range [][]Entrant{early, none, late} {
		shuffle(g, rng)
		disjoin(g)
		out = append(out, g...)
	}
	return out
}

func shuffle(es []Entrant, rng *rand.Rand) {
	swap := func(i, j int) { es[i], es[j] = es[j], es[i] }
	if rng == nil {
		rand.Shuffle(len(es), swap)
		return
	}
	rng.Shuffle(len(es), swap)
}

func sameOrganisation(a, b Entrant) bool {
	return a.OrganisationID != nil && b.OrganisationID != nil && *a.OrganisationID == *b.OrganisationID
}

// disjoin moves entrants so that consecutive ones belong to different
// organisations as far as possible.
func disjoin(es []Entrant) {
	for i := 1; i < len(es); i++ {
		if !sameOrganisation(es[i-1], es[i]) {
			continue
		}
		for j := i + 1; j < len(es); j++ {
			if !sameOrganisation(es[i-1], es[j]) {
				es[i], es[j] = es[j], es[i]
				break
			}
		}
	}
}

// Generate orders, allocates and fills a start list. It returns the slots
// of each course.
func Generate(cats []*Category, o Options) (map[int64]Slots, error) {
	order := Order(cats, o)
	slots, err := Allocate(order, o)
	if err != nil {
		return nil, err
	}
	Fill(order, slots, o)
	return slots, nil
}
