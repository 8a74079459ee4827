package standings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/padraicbc/orienteer/category"
	"github.com/padraicbc/orienteer/course"
	"github.com/padraicbc/orienteer/models"
)

// memStore is an in-memory Store.
type memStore struct {
	mu         sync.Mutex
	categories map[int64]*models.Category
	starts     []*models.Start
	punches    []models.Punch
	pins       []models.PinnedPunch
	saves      [][]*Ranking
	appendErr  error

	// hook runs at the start of LoadCategory.
	hook func(ctx context.Context, categoryID int64) error
}

func newMemStore(cats ...*models.Category) *memStore {
	m := &memStore{categories: map[int64]*models.Category{}}
	for _, c := range cats {
		m.categories[c.CategoryID] = c
	}
	return m
}

func (m *memStore) LoadCategory(ctx context.Context, categoryID int64) (*Snapshot, error) {
	if m.hook != nil {
		if err := m.hook(ctx, categoryID); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cat, ok := m.categories[categoryID]
	if !ok {
		return nil, fmt.Errorf("category %d not found", categoryID)
	}
	snap := soloSnapshot()
	snap.Category = cat
	for _, st := range m.starts {
		if st.CategoryID == categoryID {
			cp := *st
			snap.Starts = append(snap.Starts, &cp)
		}
	}
	return snap, nil
}

func (m *memStore) LoadRace(ctx context.Context, raceID int64) ([]*models.Category, []*models.Start, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cats []*models.Category
	for _, c := range m.categories {
		cats = append(cats, c)
	}
	starts := make([]*models.Start, len(m.starts))
	for i, st := range m.starts {
		cp := *st
		starts[i] = &cp
	}
	return cats, starts, nil
}

func (m *memStore) CategoryOf(ctx context.Context, competitorStartID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.starts {
		for _, cs := range st.CompetitorStarts {
			if cs.CompetitorStartID == competitorStartID {
				return st.CategoryID, nil
			}
		}
	}
	return 0, fmt.Errorf("competitor start %d not found", competitorStartID)
}

func (m *memStore) Punches(ctx context.Context) ([]models.Punch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Punch(nil), m.punches...), nil
}

func (m *memStore) AppendPunches(ctx context.Context, punches []models.Punch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.punches = append(m.punches, punches...)
	return nil
}

func (m *memStore) Pins(ctx context.Context) ([]models.PinnedPunch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PinnedPunch(nil), m.pins...), nil
}

func (m *memStore) SavePins(ctx context.Context, competitorStartID int64, pins []models.PinnedPunch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.pins[:0]
	for _, p := range m.pins {
		if p.CompetitorStartID != competitorStartID {
			kept = append(kept, p)
		}
	}
	m.pins = append(kept, pins...)
	return nil
}

func (m *memStore) MoveStarts(ctx context.Context, starts []*models.Start) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, moved := range starts {
		for _, st := range m.starts {
			if st.StartID == moved.StartID {
				st.CategoryID = moved.CategoryID
			}
		}
	}
	return nil
}

func (m *memStore) SaveRankings(ctx context.Context, rankings ...*Ranking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, rankings)
	return nil
}

func courseCategory(id int64) *models.Category {
	return &models.Category{
		CategoryID: id,
		FirstStart: at(0),
		Courses:    []*models.CategoryCourseAssignment{{CategoryID: id, LegNumber: 0, CourseID: 1}},
	}
}

func finished(startID, csID, categoryID int64, minutes int) *models.Start {
	st := soloStart(startID, csID, categoryID)
	st.CompetitorStarts[0].StartTime = at(0)
	st.CompetitorStarts[0].FinishTime = at(time.Duration(minutes) * time.Minute)
	return st
}

func punchAll(s *Service, csID int64) {
	for _, p := range visit(0, 101, 102) {
		s.Submit(models.Punch{CompetitorStartID: csID, ControlID: p.ControlID, Time: p.Time, SourceID: "station"})
	}
}

func TestRecomputeDirtyAfterPunches(t *testing.T) {
	store := newMemStore(courseCategory(7))
	store.starts = []*models.Start{finished(1, 11, 7, 30), finished(2, 12, 7, 28)}
	s := New(store, course.NewCache(), Options{}, 2*time.Second, zap.NewNop())

	if _, ok := s.Ranking(7); ok {
		t.Fatal("ranking published before any computation")
	}
	punchAll(s, 11)
	punchAll(s, 12)

	if err := s.RecomputeDirty(context.Background()); err != nil {
		t.Fatal(err)
	}
	r, ok := s.Ranking(7)
	if !ok || len(r.Results) != 2 {
		t.Fatalf("ranking = %+v", r)
	}
	if r.Results[0].StartID != 2 || r.Results[0].Position != 1 || r.Results[1].Position != 2 {
		t.Errorf("order = %d, %d", r.Results[0].StartID, r.Results[1].StartID)
	}

	if err := s.FlushPunches(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.punches) != 4 {
		t.Errorf("persisted %d punches, want 4", len(store.punches))
	}

	// Nothing dirty: no new save.
	saves := len(store.saves)
	if err := s.RecomputeDirty(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.saves) != saves {
		t.Error("clean sweep saved rankings")
	}
}

func TestPrimeReplaysPersistedPunches(t *testing.T) {
	store := newMemStore(courseCategory(7))
	store.starts = []*models.Start{finished(1, 11, 7, 30)}
	for _, p := range visit(0, 101, 102) {
		store.punches = append(store.punches, models.Punch{CompetitorStartID: 11, ControlID: p.ControlID, Time: p.Time, SourceID: "station"})
	}
	s := New(store, course.NewCache(), Options{}, 2*time.Second, zap.NewNop())
	if err := s.Prime(context.Background()); err != nil {
		t.Fatal(err)
	}
	r, err := s.Recompute(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if r.Results[0].Status != models.StatusOK {
		t.Errorf("status = %s", r.Results[0].Status)
	}
	// Replays from a source are not new punches.
	punchAll(s, 11)
	if err := s.FlushPunches(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.punches) != 2 {
		t.Errorf("store has %d punches, want 2", len(store.punches))
	}
}

func TestFinalizeSurvivesRestart(t *testing.T) {
	store := newMemStore(courseCategory(7))
	store.starts = []*models.Start{finished(1, 11, 7, 30)}
	printed := t0.Add(time.Minute)

	s := New(store, course.NewCache(), Options{}, 2*time.Second, zap.NewNop())
	s.Submit(models.Punch{CompetitorStartID: 11, ControlID: 101, Time: printed, SourceID: "station"})
	if _, err := s.Finalize(context.Background(), 11); err != nil {
		t.Fatal(err)
	}
	s.Submit(models.Punch{CompetitorStartID: 11, ControlID: 101, Time: printed.Add(-time.Second), SourceID: "backup"})
	if err := s.FlushPunches(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.pins) != 1 {
		t.Fatalf("persisted %d pins, want 1", len(store.pins))
	}

	restarted := New(store, course.NewCache(), Options{}, 2*time.Second, zap.NewNop())
	if err := restarted.Prime(context.Background()); err != nil {
		t.Fatal(err)
	}
	seq := restarted.Ingestor().Sequence(11)
	if len(seq) != 1 || !seq[0].Time.Equal(printed) {
		t.Fatalf("after restart: %+v, want 101 at %v", seq, printed)
	}
}

func TestRecomputeDirtyRetriesFailedCategory(t *testing.T) {
	store := newMemStore(courseCategory(7))
	store.starts = []*models.Start{finished(1, 11, 7, 30)}
	var down atomic.Bool
	down.Store(true)
	store.hook = func(context.Context, int64) error {
		if down.Load() {
			return errors.New("db down")
		}
		return nil
	}
	s := New(store, course.NewCache(), Options{}, 2*time.Second, zap.NewNop())
	punchAll(s, 11)

	if err := s.RecomputeDirty(context.Background()); err == nil {
		t.Fatal("sweep against a failing store returned nil")
	}
	if _, ok := s.Ranking(7); ok {
		t.Fatal("ranking published while the store was down")
	}

	down.Store(false)
	if err := s.RecomputeDirty(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Ranking(7); !ok {
		t.Error("ranking not published after the store recovered")
	}
}

func TestFlushPunchesRequeuesOnFailure(t *testing.T) {
	store := newMemStore(courseCategory(7))
	store.starts = []*models.Start{finished(1, 11, 7, 30)}
	s := New(store, course.NewCache(), Options{}, 2*time.Second, zap.NewNop())
	punchAll(s, 11)
	if err := s.RecomputeDirty(context.Background()); err != nil {
		t.Fatal(err)
	}
	saves := len(store.saves)

	store.appendErr = errors.New("db down")
	if err := s.FlushPunches(context.Background()); err == nil {
		t.Fatal("failed flush returned nil")
	}
	// Requeued punches are not new punches.
	if err := s.RecomputeDirty(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.saves) != saves {
		t.Error("failed flush marked its punches dirty again")
	}

	store.appendErr = nil
	if err := s.FlushPunches(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.punches) != 2 {
		t.Errorf("persisted %d punches, want 2", len(store.punches))
	}
}

func TestRecomputeSupersedesInFlight(t *testing.T) {
	store := newMemStore(courseCategory(7))
	store.starts = []*models.Start{finished(1, 11, 7, 30)}

	entered := make(chan struct{})
	var once sync.Once
	store.hook = func(ctx context.Context, _ int64) error {
		first := false
		once.Do(func() { first = true })
		if !first {
			return nil
		}
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}
	s := New(store, course.NewCache(), Options{}, 2*time.Second, zap.NewNop())

	errc := make(chan error, 1)
	go func() {
		_, err := s.Recompute(context.Background(), 7)
		errc <- err
	}()
	<-entered

	r, err := s.Recompute(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("stale computation err = %v, want ErrSuperseded", err)
	}
	got, _ := s.Ranking(7)
	if got != r || got.Generation != 2 {
		t.Errorf("published generation %d, want 2", got.Generation)
	}
	if len(store.saves) != 1 {
		t.Errorf("%d saves, want 1", len(store.saves))
	}
}

func TestConcurrentRecomputeCommitsWholeRankings(t *testing.T) {
	store := newMemStore(courseCategory(7))
	for i := int64(1); i <= 20; i++ {
		store.starts = append(store.starts, finished(i, 10+i, 7, 30+int(i)))
	}
	s := New(store, course.NewCache(), Options{}, 2*time.Second, zap.NewNop())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Recompute(context.Background(), 7)
			if err != nil && !errors.Is(err, ErrSuperseded) {
				t.Error(err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r, ok := s.Ranking(7); ok && len(r.Results) != 20 {
				t.Errorf("partial ranking with %d results", len(r.Results))
			}
		}()
	}
	wg.Wait()

	r, ok := s.Ranking(7)
	if !ok || len(r.Results) != 20 {
		t.Fatal("no complete ranking published")
	}
	for _, saved := range store.saves {
		if saved[0].Generation > r.Generation {
			t.Errorf("saved generation %d newer than published %d", saved[0].Generation, r.Generation)
		}
	}
}

func TestSubstitute(t *testing.T) {
	small := courseCategory(1)
	small.Status = models.CategoryJoined
	small.TooFewEntriesSubstituteID = ptr(int64(2))
	store := newMemStore(small, courseCategory(2))
	store.starts = []*models.Start{finished(1, 11, 1, 30), finished(2, 12, 2, 40)}
	s := New(store, course.NewCache(), Options{}, 2*time.Second, zap.NewNop())
	punchAll(s, 11)
	punchAll(s, 12)

	moved, err := s.Substitute(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(moved) != 1 || moved[0].StartID != 1 || moved[0].CategoryID != 2 {
		t.Fatalf("moved = %+v", moved)
	}
	if len(store.saves) != 1 || len(store.saves[0]) != 2 {
		t.Fatalf("rankings not saved together: %v", store.saves)
	}
	from, _ := s.Ranking(1)
	to, _ := s.Ranking(2)
	if len(from.Results) != 0 || len(to.Results) != 2 || to.Results[0].StartID != 1 {
		t.Errorf("after substitution: %d in joined, %d in target", len(from.Results), len(to.Results))
	}

	again, err := s.Substitute(context.Background(), 1)
	if err != nil || len(again) != 0 {
		t.Errorf("second substitution moved %d starts, err %v", len(again), err)
	}
}

func TestSubstituteRejectsCycle(t *testing.T) {
	a := courseCategory(1)
	a.TooFewEntriesSubstituteID = ptr(int64(2))
	b := courseCategory(2)
	b.TooManyEntriesSubstituteID = ptr(int64(1))
	s := New(newMemStore(a, b), course.NewCache(), Options{}, 2*time.Second, zap.NewNop())

	_, err := s.Substitute(context.Background(), 1)
	var ce *category.SubstitutionCycleError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want SubstitutionCycleError", err)
	}
}

func ptr[T any](v T) *T { return &v }
