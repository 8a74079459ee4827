package standings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/padraicbc/orienteer/category"
	"github.com/padraicbc/orienteer/course"
	"github.com/padraicbc/orienteer/models"
	"github.com/padraicbc/orienteer/punch"
)

// Store is the persistence boundary of the service.
type Store interface {
	LoadCategory(ctx context.Context, categoryID int64) (*Snapshot, error)
	LoadRace(ctx context.Context, raceID int64) ([]*models.Category, []*models.Start, error)
	CategoryOf(ctx context.Context, competitorStartID int64) (int64, error)
	Punches(ctx context.Context) ([]models.Punch, error)
	AppendPunches(ctx context.Context, punches []models.Punch) error
	Pins(ctx context.Context) ([]models.PinnedPunch, error)
	SavePins(ctx context.Context, competitorStartID int64, pins []models.PinnedPunch) error
	// MoveStarts and SaveRankings must be atomic.
	MoveStarts(ctx context.Context, starts []*models.Start) error
	SaveRankings(ctx context.Context, rankings ...*Ranking) error
}

const outboxSize = 4096

// Service keeps the rankings of a race up to date.
type Service struct {
	store    Store
	ingestor *punch.Ingestor
	graphs   *course.Cache
	opts     Options
	logger   *zap.Logger

	boards *xsync.MapOf[int64, *board]
	// owners maps competitor starts to their category.
	owners       *xsync.MapOf[int64, int64]
	dirty        *xsync.MapOf[int64, struct{}]
	dirtyStarts  *xsync.MapOf[int64, struct{}]
	outbox       chan models.Punch
	workers      int
	publishMu    sync.Mutex
	view         atomic.Pointer[map[int64]*Ranking]
	sched        gocron.Scheduler
	shutdownOnce sync.Once
}

// New creates a Service. Punches reconcile within tolerance of each other.
func New(store Store, graphs *course.Cache, opts Options, tolerance time.Duration, logger *zap.Logger) *Service {
	s := &Service{
		store:       store,
		graphs:      graphs,
		opts:        opts,
		logger:      logger,
		boards:      xsync.NewMapOf[int64, *board](),
		owners:      xsync.NewMapOf[int64, int64](),
		dirty:       xsync.NewMapOf[int64, struct{}](),
		dirtyStarts: xsync.NewMapOf[int64, struct{}](),
		outbox:      make(chan models.Punch, outboxSize),
		workers:     4,
	}
	s.ingestor = punch.NewIngestor(tolerance, logger, s.onPunch)
	empty := map[int64]*Ranking{}
	s.view.Store(&empty)
	return s
}

// Ingestor returns the punch ingestor feeding the service.
func (s *Service) Ingestor() *punch.Ingestor { return s.ingestor }

// Graphs returns the shared course graph cache.
func (s *Service) Graphs() *course.Cache { return s.graphs }

func (s *Service) onPunch(p models.Punch) {
	s.dirtyStarts.Store(p.CompetitorStartID, struct{}{})
	select {
	case s.outbox <- p:
	default:
		// Outbox full: write through.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.store.AppendPunches(ctx, []models.Punch{p}); err != nil {
			s.logger.Error("failed to persist punch", zap.Stringer("punch_id", p.PunchID), zap.Error(err))
		}
	}
}

// Prime loads the persisted punch logs and finalized sequences.
func (s *Service) Prime(ctx context.Context) error {
	ps, err := s.store.Punches(ctx)
	if err != nil {
		return fmt.Errorf("loading punches: %w", err)
	}
	s.ingestor.Load(ps)

	pins, err := s.store.Pins(ctx)
	if err != nil {
		return fmt.Errorf("loading pins: %w", err)
	}
	seqs := map[int64][]punch.Punch{}
	for _, p := range pins {
		seqs[p.CompetitorStartID] = append(seqs[p.CompetitorStartID], punch.Punch{
			ControlID: p.ControlID,
			Time:      p.Time,
			Sources:   p.Sources,
		})
	}
	for id, seq := range seqs {
		s.ingestor.Pin(id, seq)
	}
	s.logger.Info("punch logs loaded", zap.Int("punches", len(ps)), zap.Int("finalized", len(seqs)))
	return nil
}

// Finalize pins and persists the current sequence of a competitor start.
// Nothing is pinned if it can not be persisted.
func (s *Service) Finalize(ctx context.Context, competitorStartID int64) ([]punch.Punch, error) {
	seq := s.ingestor.Sequence(competitorStartID)
	now := time.Now().UTC()
	pins := make([]models.PinnedPunch, len(seq))
	for i, p := range seq {
		pins[i] = models.PinnedPunch{
			CompetitorStartID: competitorStartID,
			Position:          i + 1,
			ControlID:         p.ControlID,
			Time:              p.Time,
			Sources:           p.Sources,
			FinalizedAt:       now,
		}
	}
	if err := s.store.SavePins(ctx, competitorStartID, pins); err != nil {
		return nil, fmt.Errorf("pinning competitor start %d: %w", competitorStartID, err)
	}
	s.ingestor.Pin(competitorStartID, seq)
	s.Touch(competitorStartID)
	return seq, nil
}

// Submit accepts one punch. It returns false for a replayed punch.
func (s *Service) Submit(p models.Punch) bool {
	return s.ingestor.Submit(p)
}

// Touch schedules the category of a competitor start for recomputation,
// e.g. after its times were corrected.
func (s *Service) Touch(competitorStartID int64) {
	s.dirtyStarts.Store(competitorStartID, struct{}{})
}

// MarkDirty schedules a category for recomputation.
func (s *Service) MarkDirty(categoryID int64) {
	s.dirty.Store(categoryID, struct{}{})
}

// Ranking returns the last committed ranking of a category without
// blocking on recomputations in flight.
func (s *Service) Ranking(categoryID int64) (*Ranking, bool) {
	r, ok := (*s.view.Load())[categoryID]
	return r, ok
}

func (s *Service) board(categoryID int64) *board {
	b, _ := s.boards.LoadOrCompute(categoryID, func() *board { return &board{} })
	return b
}

type pending struct {
	board   *board
	gen     uint64
	ranking *Ranking
}

// prepare loads and computes one category under a new generation.
func (s *Service) prepare(ctx context.Context, categoryID int64) (context.Context, pending, error) {
	b := s.board(categoryID)
	ctx, gen := b.begin(ctx)
	p := pending{board: b, gen: gen}

	snap, err := s.store.LoadCategory(ctx, categoryID)
	if err != nil {
		if !b.current(gen) {
			return ctx, p, ErrSuperseded
		}
		return ctx, p, fmt.Errorf("loading category %d: %w", categoryID, err)
	}
	for _, st := range snap.Starts {
		for _, cs := range st.CompetitorStarts {
			s.owners.Store(cs.CompetitorStartID, categoryID)
		}
	}

	results, err := Compute(snap, s.ingestor, s.graphs, s.opts)
	if err != nil {
		return ctx, p, fmt.Errorf("computing category %d: %w", categoryID, err)
	}
	p.ranking = &Ranking{
		CategoryID: categoryID,
		Generation: gen,
		ComputedAt: time.Now().UTC(),
		Results:    results,
	}
	return ctx, p, nil
}

// commit writes and publishes rankings together. Any superseded generation
// discards all of them.
func (s *Service) commit(ctx context.Context, ps ...pending) error {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ranking.CategoryID < ps[j].ranking.CategoryID })
	for _, p := range ps {
		p.board.commit.Lock()
		defer p.board.commit.Unlock()
	}

	superseded := func() bool {
		for _, p := range ps {
			if !p.board.current(p.gen) {
				return true
			}
		}
		return false
	}
	if superseded() {
		return ErrSuperseded
	}

	rankings := make([]*Ranking, len(ps))
	for i, p := range ps {
		rankings[i] = p.ranking
	}
	if err := s.store.SaveRankings(ctx, rankings...); err != nil {
		if superseded() {
			return ErrSuperseded
		}
		return fmt.Errorf("saving rankings: %w", err)
	}
	s.publish(rankings...)
	return nil
}

func (s *Service) publish(rankings ...*Ranking) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	old := *s.view.Load()
	next := make(map[int64]*Ranking, len(old)+len(rankings))
	for id, r := range old {
		next[id] = r
	}
	for _, r := range rankings {
		next[r.CategoryID] = r
	}
	s.view.Store(&next)
}

// Recompute computes and commits one category. A newer call for the same
// category makes this one return ErrSuperseded.
func (s *Service) Recompute(ctx context.Context, categoryID int64) (*Ranking, error) {
	ctx, p, err := s.prepare(ctx, categoryID)
	defer p.board.done(p.gen)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Debug("category recomputed",
		zap.Int64("category_id", categoryID),
		zap.Uint64("generation", p.gen),
		zap.Int("results", len(p.ranking.Results)))
	return p.ranking, nil
}

// RecomputeDirty recomputes every category touched since the last call.
// Categories are independent: one failing does not stop the others.
func (s *Service) RecomputeDirty(ctx context.Context) error {
	var starts []int64
	s.dirtyStarts.Range(func(id int64, _ struct{}) bool {
		starts = append(starts, id)
		return true
	})
	for _, id := range starts {
		s.dirtyStarts.Delete(id)
		catID, ok := s.owners.Load(id)
		if !ok {
			var err error
			if catID, err = s.store.CategoryOf(ctx, id); err != nil {
				s.logger.Warn("punch for unknown competitor start", zap.Int64("competitor_start_id", id), zap.Error(err))
				continue
			}
			s.owners.Store(id, catID)
		}
		s.dirty.Store(catID, struct{}{})
	}

	var cats []int64
	s.dirty.Range(func(id int64, _ struct{}) bool {
		cats = append(cats, id)
		return true
	})
	if len(cats) == 0 {
		return nil
	}

	runID := uuid.New()
	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, id := range cats {
		s.dirty.Delete(id)
		g.Go(func() error {
			_, err := s.Recompute(ctx, id)
			switch {
			case err == nil:
			case errors.Is(err, ErrSuperseded):
				s.logger.Debug("stale recomputation discarded", zap.Stringer("run", runID), zap.Int64("category_id", id))
			default:
				s.logger.Error("recomputation failed", zap.Stringer("run", runID), zap.Int64("category_id", id), zap.Error(err))
				// Retry on the next sweep.
				s.MarkDirty(id)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Substitute moves the starts of joined and divided categories of a race
// and commits the rankings of every affected category at once. It returns
// the moved starts.
func (s *Service) Substitute(ctx context.Context, raceID int64) ([]*models.Start, error) {
	cats, starts, err := s.store.LoadRace(ctx, raceID)
	if err != nil {
		return nil, fmt.Errorf("loading race %d: %w", raceID, err)
	}
	redirects, err := category.BuildRedirects(cats)
	if err != nil {
		return nil, err
	}

	after := category.ApplySubstitution(starts, redirects)
	var moved []*models.Start
	affected := map[int64]bool{}
	for i, st := range after {
		if st.CategoryID != starts[i].CategoryID {
			moved = append(moved, st)
			affected[starts[i].CategoryID] = true
			affected[st.CategoryID] = true
		}
	}
	if len(moved) == 0 {
		return nil, nil
	}
	if err := s.store.MoveStarts(ctx, moved); err != nil {
		return nil, fmt.Errorf("moving starts: %w", err)
	}

	ids := make([]int64, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ps := make([]pending, 0, len(ids))
	defer func() {
		for _, p := range ps {
			p.board.done(p.gen)
		}
	}()
	// Each context derives from the previous one, so superseding any of the
	// categories cancels the shared commit.
	for _, id := range ids {
		pctx, p, err := s.prepare(ctx, id)
		ps = append(ps, p)
		if err != nil {
			return moved, err
		}
		ctx = pctx
	}
	if err := s.commit(ctx, ps...); err != nil {
		return moved, err
	}
	s.logger.Info("categories substituted", zap.Int64("race_id", raceID), zap.Int("moved", len(moved)), zap.Int64s("categories", ids))
	return moved, nil
}

// FlushPunches persists the punches accepted since the last flush.
func (s *Service) FlushPunches(ctx context.Context) error {
	var batch []models.Punch
drain:
	for {
		select {
		case p := <-s.outbox:
			batch = append(batch, p)
		default:
			break drain
		}
	}
	if len(batch) == 0 {
		return nil
	}
	if err := s.store.AppendPunches(ctx, batch); err != nil {
		s.requeue(batch)
		return fmt.Errorf("persisting %d punches: %w", len(batch), err)
	}
	return nil
}

// requeue puts punches back for the next flush; the store ignores replays.
// They were counted as dirty when accepted.
func (s *Service) requeue(batch []models.Punch) {
	for i, p := range batch {
		select {
		case s.outbox <- p:
		default:
			s.logger.Error("punch outbox full, punches not persisted",
				zap.Int("dropped", len(batch)-i), zap.Stringer("first_punch_id", p.PunchID))
			return
		}
	}
}

// Start runs the periodic punch flush and recomputation sweep.
func (s *Service) Start(ctx context.Context, interval time.Duration) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := s.FlushPunches(ctx); err != nil {
				s.logger.Error("punch flush failed", zap.Error(err))
			}
			if err := s.RecomputeDirty(ctx); err != nil {
				s.logger.Error("recompute sweep failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduling recompute sweep: %w", err)
	}
	s.sched = sched
	sched.Start()
	return nil
}

// Shutdown stops the sweep and flushes pending punches.
func (s *Service) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.sched != nil {
			err = s.sched.Shutdown()
		}
		err = errors.Join(err, s.FlushPunches(ctx))
	})
	return err
}
