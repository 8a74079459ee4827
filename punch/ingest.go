package punch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/padraicbc/orienteer/models"
)

// Log is the append-only raw punch log of one competitor start.
type Log struct {
	mu     sync.Mutex
	seen   map[rawKey]struct{}
	raw    []models.Punch
	pinned []Punch
}

func newLog() *Log {
	return &Log{seen: map[rawKey]struct{}{}}
}

// Append adds a raw punch and reports whether it was new. Replaying an
// already logged punch is a no-op.
func (l *Log) Append(p models.Punch) bool {
	k := rawKey{p.ControlID, p.Time.UnixNano(), p.SourceID}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[k]; dup {
		return false
	}
	l.seen[k] = struct{}{}
	l.raw = append(l.raw, p)
	return true
}

func (l *Log) snapshot() ([]models.Punch, []Punch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Punch(nil), l.raw...), append([]Punch(nil), l.pinned...)
}

// Source is one independent read-out source: a station, a manual backup
// entry desk or an imported file.
type Source struct {
	ID      string
	Punches <-chan models.Punch
}

// Ingestor receives raw punches from any number of sources concurrently.
// Punches of different competitor starts never share a lock.
type Ingestor struct {
	logs      *xsync.MapOf[int64, *Log]
	tolerance time.Duration
	logger    *zap.Logger
	onChange  func(p models.Punch)
}

// NewIngestor creates an Ingestor. onChange is called with every new punch
// and may be nil.
func NewIngestor(tolerance time.Duration, logger *zap.Logger, onChange func(p models.Punch)) *Ingestor {
	if onChange == nil {
		onChange = func(models.Punch) {}
	}
	return &Ingestor{
		logs:      xsync.NewMapOf[int64, *Log](),
		tolerance: tolerance,
		logger:    logger,
		onChange:  onChange,
	}
}

func (in *Ingestor) log(competitorStartID int64) *Log {
	l, _ := in.logs.LoadOrCompute(competitorStartID, newLog)
	return l
}

// Submit appends one raw punch. It returns false for a replayed punch.
func (in *Ingestor) Submit(p models.Punch) bool {
	if p.PunchID == uuid.Nil {
		p.PunchID = uuid.New()
	}
	if !in.log(p.CompetitorStartID).Append(p) {
		return false
	}
	in.onChange(p)
	return true
}

// Load primes the log of a competitor start, e.g. from persisted punches,
// without triggering change notifications.
func (in *Ingestor) Load(punches []models.Punch) {
	for _, p := range punches {
		in.log(p.CompetitorStartID).Append(p)
	}
}

// Run drains all sources until they are closed or ctx is done.
func (in *Ingestor) Run(ctx context.Context, sources ...Source) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case p, ok := <-src.Punches:
					if !ok {
						return nil
					}
					if p.SourceID == "" {
						p.SourceID = src.ID
					}
					if !in.Submit(p) {
						in.logger.Debug("duplicate punch ignored",
							zap.String("source", p.SourceID),
							zap.Int64("competitor_start_id", p.CompetitorStartID),
							zap.Int64("control_id", p.ControlID))
					}
				}
			}
		})
	}
	return g.Wait()
}

// Sequence reconciles the punches of a competitor start. Conflicts are
// logged and otherwise resolved by keeping the earliest time.
func (in *Ingestor) Sequence(competitorStartID int64) []Punch {
	l, ok := in.logs.Load(competitorStartID)
	if !ok {
		return nil
	}
	raw, pinned := l.snapshot()
	seq, conflicts := Reconcile(raw, in.tolerance, pinned...)
	for _, c := range conflicts {
		in.logger.Warn("punch reconciliation conflict",
			zap.Int64("competitor_start_id", competitorStartID),
			zap.Int64("control_id", c.ControlID),
			zap.Time("kept", c.Kept),
			zap.Times("discarded", c.Discarded),
			zap.Strings("sources", c.Sources))
	}
	return seq
}

// Finalize pins the current sequence of a competitor start, e.g. when a
// result slip was printed. Punches arriving later can add confirmations or
// new controls but can not move a pinned punch.
func (in *Ingestor) Finalize(competitorStartID int64) []Punch {
	seq := in.Sequence(competitorStartID)
	in.Pin(competitorStartID, seq)
	return seq
}

// Pin replaces the pinned sequence of a competitor start, e.g. with one
// finalized before a restart.
func (in *Ingestor) Pin(competitorStartID int64, seq []Punch) {
	l := in.log(competitorStartID)
	l.mu.Lock()
	l.pinned = append([]Punch(nil), seq...)
	l.mu.Unlock()
}

// Raw returns a copy of the logged raw punches.
func (in *Ingestor) Raw(competitorStartID int64) []models.Punch {
	l, ok := in.logs.Load(competitorStartID)
	if !ok {
		return nil
	}
	raw, _ := l.snapshot()
	return raw
}
