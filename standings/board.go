package standings

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/padraicbc/orienteer/models"
)

// ErrSuperseded is returned by a recomputation that was overtaken by a newer
// one for the same category. Its result is discarded.
var ErrSuperseded = errors.New("recomputation superseded by a newer request")

// Ranking is a fully computed and committed category ranking. It is never
// modified after it has been published.
type Ranking struct {
	CategoryID int64            `json:"categoryID"`
	Generation uint64           `json:"generation"`
	ComputedAt time.Time        `json:"computedAt"`
	Results    []*models.Result `json:"results"`
}

// board tracks the recomputations of one category.
type board struct {
	mu     sync.Mutex
	latest uint64
	cancel context.CancelFunc

	// commit serializes writing and publishing results.
	commit sync.Mutex
}

// begin starts a new generation and cancels the one in flight.
func (b *board) begin(ctx context.Context) (context.Context, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	b.latest++
	ctx, b.cancel = context.WithCancel(ctx)
	return ctx, b.latest
}

// done releases the context of a generation.
func (b *board) done(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen == b.latest && b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

func (b *board) current(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return gen == b.latest
}
