package broadcast

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SendFunc delivers the broadcast to one chat.
type SendFunc func(ctx context.Context, chatID int64) error

// ProgressFunc receives the live snapshot while the loop runs.
type ProgressFunc func(Snapshot)

// Result is the final tally of one run.
type Result struct {
	Sent      int
	Errors    int
	Cancelled bool
}

// Runner sends to every recipient at a fixed pace and reports progress to a
// Coordinator.
type Runner struct {
	Coordinator   *Coordinator
	Pacing        time.Duration
	ProgressEvery int
	OnProgress    ProgressFunc
	Log           *zap.Logger
}

// Run blocks until every recipient was tried, a cancel was requested or ctx
// is done. A failed send is counted and the loop moves on.
func (r *Runner) Run(ctx context.Context, requestedBy int64, recipients []int64, send SendFunc) Result {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	coord := r.Coordinator
	coord.Start(len(recipients), requestedBy)
	defer coord.Finish()

	pacing := r.Pacing
	if pacing <= 0 {
		pacing = time.Second
	}
	limiter := rate.NewLimiter(rate.Every(pacing), 1)
	every := r.ProgressEvery
	if every <= 0 {
		every = 20
	}

	var res Result
	reported := 0
	for i, chatID := range recipients {
		if coord.CancelRequested() {
			res.Cancelled = true
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			res.Cancelled = true
			break
		}
		if coord.CancelRequested() {
			res.Cancelled = true
			break
		}

		if err := send(ctx, chatID); err != nil {
			res.Errors++
			coord.MarkSent(false)
			log.Warn("⚠️ Ошибка рассылки", zap.Int64("chat_id", chatID), zap.Error(err))
		} else {
			res.Sent++
			coord.MarkSent(true)
		}

		// failures do not move Sent, so a step is reported once
		last := i == len(recipients)-1
		step := res.Sent > reported && res.Sent%every == 0
		if r.OnProgress != nil && (last || step) {
			reported = res.Sent
			r.OnProgress(coord.Snapshot())
		}
	}
	if coord.CancelRequested() {
		res.Cancelled = true
	}
	return res
}
