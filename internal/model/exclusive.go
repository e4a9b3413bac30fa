package model

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// exclusive lets one run at a time through. Waiting for the slot honours ctx,
// so a cancelled caller never queues work. A run that has started cannot be
// interrupted: if its caller gives up, it finishes in the background and
// frees the slot afterwards.
type exclusive struct {
	slot *semaphore.Weighted
}

func newExclusive() exclusive {
	return exclusive{slot: semaphore.NewWeighted(1)}
}

type runResult struct {
	scores []float32
	err    error
}

func (x exclusive) do(ctx context.Context, run func() ([]float32, error)) ([]float32, error) {
	if err := x.slot.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	done := make(chan runResult, 1)
	go func() {
		defer x.slot.Release(1)
		scores, err := run()
		done <- runResult{scores: scores, err: err}
	}()

	select {
	case res := <-done:
		return res.scores, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// wait blocks until no run is in flight and keeps the slot, so later calls
// to do wait for ctx to end.
func (x exclusive) wait() {
	_ = x.slot.Acquire(context.Background(), 1)
}
