package service

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/air-quality-proxy/internal/models"
)

// requestCoalescer prevents cache stampede by running one upstream resolution per key
// at a time; concurrent callers for the same key share its result.
type requestCoalescer struct {
	group singleflight.Group
}

func newRequestCoalescer() *requestCoalescer {
	return &requestCoalescer{}
}

// Do runs fn for key unless a call for key is already in flight, in which case it waits
// for that call. fn receives a context that keeps ctx's values but is not cancelled with
// it, so one caller giving up does not fail the others. Each caller still stops waiting
// when its own ctx is done. shared reports whether the result came from another
// caller's flight.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(context.Context) (models.Result, error)) (result models.Result, shared bool, err error) {
	flightCtx := context.WithoutCancel(ctx)
	led := false
	ch := rc.group.DoChan(key, func() (any, error) {
		led = true
		return fn(flightCtx)
	})

	select {
	case <-ctx.Done():
		return models.Result{}, false, ctx.Err()
	case r := <-ch:
		res, _ := r.Val.(models.Result)
		return res, !led, r.Err
	}
}
