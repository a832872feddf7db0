// Package dedup collapses concurrent identical provider calls into one.
package dedup

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Factory starts the underlying call for a key.
type Factory func(ctx context.Context) ([]byte, error)

// Group tracks in-flight calls by key. A key is forgotten as soon as its call
// settles, successfully or not, so later callers always start a fresh call.
type Group struct {
	sf      singleflight.Group
	pending atomic.Int64
}

// Join attaches to the pending call for key, or starts one with factory.
// Every caller attached to the same pending call gets the same payload and
// error. The factory runs detached from the caller's cancellation: if ctx ends
// first Join returns ctx.Err(), while the call completes for the other joiners.
// shared reports whether the outcome was delivered to more than one caller.
func (g *Group) Join(ctx context.Context, key string, factory Factory) (payload []byte, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		g.pending.Add(1)
		defer g.pending.Add(-1)
		return factory(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		b, _ := res.Val.([]byte)
		return b, res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Pending returns the number of underlying calls currently executing.
func (g *Group) Pending() int {
	return int(g.pending.Load())
}
