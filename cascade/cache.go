package cascade

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/fwdslsh/unify-sub006/cascade/internal/dom"
)

// entry is one parsed source document. doc is never mutated; callers get a
// clone.
type entry struct {
	raw string
	doc *dom.Document
}

// docCache memoises parsed documents by resolved name. Concurrent loads of
// one name share a single read; failed loads are not kept.
type docCache struct {
	group   singleflight.Group
	entries sync.Map // name → *entry
}

// load returns the cached document or reads it once for all concurrent
// callers. Each caller waits on its own ctx. A shared read that died with
// another caller's context is redone under this caller's.
func (c *docCache) load(ctx context.Context, name string, read func(context.Context, string) (*entry, error)) (*entry, error) {
	if v, ok := c.entries.Load(name); ok {
		return v.(*entry), nil
	}
	ch := c.group.DoChan(name, func() (any, error) {
		if v, ok := c.entries.Load(name); ok {
			return v, nil
		}
		e, err := read(ctx, name)
		if err != nil {
			return nil, err
		}
		c.entries.Store(name, e)
		return e, nil
	})

	var r singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-ch:
	}
	if r.Err == nil {
		return r.Val.(*entry), nil
	}
	if !isContextErr(r.Err) || ctx.Err() != nil {
		return nil, r.Err
	}
	e, err := read(ctx, name)
	if err != nil {
		return nil, err
	}
	c.entries.Store(name, e)
	return e, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *docCache) clear() {
	c.entries.Clear()
}

func (c *docCache) len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
