package rpc

import (
	"context"
	"sync"
	"time"
)

// Call is an outstanding request to the peer.
//
// A Call resolves exactly once: with the response result, with a RemoteError
// when the response carries an error, with the caller's context error when
// abandoned, or with a ConnectionLostError when the session terminates.
type Call struct {
	ID     uint64
	Method string

	session *Session
	started time.Time

	once   sync.Once
	done   chan struct{}
	result any
	err    error
}

func newCall(s *Session, id uint64, method string) *Call {
	return &Call{
		ID:      id,
		Method:  method,
		session: s,
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

// Done returns a channel that is closed when the call resolves.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome of a resolved call.
// Before Done is closed it returns nil, nil.
func (c *Call) Result() (any, error) {
	select {
	case <-c.done:
		return c.result, c.err
	default:
		return nil, nil
	}
}

// Wait blocks until the call resolves or ctx is done.
//
// If ctx ends first the call is abandoned: it is removed from the
// outstanding table and resolves with the context's cause. A response that
// arrives later is dropped.
func (c *Call) Wait(ctx context.Context) (any, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		c.session.abandon(c, context.Cause(ctx))
		<-c.done

		return c.result, c.err
	}
}

// resolve settles the call. Only the goroutine that removed the call from the
// outstanding table calls it, so later calls are no-ops.
func (c *Call) resolve(result any, err error) {
	c.once.Do(func() {
		c.result = result
		c.err = err

		close(c.done)

		c.session.observer.CallFinished(c.Method, time.Since(c.started), err)
	})
}

// maxAbandoned bounds how many abandoned call ids are remembered. A late
// response for an id that was forgotten is reported as a protocol warning.
const maxAbandoned = 1024

// abandonedSet remembers recently abandoned call ids so their late responses
// can be dropped quietly. Once full, the oldest id is forgotten.
type abandonedSet struct {
	ids   map[uint64]struct{}
	order []uint64
	next  int
}

func newAbandonedSet() *abandonedSet {
	return &abandonedSet{ids: make(map[uint64]struct{})}
}

func (a *abandonedSet) add(id uint64) {
	if len(a.order) < maxAbandoned {
		a.order = append(a.order, id)
	} else {
		delete(a.ids, a.order[a.next])
		a.order[a.next] = id
		a.next = (a.next + 1) % maxAbandoned
	}

	a.ids[id] = struct{}{}
}

// remove forgets id and reports whether it was remembered.
func (a *abandonedSet) remove(id uint64) bool {
	_, ok := a.ids[id]
	delete(a.ids, id)

	return ok
}

func (a *abandonedSet) size() int {
	return len(a.ids)
}

func (a *abandonedSet) reset() {
	clear(a.ids)
	a.order = a.order[:0]
	a.next = 0
}
