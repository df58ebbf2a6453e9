// Package singleflight coalesces concurrent token acquisitions for the same
// scope: one caller performs the network round trip, duplicates wait for and
// share its result.
package singleflight

import (
	"sync"
)

// Group manages in-flight calls keyed by scope.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

type call struct {
	wg  sync.WaitGroup
	val string
	err error
}

// New creates an empty Group.
func New() *Group {
	return &Group{
		m: make(map[string]*call),
	}
}

// Do executes fn, making sure only one execution is in-flight for a given key
// at a time. A duplicate caller waits for the original to complete and
// receives the same result.
func (g *Group) Do(key string, fn func() (string, error)) (string, error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err
	}

	c := &call{}
	c.wg.Add(1)
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()

	c.wg.Done()
	return c.val, c.err
}

// Forget drops any in-flight call for key so the next Do executes fn again.
// Used when a cached result must be bypassed.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
