package metal

import "sync"

// completionGroup is a one-shot counting barrier. Handlers registered with
// notify run exactly once, in registration order, after the count drops to
// zero; handlers registered after that run immediately on the caller.
type completionGroup struct {
	mu       sync.Mutex
	count    int
	firing   bool
	fired    bool
	handlers []func()
	done     chan struct{}
}

func newCompletionGroup() *completionGroup {
	return &completionGroup{done: make(chan struct{})}
}

func (g *completionGroup) enter() {
	g.mu.Lock()
	g.count++
	g.mu.Unlock()
}

func (g *completionGroup) leave() {
	g.mu.Lock()
	if g.count == 0 || g.fired || g.firing {
		g.mu.Unlock()
		return
	}
	g.count--
	if g.count > 0 {
		g.mu.Unlock()
		return
	}
	g.firing = true
	g.mu.Unlock()

	for {
		g.mu.Lock()
		if len(g.handlers) == 0 {
			g.firing = false
			g.fired = true
			close(g.done)
			g.mu.Unlock()
			return
		}
		h := g.handlers[0]
		g.handlers = g.handlers[1:]
		g.mu.Unlock()
		h()
	}
}

// notify queues fn. While the group is firing, fn joins the tail of the
// queue so ordering holds.
func (g *completionGroup) notify(fn func()) {
	g.mu.Lock()
	if g.fired {
		g.mu.Unlock()
		fn()
		return
	}
	g.handlers = append(g.handlers, fn)
	g.mu.Unlock()
}

// wait blocks until every handler registered before the group fired has run.
func (g *completionGroup) wait() {
	<-g.done
}

func (g *completionGroup) isDone() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fired
}
