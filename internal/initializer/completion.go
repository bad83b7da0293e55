package initializer

import "sync"

// completion delivers the result of one run exactly once. The callback is
// skipped when the owner is no longer alive at the moment of firing.
type completion struct {
	once     sync.Once
	done     chan struct{}
	result   Result
	callback func(Result)
	alive    func() bool

	// cbMu is held while the callback runs. settle acquires it so that no
	// callback is still running once the owner has shut down.
	cbMu sync.Mutex
}

func newCompletion(callback func(Result), alive func() bool) *completion {
	return &completion{
		done:     make(chan struct{}),
		callback: callback,
		alive:    alive,
	}
}

// fire records r and wakes every waiter. Later calls are ignored.
func (c *completion) fire(r Result) {
	c.once.Do(func() {
		c.cbMu.Lock()
		defer c.cbMu.Unlock()

		c.result = r
		close(c.done)

		if c.callback != nil && c.alive() {
			c.callback(r)
		}
	})
}

// settle waits for a callback in progress to return. Once the owner is
// no longer alive, no callback starts after settle returns.
func (c *completion) settle() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
}

func (c *completion) fired() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
