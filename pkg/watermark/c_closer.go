package watermark

import "sync"

// Closer is a shared shutdown handle: the owner signals once, every
// registered participant acknowledges with Done, and SignalAndWait blocks
// until all acknowledgements arrive.
type Closer struct {
	once    sync.Once
	closed  chan struct{}
	running sync.WaitGroup
}

// NewCloser creates a closer sized for the given number of participants.
func NewCloser(initial int) *Closer {
	c := &Closer{closed: make(chan struct{})}
	c.running.Add(initial)
	return c
}

// AddRunning registers additional participants.
func (c *Closer) AddRunning(delta int) {
	c.running.Add(delta)
}

// HasBeenClosed returns the channel that is closed once Signal runs.
func (c *Closer) HasBeenClosed() <-chan struct{} {
	return c.closed
}

// Signal tells all participants to stop. Safe to call more than once.
func (c *Closer) Signal() {
	c.once.Do(func() {
		close(c.closed)
	})
}

// Done acknowledges that one participant has stopped.
func (c *Closer) Done() {
	c.running.Done()
}

// Wait blocks until every participant has acknowledged.
func (c *Closer) Wait() {
	c.running.Wait()
}

// SignalAndWait signals and blocks until all participants have stopped.
func (c *Closer) SignalAndWait() {
	c.Signal()
	c.Wait()
}
