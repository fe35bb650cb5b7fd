package resolver

import "sync"

// Cell is a LiveState holding a single value that can be replaced from any
// goroutine. Subscribers run synchronously on the goroutine calling Set.
type Cell struct {
	mu      sync.Mutex
	value   Outcome
	nextID  int
	clients map[int]func()
}

// NewCell creates a cell holding v.
func NewCell(v any) *Cell {
	return &Cell{value: Value(v), clients: map[int]func(){}}
}

// NewPendingCell creates a cell that suspends readers until the first Set.
func NewPendingCell() *Cell {
	return &Cell{value: Suspend(), clients: map[int]func(){}}
}

func (c *Cell) Read() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *Cell) Subscribe(onChange func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.clients[id] = onChange
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.clients, id)
		c.mu.Unlock()
	}
}

// Set replaces the value and notifies subscribers.
func (c *Cell) Set(v any) { c.publish(Value(v)) }

// Fail makes subsequent reads report err.
func (c *Cell) Fail(err error) { c.publish(Fail(err)) }

// Subscribers returns the number of active subscriptions.
func (c *Cell) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

func (c *Cell) publish(o Outcome) {
	c.mu.Lock()
	c.value = o
	fns := make([]func(), 0, len(c.clients))
	for _, fn := range c.clients {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
